package handler

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/simonrho/mist-adopt/internal/adopt"
	"github.com/simonrho/mist-adopt/internal/config"
	"github.com/simonrho/mist-adopt/internal/service"
	"github.com/simonrho/mist-adopt/pkg/logger"
)

// ErrorResponse 统一错误响应
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AdoptHandler 批量纳管处理器
type AdoptHandler struct {
	cfg     *config.Config
	service *service.AdoptionService
}

// NewAdoptHandler 创建纳管处理器
func NewAdoptHandler(cfg *config.Config, adoptionService *service.AdoptionService) *AdoptHandler {
	return &AdoptHandler{
		cfg:     cfg,
		service: adoptionService,
	}
}

// BatchAdoptRequest 批量纳管请求
type BatchAdoptRequest struct {
	Devices       []adopt.DeviceRecord `json:"devices" binding:"required"`
	MaxWorkers    int                  `json:"max_workers"`
	KeepPhoneHome bool                 `json:"keep_phone_home"`
}

// BatchAdoptResponse 批量纳管响应
type BatchAdoptResponse struct {
	DeviceCount int                `json:"device_count"`
	Succeeded   int                `json:"succeeded"`
	Failed      int                `json:"failed"`
	DurationMS  int64              `json:"duration_ms"`
	Results     []adopt.PushResult `json:"results"`
}

// BatchAdopt 执行批量纳管
// @Summary 批量纳管设备
// @Description 为清单中的设备拉取纳管配置并通过 NETCONF 下发
// @Tags adopt
// @Accept json
// @Produce json
// @Param request body BatchAdoptRequest true "纳管请求"
// @Success 200 {object} BatchAdoptResponse "纳管完成"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Router /api/v1/adopt/batch [post]
func (h *AdoptHandler) BatchAdopt(c *gin.Context) {
	var request BatchAdoptRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		logger.Error("Invalid request parameters", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "请求参数无效: " + err.Error(),
		})
		return
	}

	if err := h.validateBatchRequest(&request); err != nil {
		logger.Error("Request validation failed", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "VALIDATION_FAILED",
			Message: err.Error(),
		})
		return
	}

	settings := adopt.RunSettings{
		MaxWorkers:    request.MaxWorkers,
		KeepPhoneHome: request.KeepPhoneHome,
	}
	if settings.MaxWorkers <= 0 {
		settings.MaxWorkers = h.cfg.Adopt.MaxWorkers
	}

	start := time.Now()
	set := h.service.Run(c.Request.Context(), request.Devices, settings, "api")
	succeeded, failed := set.Counts()

	c.JSON(http.StatusOK, BatchAdoptResponse{
		DeviceCount: len(request.Devices),
		Succeeded:   succeeded,
		Failed:      failed,
		DurationMS:  time.Since(start).Milliseconds(),
		Results:     set.SortedByIP(),
	})
}

// validateBatchRequest 请求参数验证
func (h *AdoptHandler) validateBatchRequest(request *BatchAdoptRequest) error {
	if len(request.Devices) == 0 {
		return fmt.Errorf("设备列表不能为空")
	}
	for i, d := range request.Devices {
		if strings.TrimSpace(d.OrgID) == "" {
			return fmt.Errorf("设备 %d 缺少 org_id", i+1)
		}
		if strings.TrimSpace(d.SiteID) == "" {
			return fmt.Errorf("设备 %d 缺少 site_id", i+1)
		}
		if strings.TrimSpace(d.IP) == "" {
			return fmt.Errorf("设备 %d 缺少 ip", i+1)
		}
		if net.ParseIP(strings.TrimSpace(d.IP)) == nil {
			return fmt.Errorf("设备 %d 的 ip 无效: %s", i+1, d.IP)
		}
		if strings.TrimSpace(d.Username) == "" {
			return fmt.Errorf("设备 %d 缺少 user_id", i+1)
		}
		if strings.TrimSpace(d.Password) == "" {
			return fmt.Errorf("设备 %d 缺少 password", i+1)
		}
	}
	if request.MaxWorkers < 0 {
		return fmt.Errorf("max_workers 不能为负数")
	}
	return nil
}

// Health 健康检查
// @Summary 健康检查
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{} "健康状态"
// @Router /api/v1/health [get]
func (h *AdoptHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
