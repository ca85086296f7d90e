package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/simonrho/mist-adopt/internal/database"
	"github.com/simonrho/mist-adopt/internal/model"
	"github.com/simonrho/mist-adopt/pkg/logger"
)

// RunHandler 历史运行查询处理器
type RunHandler struct{}

// NewRunHandler 创建运行查询处理器
func NewRunHandler() *RunHandler {
	return &RunHandler{}
}

// db 获取数据库连接，未启用时返回 nil
func (h *RunHandler) db(c *gin.Context) *gorm.DB {
	db := database.GetDB()
	if db == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Code:    "DATABASE_DISABLED",
			Message: "数据库未启用，无法查询历史运行",
		})
		return nil
	}
	return db
}

// ListRuns 查询最近的运行记录
// @Summary 查询运行列表
// @Tags runs
// @Produce json
// @Param limit query int false "返回条数，默认 20"
// @Success 200 {object} map[string]interface{} "运行列表"
// @Router /api/v1/runs [get]
func (h *RunHandler) ListRuns(c *gin.Context) {
	db := h.db(c)
	if db == nil {
		return
	}

	limit := 20
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var runs []model.AdoptionRun
	if err := db.Order("start_time DESC").Limit(limit).Find(&runs).Error; err != nil {
		logger.Error("Failed to list adoption runs", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "QUERY_FAILED",
			Message: "查询运行列表失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total": len(runs),
		"runs":  runs,
	})
}

// GetRun 查询单次运行及逐设备结果
// @Summary 查询运行详情
// @Tags runs
// @Produce json
// @Param run_id path string true "运行ID"
// @Success 200 {object} map[string]interface{} "运行详情"
// @Failure 404 {object} ErrorResponse "运行不存在"
// @Router /api/v1/runs/{run_id} [get]
func (h *RunHandler) GetRun(c *gin.Context) {
	db := h.db(c)
	if db == nil {
		return
	}

	runID := c.Param("run_id")
	if runID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "MISSING_RUN_ID",
			Message: "运行ID不能为空",
		})
		return
	}

	var run model.AdoptionRun
	if err := db.First(&run, "id = ?", runID).Error; err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "RUN_NOT_FOUND",
			Message: "运行不存在: " + runID,
		})
		return
	}

	var results []model.DeviceResult
	if err := db.Where("run_id = ?", runID).Order("device_ip").Find(&results).Error; err != nil {
		logger.Error("Failed to load device results", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "QUERY_FAILED",
			Message: "查询设备结果失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run":     run,
		"results": results,
	})
}
