package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simonrho/mist-adopt/internal/adopt"
	"github.com/simonrho/mist-adopt/internal/config"
	"github.com/simonrho/mist-adopt/internal/database"
	"github.com/simonrho/mist-adopt/internal/model"
	"github.com/simonrho/mist-adopt/pkg/logger"
)

// Pusher 设备推送端（NETCONF 实现见 pusher.go；测试可注入假实现）
type Pusher interface {
	Push(ctx context.Context, device adopt.DeviceRecord, commands []string) adopt.PushResult
}

// AdoptionService 批量纳管编排器：受限并发地为每台设备派发独立任务，
// 经 FetchCache 去重拉取配置、转换后交由 Pusher 推送，聚合全部结果
type AdoptionService struct {
	cfg    *config.Config
	cache  *adopt.FetchCache
	pusher Pusher
	report ReportWriter
}

// NewAdoptionService 创建编排器
func NewAdoptionService(cfg *config.Config, fetcher adopt.Fetcher, pusher Pusher) *AdoptionService {
	s := &AdoptionService{
		cfg:    cfg,
		cache:  adopt.NewFetchCache(fetcher),
		pusher: pusher,
	}
	if cfg.Report.Enabled {
		s.report = NewReportWriter(cfg)
	}
	return s
}

// Run 执行一次批量纳管。单设备失败只体现在其自身结果里，不影响其他设备；
// 上下文取消后，尚未拿到工作槽的任务记为 cancelled，已运行的任务完成当前协议步骤后正常收尾。
func (s *AdoptionService) Run(ctx context.Context, devices []adopt.DeviceRecord, settings adopt.RunSettings, source string) *adopt.ResultSet {
	start := time.Now()
	runID := uuid.NewString()

	maxWorkers := settings.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	logger.Info("Adoption run started", "run_id", runID, "devices", len(devices), "max_workers", maxWorkers, "keep_phone_home", settings.KeepPhoneHome)

	workers := make(chan struct{}, maxWorkers)
	results := make(chan adopt.PushResult, len(devices))
	var wg sync.WaitGroup

	// 按清单顺序派发；完成顺序不保证，展示层自行排序
	for _, device := range devices {
		wg.Add(1)
		go func(device adopt.DeviceRecord) {
			defer wg.Done()

			// 获取工作槽；取消信号到达时未启动的任务直接记为 cancelled
			select {
			case workers <- struct{}{}:
				defer func() { <-workers }()
			case <-ctx.Done():
				results <- adopt.NewPushResult(device, adopt.StatusFailed, adopt.FailureCancelled, ctx.Err().Error(), 0)
				return
			}

			// 取消与工作槽同时就绪时 select 可能选中工作槽，此处兜底判定
			if ctx.Err() != nil {
				results <- adopt.NewPushResult(device, adopt.StatusFailed, adopt.FailureCancelled, ctx.Err().Error(), 0)
				return
			}

			results <- s.runDevice(ctx, device, settings)
		}(device)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	set := &adopt.ResultSet{}
	for r := range results {
		if r.Succeeded() {
			logger.Info("Device adopted", "run_id", runID, "device_ip", r.DeviceIP, "duration_ms", r.DurationMS)
		} else {
			logger.Warn("Device adoption failed", "run_id", runID, "device_ip", r.DeviceIP, "failure", r.Failure, "detail", r.Detail)
		}
		set.Add(r)
	}

	succeeded, failed := set.Counts()
	logger.Info("Adoption run finished", "run_id", runID, "succeeded", succeeded, "failed", failed, "duration", time.Since(start).String())

	s.persistRun(runID, source, settings, set, start)
	s.archiveReport(ctx, runID, settings, set, start)

	return set
}

// runDevice 单设备任务：取配置 → 转换 → 推送
func (s *AdoptionService) runDevice(ctx context.Context, device adopt.DeviceRecord, settings adopt.RunSettings) adopt.PushResult {
	start := time.Now()

	raw, err := s.cache.Get(ctx, device.Key())
	if err != nil {
		// 拉取失败的设备不会触达推送层
		return adopt.NewPushResult(device, adopt.StatusFailed, adopt.FailureFetch, err.Error(), time.Since(start))
	}

	commands := adopt.SplitCommands(adopt.Transform(raw, settings.KeepPhoneHome))
	return s.pusher.Push(ctx, device, commands)
}

// persistRun 将运行与逐设备结果落库（database.enabled 时）
func (s *AdoptionService) persistRun(runID, source string, settings adopt.RunSettings, set *adopt.ResultSet, start time.Time) {
	if !s.cfg.Database.Enabled {
		return
	}
	db := database.GetDB()
	if db == nil {
		return
	}

	end := time.Now()
	succeeded, failed := set.Counts()
	run := &model.AdoptionRun{
		ID:            runID,
		Source:        source,
		DeviceCount:   len(set.Results()),
		SucceedCount:  succeeded,
		FailedCount:   failed,
		MaxWorkers:    settings.MaxWorkers,
		KeepPhoneHome: settings.KeepPhoneHome,
		StartTime:     start,
		EndTime:       end,
		Duration:      end.Sub(start).Milliseconds(),
	}
	if err := db.Create(run).Error; err != nil {
		logger.Error("Failed to save adoption run", "run_id", runID, "error", err)
		return
	}

	for _, r := range set.Results() {
		row := &model.DeviceResult{
			ID:       uuid.NewString(),
			RunID:    runID,
			DeviceIP: r.DeviceIP,
			OrgID:    r.OrgID,
			SiteID:   r.SiteID,
			Status:   r.Status,
			Failure:  r.Failure,
			Detail:   r.Detail,
			Duration: r.DurationMS,
		}
		if err := db.Create(row).Error; err != nil {
			logger.Error("Failed to save device result", "run_id", runID, "device_ip", r.DeviceIP, "error", err)
		}
	}
}

// runReport 归档用的运行摘要
type runReport struct {
	RunID         string             `json:"run_id"`
	StartTime     time.Time          `json:"start_time"`
	DurationMS    int64              `json:"duration_ms"`
	MaxWorkers    int                `json:"max_workers"`
	KeepPhoneHome bool               `json:"keep_phone_home"`
	Succeeded     int                `json:"succeeded"`
	Failed        int                `json:"failed"`
	Results       []adopt.PushResult `json:"results"`
}

// archiveReport 将运行摘要写入报告后端（report.enabled 时）
func (s *AdoptionService) archiveReport(ctx context.Context, runID string, settings adopt.RunSettings, set *adopt.ResultSet, start time.Time) {
	if s.report == nil {
		return
	}

	succeeded, failed := set.Counts()
	payload, err := json.MarshalIndent(runReport{
		RunID:         runID,
		StartTime:     start,
		DurationMS:    time.Since(start).Milliseconds(),
		MaxWorkers:    settings.MaxWorkers,
		KeepPhoneHome: settings.KeepPhoneHome,
		Succeeded:     succeeded,
		Failed:        failed,
		Results:       set.SortedByIP(),
	}, "", "  ")
	if err != nil {
		logger.Error("Failed to marshal run report", "run_id", runID, "error", err)
		return
	}

	obj, err := s.report.Write(ctx, runID, payload)
	if err != nil {
		// 归档失败不影响运行结果
		logger.Warn("Run report archive failed", "run_id", runID, "error", err)
		return
	}
	logger.Info("Run report archived", "run_id", runID, "uri", obj.URI, "size", obj.Size)
}
