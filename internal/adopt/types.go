package adopt

import (
	"sort"
	"time"
)

// DeviceRecord 设备清单中的一行，五个字段均不可为空（装载时校验）
type DeviceRecord struct {
	OrgID    string `json:"org_id"`
	SiteID   string `json:"site_id"`
	IP       string `json:"ip"`
	Username string `json:"user_id"`
	Password string `json:"password"`
}

// Key 返回该设备对应的纳管配置获取键
func (d DeviceRecord) Key() FetchKey {
	return FetchKey{OrgID: d.OrgID, SiteID: d.SiteID}
}

// FetchKey (organization, site) 二元组，同一键在一次运行中只拉取一次配置
type FetchKey struct {
	OrgID  string `json:"org_id"`
	SiteID string `json:"site_id"`
}

func (k FetchKey) String() string {
	return k.OrgID + "/" + k.SiteID
}

// 推送结果状态枚举
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// 失败分类枚举
const (
	FailureFetch     = "fetch_error"
	FailureConnect   = "connect_error"
	FailureAuth      = "auth_error"
	FailureCommit    = "commit_error"
	FailureCancelled = "cancelled"
)

// PushResult 单设备推送结果，任务完成后创建且不再修改
type PushResult struct {
	DeviceIP   string        `json:"device_ip"`
	OrgID      string        `json:"org_id"`
	SiteID     string        `json:"site_id"`
	Status     string        `json:"status"`
	Failure    string        `json:"failure,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

// Succeeded 是否推送成功
func (r PushResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// NewPushResult 构造单设备结果并补齐毫秒时长
func NewPushResult(d DeviceRecord, status, failure, detail string, duration time.Duration) PushResult {
	return PushResult{
		DeviceIP:   d.IP,
		OrgID:      d.OrgID,
		SiteID:     d.SiteID,
		Status:     status,
		Failure:    failure,
		Detail:     detail,
		Duration:   duration,
		DurationMS: duration.Milliseconds(),
	}
}

// RunSettings 运行级配置，编排开始前构建且只读
type RunSettings struct {
	MaxWorkers    int    `json:"max_workers"`
	KeepPhoneHome bool   `json:"keep_phone_home"`
	APIKey        string `json:"-"`
}

// ResultSet 一次运行的结果聚合；由编排器单协程收集，完成后只读
type ResultSet struct {
	results []PushResult
}

// Add 追加一条结果
func (s *ResultSet) Add(r PushResult) {
	s.results = append(s.results, r)
}

// Results 按收集顺序返回全部结果
func (s *ResultSet) Results() []PushResult {
	return s.results
}

// SortedByIP 按设备IP排序的副本，用于稳定的汇总展示
func (s *ResultSet) SortedByIP() []PushResult {
	out := make([]PushResult, len(s.results))
	copy(out, s.results)
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceIP < out[j].DeviceIP })
	return out
}

// AllSucceeded 全部设备推送成功时返回 true，决定进程退出码
func (s *ResultSet) AllSucceeded() bool {
	for _, r := range s.results {
		if !r.Succeeded() {
			return false
		}
	}
	return true
}

// Counts 返回成功与失败的数量
func (s *ResultSet) Counts() (succeeded, failed int) {
	for _, r := range s.results {
		if r.Succeeded() {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}
