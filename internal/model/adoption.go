package model

import (
	"time"
)

// AdoptionRun 一次批量纳管运行
type AdoptionRun struct {
	ID            string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Source        string    `json:"source" gorm:"type:varchar(16);not null"` // cli | api
	DeviceCount   int       `json:"device_count" gorm:"not null"`
	SucceedCount  int       `json:"succeed_count" gorm:"not null"`
	FailedCount   int       `json:"failed_count" gorm:"not null"`
	MaxWorkers    int       `json:"max_workers" gorm:"not null"`
	KeepPhoneHome bool      `json:"keep_phone_home" gorm:"not null"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Duration      int64     `json:"duration"` // 运行时长，毫秒
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (AdoptionRun) TableName() string {
	return "adoption_runs"
}

// 运行来源枚举
const (
	RunSourceCLI = "cli"
	RunSourceAPI = "api"
)

// DeviceResult 运行中单台设备的推送结果
type DeviceResult struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	RunID     string    `json:"run_id" gorm:"type:varchar(64);not null;index"`
	DeviceIP  string    `json:"device_ip" gorm:"type:varchar(64);not null"`
	OrgID     string    `json:"org_id" gorm:"type:varchar(64);not null"`
	SiteID    string    `json:"site_id" gorm:"type:varchar(64);not null"`
	Status    string    `json:"status" gorm:"type:varchar(16);not null"`
	Failure   string    `json:"failure" gorm:"type:varchar(32)"`
	Detail    string    `json:"detail" gorm:"type:text"`
	Duration  int64     `json:"duration"` // 执行时长，毫秒
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (DeviceResult) TableName() string {
	return "device_results"
}
