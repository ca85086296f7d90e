package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonrho/mist-adopt/internal/adopt"
	"github.com/simonrho/mist-adopt/internal/config"
)

// fakeFetcher 测试用配置获取端
type fakeFetcher struct {
	calls   int32
	failOrg string
}

func (f *fakeFetcher) FetchAdoptionConfig(ctx context.Context, orgID, siteID string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if orgID == f.failOrg {
		return "", errors.New("fetch failed for " + orgID)
	}
	return "set system services ssh\ndelete system phone-home", nil
}

// fakePusher 测试用推送端
type fakePusher struct {
	inflight  int32
	peak      int32
	delay     time.Duration
	failIP    string
	failure   string
	commands  atomic.Value // 最后一次收到的命令
	pushCount int32
}

func (p *fakePusher) Push(ctx context.Context, device adopt.DeviceRecord, commands []string) adopt.PushResult {
	atomic.AddInt32(&p.pushCount, 1)
	cur := atomic.AddInt32(&p.inflight, 1)
	for {
		peak := atomic.LoadInt32(&p.peak)
		if cur <= peak || atomic.CompareAndSwapInt32(&p.peak, peak, cur) {
			break
		}
	}
	defer atomic.AddInt32(&p.inflight, -1)

	p.commands.Store(commands)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if device.IP == p.failIP {
		return adopt.NewPushResult(device, adopt.StatusFailed, p.failure, "push failed", time.Millisecond)
	}
	return adopt.NewPushResult(device, adopt.StatusSuccess, "", "", time.Millisecond)
}

func testDevice(org, site, ip string) adopt.DeviceRecord {
	return adopt.DeviceRecord{OrgID: org, SiteID: site, IP: ip, Username: "admin", Password: "secret"}
}

func newTestService(fetcher adopt.Fetcher, pusher Pusher) *AdoptionService {
	return NewAdoptionService(config.Default(), fetcher, pusher)
}

// TestRunFetchDedup 共享 (org, site) 的设备只触发一次 API 调用
func TestRunFetchDedup(t *testing.T) {
	fetcher := &fakeFetcher{}
	pusher := &fakePusher{}
	svc := newTestService(fetcher, pusher)

	devices := []adopt.DeviceRecord{
		testDevice("org-1", "site-1", "10.0.0.1"),
		testDevice("org-1", "site-1", "10.0.0.2"),
		testDevice("org-1", "site-2", "10.0.0.3"),
	}
	set := svc.Run(context.Background(), devices, adopt.RunSettings{MaxWorkers: 3}, "cli")

	assert.True(t, set.AllSucceeded())
	assert.Equal(t, int32(2), atomic.LoadInt32(&fetcher.calls), "两个不同的 (org, site) 键应各调用一次")
	assert.Equal(t, int32(3), atomic.LoadInt32(&pusher.pushCount), "每台设备各推送一次")
}

// TestRunTransformApplied 推送命令已剔除 phone-home 行
func TestRunTransformApplied(t *testing.T) {
	pusher := &fakePusher{}
	svc := newTestService(&fakeFetcher{}, pusher)

	set := svc.Run(context.Background(), []adopt.DeviceRecord{testDevice("org-1", "site-1", "10.0.0.1")}, adopt.RunSettings{MaxWorkers: 1}, "cli")
	require.True(t, set.AllSucceeded())

	commands := pusher.commands.Load().([]string)
	assert.Equal(t, []string{"set system services ssh"}, commands, "phone-home 行应在推送前被剔除")
}

// TestRunKeepPhoneHome 保留开关打开时命令完整下发
func TestRunKeepPhoneHome(t *testing.T) {
	pusher := &fakePusher{}
	svc := newTestService(&fakeFetcher{}, pusher)

	set := svc.Run(context.Background(), []adopt.DeviceRecord{testDevice("org-1", "site-1", "10.0.0.1")}, adopt.RunSettings{MaxWorkers: 1, KeepPhoneHome: true}, "cli")
	require.True(t, set.AllSucceeded())

	commands := pusher.commands.Load().([]string)
	assert.Contains(t, commands, "delete system phone-home")
}

// TestRunFetchFailureIsolation 拉取失败只影响同键设备，且不会触达推送层
func TestRunFetchFailureIsolation(t *testing.T) {
	fetcher := &fakeFetcher{failOrg: "org-bad"}
	pusher := &fakePusher{}
	svc := newTestService(fetcher, pusher)

	devices := []adopt.DeviceRecord{
		testDevice("org-bad", "site-1", "10.0.0.1"),
		testDevice("org-ok", "site-1", "10.0.0.2"),
	}
	set := svc.Run(context.Background(), devices, adopt.RunSettings{MaxWorkers: 2}, "cli")

	succeeded, failed := set.Counts()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&pusher.pushCount), "拉取失败的设备不应进入推送")

	for _, r := range set.Results() {
		if r.DeviceIP == "10.0.0.1" {
			assert.Equal(t, adopt.FailureFetch, r.Failure)
		}
	}
}

// TestRunPushFailureIsolation 单设备推送失败不影响其他设备
func TestRunPushFailureIsolation(t *testing.T) {
	pusher := &fakePusher{failIP: "10.0.0.2", failure: adopt.FailureAuth}
	svc := newTestService(&fakeFetcher{}, pusher)

	devices := []adopt.DeviceRecord{
		testDevice("org-1", "site-1", "10.0.0.1"),
		testDevice("org-1", "site-1", "10.0.0.2"),
		testDevice("org-1", "site-1", "10.0.0.3"),
	}
	set := svc.Run(context.Background(), devices, adopt.RunSettings{MaxWorkers: 3}, "cli")

	succeeded, failed := set.Counts()
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 1, failed)
	assert.False(t, set.AllSucceeded())

	for _, r := range set.SortedByIP() {
		if r.DeviceIP == "10.0.0.2" {
			assert.Equal(t, adopt.FailureAuth, r.Failure)
		} else {
			assert.True(t, r.Succeeded())
		}
	}
}

// TestRunConcurrencyBound 并发推送数不超过 max_workers
func TestRunConcurrencyBound(t *testing.T) {
	pusher := &fakePusher{delay: 30 * time.Millisecond}
	svc := newTestService(&fakeFetcher{}, pusher)

	devices := make([]adopt.DeviceRecord, 0, 8)
	for i := 0; i < 8; i++ {
		devices = append(devices, testDevice("org-1", "site-1", "10.0.0."+string(rune('1'+i))))
	}
	set := svc.Run(context.Background(), devices, adopt.RunSettings{MaxWorkers: 2}, "cli")

	assert.True(t, set.AllSucceeded())
	assert.LessOrEqual(t, atomic.LoadInt32(&pusher.peak), int32(2), "并发峰值不应超过 max_workers")
}

// TestRunCancellation 取消后未启动的任务记为 cancelled
func TestRunCancellation(t *testing.T) {
	pusher := &fakePusher{delay: 50 * time.Millisecond}
	svc := newTestService(&fakeFetcher{}, pusher)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	devices := make([]adopt.DeviceRecord, 0, 6)
	for i := 0; i < 6; i++ {
		devices = append(devices, testDevice("org-1", "site-1", "10.0.1."+string(rune('1'+i))))
	}
	set := svc.Run(ctx, devices, adopt.RunSettings{MaxWorkers: 1}, "cli")

	assert.Len(t, set.Results(), len(devices), "每台设备都应有结果")

	cancelled := 0
	for _, r := range set.Results() {
		if r.Failure == adopt.FailureCancelled {
			cancelled++
		}
	}
	assert.Greater(t, cancelled, 0, "应有任务被标记为 cancelled")
	assert.False(t, set.AllSucceeded())
}

// TestRunPreCancelled 上下文已取消时全部任务记为 cancelled，
// 即便任务抢到了工作槽也不再触发拉取或推送
func TestRunPreCancelled(t *testing.T) {
	fetcher := &fakeFetcher{}
	pusher := &fakePusher{}
	svc := newTestService(fetcher, pusher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	devices := []adopt.DeviceRecord{
		testDevice("org-1", "site-1", "10.0.2.1"),
		testDevice("org-1", "site-1", "10.0.2.2"),
		testDevice("org-1", "site-2", "10.0.2.3"),
	}
	set := svc.Run(ctx, devices, adopt.RunSettings{MaxWorkers: 2}, "cli")

	require.Len(t, set.Results(), len(devices))
	for _, r := range set.Results() {
		assert.Equal(t, adopt.FailureCancelled, r.Failure, "已取消的运行不应出现其他失败分类")
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&fetcher.calls), "取消后不应再调用 API")
	assert.Equal(t, int32(0), atomic.LoadInt32(&pusher.pushCount), "取消后不应再推送设备")
}
