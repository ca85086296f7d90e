package service

import (
	"context"
	"errors"
	"time"

	"github.com/simonrho/mist-adopt/internal/adopt"
	"github.com/simonrho/mist-adopt/pkg/logger"
	"github.com/simonrho/mist-adopt/pkg/netconf"
)

// NetconfPusher 通过 NETCONF 向 Junos 设备下发纳管配置
type NetconfPusher struct {
	config netconf.Config
}

// NewNetconfPusher 创建推送器
func NewNetconfPusher(config netconf.Config) *NetconfPusher {
	return &NetconfPusher{config: config}
}

// Push 单设备推送：建立会话 → 加载 set 配置 → 提交。
// 任一阶段失败立即返回对应失败类别，会话保证关闭。
func (p *NetconfPusher) Push(ctx context.Context, device adopt.DeviceRecord, commands []string) adopt.PushResult {
	start := time.Now()

	sess, err := netconf.Dial(ctx, &p.config, &netconf.ConnectionInfo{
		Host:     device.IP,
		Port:     p.config.Port,
		Username: device.Username,
		Password: device.Password,
	})
	if err != nil {
		failure := adopt.FailureConnect
		if errors.Is(err, netconf.ErrAuth) {
			failure = adopt.FailureAuth
		}
		return adopt.NewPushResult(device, adopt.StatusFailed, failure, err.Error(), time.Since(start))
	}
	defer sess.Close()

	logger.Debug("NETCONF session established", "device_ip", device.IP, "commands", len(commands))

	// 装载与提交以会话超时为界执行到底；批次取消不打断已开始的变更步骤
	if err := sess.LoadConfigSet(commands); err != nil {
		return adopt.NewPushResult(device, adopt.StatusFailed, adopt.FailureCommit, err.Error(), time.Since(start))
	}

	if err := sess.Commit(); err != nil {
		return adopt.NewPushResult(device, adopt.StatusFailed, adopt.FailureCommit, err.Error(), time.Since(start))
	}

	return adopt.NewPushResult(device, adopt.StatusSuccess, "", "", time.Since(start))
}
