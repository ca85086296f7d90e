package adopt

import "strings"

// phoneHomeDirective 设备出厂的 phone-home 自动注册指令；
// 保留该行会让设备走 ZTP 通道而不是使用下发的纳管配置
const phoneHomeDirective = "delete system phone-home"

// Transform 将原始纳管配置转换为可推送配置。
// keepPhoneHome 为 false 时移除 phone-home 指令行；其余行保持原样与原顺序。
// 纯函数，幂等：对已移除指令的文本重复调用是无操作。
func Transform(raw string, keepPhoneHome bool) string {
	if keepPhoneHome {
		return raw
	}
	if !strings.Contains(raw, phoneHomeDirective) {
		return raw
	}

	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.Contains(line, phoneHomeDirective) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// SplitCommands 将可推送配置切分为逐行命令，丢弃空白行
func SplitCommands(cfg string) []string {
	lines := strings.Split(cfg, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
