package adopt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestTransformRemovesPhoneHome 默认剔除 phone-home 删除行
func TestTransformRemovesPhoneHome(t *testing.T) {
	raw := strings.Join([]string{
		"set system services ssh",
		"delete system phone-home",
		"set system services netconf ssh",
	}, "\n")

	got := Transform(raw, false)
	assert.NotContains(t, got, "phone-home", "转换后不应再包含 phone-home 行")
	assert.Contains(t, got, "set system services ssh")
	assert.Contains(t, got, "set system services netconf ssh")
}

// TestTransformKeepPhoneHome 保留开关打开时不做剔除
func TestTransformKeepPhoneHome(t *testing.T) {
	raw := "set system services ssh\ndelete system phone-home"

	got := Transform(raw, true)
	assert.Equal(t, raw, got, "保留开关打开时配置应原样返回")
}

// TestTransformIdentity 不含 phone-home 的配置原样返回
func TestTransformIdentity(t *testing.T) {
	raw := "set system services ssh\nset system root-authentication plain-text-password"

	got := Transform(raw, false)
	assert.Equal(t, raw, got)
}

// TestTransformIdempotent 重复转换结果不变
func TestTransformIdempotent(t *testing.T) {
	raw := "set a\ndelete system phone-home\nset b"

	once := Transform(raw, false)
	twice := Transform(once, false)
	assert.Equal(t, once, twice, "转换应当是幂等的")
}

// TestTransformLargeConfig 多行真实配置场景
func TestTransformLargeConfig(t *testing.T) {
	lines := make([]string, 0, 51)
	for i := 0; i < 25; i++ {
		lines = append(lines, "set interfaces ge-0/0/0 unit 0")
	}
	lines = append(lines, "delete system phone-home")
	for i := 0; i < 25; i++ {
		lines = append(lines, "set system services outbound-ssh client mist")
	}
	raw := strings.Join(lines, "\n")

	got := Transform(raw, false)
	assert.Equal(t, 50, len(strings.Split(got, "\n")), "应剔除唯一的 phone-home 行")
	assert.NotContains(t, got, "phone-home")
}

// TestSplitCommands 丢弃空行
func TestSplitCommands(t *testing.T) {
	cfg := "set a\n\nset b\n   \nset c\n"

	commands := SplitCommands(cfg)
	assert.Equal(t, []string{"set a", "set b", "set c"}, commands)
}

// TestSplitCommandsEmpty 空配置返回空切片
func TestSplitCommandsEmpty(t *testing.T) {
	assert.Empty(t, SplitCommands(""))
	assert.Empty(t, SplitCommands("\n\n"))
}
