package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCredentialFile 写入测试用 ini 凭据文件
func writeCredentialFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestResolveAPIKeyExplicitFirst 显式传入优先于环境变量与凭据文件
func TestResolveAPIKeyExplicitFirst(t *testing.T) {
	t.Setenv(EnvAPIKey, "env-key")
	iniPath := writeCredentialFile(t, "[Mist]\napi_key = file-key\n")

	key, err := resolveAPIKey("flag-key", iniPath)
	require.NoError(t, err)
	assert.Equal(t, "flag-key", key, "显式传入应优先生效")
}

// TestResolveAPIKeyEnvOverFile 环境变量优先于凭据文件
func TestResolveAPIKeyEnvOverFile(t *testing.T) {
	t.Setenv(EnvAPIKey, "env-key")
	iniPath := writeCredentialFile(t, "[Mist]\napi_key = file-key\n")

	key, err := resolveAPIKey("", iniPath)
	require.NoError(t, err)
	assert.Equal(t, "env-key", key)
}

// TestResolveAPIKeyFromFile 仅有凭据文件时从 ini 读取
func TestResolveAPIKeyFromFile(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	iniPath := writeCredentialFile(t, "[Mist]\napi_key = file-key\n")

	key, err := resolveAPIKey("", iniPath)
	require.NoError(t, err)
	assert.Equal(t, "file-key", key)
}

// TestResolveAPIKeyWhitespaceIgnored 空白值视为未提供
func TestResolveAPIKeyWhitespaceIgnored(t *testing.T) {
	t.Setenv(EnvAPIKey, "   ")
	iniPath := writeCredentialFile(t, "[Mist]\napi_key = file-key\n")

	key, err := resolveAPIKey("  ", iniPath)
	require.NoError(t, err)
	assert.Equal(t, "file-key", key)
}

// TestResolveAPIKeyMissing 所有来源都为空时返回 ErrNoCredential
func TestResolveAPIKeyMissing(t *testing.T) {
	t.Setenv(EnvAPIKey, "")

	_, err := resolveAPIKey("", filepath.Join(t.TempDir(), "absent.ini"))
	assert.ErrorIs(t, err, ErrNoCredential)
}

// TestResolveAPIKeyFileMissingKey 凭据文件存在但缺少 api_key
func TestResolveAPIKeyFileMissingKey(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	iniPath := writeCredentialFile(t, "[Mist]\nother = value\n")

	_, err := resolveAPIKey("", iniPath)
	assert.ErrorIs(t, err, ErrNoCredential)
}
