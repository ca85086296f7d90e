package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvAPIKey Mist API key 的环境变量名
const EnvAPIKey = "MIST_API_KEY"

// ErrNoCredential 任何来源都未能解析出 API key
var ErrNoCredential = errors.New("mist api key not found in flag, environment variable, or config file")

// credentialFile 默认凭据文件路径（ini 格式，[Mist] 段 api_key 键）
func credentialFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".mist", "config.ini")
}

// ResolveAPIKey 按优先级解析 Mist API key：
// 显式传入（CLI -a 或 yaml mist.api_key）> 环境变量 MIST_API_KEY > ~/.mist/config.ini
func ResolveAPIKey(explicit string) (string, error) {
	return resolveAPIKey(explicit, credentialFile())
}

// resolveAPIKey 以可注入的文件路径实现解析，便于测试
func resolveAPIKey(explicit, iniPath string) (string, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return key, nil
	}

	if key := strings.TrimSpace(os.Getenv(EnvAPIKey)); key != "" {
		return key, nil
	}

	if iniPath != "" {
		if _, err := os.Stat(iniPath); err == nil {
			key, err := readAPIKeyFromINI(iniPath)
			if err != nil {
				return "", err
			}
			if key != "" {
				return key, nil
			}
		}
	}

	return "", ErrNoCredential
}

// readAPIKeyFromINI 读取 ini 凭据文件中的 [Mist] api_key
func readAPIKeyFromINI(path string) (string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("failed to read credential file %s: %w", path, err)
	}
	key := strings.TrimSpace(v.GetString("Mist.api_key"))
	if key == "" {
		return "", fmt.Errorf("api key not found in credential file %s: %w", path, ErrNoCredential)
	}
	return key, nil
}
