package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Adopt    AdoptConfig    `mapstructure:"adopt"`
	Mist     MistConfig     `mapstructure:"mist"`
	SSH      SSHConfig      `mapstructure:"ssh"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Report   ReportConfig   `mapstructure:"report"`
}

// ServerConfig 服务器配置（server 模式）
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AdoptConfig 纳管批次配置
type AdoptConfig struct {
	// MaxWorkers 单批次并发上限；CLI 的 -t 参数可覆盖
	MaxWorkers int `mapstructure:"max_workers"`
	// KeepPhoneHome 保留配置中的 "delete system phone-home" 行
	KeepPhoneHome bool `mapstructure:"keep_phone_home"`
}

// MistConfig Mist 云端 API 配置
type MistConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// APIKey 可在 yaml 中直接给出；CLI/env/ini 的解析优先级见 ResolveAPIKey
	APIKey string `mapstructure:"api_key"`
	// MaxAttempts 瞬时失败（网络错误/5xx/429）的总尝试次数
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SSHConfig NETCONF/SSH 会话配置
type SSHConfig struct {
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// Timeout 单条 NETCONF RPC（装载或提交各自）的回复等待上限
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// Enabled 关闭时不落库，仅内存聚合结果
	Enabled bool         `mapstructure:"enabled"`
	SQLite  SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ReportConfig 运行报告归档配置
type ReportConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	Backend string            `mapstructure:"backend"` // local|minio
	Prefix  string            `mapstructure:"prefix"`
	Local   LocalReportConfig `mapstructure:"local"`
	Minio   MinioConfig       `mapstructure:"minio"`
}

// LocalReportConfig 本地报告目录配置
type LocalReportConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// MinioConfig MinIO 对象存储配置
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

var globalConfig *Config

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	// 设置默认值
	setDefaults()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		// 默认配置文件路径
		viper.SetConfigName("config")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("../configs")
		viper.AddConfigPath("../../configs")
	}

	// 设置环境变量前缀
	viper.SetEnvPrefix("MIST_ADOPT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 读取配置文件；文件缺失时退回默认值（CLI 可在无配置文件时运行）
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	globalConfig = &config
	return &config, nil
}

// Default 返回纯默认值配置（CLI 未指定 --config 且无 configs/ 目录时使用）
func Default() *Config {
	viper.SetConfigType("yaml")
	setDefaults()
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		// 默认值本身不会解不开；保底返回空结构
		return &Config{}
	}
	globalConfig = &config
	return &config
}

// Get 返回全局配置
func Get() *Config {
	return globalConfig
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 10*time.Minute)

	// 并发默认 10，对齐 CLI 的 -t 默认值
	viper.SetDefault("adopt.max_workers", 10)
	viper.SetDefault("adopt.keep_phone_home", false)

	viper.SetDefault("mist.base_url", "https://api.mist.com/api/v1")
	// 瞬时失败总尝试次数（首次 + 重试）
	viper.SetDefault("mist.max_attempts", 3)
	viper.SetDefault("mist.request_timeout", 30*time.Second)

	viper.SetDefault("ssh.port", 830)
	viper.SetDefault("ssh.connect_timeout", 10*time.Second)
	viper.SetDefault("ssh.timeout", 60*time.Second)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "console")
	viper.SetDefault("log.file_path", "./logs/mist-adopt.log")
	viper.SetDefault("log.max_size", 50)
	viper.SetDefault("log.max_backups", 5)
	viper.SetDefault("log.max_age", 14)

	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.sqlite.path", "./data/mist-adopt.db")
	viper.SetDefault("database.sqlite.max_idle_conns", 2)
	viper.SetDefault("database.sqlite.max_open_conns", 8)
	viper.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	viper.SetDefault("report.enabled", false)
	viper.SetDefault("report.backend", "local")
	viper.SetDefault("report.prefix", "adoptions")
	viper.SetDefault("report.local.base_dir", "./data/reports")
}
