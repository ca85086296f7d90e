package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/simonrho/mist-adopt/internal/adopt"
	"github.com/simonrho/mist-adopt/internal/config"
	"github.com/simonrho/mist-adopt/internal/database"
	"github.com/simonrho/mist-adopt/internal/inventory"
	"github.com/simonrho/mist-adopt/internal/mist"
	"github.com/simonrho/mist-adopt/internal/service"
	"github.com/simonrho/mist-adopt/pkg/logger"
	"github.com/simonrho/mist-adopt/pkg/netconf"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] <inventory.xlsx>\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Fetch Mist adoption config per (org, site) and push it to devices over NETCONF.\n\nOptions:\n")
	flag.PrintDefaults()
}

func main() {
	var (
		keepPhoneHome bool
		maxThreads    int
		apiKey        string
		configPath    string
	)
	flag.BoolVar(&keepPhoneHome, "k", false, "keep the phone-home delete line in the pushed config")
	flag.BoolVar(&keepPhoneHome, "keep-phone-home", false, "keep the phone-home delete line in the pushed config")
	flag.IntVar(&maxThreads, "t", 0, "max concurrent devices (default from config, 10)")
	flag.IntVar(&maxThreads, "max-threads", 0, "max concurrent devices (default from config, 10)")
	flag.StringVar(&apiKey, "a", "", "Mist API key (overrides MIST_API_KEY and ~/.mist/config.ini)")
	flag.StringVar(&apiKey, "api-key", "", "Mist API key (overrides MIST_API_KEY and ~/.mist/config.ini)")
	flag.StringVar(&configPath, "config", "", "configuration file path")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	inventoryPath := flag.Arg(0)

	// 加载配置；未指定 --config 时按默认搜索路径，找不到则使用默认值
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// API 凭证：flag > env > ~/.mist/config.ini
	if apiKey == "" {
		apiKey = cfg.Mist.APIKey
	}
	resolvedKey, err := config.ResolveAPIKey(apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// 读取设备清单
	devices, err := inventory.Load(inventoryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Device inventory (%d devices):\n", len(devices))
	inventory.Dump(os.Stdout, devices)
	fmt.Println()

	// 初始化数据库（可选）
	if cfg.Database.Enabled {
		if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
			logger.Fatal("Failed to initialize database", "error", err)
		}
		defer database.Close()
	}

	// Ctrl-C 触发取消：在跑的设备完成当前步骤，未开始的记为 cancelled
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher := mist.NewClient(mist.Config{
		BaseURL:        cfg.Mist.BaseURL,
		APIKey:         resolvedKey,
		MaxAttempts:    cfg.Mist.MaxAttempts,
		RequestTimeout: cfg.Mist.RequestTimeout,
	})
	pusher := service.NewNetconfPusher(netconf.Config{
		Port:           cfg.SSH.Port,
		ConnectTimeout: cfg.SSH.ConnectTimeout,
		Timeout:        cfg.SSH.Timeout,
	})
	adoptionService := service.NewAdoptionService(cfg, fetcher, pusher)

	settings := adopt.RunSettings{
		MaxWorkers:    cfg.Adopt.MaxWorkers,
		KeepPhoneHome: keepPhoneHome || cfg.Adopt.KeepPhoneHome,
	}
	if maxThreads > 0 {
		settings.MaxWorkers = maxThreads
	}

	set := adoptionService.Run(ctx, devices, settings, "cli")

	// 逐设备结果按 IP 排序输出
	fmt.Println("Results:")
	for _, r := range set.SortedByIP() {
		if r.Succeeded() {
			fmt.Printf("  %-16s success  (%dms)\n", r.DeviceIP, r.DurationMS)
		} else {
			fmt.Printf("  %-16s failed   %s: %s\n", r.DeviceIP, r.Failure, r.Detail)
		}
	}

	succeeded, failed := set.Counts()
	fmt.Printf("\nDone: %d succeeded, %d failed\n", succeeded, failed)

	if !set.AllSucceeded() {
		os.Exit(1)
	}
}
