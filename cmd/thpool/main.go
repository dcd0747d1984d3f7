// Package main is the entry point for the thpool demo driver.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"thpool/internal/config"
	"thpool/internal/logger"
)

var (
	version = "dev"
)

func main() {
	// フラグ定義
	var (
		configFile  = flag.String("config", "", "設定ファイルパス (YAML/JSON)")
		workers     = flag.Int("workers", -1, "ワーカー数 (0 以上で設定ファイルを上書き)")
		jobs        = flag.Int("jobs", 0, "投入するジョブ数")
		producers   = flag.Int("producers", 0, "ジョブを投入するゴルーチン数")
		jobDuration = flag.Duration("job-duration", 0, "1ジョブあたりの処理時間 (例: 10ms)")
		logLevel    = flag.String("log-level", "", "ログレベル (debug, info, warn, error)")
		serverMode  = flag.Bool("server", false, "診断 API サーバーを起動")
		serverAddr  = flag.String("addr", "", "サーバーアドレス (例: :8080)")
		showVersion = flag.Bool("version", false, "バージョンを表示")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `thpool - fixed-size worker pool demo

Usage:
  thpool [options]

Options:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # 4 ワーカーで 40 ジョブを実行
  thpool

  # 設定ファイルから実行
  thpool --config pool.yaml

  # 複数プロデューサーから同時投入
  thpool --workers 8 --jobs 1000 --producers 4 --job-duration 1ms

  # 診断サーバー付きで実行
  thpool --server --addr :3000
`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("thpool version %s\n", version)
		return
	}

	settings, err := buildSettings(overrides{
		configFile:  *configFile,
		workers:     *workers,
		jobs:        *jobs,
		producers:   *producers,
		jobDuration: *jobDuration,
		logLevel:    *logLevel,
		server:      *serverMode,
		addr:        *serverAddr,
	})
	if err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}
	logger.Default.SetLevel(settings.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\n中断シグナルを受信、プールを停止中...")
		cancel()
	}()

	fmt.Println("thpool - fixed-size worker pool demo")
	fmt.Println("====================================")
	fmt.Printf("Workers: %d, Jobs: %d, Producers: %d\n", settings.Workers, settings.Jobs, settings.Producers)
	fmt.Printf("Job duration: %v\n", settings.JobDuration)
	fmt.Println("====================================")
	fmt.Println()

	report, err := runDemo(ctx, settings, os.Stdout)
	if err != nil {
		logger.Error("", "デモ実行エラー: %v", err)
		os.Exit(1)
	}

	fmt.Println(report)
}

// overrides はコマンドラインで指定された値
type overrides struct {
	configFile  string
	workers     int
	jobs        int
	producers   int
	jobDuration time.Duration
	logLevel    string
	server      bool
	addr        string
}

// buildSettings は設定ファイルとフラグから実行設定を構築する
func buildSettings(o overrides) (config.Settings, error) {
	settings := config.DefaultSettings()

	// 1. 設定ファイルから読み込み
	if o.configFile != "" {
		fileConfig, err := config.LoadFile(o.configFile)
		if err != nil {
			return settings, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
		}
		if err := fileConfig.Validate(); err != nil {
			return settings, fmt.Errorf("設定検証エラー: %w", err)
		}
		settings, err = fileConfig.ToSettings()
		if err != nil {
			return settings, fmt.Errorf("設定変換エラー: %w", err)
		}
	}

	// 2. フラグでオーバーライド
	if o.workers >= 0 {
		settings.Workers = o.workers
	}
	if o.jobs > 0 {
		settings.Jobs = o.jobs
	}
	if o.producers > 0 {
		settings.Producers = o.producers
	}
	if o.jobDuration > 0 {
		settings.JobDuration = o.jobDuration
	}
	if o.logLevel != "" {
		level, err := logger.ParseLevel(o.logLevel)
		if err != nil {
			return settings, err
		}
		settings.LogLevel = level
	}
	if o.server {
		settings.ServerEnabled = true
	}
	if o.addr != "" {
		settings.ServerAddr = o.addr
	}

	return settings, nil
}
