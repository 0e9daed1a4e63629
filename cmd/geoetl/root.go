package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mengeric/geoetl-go/config"
	"github.com/mengeric/geoetl-go/logging"
)

var (
	cfgFile   string
	logLevel  string
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:          "geoetl",
	Short:        "Geospatial ETL orchestrator: Job → Stage → Task",
	SilenceUsage: true,
}

// Execute 命令入口。
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (empty: defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug | info | warn | error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "API base URL for job commands")

	rootCmd.AddCommand(serveCmd, workerCmd)
	rootCmd.AddCommand(submitCmd, statusCmd, tasksCmd, cancelCmd, resubmitCmd)
}

// loadConfig 读取配置文件，命令行参数覆盖文件值，并初始化全局日志器。
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logging.SetGlobal(logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}))
	return cfg, nil
}

// withSignalCancel 收到 SIGINT/SIGTERM 时取消上下文，用于优雅关闭。
func withSignalCancel(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
