// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

// catalog-edge 是课程目录站点前面的缓存与限流网关。
//
// 用法:
//
//	catalog-edge [--config path] [serve]
//	catalog-edge [--config path] check-config
//
// 环境变量 CATALOG_* 覆盖配置文件，例如 CATALOG_CACHE_TYPE=redis。
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"catalogedge/configs"
	"catalogedge/internal/logging"
	"catalogedge/internal/server"

	"github.com/urfave/cli/v3"
)

// 版本信息（可通过 -ldflags 注入）
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
)

func main() {
	if err := createApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func createApp() *cli.Command {
	return &cli.Command{
		Name:    "catalog-edge",
		Usage:   "课程目录 API 的缓存与限流网关",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径，为空时在 ./configs 和当前目录查找 config.yaml",
				Sources: cli.EnvVars("CATALOG_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "启动网关",
				Action: serve,
			},
			{
				Name:   "check-config",
				Usage:  "校验配置并打印生效的关键项",
				Action: checkConfig,
			},
		},
		DefaultCommand: "serve",
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := configs.LoadConfig(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("无法加载配置: %w", err)
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("无法初始化日志: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx, nil); err != nil {
		slog.Error("服务器异常退出", "error", err)
		return err
	}
	slog.Info("服务器已关闭")
	return nil
}

func checkConfig(_ context.Context, cmd *cli.Command) error {
	cfg, err := configs.LoadConfig(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("配置无效: %w", err)
	}

	w := cmd.Root().Writer
	fmt.Fprintf(w, "port:        %s\n", cfg.Server.Port)
	fmt.Fprintf(w, "backend:     %s\n", cfg.BackendURL)
	fmt.Fprintf(w, "cache:       %s (%d routes)\n", cfg.Cache.Type, len(cfg.Cache.Routes))
	if cfg.RateLimit.Enabled {
		fmt.Fprintf(w, "rate limit:  %s (%d profiles, %d rules)\n", cfg.RateLimit.Type, len(cfg.RateLimit.Profiles), len(cfg.RateLimit.Rules))
	} else {
		fmt.Fprintln(w, "rate limit:  disabled")
	}
	fmt.Fprintf(w, "admin api:   %t\n", cfg.Admin.Token != "")
	fmt.Fprintln(w, "OK")
	return nil
}
