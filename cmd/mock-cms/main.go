// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

// mock-cms 是一个用于本地联调的课程目录后端。
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"catalogedge/internal/cmsmock"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "mock-cms",
		Usage: "本地联调用的课程目录后端",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "监听地址",
				Value: ":3000",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			srv := &http.Server{
				Addr:              cmd.String("addr"),
				Handler:           cmsmock.New().Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			slog.Info("Mock CMS 启动", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("Mock CMS 异常退出", "error", err)
		os.Exit(1)
	}
}
