// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

// Package server 组装网关：缓存、限流器、中间件链和 HTTP 服务器。
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"catalogedge/configs"
	"catalogedge/internal/cache"
	"catalogedge/internal/gateway"
	"catalogedge/internal/middleware"
	"catalogedge/internal/ratelimit"

	"golang.org/x/sync/errgroup"
)

// metricsNamespace Prometheus 指标前缀
const metricsNamespace = "catalog_edge"

// Server 持有网关运行期间的全部依赖。
// 缓存和限流器在这里创建一次，通过构造参数注入到各个处理器。
type Server struct {
	cfg     configs.Config
	facade  *cache.Facade
	limiter ratelimit.Limiter
	metrics *middleware.Metrics
	handler http.Handler
}

// Option 替换默认创建的依赖，主要用于测试
type Option func(*options)

type options struct {
	store   cache.Store
	limiter ratelimit.Limiter
}

// WithStore 使用给定的缓存存储，而不是根据配置创建
func WithStore(store cache.Store) Option {
	return func(o *options) { o.store = store }
}

// WithLimiter 使用给定的限流器，而不是根据配置创建
func WithLimiter(limiter ratelimit.Limiter) Option {
	return func(o *options) { o.limiter = limiter }
}

// New 根据配置创建网关
func New(cfg configs.Config, opts ...Option) (*Server, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	store := o.store
	if store == nil {
		var err error
		if store, err = cache.NewStore(cfg.Cache); err != nil {
			return nil, fmt.Errorf("初始化缓存失败: %w", err)
		}
	}
	facade := cache.NewFacade(store)

	s := &Server{cfg: cfg, facade: facade}
	s.metrics = middleware.NewMetrics(metricsNamespace, func() int {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return facade.Stats(ctx).Size
	})

	router, err := gateway.NewRouter(cfg, facade, s.metrics)
	if err != nil {
		facade.Stop()
		return nil, fmt.Errorf("创建路由失败: %w", err)
	}

	var core http.Handler = router
	if cfg.RateLimit.Enabled {
		resolver, err := ratelimit.NewResolver(cfg.RateLimit.Profiles, cfg.RateLimit.Rules)
		if err != nil {
			facade.Stop()
			return nil, err
		}

		s.limiter = o.limiter
		if s.limiter == nil {
			if s.limiter, err = ratelimit.NewLimiter(cfg.RateLimit); err != nil {
				facade.Stop()
				return nil, fmt.Errorf("初始化限流器失败: %w", err)
			}
		}
		core = middleware.RateLimit(s.limiter, resolver, s.metrics)(core)
	} else {
		slog.Warn("限流已关闭")
	}

	// 顺序: Recovery -> RequestID -> SecurityHeaders -> Logging -> Metrics -> HealthCheck -> RateLimit -> Router
	s.handler = middleware.Recovery(
		middleware.RequestID(
			middleware.SecurityHeaders(
				middleware.Logging(
					s.metrics.Instrument(
						middleware.HealthCheck(core))))))

	slog.Info("网关初始化完成",
		"backend", cfg.BackendURL,
		"cache", store.Stats(context.Background()).Backend,
		"remote_cache", facade.IsRemoteAvailable(),
		"rate_limit", cfg.RateLimit.Enabled,
	)
	return s, nil
}

// Handler 返回完整的中间件链
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Cache 返回缓存入口
func (s *Server) Cache() *cache.Facade {
	return s.facade
}

// Run 在 ln 上提供服务，直到 ctx 被取消后优雅关闭。
// ln 为 nil 时监听 server.port。
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", ":"+s.cfg.Server.Port); err != nil {
			return fmt.Errorf("无法监听端口 %s: %w", s.cfg.Server.Port, err)
		}
	}

	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Catalog Edge 开始启动", "addr", ln.Addr().String(), "tls", s.tlsEnabled())
		var err error
		if s.tlsEnabled() {
			err = httpServer.ServeTLS(ln, s.cfg.Server.TLSCertPath, s.cfg.Server.TLSKeyPath)
		} else {
			err = httpServer.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := time.Duration(s.cfg.Server.ShutdownTimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		slog.Info("正在关闭服务器", "timeout", timeout.String())
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close 停止后台清理任务并释放缓存和限流后端连接
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	s.facade.Stop()
}

func (s *Server) tlsEnabled() bool {
	return s.cfg.Server.TLSCertPath != "" && s.cfg.Server.TLSKeyPath != ""
}
