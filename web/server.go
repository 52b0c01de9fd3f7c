package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"arbmesh/config"
	"arbmesh/event"
	"arbmesh/logger"
	"arbmesh/monitor"
	"arbmesh/storage"
	"arbmesh/strategy"
)

// Server 管理接口服务：状态查询、引擎指令、事件推送与指标暴露
type Server struct {
	cfg      *config.Config
	orch     *strategy.Orchestrator
	center   *event.EventCenter
	store    storage.Storage
	watchdog *monitor.Watchdog

	engine *gin.Engine
	srv    *http.Server
}

// NewServer 创建管理接口服务
func NewServer(
	cfg *config.Config,
	orch *strategy.Orchestrator,
	center *event.EventCenter,
	store storage.Storage,
	watchdog *monitor.Watchdog,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:      cfg,
		orch:     orch,
		center:   center,
		store:    store,
		watchdog: watchdog,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	// 指标与健康检查不鉴权
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.GET("/healthz", s.handleHealthz)

	api := s.engine.Group("/api", s.authMiddleware())
	{
		api.GET("/status", s.handleStatus)
		api.GET("/warmup", s.handleWarmup)
		api.GET("/events", s.handleEvents)
		api.GET("/fills", s.handleFills)
		api.GET("/performance", s.handlePerformance)
		api.GET("/system", s.handleSystem)

		api.POST("/engine/start", s.handleStart)
		api.POST("/engine/stop", s.handleStop)
		api.POST("/engine/mode", s.handleSetMode)
		api.POST("/engine/live", s.handleSetLive)

		api.POST("/symbols", s.handleUpdateSymbols)
		api.POST("/symbols/:symbol/params", s.handleSymbolParams)
		api.POST("/symbols/:symbol/flatten", s.handleFlatten)

		api.POST("/credentials", s.handleCredentials)
	}

	s.engine.GET("/ws", s.authMiddleware(), s.handleWebsocket)
}

// Start 启动 HTTP 服务（异步）
func (s *Server) Start() {
	s.srv = &http.Server{
		Addr:              s.cfg.Web.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("✅ 管理接口已启动: %s", s.cfg.Web.Listen)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("❌ 管理接口异常退出: %v", err)
		}
	}()
}

// Stop 优雅关闭 HTTP 服务
func (s *Server) Stop() {
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		logger.Warn("⚠️ 管理接口关闭失败: %v", err)
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "storage unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "engine": s.orch.Status()})
}
