package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"messages-gateway/config"
	"messages-gateway/core"
	"messages-gateway/core/adapter"
	"messages-gateway/core/mapper"
	"messages-gateway/core/security"
	"messages-gateway/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// App 组装并管理网关各组件的生命周期
type App struct {
	cfg     *config.Config
	log     *logrus.Logger
	handler *core.Handler
	metrics *core.Metrics
	limiter *IPRateLimiter
	db      *gorm.DB
	engine  *gin.Engine
}

func newApp(cfg *config.Config, log *logrus.Logger) (*App, error) {
	client := adapter.NewHTTPClient(0)
	primary := adapter.NewOpenAIBackend(cfg.Primary, client, log)

	var azure adapter.Backend
	store, err := newAzureStore(cfg.Azure)
	if err != nil {
		return nil, err
	}
	creds, err := adapter.ResolveAzureCredentials(cfg.Azure.Endpoint, cfg.Azure.APIKey, store)
	if err != nil {
		log.Warnf("⚠️ Azure OpenAI config ignored: %v", err)
	}
	if creds.Configured() {
		azure = adapter.NewAzureBackend(creds, cfg.Azure, cfg.Primary.Timeout, client, log)
		log.Infof("☁️ Azure OpenAI enabled: %s", creds.Endpoint)
	}
	router := core.NewRouter(primary, azure)

	var metrics *core.Metrics
	if cfg.Metrics.Enabled {
		metrics = core.NewMetrics()
	}

	var db *gorm.DB
	if cfg.Database.Path != "" {
		db, err = initDatabase(cfg.Database.Path, log)
		if err != nil {
			return nil, err
		}
	}

	var approver core.Approver = core.AutoApprove{}
	if cfg.Gate.ManualApprove {
		approver = core.NewPromptApprover(os.Stdin, os.Stdout)
	}

	translator := mapper.NewTranslator(log, func(w mapper.TranslationWarning) {
		metrics.TranslationWarning(string(w.Kind))
	})

	handler := core.NewHandler(core.HandlerOptions{
		Router:     router,
		Translator: translator,
		RateLimit:  core.NewRateLimitGate(cfg.Gate.RateLimitInterval, cfg.Gate.RateLimitWait),
		Approver:   approver,
		Catalog:    core.NewModelCatalog(router, log),
		Tokens:     core.NewTokenCounter(),
		RequestLog: core.NewAsyncRequestLogger(db, log, cfg.Database.KeepRows),
		Metrics:    metrics,
		Logger:     log,
		KeepAlive:  cfg.Stream.KeepAliveInterval,
	})

	app := &App{cfg: cfg, log: log, handler: handler, metrics: metrics, db: db}
	if cfg.IPLimit.Enabled {
		app.limiter = NewIPRateLimiter(rate.Limit(cfg.IPLimit.RPS), cfg.IPLimit.Burst)
	}
	app.engine = app.newEngine()
	return app, nil
}

// newEngine 设置中间件和路由
func (a *App) newEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(recoveryMiddleware(a.log))
	engine.Use(requestIDMiddleware())
	engine.Use(corsMiddleware())

	// 公开路由，无访问日志
	engine.GET("/", handleRoot())
	engine.GET("/health", handleHealth(a.handler.Router()))
	if a.metrics != nil {
		engine.GET(a.cfg.Metrics.Path, gin.WrapH(a.metrics.Handler()))
	}

	api := engine.Group("/")
	api.Use(maxBodyMiddleware(a.cfg.Server.MaxBodyBytes))
	api.Use(requestLoggerMiddleware(a.log, a.metrics))
	if a.limiter != nil {
		api.Use(a.limiter.Middleware(a.log))
	}
	{
		api.POST("/v1/messages", a.handler.HandleMessages)
		api.POST("/v1/messages/count_tokens", a.handler.HandleCountTokens)
		api.GET("/v1/models", a.handler.HandleModels)
		api.GET("/admin/stats", a.handler.HandleStats)
		api.GET("/admin/logs", a.handler.HandleRecentLogs)
	}
	return engine
}

// Start 启动所有服务并阻塞直到 ctx 结束或出现运行时错误
func (a *App) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.Listen, err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	var shutdownFuncs []func(context.Context) error

	if a.db != nil {
		shutdownFuncs = append(shutdownFuncs, func(context.Context) error {
			sqlDB, err := a.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
	}
	shutdownFuncs = append(shutdownFuncs, func(context.Context) error {
		a.handler.RequestLog().Close()
		return nil
	})

	// 预热模型列表，失败不影响启动
	g.Go(func() error {
		a.handler.Catalog().Refresh(gCtx)
		return nil
	})

	if a.limiter != nil {
		g.Go(func() error { return a.limiter.Run(gCtx) })
	}

	server := &http.Server{
		Handler:           a.engine,
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}
	shutdownFuncs = append(shutdownFuncs, server.Shutdown)

	g.Go(func() error {
		a.log.Infof("🚀 Starting Messages Gateway on %s", listener.Addr())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	// errgroup 在第一个错误时取消 gCtx；正常退出时等待 ctx 结束
	<-gCtx.Done()
	a.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			a.log.Errorf("shutdown failed: %v", err)
			errs = append(errs, err)
		}
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	a.log.Info("Server exited")
	return nil
}

// initDatabase 初始化数据库
func initDatabase(path string, log *logrus.Logger) (*gorm.DB, error) {
	// 只记录错误，不打印 SQL 语句
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Infof("Database initialized: %s", path)
	return db, nil
}

// newAzureStore 选择配置文件路径和编解码方式
func newAzureStore(cfg config.AzureConfig) (*adapter.AzureConfigStore, error) {
	path := cfg.ConfigPath
	if path == "" {
		p, err := adapter.DefaultAzureConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	var codec adapter.SecretCodec = adapter.Base64Codec{}
	if cfg.SecretKey != "" {
		aes, err := security.NewAESCodec(cfg.SecretKey)
		if err != nil {
			return nil, err
		}
		codec = aes
	}
	return adapter.NewAzureConfigStore(path, codec), nil
}
