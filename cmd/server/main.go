package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mindful-backend/internal/config"
	"mindful-backend/internal/handler"
	"mindful-backend/internal/middleware"
	"mindful-backend/internal/service"
	"mindful-backend/internal/storage"
	"mindful-backend/internal/telemetry"
	"mindful-backend/internal/utils"
	"mindful-backend/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		configPath string
		issueToken string
	)
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	flag.StringVar(&issueToken, "issue-token", "", "为指定用户签发 JWT 后退出")
	flag.Parse()

	// 默认路径不存在时只用环境变量
	if _, err := os.Stat(configPath); err != nil && os.IsNotExist(err) && !isFlagSet("config") {
		configPath = ""
	}

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	auth := middleware.NewJWTAuth(cfg.Auth)
	if issueToken != "" {
		token, err := auth.GenerateToken(issueToken)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	// 初始化日志
	if err := logger.Init(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("Failed to init telemetry: %v", err)
	}

	// 初始化服务
	store := storage.NewStorage(cfg)
	credentials := service.NewCredentialService(store, service.NewSealer(cfg.Credential.EncryptionKey), cfg.Credential.StaticAPIKey)
	relay := service.NewRelayService(utils.NewHTTPClient(cfg.Upstream.HeaderTimeout), credentials, cfg.Upstream)
	messages := service.NewMessageService(store, cfg.Storage.HistoryLimit)

	if cfg.Auth.DemoMode {
		logger.Warnf("Demo mode enabled, all requests run as user %q", cfg.Auth.DemoUserID)
	}
	if cfg.Credential.StaticAPIKey == "" {
		logger.Warn("No static API key configured, users must save their own key")
	}

	// 初始化处理器
	chatHandler := handler.NewChatHandler(relay, messages)
	settingsHandler := handler.NewSettingsHandler(credentials)

	// 创建路由
	router := setupRouter(cfg, auth, chatHandler, settingsHandler)

	// 创建HTTP服务器
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("服务器启动在端口 %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("服务器正在关闭...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Errorf("服务器异常退出: %v", err)
	}

	if err := store.Close(); err != nil {
		logger.Errorf("关闭存储失败: %v", err)
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTelemetry(flushCtx); err != nil {
		logger.Errorf("关闭遥测失败: %v", err)
	}
	logger.Info("服务器已关闭")
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func setupRouter(cfg *config.Config, auth *middleware.JWTAuth, chatHandler *handler.ChatHandler, settingsHandler *handler.SettingsHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	if cfg.Telemetry.Enabled {
		router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	}

	// CORS配置
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}))

	// 健康检查
	router.GET("/health", handler.Health)

	api := router.Group("/api")
	{
		api.GET("/auth", auth.Optional(), handler.AuthStatus)

		chat := api.Group("/chat", auth.Required())
		{
			chat.POST("", chatHandler.Relay)
			chat.GET("/messages", chatHandler.GetMessages)
			chat.POST("/messages", chatHandler.SaveMessage)
			chat.DELETE("/messages", chatHandler.ClearMessages)
		}

		settings := api.Group("/settings", auth.Required())
		{
			settings.GET("/credential", settingsHandler.GetCredential)
			settings.PUT("/credential", settingsHandler.PutCredential)
			settings.DELETE("/credential", settingsHandler.DeleteCredential)
		}
	}

	return router
}
