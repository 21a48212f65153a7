package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/api/websocket"
	"github.com/KevinKickass/OpenLabCore/internal/auth"
	"github.com/KevinKickass/OpenLabCore/internal/config"
	"github.com/KevinKickass/OpenLabCore/internal/interfaces"
	"github.com/KevinKickass/OpenLabCore/internal/types"
)

// Authenticator issues and checks tokens. *auth.AuthService implements it.
type Authenticator interface {
	LoginUser(ctx context.Context, username, password, ipAddress, userAgent string) (string, string, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, string, error)
	RevokeRefreshToken(ctx context.Context, refreshToken string) error
	AuthMiddleware() gin.HandlerFunc
}

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService Authenticator
	tokenTTL    time.Duration
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService Authenticator) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
		tokenTTL:    cfg.Auth.AccessTokenTTL,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// CSV-Downloads großer Transienten brauchen länger
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH (PUBLIC) ====================
		authPublic := v1.Group("/auth")
		{
			authPublic.POST("/login", s.login)
			authPublic.POST("/refresh", s.refreshToken)
		}

		authProtected := v1.Group("/auth")
		authProtected.Use(s.authService.AuthMiddleware())
		{
			authProtected.POST("/logout", s.logout)
			authProtected.GET("/me", s.getCurrentUser)
		}

		// ==================== RECIPES ====================
		recipes := v1.Group("/recipes")
		recipes.Use(s.authService.AuthMiddleware())
		{
			recipes.GET("", auth.RequirePermission(auth.PermOperator), s.listRecipes)
			recipes.GET("/:id", auth.RequirePermission(auth.PermOperator), s.getRecipe)
			recipes.POST("/validate", auth.RequirePermission(auth.PermOperator), s.validateRecipe)
			recipes.POST("/:id/run", auth.RequirePermission(auth.PermOperator), s.runRecipe)

			recipes.POST("", auth.RequirePermission(auth.PermTechnician), s.createRecipe)
			recipes.PUT("/:id", auth.RequirePermission(auth.PermTechnician), s.updateRecipe)
			recipes.DELETE("/:id", auth.RequirePermission(auth.PermAdmin), s.deleteRecipe)
		}

		// ==================== EXECUTIONS (OPERATOR+) ====================
		executions := v1.Group("/executions")
		executions.Use(s.authService.AuthMiddleware())
		executions.Use(auth.RequirePermission(auth.PermOperator))
		{
			executions.GET("", s.listExecutions)
			executions.GET("/:id", s.getExecution)
			executions.GET("/:id/events", s.getExecutionEvents)
			executions.GET("/:id/log", s.getExecutionLog)
			executions.POST("/:id/cancel", s.cancelExecution)
			executions.GET("/:id/spectra", s.listSpectra)
			executions.GET("/:id/spectra/:seq", s.getSpectrum)
			executions.GET("/:id/spectra/:seq/csv", s.downloadSpectrumCSV)
			executions.GET("/:id/transients", s.listTransients)
			executions.GET("/:id/transients/:handle", s.getTransientSeries)
			executions.GET("/:id/archive/:name", s.downloadArchived)
		}

		// ==================== DEVICES ====================
		devices := v1.Group("/devices")
		devices.Use(s.authService.AuthMiddleware())
		{
			devices.GET("", auth.RequirePermission(auth.PermOperator), s.listDevices)
			devices.POST("/probe", auth.RequirePermission(auth.PermTechnician), s.probeDevices)
		}

		// ==================== MACHINE CONTROL (OPERATOR+) ====================
		machine := v1.Group("/machine")
		machine.Use(s.authService.AuthMiddleware())
		machine.Use(auth.RequirePermission(auth.PermOperator))
		{
			machine.GET("/status", s.getMachineStatus)
			machine.POST("/command", s.executeMachineCommand)
		}

		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		{
			system.GET("/status", auth.RequirePermission(auth.PermOperator), s.getSystemStatus)
			system.POST("/shutdown", auth.RequirePermission(auth.PermAdmin), s.shutdown)
		}

		// ==================== WEBSOCKET (auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	}

	if store := s.lm.Store(); store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = err.Error()
		}
	}

	c.JSON(status, body)
}

func abortError(c *gin.Context, status int, code, message string, details any) {
	c.AbortWithStatusJSON(status, types.NewErrorResponse(code, message, details))
}
