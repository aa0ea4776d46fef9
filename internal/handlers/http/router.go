package http

import (
	"net/http"

	"dubsync/internal/infrastructure/middleware"
	"dubsync/pkg/config"
	"dubsync/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter assembles the middleware chain and every route. ws may be nil
// when no event hub is running.
func NewRouter(cfg *config.Config, log *zap.Logger, game *GameHandler, system *SystemHandler, ws http.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = 32 << 20
	router.Use(
		middleware.RecoveryMiddleware(log.Sugar()),
		middleware.RequestLoggingMiddleware(logger.NewContextLogger(log)),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log.Sugar()),
	)

	system.SetupRoutes(router)
	game.SetupRoutes(router)
	if ws != nil {
		router.GET("/ws", gin.WrapF(ws))
	}
	return router
}
