package api

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"

	"livebid/api/openapi"
)

// requestLogger 記錄每個請求的處理時間與狀態碼
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	logger = logger.With(slog.String("caller", "HTTP"))
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("HTTP Request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)))
	}
}

// Router 建立 gin 路由
func (impl *ServerImpl) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(impl.options.logger))

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "Location"},
		AllowCredentials: true,
		MaxAge:           1 * time.Hour,
	}
	if origins := impl.config.CORS.AllowOrigins; len(origins) == 0 || lo.Contains(origins, "*") {
		corsConfig.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsConfig.AllowOrigins = origins
	}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", impl.GetHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authorized := router.Group("/", impl.authenticate(), limitBody(lo.CoalesceOrEmpty(impl.config.Engine.MaxBodyBytes, 64<<10)))
	openapi.RegisterHandlersWithOptions(authorized, impl, openapi.GinServerOptions{
		Middlewares: []openapi.MiddlewareFunc{impl.validator},
		ErrorHandler: func(c *gin.Context, err error, status int) {
			JSONError(c, status, err, "invalid request parameters")
		},
	})

	return router
}
