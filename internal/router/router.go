package router

import (
	"net/http"
	"time"

	"github.com/RohitKrishnan4943/ProctorVision/internal/config"
	"github.com/RohitKrishnan4943/ProctorVision/internal/handlers"
	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/unrolled/secure"
	"go.uber.org/zap"
)

// Handlers bundles everything the routes dispatch to.
type Handlers struct {
	Session    *handlers.SessionHandler
	Monitoring *handlers.MonitoringHandler
	Attempts   *handlers.AttemptHandler
	Reports    *handlers.ReportHandler
	Health     *handlers.HealthHandler
	Metrics    http.Handler
}

func keyFunc(c *gin.Context) string {
	return c.ClientIP()
}

func errorHandler(c *gin.Context, info ratelimit.Info) {
	c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests. Try again later."})
}

func Setup(log *zap.Logger, conf config.ServerConfig, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(log))

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		IsDevelopment:         !conf.Production,
	})
	router.Use(func(c *gin.Context) {
		if err := secureMiddleware.Process(c.Writer, c.Request); err != nil {
			c.Abort()
			return
		}
		c.Next()
	})

	router.GET("/healthz", h.Health.Health)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}

	// Admin routes authenticate by header and carry no cookies.
	if conf.AdminToken != "" {
		admin := router.Group("/api/admin")
		admin.Use(AdminRequired(log, conf.AdminToken))
		{
			admin.GET("/cheating-cases", h.Reports.CheatingCases)
			admin.GET("/submissions/:submissionID/events", h.Reports.SubmissionEvents)
			admin.GET("/stats", h.Reports.Stats)
		}
	} else {
		log.Warn("server.admin_token is empty; admin reports are disabled")
	}

	store := cookie.NewStore([]byte(conf.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   conf.Production,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   86400,
	})

	student := router.Group("/")
	student.Use(sessions.Sessions("proctorsession", store))
	student.Use(CSRFProtection(log))
	student.Use(StudentLoader())

	limit := conf.RateLimit
	if limit == 0 {
		limit = 20
	}
	rateLimitStore := ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
		Rate:  time.Minute,
		Limit: limit,
	})
	limiter := ratelimit.RateLimiter(rateLimitStore, &ratelimit.Options{
		ErrorHandler: errorHandler,
		KeyFunc:      keyFunc,
	})

	student.GET("/api/session", h.Session.Show)
	student.POST("/api/session", limiter, h.Session.Create)
	student.DELETE("/api/session", h.Session.Delete)
	student.GET("/api/monitoring/status", h.Monitoring.Status)

	authorized := student.Group("/")
	authorized.Use(StudentRequired())
	{
		attempts := authorized.Group("/api/attempts")
		{
			attempts.POST("", h.Attempts.Start)
			attempts.GET("/:submissionID", h.Attempts.Get)
			attempts.POST("/:submissionID/complete", h.Attempts.Complete)
		}

		monitoring := authorized.Group("/api/monitoring/:submissionID")
		{
			monitoring.POST("/frame", h.Monitoring.Frame)
			monitoring.POST("/audio", h.Monitoring.Audio)
			monitoring.POST("/tab-switch", h.Monitoring.TabSwitch)
		}

		authorized.GET("/ws/monitoring/:submissionID", h.Monitoring.Stream)
	}

	return router
}
