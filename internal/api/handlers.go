package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatbridge/internal/logger"
)

// Status describes the running bridge for the health endpoint.
type Status struct {
	Platform string `json:"platform"`
	Provider string `json:"provider"`
	State    string `json:"state"`
}

// RouteRegistrar is implemented by webhook based messaging adapters.
type RouteRegistrar interface {
	RegisterRoutes(r gin.IRouter)
}

type Handler struct {
	name       string
	status     func() Status
	registrars []RouteRegistrar
}

func NewHandler(name string, status func() Status, registrars ...RouteRegistrar) *Handler {
	return &Handler{name: name, status: status, registrars: registrars}
}

// NewRouter builds a gin engine with panic recovery and zap request logs.
func NewRouter(log *zap.SugaredLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger.Or(log)))
	return router
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.root)
	router.GET("/health", h.health)
	for _, r := range h.registrars {
		r.RegisterRoutes(router)
	}
}

func (h *Handler) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": h.name + " is running"})
}

func (h *Handler) health(c *gin.Context) {
	status := h.status()
	code := http.StatusOK
	if status.State != "listening" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func requestLogger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugw("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"remote", c.ClientIP(),
		)
	}
}
