package arcade

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/arcadenet/arcadectl/internal/admission"
	"github.com/arcadenet/arcadectl/internal/observability"
	"github.com/arcadenet/arcadectl/internal/script"
)

// Server is the orchestrator-facing HTTP boundary for the upload/management
// surface.
type Server struct {
	orch     *Orchestrator
	router   *gin.Engine
	addr     string
	appeared time.Time
}

func NewServer(orch *Orchestrator, addr string, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware("arcadectl"))
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{"GET", "POST", "DELETE"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{orch: orch, router: r, addr: addr, appeared: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", s.addr).Msg("arcade api listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type submitBody struct {
	Script       string `json:"script"`
	DeclaredSize *int64 `json:"declared_size,omitempty"`
	Owner        string `json:"owner"`
	Name         string `json:"name"`
	Description  string `json:"description"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": "arcadectl",
		})
	})
	s.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ready": true})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.POST("/units", func(c *gin.Context) {
		var body submitBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		declared := int64(len(body.Script))
		if body.DeclaredSize != nil {
			declared = *body.DeclaredSize
		}
		id, err := s.orch.Submit(c.Request.Context(), SubmitRequest{
			Payload:      []byte(body.Script),
			DeclaredSize: declared,
			Owner:        body.Owner,
			Name:         body.Name,
			Description:  body.Description,
		})
		if err != nil {
			writeSubmitError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"unit_id": id})
	})

	s.router.GET("/units", func(c *gin.Context) {
		units := s.orch.List(c.Query("owner"))
		c.JSON(http.StatusOK, gin.H{"units": units})
	})

	s.router.GET("/units/:id", func(c *gin.Context) {
		unit, err := s.orch.Get(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unit not found"})
			return
		}
		c.JSON(http.StatusOK, unit)
	})

	s.router.POST("/units/:id/stop", func(c *gin.Context) {
		if err := s.orch.Stop(c.Param("id")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unit not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.router.DELETE("/units/:id", func(c *gin.Context) {
		err := s.orch.Delete(c.Param("id"))
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		case errors.Is(err, ErrUnitNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "unit not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	})

	s.router.GET("/units/:id/logs", func(c *gin.Context) {
		lines, err := s.orch.Logs(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unit not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"lines": lines})
	})
}

func writeSubmitError(c *gin.Context, err error) {
	var validationErr *script.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation failed",
			"reason": string(validationErr.Reason),
			"detail": validationErr.Detail,
		})
		return
	}
	var securityErr *script.SecurityError
	if errors.As(err, &securityErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":    "script rejected by security policy",
			"category": securityErr.Category,
			"token":    securityErr.Token,
			"line":     securityErr.Line,
			"column":   securityErr.Column,
		})
		return
	}
	if errors.Is(err, admission.ErrExhausted) || errors.Is(err, ErrPortsExhausted) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "capacity exhausted, retry later"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
