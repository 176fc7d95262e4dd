package lobby

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/arcadenet/arcadectl/internal/observability"
)

// Server is the registry's HTTP boundary: registration and heartbeats from
// units, discovery listings for clients.
type Server struct {
	registry *Registry
	router   *gin.Engine
	addr     string
	appeared time.Time
}

func NewServer(registry *Registry, addr string, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware("lobbyctl"))
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{registry: registry, router: r, addr: addr, appeared: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", s.addr).Msg("lobby api listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type registerBody struct {
	IP                  string            `json:"ip"`
	Port                int               `json:"port"`
	Name                string            `json:"name"`
	Capacity            int               `json:"capacity"`
	CurrentParticipants int               `json:"current_participants"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

type heartbeatBody struct {
	CurrentParticipants int `json:"current_participants"`
}

// roomEntry is the discovery wire shape, Room plus derived uptime.
type roomEntry struct {
	Room
	UptimeSeconds int64 `json:"uptime_seconds"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": "lobbyctl",
		})
	})
	s.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ready": true})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.POST("/rooms", func(c *gin.Context) {
		var body registerBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		id, err := s.registry.Register(
			body.IP, body.Port, body.Name,
			body.Capacity, body.CurrentParticipants, body.Metadata,
		)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"registry_id": id})
	})

	s.router.POST("/rooms/:id/heartbeat", func(c *gin.Context) {
		var body heartbeatBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := s.registry.Heartbeat(c.Param("id"), body.CurrentParticipants); err != nil {
			if errors.Is(err, ErrRoomNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown registry id, re-register"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.router.GET("/rooms", func(c *gin.Context) {
		now := time.Now()
		rooms := s.registry.List()
		entries := make([]roomEntry, 0, len(rooms))
		for _, room := range rooms {
			entries = append(entries, roomEntry{
				Room:          room,
				UptimeSeconds: int64(now.Sub(room.RegisteredAt) / time.Second),
			})
		}
		c.JSON(http.StatusOK, gin.H{"rooms": entries})
	})
}
