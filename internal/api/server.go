// Package api exposes the management surface: REST endpoints for bot and
// config CRUD plus lifecycle control, and a websocket feed of live bot
// activity.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/botsmith/botsmith/internal/bot"
	"github.com/botsmith/botsmith/internal/health"
	"github.com/botsmith/botsmith/internal/scheduler"
	"github.com/botsmith/botsmith/internal/store"
	"github.com/botsmith/botsmith/pkg/logger"
)

type Server struct {
	store  *store.Store
	sup    *bot.Supervisor
	sched  *scheduler.Scheduler
	agg    *health.Aggregator
	log    zerolog.Logger
	engine *gin.Engine
	http   *http.Server
}

func NewServer(st *store.Store, sup *bot.Supervisor, sched *scheduler.Scheduler, agg *health.Aggregator, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		store:  st,
		sup:    sup,
		sched:  sched,
		agg:    agg,
		log:    log.WithComponent("api").Logger,
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.healthz)

	api := s.engine.Group("/api")
	{
		api.GET("/bots", s.listBots)
		api.POST("/bots", s.createBot)
		api.GET("/bots/:id", s.getBot)
		api.PUT("/bots/:id", s.updateBot)
		api.DELETE("/bots/:id", s.deleteBot)

		api.POST("/bots/:id/start", s.startBot)
		api.POST("/bots/:id/stop", s.stopBot)
		api.POST("/bots/:id/restart", s.restartBot)
		api.GET("/bots/:id/status", s.botStatus)
		api.GET("/bots/:id/logs", s.botLogs)

		api.POST("/bots/:id/commands", s.addCommand)
		api.PUT("/bots/:id/commands/:itemID", s.updateCommand)
		api.DELETE("/bots/:id/commands/:itemID", s.deleteCommand)

		api.POST("/bots/:id/events", s.addEvent)
		api.PUT("/bots/:id/events/:itemID", s.updateEvent)
		api.DELETE("/bots/:id/events/:itemID", s.deleteEvent)

		api.POST("/bots/:id/integrations", s.addIntegration)
		api.PUT("/bots/:id/integrations/:itemID", s.updateIntegration)
		api.DELETE("/bots/:id/integrations/:itemID", s.deleteIntegration)
		api.POST("/bots/:id/integrations/:itemID/test", s.testIntegration)
	}

	s.engine.GET("/ws/bots/:id", s.streamBot)
}

// Run serves until ctx is canceled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.log.Info().Str("addr", addr).Msg("api listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) healthz(c *gin.Context) {
	snap := s.agg.Snapshot()
	ok(c, gin.H{
		"status":        "ok",
		"uptime":        snap.Uptime.String(),
		"runningBots":   len(s.sup.RunningIDs()),
		"commands":      snap.Commands,
		"events":        snap.Events,
		"announcements": snap.Announcements,
	})
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{"success": false, "error": err.Error()})
}

// failFor maps well-known domain errors onto HTTP statuses.
func (s *Server) failFor(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		fail(c, http.StatusNotFound, err)
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, bot.ErrAlreadyRunning),
		errors.Is(err, bot.ErrNotRunning):
		fail(c, http.StatusConflict, err)
	case errors.Is(err, bot.ErrNoToken),
		errors.Is(err, scheduler.ErrSchedulerDisabled),
		errors.Is(err, scheduler.ErrNoChannel),
		errors.Is(err, scheduler.ErrBadChannel),
		errors.Is(err, scheduler.ErrNoPermission):
		fail(c, http.StatusBadRequest, err)
	default:
		fail(c, http.StatusInternalServerError, err)
	}
}
