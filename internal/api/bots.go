package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/botsmith/botsmith/internal/bot"
	"github.com/botsmith/botsmith/internal/models"
)

// sanitize strips the token before a config leaves the API.
func sanitize(cfg *models.BotConfig) *models.BotConfig {
	out := *cfg
	if out.Token != "" {
		out.Token = "********"
	}
	return &out
}

func (s *Server) listBots(c *gin.Context) {
	cfgs, err := s.store.List()
	if err != nil {
		s.failFor(c, err)
		return
	}
	out := make([]*models.BotConfig, 0, len(cfgs))
	for _, cfg := range cfgs {
		out = append(out, sanitize(cfg))
	}
	ok(c, out)
}

func (s *Server) createBot(c *gin.Context) {
	var cfg models.BotConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	saved, err := s.store.Create(&cfg)
	if err != nil {
		s.failFor(c, err)
		return
	}
	s.log.Info().Str("bot_id", saved.ID).Str("name", saved.Name).Msg("bot created")
	created(c, sanitize(saved))
}

func (s *Server) getBot(c *gin.Context) {
	cfg, err := s.store.Read(c.Param("id"))
	if err != nil {
		s.failFor(c, err)
		return
	}
	ok(c, sanitize(cfg))
}

func (s *Server) updateBot(c *gin.Context) {
	id := c.Param("id")

	current, err := s.store.Read(id)
	if err != nil {
		s.failFor(c, err)
		return
	}

	var cfg models.BotConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	// A masked or omitted token means "keep the stored one".
	if cfg.Token == "" || cfg.Token == "********" {
		cfg.Token = current.Token
	}

	saved, err := s.store.Write(id, &cfg)
	if err != nil {
		s.failFor(c, err)
		return
	}
	ok(c, sanitize(saved))
}

// deleteBot stops a running bot before removing its record and logs.
func (s *Server) deleteBot(c *gin.Context) {
	id := c.Param("id")

	if s.sup.IsRunning(id) {
		if err := s.sup.Stop(id); err != nil && !errors.Is(err, bot.ErrNotRunning) {
			s.failFor(c, err)
			return
		}
	}
	if err := s.store.Delete(id); err != nil {
		s.failFor(c, err)
		return
	}
	s.log.Info().Str("bot_id", id).Msg("bot deleted")
	ok(c, gin.H{"deleted": id})
}

func (s *Server) startBot(c *gin.Context) {
	id := c.Param("id")
	if err := s.sup.Start(c.Request.Context(), id); err != nil {
		s.failFor(c, err)
		return
	}
	ok(c, gin.H{"started": id})
}

func (s *Server) stopBot(c *gin.Context) {
	id := c.Param("id")
	if err := s.sup.Stop(id); err != nil {
		s.failFor(c, err)
		return
	}
	ok(c, gin.H{"stopped": id})
}

func (s *Server) restartBot(c *gin.Context) {
	id := c.Param("id")
	if err := s.sup.Restart(c.Request.Context(), id); err != nil {
		s.failFor(c, err)
		return
	}
	ok(c, gin.H{"restarted": id})
}

func (s *Server) botStatus(c *gin.Context) {
	info, err := s.sup.Status(c.Param("id"))
	if err != nil {
		s.failFor(c, err)
		return
	}
	ok(c, info)
}

func (s *Server) botLogs(c *gin.Context) {
	n := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 1000 {
			n = parsed
		}
	}
	lines, err := s.store.Logs(c.Param("id"), n)
	if err != nil {
		s.failFor(c, err)
		return
	}
	ok(c, lines)
}
