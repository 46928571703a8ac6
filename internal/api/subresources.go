package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/botsmith/botsmith/internal/models"
)

// mutate applies fn to a fresh copy of the bot's config and persists the
// result. The change watcher picks the write up and hot-reloads the bot if
// it is running.
func (s *Server) mutate(c *gin.Context, fn func(cfg *models.BotConfig) error) {
	id := c.Param("id")
	cfg, err := s.store.Read(id)
	if err != nil {
		s.failFor(c, err)
		return
	}
	if err := fn(cfg); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	saved, err := s.store.Write(id, cfg)
	if err != nil {
		s.failFor(c, err)
		return
	}
	ok(c, sanitize(saved))
}

func (s *Server) addCommand(c *gin.Context) {
	var cmd models.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if cmd.Name == "" {
		fail(c, http.StatusBadRequest, fmt.Errorf("command name is required"))
		return
	}
	cmd.ID = uuid.NewString()

	s.mutate(c, func(cfg *models.BotConfig) error {
		if cfg.CommandByName(cmd.Name) != nil {
			return fmt.Errorf("command %q already exists", cmd.Name)
		}
		cfg.Commands = append(cfg.Commands, cmd)
		return nil
	})
}

func (s *Server) updateCommand(c *gin.Context) {
	itemID := c.Param("itemID")
	var cmd models.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	s.mutate(c, func(cfg *models.BotConfig) error {
		for i := range cfg.Commands {
			if cfg.Commands[i].ID == itemID {
				cmd.ID = itemID
				cfg.Commands[i] = cmd
				return nil
			}
		}
		return fmt.Errorf("command %s not found", itemID)
	})
}

func (s *Server) deleteCommand(c *gin.Context) {
	itemID := c.Param("itemID")
	s.mutate(c, func(cfg *models.BotConfig) error {
		for i := range cfg.Commands {
			if cfg.Commands[i].ID == itemID {
				cfg.Commands = append(cfg.Commands[:i], cfg.Commands[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("command %s not found", itemID)
	})
}

func (s *Server) addEvent(c *gin.Context) {
	var rule models.EventRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if !validEventType(rule.EventType) {
		fail(c, http.StatusBadRequest, fmt.Errorf("unknown event type %q", rule.EventType))
		return
	}
	rule.ID = uuid.NewString()

	s.mutate(c, func(cfg *models.BotConfig) error {
		cfg.Events = append(cfg.Events, rule)
		return nil
	})
}

func (s *Server) updateEvent(c *gin.Context) {
	itemID := c.Param("itemID")
	var rule models.EventRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if !validEventType(rule.EventType) {
		fail(c, http.StatusBadRequest, fmt.Errorf("unknown event type %q", rule.EventType))
		return
	}

	s.mutate(c, func(cfg *models.BotConfig) error {
		for i := range cfg.Events {
			if cfg.Events[i].ID == itemID {
				rule.ID = itemID
				cfg.Events[i] = rule
				return nil
			}
		}
		return fmt.Errorf("event rule %s not found", itemID)
	})
}

func (s *Server) deleteEvent(c *gin.Context) {
	itemID := c.Param("itemID")
	s.mutate(c, func(cfg *models.BotConfig) error {
		for i := range cfg.Events {
			if cfg.Events[i].ID == itemID {
				cfg.Events = append(cfg.Events[:i], cfg.Events[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("event rule %s not found", itemID)
	})
}

func (s *Server) addIntegration(c *gin.Context) {
	var in models.Integration
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if in.Service == "" {
		fail(c, http.StatusBadRequest, fmt.Errorf("integration service is required"))
		return
	}
	in.ID = uuid.NewString()

	s.mutate(c, func(cfg *models.BotConfig) error {
		if cfg.IntegrationByService(in.Service) != nil {
			return fmt.Errorf("%s integration already exists", in.Service)
		}
		cfg.Integrations = append(cfg.Integrations, in)
		return nil
	})
}

func (s *Server) updateIntegration(c *gin.Context) {
	itemID := c.Param("itemID")
	var in models.Integration
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	s.mutate(c, func(cfg *models.BotConfig) error {
		for i := range cfg.Integrations {
			if cfg.Integrations[i].ID == itemID {
				in.ID = itemID
				cfg.Integrations[i] = in
				return nil
			}
		}
		return fmt.Errorf("integration %s not found", itemID)
	})
}

func (s *Server) deleteIntegration(c *gin.Context) {
	itemID := c.Param("itemID")
	s.mutate(c, func(cfg *models.BotConfig) error {
		for i := range cfg.Integrations {
			if cfg.Integrations[i].ID == itemID {
				cfg.Integrations = append(cfg.Integrations[:i], cfg.Integrations[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("integration %s not found", itemID)
	})
}

// testIntegration dry-runs an integration's announcement setup. The bot
// must be running since the check resolves channels and permissions over
// its live connection.
func (s *Server) testIntegration(c *gin.Context) {
	botID := c.Param("id")
	itemID := c.Param("itemID")

	conn, running := s.sup.Connection(botID)
	if !running {
		fail(c, http.StatusBadRequest, fmt.Errorf("bot must be running to test an integration"))
		return
	}

	report, err := s.sched.TestCheck(c.Request.Context(), botID, itemID, conn)
	if err != nil {
		s.failFor(c, err)
		return
	}
	ok(c, report)
}

func validEventType(t models.EventType) bool {
	for _, known := range models.EventTypes {
		if t == known {
			return true
		}
	}
	return false
}
