// Package integrations binds bots to third-party services: media servers,
// download managers and game servers. Command handlers implement the
// Handler interface; the announcement scheduler consumes the Library
// interface. Both sit on the same uniform REST client.
package integrations

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/botsmith/botsmith/internal/gateway"
	"github.com/botsmith/botsmith/internal/models"
	"github.com/botsmith/botsmith/pkg/logger"
)

// Handler executes one integration-backed command. The full bot config is
// passed so the handler can locate its own integration record.
type Handler interface {
	Execute(ctx context.Context, inv *gateway.Invocation, cmd *models.Command, cfg *models.BotConfig) error
}

// Registry maps service names to their command handlers. Handlers are
// resolved once at construction, not per call.
type Registry struct {
	handlers map[models.Service]Handler
	log      zerolog.Logger
}

// NewRegistry wires the built-in handlers.
func NewRegistry(log *logger.Logger) *Registry {
	l := log.WithComponent("integrations").Logger
	return &Registry{
		log: l,
		handlers: map[models.Service]Handler{
			models.ServicePlex:      &plexHandler{log: l},
			models.ServiceSonarr:    &arrHandler{service: models.ServiceSonarr, log: l},
			models.ServiceRadarr:    &arrHandler{service: models.ServiceRadarr, log: l},
			models.ServiceTautulli:  &tautulliHandler{log: l},
			models.ServiceMinecraft: &minecraftHandler{log: l},
		},
	}
}

// Execute dispatches a command to the handler registered for its service.
// Services without a handler, or without an integration record on this
// bot, get a "not configured" reply rather than an error escalation.
func (r *Registry) Execute(ctx context.Context, inv *gateway.Invocation, cmd *models.Command, cfg *models.BotConfig) error {
	h, ok := r.handlers[cmd.IntegrationService]
	if !ok {
		return inv.Reply(fmt.Sprintf("%s integration is not supported.", cmd.IntegrationService))
	}
	if cfg.IntegrationByService(cmd.IntegrationService) == nil {
		return inv.Reply(fmt.Sprintf("%s integration is not configured for this bot.", cmd.IntegrationService))
	}
	return h.Execute(ctx, inv, cmd, cfg)
}
