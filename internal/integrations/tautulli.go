package integrations

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/botsmith/botsmith/internal/embed"
	"github.com/botsmith/botsmith/internal/gateway"
	"github.com/botsmith/botsmith/internal/models"
)

type tautulliHandler struct {
	log zerolog.Logger
}

// tautulliEnvelope wraps every Tautulli v2 response.
type tautulliEnvelope struct {
	Response struct {
		Result string          `json:"result"`
		Data   tautulliPayload `json:"data"`
	} `json:"response"`
}

type tautulliPayload struct {
	StreamCount    string            `json:"stream_count"`
	Sessions       []tautulliSession `json:"sessions"`
	Data           []tautulliHistory `json:"data"`
	TotalBandwidth int64             `json:"total_bandwidth"`
}

type tautulliSession struct {
	User            string `json:"user"`
	FullTitle       string `json:"full_title"`
	State           string `json:"state"`
	Player          string `json:"player"`
	ProgressPercent string `json:"progress_percent"`
	QualityProfile  string `json:"quality_profile"`
}

type tautulliHistory struct {
	User      string `json:"user"`
	FullTitle string `json:"full_title"`
	Date      int64  `json:"date"`
	Duration  int64  `json:"duration"`
	MediaType string `json:"media_type"`
}

func (h *tautulliHandler) Execute(ctx context.Context, inv *gateway.Invocation, cmd *models.Command, cfg *models.BotConfig) error {
	integ := cfg.IntegrationByService(models.ServiceTautulli)
	client := NewClient(integ)

	switch cmd.IntegrationAction {
	case "activity":
		return h.activity(ctx, inv, client)
	case "history":
		return h.history(ctx, inv, client)
	default:
		return inv.Reply(fmt.Sprintf("Unknown Tautulli action: %s", cmd.IntegrationAction))
	}
}

func (h *tautulliHandler) activity(ctx context.Context, inv *gateway.Invocation, c *Client) error {
	var out tautulliEnvelope
	if err := c.Request(ctx, "", map[string]string{"cmd": "get_activity"}, &out); err != nil {
		return err
	}
	sessions := out.Response.Data.Sessions
	if len(sessions) == 0 {
		return inv.Reply("No active streams.")
	}

	e := embed.Simple(fmt.Sprintf("Current Activity (%d streams)", len(sessions)), "", embed.ColorPlex)
	if out.Response.Data.TotalBandwidth > 0 {
		e.Description = fmt.Sprintf("Total bandwidth: %.1f Mbps", float64(out.Response.Data.TotalBandwidth)/1000)
	}
	for _, s := range sessions[:minInt(10, len(sessions))] {
		state := "▶"
		if s.State == "paused" {
			state = "⏸"
		}
		value := fmt.Sprintf("%s %s on %s (%s%%)", state, s.User, s.Player, s.ProgressPercent)
		if s.QualityProfile != "" {
			value += " " + s.QualityProfile
		}
		embed.Field(e, s.FullTitle, value, false)
	}
	return inv.ReplyEmbeds([]*discordgo.MessageEmbed{e})
}

func (h *tautulliHandler) history(ctx context.Context, inv *gateway.Invocation, c *Client) error {
	var out tautulliEnvelope
	params := map[string]string{"cmd": "get_history", "length": "10"}
	if err := c.Request(ctx, "", params, &out); err != nil {
		return err
	}
	rows := out.Response.Data.Data
	if len(rows) == 0 {
		return inv.Reply("No watch history found.")
	}

	e := embed.Simple("Recent Watch History", "", embed.ColorPlex)
	for _, row := range rows {
		when := time.Unix(row.Date, 0).Format("Jan 2 15:04")
		embed.Field(e, row.FullTitle, fmt.Sprintf("%s watched on %s (%s)", row.User, when, formatWatchTime(row.Duration)), false)
	}
	return inv.ReplyEmbeds([]*discordgo.MessageEmbed{e})
}

func formatWatchTime(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	h, m := seconds/3600, (seconds%3600)/60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
