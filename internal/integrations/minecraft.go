package integrations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/botsmith/botsmith/internal/embed"
	"github.com/botsmith/botsmith/internal/gateway"
	"github.com/botsmith/botsmith/internal/models"
)

// Minecraft status comes from the public mcsrvstat.us API rather than a
// self-hosted service, so the handler carries its own resty client
// instead of going through NewClient.
const mcStatusAPI = "https://api.mcsrvstat.us/3"

type minecraftHandler struct {
	log  zerolog.Logger
	http *resty.Client
}

type mcStatus struct {
	Online  bool   `json:"online"`
	IP      string `json:"ip"`
	Port    int    `json:"port"`
	Version string `json:"version"`
	MOTD    struct {
		Clean []string `json:"clean"`
	} `json:"motd"`
	Players struct {
		Online int `json:"online"`
		Max    int `json:"max"`
		List   []struct {
			Name string `json:"name"`
		} `json:"list"`
	} `json:"players"`
}

func (h *minecraftHandler) Execute(ctx context.Context, inv *gateway.Invocation, cmd *models.Command, cfg *models.BotConfig) error {
	integ := cfg.IntegrationByService(models.ServiceMinecraft)
	addr := integ.Config.ServerAddress
	if addr == "" {
		return inv.Reply("No Minecraft server address configured.")
	}

	status, err := h.fetch(ctx, addr)
	if err != nil {
		return err
	}

	switch cmd.IntegrationAction {
	case "status":
		return h.status(inv, integ, addr, status)
	case "players":
		return h.players(inv, addr, status)
	default:
		return inv.Reply(fmt.Sprintf("Unknown Minecraft action: %s", cmd.IntegrationAction))
	}
}

func (h *minecraftHandler) fetch(ctx context.Context, addr string) (*mcStatus, error) {
	if h.http == nil {
		h.http = resty.New().SetTimeout(10 * time.Second)
	}
	var status mcStatus
	resp, err := h.http.R().
		SetContext(ctx).
		SetResult(&status).
		Get(fmt.Sprintf("%s/%s", mcStatusAPI, addr))
	if err != nil {
		return nil, fmt.Errorf("minecraft status request: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{Service: models.ServiceMinecraft, Status: resp.StatusCode()}
	}
	return &status, nil
}

func (h *minecraftHandler) status(inv *gateway.Invocation, integ *models.Integration, addr string, s *mcStatus) error {
	name := integ.Config.ServerName
	if name == "" {
		name = addr
	}

	if !s.Online {
		e := embed.Simple(name, "Server is offline.", embed.ColorRed)
		return inv.ReplyEmbeds([]*discordgo.MessageEmbed{e})
	}

	e := embed.Simple(name, strings.Join(s.MOTD.Clean, "\n"), embed.ColorGreen)
	embed.Field(e, "Address", addr, true)
	if s.Version != "" {
		embed.Field(e, "Version", s.Version, true)
	}
	embed.Field(e, "Players", fmt.Sprintf("%d/%d", s.Players.Online, s.Players.Max), true)
	return inv.ReplyEmbeds([]*discordgo.MessageEmbed{e})
}

func (h *minecraftHandler) players(inv *gateway.Invocation, addr string, s *mcStatus) error {
	if !s.Online {
		return inv.Reply(fmt.Sprintf("%s is offline.", addr))
	}
	if s.Players.Online == 0 {
		return inv.Reply("No players online right now.")
	}

	names := make([]string, 0, len(s.Players.List))
	for _, p := range s.Players.List {
		names = append(names, p.Name)
	}
	desc := fmt.Sprintf("%d/%d players online", s.Players.Online, s.Players.Max)
	if len(names) > 0 {
		desc += "\n\n" + strings.Join(names, ", ")
	}
	e := embed.Simple("Online Players", desc, embed.ColorGreen)
	return inv.ReplyEmbeds([]*discordgo.MessageEmbed{e})
}
