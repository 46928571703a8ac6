package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/botsmith/botsmith/internal/embed"
	"github.com/botsmith/botsmith/internal/gateway"
	"github.com/botsmith/botsmith/internal/integrations"
	"github.com/botsmith/botsmith/internal/models"
)

const commandTimeout = 30 * time.Second

// CommandEngine dispatches prefix and slash invocations against one bot's
// configured commands. The command index is rebuilt atomically on Reload,
// so in-flight dispatches always see a consistent snapshot.
type CommandEngine struct {
	botID    string
	registry *integrations.Registry
	log      zerolog.Logger
	report   func(msg string)

	mu     sync.RWMutex
	cfg    *models.BotConfig
	prefix string
	index  map[string]*models.Command

	offs []func()
}

func NewCommandEngine(cfg *models.BotConfig, reg *integrations.Registry, log zerolog.Logger, report func(msg string)) *CommandEngine {
	e := &CommandEngine{
		botID:    cfg.ID,
		registry: reg,
		log:      log.With().Str("bot_id", cfg.ID).Str("engine", "commands").Logger(),
		report:   report,
	}
	e.Reload(cfg)
	return e
}

// Reload swaps in the command set from a fresh config snapshot.
func (e *CommandEngine) Reload(cfg *models.BotConfig) {
	index := make(map[string]*models.Command, len(cfg.Commands))
	for i := range cfg.Commands {
		cmd := &cfg.Commands[i]
		index[strings.ToLower(cmd.Name)] = cmd
	}

	e.mu.Lock()
	e.cfg = cfg
	e.prefix = cfg.Prefix
	e.index = index
	e.mu.Unlock()
}

// Attach subscribes the engine to the connection's message and interaction
// streams.
func (e *CommandEngine) Attach(conn gateway.Conn) {
	offMsg := conn.On(gateway.EventMessageCreate, func(evt any) {
		if m, ok := evt.(*discordgo.MessageCreate); ok {
			e.handleMessage(conn, m)
		}
	})
	offInt := conn.On(gateway.EventInteractionCreate, func(evt any) {
		if i, ok := evt.(*discordgo.InteractionCreate); ok {
			e.handleInteraction(conn, i)
		}
	})
	e.offs = append(e.offs, offMsg, offInt)
}

// Detach removes all gateway subscriptions.
func (e *CommandEngine) Detach() {
	for _, off := range e.offs {
		off()
	}
	e.offs = nil
}

// RegisterSlash bulk-overwrites the bot's application commands with every
// configured command of type slash or both.
func (e *CommandEngine) RegisterSlash(conn gateway.Conn) error {
	e.mu.RLock()
	var appCmds []*discordgo.ApplicationCommand
	for _, cmd := range e.index {
		if cmd.Type != models.CommandSlash && cmd.Type != models.CommandBoth {
			continue
		}
		desc := cmd.Description
		if desc == "" {
			desc = fmt.Sprintf("Run the %s command", cmd.Name)
		}
		appCmd := &discordgo.ApplicationCommand{
			Name:        strings.ToLower(cmd.Name),
			Description: desc,
		}
		if commandTakesArgs(cmd) {
			appCmd.Options = []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "input",
					Description: "Command input",
					Required:    false,
				},
			}
		}
		appCmds = append(appCmds, appCmd)
	}
	e.mu.RUnlock()

	return conn.RegisterCommands(appCmds)
}

// commandTakesArgs reports whether a command's action consumes free-text
// input, which decides whether its slash form gets an input option.
func commandTakesArgs(cmd *models.Command) bool {
	switch cmd.ResponseType {
	case models.RespondModeration, models.RespondIntegration:
		return true
	default:
		return false
	}
}

func (e *CommandEngine) handleMessage(conn gateway.Conn, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if m.Author.ID == conn.BotUser().ID {
		return
	}

	e.mu.RLock()
	prefix := e.prefix
	e.mu.RUnlock()

	if prefix == "" || !strings.HasPrefix(m.Content, prefix) {
		return
	}

	fields := strings.Fields(strings.TrimPrefix(m.Content, prefix))
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	cmd := e.lookup(name)
	if cmd == nil {
		return // unknown prefix commands stay silent
	}
	if cmd.Type == models.CommandSlash {
		return
	}

	inv := &gateway.Invocation{
		Conn:      conn,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		UserID:    m.Author.ID,
		Username:  m.Author.Username,
		Args:      args,
	}

	if cmd.RequiredPermissions != 0 {
		perms, err := conn.MemberPermissions(m.GuildID, m.ChannelID, m.Author.ID)
		if err != nil || perms&cmd.RequiredPermissions != cmd.RequiredPermissions {
			e.replyDenied(inv)
			return
		}
	}

	e.execute(inv, cmd)
}

func (e *CommandEngine) handleInteraction(conn gateway.Conn, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	cmd := e.lookup(strings.ToLower(data.Name))
	if cmd == nil || cmd.Type == models.CommandPrefix {
		// Stale registration from an earlier config.
		if err := conn.Respond(i.Interaction, "That command is no longer available.", true); err != nil {
			e.log.Debug().Err(err).Msg("stale command respond")
		}
		return
	}

	var args []string
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			args = append(args, strings.Fields(opt.StringValue())...)
		}
	}

	inv := &gateway.Invocation{
		Conn:        conn,
		GuildID:     i.GuildID,
		ChannelID:   i.ChannelID,
		Interaction: i.Interaction,
		Args:        args,
	}
	if i.Member != nil && i.Member.User != nil {
		inv.UserID = i.Member.User.ID
		inv.Username = i.Member.User.Username
	} else if i.User != nil {
		inv.UserID = i.User.ID
		inv.Username = i.User.Username
	}

	if cmd.RequiredPermissions != 0 {
		var perms int64
		if i.Member != nil {
			perms = i.Member.Permissions
		}
		if perms&cmd.RequiredPermissions != cmd.RequiredPermissions {
			e.replyDenied(inv)
			return
		}
	}

	e.execute(inv, cmd)
}

func (e *CommandEngine) lookup(name string) *models.Command {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index[name]
}

// execute runs one command action. Errors never escape a dispatch; the
// user gets a generic failure reply and the detail goes to the log.
func (e *CommandEngine) execute(inv *gateway.Invocation, cmd *models.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch cmd.ResponseType {
	case models.RespondText:
		err = inv.Reply(cmd.ResponseContent)
	case models.RespondEmbed:
		err = inv.ReplyEmbeds([]*discordgo.MessageEmbed{embed.FromData(cmd.Embed)})
	case models.RespondReaction:
		err = e.react(inv, cmd)
	case models.RespondModeration:
		err = e.moderate(inv, cmd)
	case models.RespondIntegration:
		err = e.integrate(ctx, inv, cmd)
	default:
		err = fmt.Errorf("unknown response type %q", cmd.ResponseType)
	}

	if err != nil {
		e.log.Error().Err(err).Str("command", cmd.Name).Str("user", inv.Username).Msg("command failed")
		if rerr := inv.ReplyEphemeral("Something went wrong running that command."); rerr != nil {
			e.log.Debug().Err(rerr).Msg("failure reply")
		}
		return
	}

	e.log.Debug().Str("command", cmd.Name).Str("user", inv.Username).Msg("command executed")
	if e.report != nil {
		e.report(fmt.Sprintf("%s ran %s", inv.Username, cmd.Name))
	}
}

// react adds the configured emoji to the triggering message. Slash
// invocations have no message to react to, so the emoji is sent as the
// response instead.
func (e *CommandEngine) react(inv *gateway.Invocation, cmd *models.Command) error {
	if inv.IsSlash() {
		return inv.Reply(cmd.Reaction)
	}
	return inv.Conn.React(inv.ChannelID, inv.MessageID, cmd.Reaction)
}

func (e *CommandEngine) integrate(ctx context.Context, inv *gateway.Invocation, cmd *models.Command) error {
	if e.registry == nil {
		return inv.Reply("Integrations are not available.")
	}

	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()
	return e.registry.Execute(ctx, inv, cmd, cfg)
}

func (e *CommandEngine) replyDenied(inv *gateway.Invocation) {
	if err := inv.ReplyEphemeral("You do not have permission to use this command."); err != nil {
		e.log.Debug().Err(err).Msg("denied reply")
	}
}
