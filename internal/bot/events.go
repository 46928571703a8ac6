package bot

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/botsmith/botsmith/internal/embed"
	"github.com/botsmith/botsmith/internal/gateway"
	"github.com/botsmith/botsmith/internal/models"
)

// EventEngine reacts to gateway events with the bot's configured rules.
// Resync is a full teardown and rebuild: every reload detaches all
// listeners and re-subscribes only the event types the new config uses,
// so removed rules stop firing immediately.
type EventEngine struct {
	botID  string
	log    zerolog.Logger
	report func(msg string)

	mu    sync.Mutex
	rules map[models.EventType][]models.EventRule
	offs  []func()
}

func NewEventEngine(botID string, log zerolog.Logger, report func(msg string)) *EventEngine {
	return &EventEngine{
		botID:  botID,
		log:    log.With().Str("bot_id", botID).Str("engine", "events").Logger(),
		report: report,
		rules:  make(map[models.EventType][]models.EventRule),
	}
}

// Resync replaces all live subscriptions with ones derived from cfg.
func (e *EventEngine) Resync(conn gateway.Conn, cfg *models.BotConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, off := range e.offs {
		off()
	}
	e.offs = nil

	e.rules = make(map[models.EventType][]models.EventRule)
	for _, rule := range cfg.Events {
		e.rules[rule.EventType] = append(e.rules[rule.EventType], rule)
	}

	for t := range e.rules {
		e.offs = append(e.offs, e.subscribe(conn, t))
	}
}

// Detach removes all live subscriptions.
func (e *EventEngine) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, off := range e.offs {
		off()
	}
	e.offs = nil
}

func (e *EventEngine) subscribe(conn gateway.Conn, t models.EventType) func() {
	switch t {
	case models.EventMessageCreate:
		return conn.On(gateway.EventMessageCreate, func(evt any) {
			if m, ok := evt.(*discordgo.MessageCreate); ok {
				e.onMessageCreate(conn, m)
			}
		})
	case models.EventMessageDelete:
		return conn.On(gateway.EventMessageDelete, func(evt any) {
			if m, ok := evt.(*discordgo.MessageDelete); ok {
				e.onMessageDelete(conn, m)
			}
		})
	case models.EventMessageUpdate:
		return conn.On(gateway.EventMessageUpdate, func(evt any) {
			if m, ok := evt.(*discordgo.MessageUpdate); ok {
				e.onMessageUpdate(conn, m)
			}
		})
	case models.EventMemberAdd:
		return conn.On(gateway.EventMemberAdd, func(evt any) {
			if m, ok := evt.(*discordgo.GuildMemberAdd); ok {
				e.onMemberAdd(conn, m)
			}
		})
	case models.EventMemberRemove:
		return conn.On(gateway.EventMemberRemove, func(evt any) {
			if m, ok := evt.(*discordgo.GuildMemberRemove); ok {
				e.onMemberRemove(conn, m)
			}
		})
	case models.EventReactionAdd:
		return conn.On(gateway.EventReactionAdd, func(evt any) {
			if r, ok := evt.(*discordgo.MessageReactionAdd); ok {
				e.onReaction(conn, models.EventReactionAdd, r.MessageReaction)
			}
		})
	case models.EventReactionRemove:
		return conn.On(gateway.EventReactionRemove, func(evt any) {
			if r, ok := evt.(*discordgo.MessageReactionRemove); ok {
				e.onReaction(conn, models.EventReactionRemove, r.MessageReaction)
			}
		})
	default:
		return func() {}
	}
}

func (e *EventEngine) rulesFor(t models.EventType) []models.EventRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rules[t]
}

func (e *EventEngine) onMessageCreate(conn gateway.Conn, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == conn.BotUser().ID {
		return
	}
	for _, rule := range e.rulesFor(models.EventMessageCreate) {
		ph := placeholders{
			user:     mention(m.Author.ID),
			username: m.Author.Username,
			guildID:  m.GuildID,
		}
		e.runAction(conn, rule, m.GuildID, m.ChannelID, m.Author.ID, ph)
	}
}

func (e *EventEngine) onMessageDelete(conn gateway.Conn, m *discordgo.MessageDelete) {
	for _, rule := range e.rulesFor(models.EventMessageDelete) {
		channelID := rule.Config.LogChannelID
		if channelID == "" {
			continue
		}
		desc := fmt.Sprintf("Message deleted in <#%s>", m.ChannelID)
		// The cached copy carries the content; uncached deletes log bare.
		if m.BeforeDelete != nil && m.BeforeDelete.Content != "" {
			desc += "\n\n" + m.BeforeDelete.Content
		}
		ev := embed.Simple("Message Deleted", desc, embed.ColorDanger)
		if err := conn.SendEmbeds(channelID, []*discordgo.MessageEmbed{ev}); err != nil {
			e.log.Warn().Err(err).Str("rule", rule.ID).Msg("delete log send")
			continue
		}
		e.reportRule(rule)
	}
}

func (e *EventEngine) onMessageUpdate(conn gateway.Conn, m *discordgo.MessageUpdate) {
	if m.Author != nil && m.Author.Bot {
		return
	}
	// Embed unfurls also fire update events; only log real edits.
	if m.BeforeUpdate != nil && m.BeforeUpdate.Content == m.Content {
		return
	}
	for _, rule := range e.rulesFor(models.EventMessageUpdate) {
		channelID := rule.Config.LogChannelID
		if channelID == "" {
			continue
		}
		ev := embed.Simple("Message Edited", fmt.Sprintf("Message edited in <#%s>", m.ChannelID), embed.ColorWarning)
		if m.BeforeUpdate != nil && m.BeforeUpdate.Content != "" {
			embed.Field(ev, "Before", truncateText(m.BeforeUpdate.Content, 1024), false)
		}
		if m.Content != "" {
			embed.Field(ev, "After", truncateText(m.Content, 1024), false)
		}
		if err := conn.SendEmbeds(channelID, []*discordgo.MessageEmbed{ev}); err != nil {
			e.log.Warn().Err(err).Str("rule", rule.ID).Msg("edit log send")
			continue
		}
		e.reportRule(rule)
	}
}

func (e *EventEngine) onMemberAdd(conn gateway.Conn, m *discordgo.GuildMemberAdd) {
	if m.User == nil {
		return
	}
	for _, rule := range e.rulesFor(models.EventMemberAdd) {
		channelID := rule.Config.WelcomeChannelID
		if channelID == "" {
			channelID = rule.Config.LogChannelID
		}
		ph := placeholders{
			user:     mention(m.User.ID),
			username: m.User.Username,
			guildID:  m.GuildID,
		}
		e.runAction(conn, rule, m.GuildID, channelID, m.User.ID, ph)
	}
}

func (e *EventEngine) onMemberRemove(conn gateway.Conn, m *discordgo.GuildMemberRemove) {
	if m.User == nil {
		return
	}
	for _, rule := range e.rulesFor(models.EventMemberRemove) {
		channelID := rule.Config.LogChannelID
		if channelID == "" {
			channelID = rule.Config.WelcomeChannelID
		}
		ph := placeholders{
			user:     m.User.Username, // left members cannot be mentioned
			username: m.User.Username,
			guildID:  m.GuildID,
		}
		e.runAction(conn, rule, m.GuildID, channelID, m.User.ID, ph)
	}
}

// onReaction handles role reactions: adding a mapped emoji grants the
// role, removing it revokes the role.
func (e *EventEngine) onReaction(conn gateway.Conn, t models.EventType, r *discordgo.MessageReaction) {
	if r.UserID == conn.BotUser().ID {
		return
	}
	for _, rule := range e.rulesFor(t) {
		for _, rr := range rule.Config.RoleReactions {
			if rr.Emoji != r.Emoji.Name && rr.Emoji != r.Emoji.APIName() {
				continue
			}
			var err error
			if t == models.EventReactionAdd {
				err = conn.AddRole(r.GuildID, r.UserID, rr.RoleID)
			} else {
				err = conn.RemoveRole(r.GuildID, r.UserID, rr.RoleID)
			}
			if err != nil {
				e.log.Warn().Err(err).Str("rule", rule.ID).Str("role", rr.RoleID).Msg("role reaction")
				continue
			}
			e.reportRule(rule)
		}
	}
}

type placeholders struct {
	user     string
	username string
	guildID  string
}

// expand substitutes the supported message placeholders. {memberCount} and
// {server} need a guild lookup and resolve lazily.
func (e *EventEngine) expand(conn gateway.Conn, text string, ph placeholders) string {
	text = strings.ReplaceAll(text, "{user}", ph.user)
	text = strings.ReplaceAll(text, "{username}", ph.username)

	if strings.Contains(text, "{memberCount}") || strings.Contains(text, "{server}") {
		name, count := guildInfo(conn, ph.guildID)
		text = strings.ReplaceAll(text, "{memberCount}", strconv.Itoa(count))
		text = strings.ReplaceAll(text, "{server}", name)
	}
	return text
}

func (e *EventEngine) runAction(conn gateway.Conn, rule models.EventRule, guildID, channelID, userID string, ph placeholders) {
	var err error
	switch rule.Action.Type {
	case models.ActionSendMessage:
		if channelID == "" || rule.Action.Message == "" {
			return
		}
		err = conn.SendMessage(channelID, e.expand(conn, rule.Action.Message, ph))
	case models.ActionSendEmbed:
		if channelID == "" || rule.Action.Embed == nil {
			return
		}
		ev := embed.FromData(rule.Action.Embed)
		ev.Title = e.expand(conn, ev.Title, ph)
		ev.Description = e.expand(conn, ev.Description, ph)
		err = conn.SendEmbeds(channelID, []*discordgo.MessageEmbed{ev})
	case models.ActionAssignRole:
		if rule.Action.RoleID == "" {
			return
		}
		err = conn.AddRole(guildID, userID, rule.Action.RoleID)
	default:
		return
	}

	if err != nil {
		e.log.Warn().Err(err).Str("rule", rule.ID).Str("event", string(rule.EventType)).Msg("event action")
		return
	}
	e.reportRule(rule)
}

func (e *EventEngine) reportRule(rule models.EventRule) {
	if e.report == nil {
		return
	}
	name := rule.Name
	if name == "" {
		name = string(rule.EventType)
	}
	e.report(name)
}

func mention(userID string) string {
	return fmt.Sprintf("<@%s>", userID)
}

func guildInfo(conn gateway.Conn, guildID string) (string, int) {
	if g, err := conn.Guild(guildID); err == nil && g != nil {
		return g.Name, g.MemberCount
	}
	return "the server", 0
}

func truncateText(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
