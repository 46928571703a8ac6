package gateway

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// botIntents is the fixed capability set every bot connection requests:
// guilds, messages with content, members, reactions and moderation.
// MessageContent and GuildMembers are privileged and must be enabled in
// the developer portal.
const botIntents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentMessageContent |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentGuildModeration

// NewDialer returns the discordgo-backed Dialer.
func NewDialer() Dialer {
	return &discordDialer{}
}

type discordDialer struct{}

func (d *discordDialer) Dial(token string) (Conn, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	session.Identify.Intents = botIntents
	session.State.TrackChannels = true
	session.State.TrackMembers = true

	c := &discordConn{
		s:        session,
		handlers: make(map[EventType]map[int]func(any)),
	}
	c.bridge()
	return c, nil
}

// discordConn adapts a *discordgo.Session to Conn. Inbound events are
// bridged once per event type into our own keyed handler table, so
// config-driven listeners can be attached and detached without touching
// discordgo's reflection-based handler registry.
type discordConn struct {
	s        *discordgo.Session
	openedAt time.Time

	mu       sync.RWMutex
	handlers map[EventType]map[int]func(any)
	nextID   int
}

func (c *discordConn) bridge() {
	c.s.AddHandler(func(_ *discordgo.Session, e *discordgo.Ready) {
		c.dispatch(EventReady, e)
	})
	c.s.AddHandler(func(_ *discordgo.Session, e *discordgo.Disconnect) {
		c.dispatch(EventDisconnect, e)
	})
	c.s.AddHandler(func(_ *discordgo.Session, e *discordgo.InteractionCreate) {
		c.dispatch(EventInteractionCreate, e)
	})
	c.s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageCreate) {
		c.dispatch(EventMessageCreate, e)
	})
	c.s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageDelete) {
		c.dispatch(EventMessageDelete, e)
	})
	c.s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageUpdate) {
		c.dispatch(EventMessageUpdate, e)
	})
	c.s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberAdd) {
		c.dispatch(EventMemberAdd, e)
	})
	c.s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberRemove) {
		c.dispatch(EventMemberRemove, e)
	})
	c.s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageReactionAdd) {
		c.dispatch(EventReactionAdd, e)
	})
	c.s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageReactionRemove) {
		c.dispatch(EventReactionRemove, e)
	})
}

func (c *discordConn) dispatch(t EventType, evt any) {
	c.mu.RLock()
	hs := make([]func(any), 0, len(c.handlers[t]))
	for _, h := range c.handlers[t] {
		hs = append(hs, h)
	}
	c.mu.RUnlock()

	for _, h := range hs {
		h(evt)
	}
}

func (c *discordConn) On(t EventType, h func(evt any)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[t] == nil {
		c.handlers[t] = make(map[int]func(any))
	}
	id := c.nextID
	c.nextID++
	c.handlers[t][id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[t], id)
	}
}

func (c *discordConn) Open() error {
	if err := c.s.Open(); err != nil {
		return classifyLoginErr(err)
	}
	c.openedAt = time.Now()
	return nil
}

// classifyLoginErr converts known gateway close reasons into
// operator-actionable messages. 4014 means a privileged intent is not
// enabled for the application; 4004 is an authentication failure.
func classifyLoginErr(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "4014") || strings.Contains(strings.ToLower(msg), "disallowed intent"):
		return fmt.Errorf("%w: privileged intents not enabled; in the Discord Developer Portal under Bot, enable \"Message Content Intent\" and \"Server Members Intent\"", ErrAuth)
	case strings.Contains(msg, "4004") || strings.Contains(strings.ToLower(msg), "authentication failed") || strings.Contains(strings.ToLower(msg), "invalid token"):
		return fmt.Errorf("%w: invalid token; copy the Bot Token (not the Public Key) from the Discord Developer Portal, resetting it if necessary", ErrAuth)
	default:
		return fmt.Errorf("opening gateway connection: %w", err)
	}
}

func (c *discordConn) Close() error {
	return c.s.Close()
}

func (c *discordConn) BotUser() User {
	if c.s.State == nil || c.s.State.User == nil {
		return User{}
	}
	return User{ID: c.s.State.User.ID, Username: c.s.State.User.Username}
}

func (c *discordConn) Latency() time.Duration {
	return c.s.HeartbeatLatency()
}

func (c *discordConn) Uptime() time.Duration {
	if c.openedAt.IsZero() {
		return 0
	}
	return time.Since(c.openedAt)
}

func (c *discordConn) GuildCount() int {
	if c.s.State == nil {
		return 0
	}
	return len(c.s.State.Guilds)
}

func (c *discordConn) RegisterCommands(cmds []*discordgo.ApplicationCommand) error {
	appID := c.BotUser().ID
	if appID == "" {
		return fmt.Errorf("registering commands: bot user not resolved yet")
	}
	_, err := c.s.ApplicationCommandBulkOverwrite(appID, "", cmds)
	return err
}

func (c *discordConn) Guild(guildID string) (*discordgo.Guild, error) {
	if g, err := c.s.State.Guild(guildID); err == nil {
		return g, nil
	}
	return c.s.Guild(guildID)
}

func (c *discordConn) Channel(channelID string) (*discordgo.Channel, error) {
	if ch, err := c.s.State.Channel(channelID); err == nil {
		return ch, nil
	}
	return c.s.Channel(channelID)
}

func (c *discordConn) SendMessage(channelID, content string) error {
	_, err := c.s.ChannelMessageSend(channelID, content)
	return err
}

func (c *discordConn) SendEmbeds(channelID string, embeds []*discordgo.MessageEmbed) error {
	_, err := c.s.ChannelMessageSendEmbeds(channelID, embeds)
	return err
}

func (c *discordConn) React(channelID, messageID, emoji string) error {
	return c.s.MessageReactionAdd(channelID, messageID, emoji)
}

func (c *discordConn) GuildMember(guildID, userID string) (*discordgo.Member, error) {
	if m, err := c.s.State.Member(guildID, userID); err == nil {
		return m, nil
	}
	return c.s.GuildMember(guildID, userID)
}

func (c *discordConn) AddRole(guildID, userID, roleID string) error {
	return c.s.GuildMemberRoleAdd(guildID, userID, roleID)
}

func (c *discordConn) RemoveRole(guildID, userID, roleID string) error {
	return c.s.GuildMemberRoleRemove(guildID, userID, roleID)
}

func (c *discordConn) MemberPermissions(guildID, channelID, userID string) (int64, error) {
	return c.s.UserChannelPermissions(userID, channelID)
}

func (c *discordConn) BotPermissions(channelID string) (int64, error) {
	return c.s.UserChannelPermissions(c.BotUser().ID, channelID)
}

func (c *discordConn) Kick(guildID, userID, reason string) error {
	return c.s.GuildMemberDeleteWithReason(guildID, userID, reason)
}

func (c *discordConn) Ban(guildID, userID, reason string) error {
	return c.s.GuildBanCreateWithReason(guildID, userID, reason, 0)
}

func (c *discordConn) Unban(guildID, userID string) error {
	return c.s.GuildBanDelete(guildID, userID)
}

func (c *discordConn) Timeout(guildID, userID string, until time.Time) error {
	return c.s.GuildMemberTimeout(guildID, userID, &until)
}

func (c *discordConn) Purge(channelID string, n int) (int, error) {
	msgs, err := c.s.ChannelMessages(channelID, n, "", "", "")
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := c.s.ChannelMessagesBulkDelete(channelID, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (c *discordConn) Respond(i *discordgo.Interaction, content string, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{Content: content}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return c.s.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
}

func (c *discordConn) RespondEmbeds(i *discordgo.Interaction, embeds []*discordgo.MessageEmbed) error {
	return c.s.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Embeds: embeds},
	})
}
