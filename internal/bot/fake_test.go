package bot

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/botsmith/botsmith/internal/gateway"
)

// fakeConn is an in-memory gateway.Conn that records outbound traffic and
// lets tests fire inbound events.
type fakeConn struct {
	mu       sync.Mutex
	open     bool
	openErr  error
	user     gateway.User
	perms    map[string]int64 // userID -> permission bits
	botPerms int64

	handlers map[gateway.EventType]map[int]func(any)
	nextID   int

	messages   []sentMessage
	embeds     []sentEmbeds
	reactions  []string
	registered []*discordgo.ApplicationCommand
	responses  []string
	kicked     []string
	roleAdds   []string
	guilds     map[string]*discordgo.Guild
	channels   map[string]*discordgo.Channel
}

type sentMessage struct {
	ChannelID string
	Content   string
}

type sentEmbeds struct {
	ChannelID string
	Embeds    []*discordgo.MessageEmbed
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		user:     gateway.User{ID: "bot-1", Username: "testbot"},
		perms:    make(map[string]int64),
		handlers: make(map[gateway.EventType]map[int]func(any)),
		guilds:   make(map[string]*discordgo.Guild),
		channels: make(map[string]*discordgo.Channel),
	}
}

func (c *fakeConn) fire(t gateway.EventType, evt any) {
	c.mu.Lock()
	hs := make([]func(any), 0, len(c.handlers[t]))
	for _, h := range c.handlers[t] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(evt)
	}
}

func (c *fakeConn) handlerCount(t gateway.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[t])
}

func (c *fakeConn) sentMessages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.messages...)
}

func (c *fakeConn) Open() error {
	if c.openErr != nil {
		return c.openErr
	}
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) On(t gateway.EventType, h func(any)) func() {
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

func (c *fakeConn) BotUser() gateway.User { return c.user }
func (c *fakeConn) Latency() time.Duration { return 42 * time.Millisecond }
func (c *fakeConn) Uptime() time.Duration { return time.Minute }
func (c *fakeConn) GuildCount() int { return len(c.guilds) }

func (c *fakeConn) RegisterCommands(cmds []*discordgo.ApplicationCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = cmds
	return nil
}

func (c *fakeConn) Guild(guildID string) (*discordgo.Guild, error) {
	if g, ok := c.guilds[guildID]; ok {
		return g, nil
	}
	return nil, gateway.ErrAuth
}

func (c *fakeConn) Channel(channelID string) (*discordgo.Channel, error) {
	if ch, ok := c.channels[channelID]; ok {
		return ch, nil
	}
	return nil, gateway.ErrAuth
}

func (c *fakeConn) SendMessage(channelID, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, sentMessage{ChannelID: channelID, Content: content})
	return nil
}

func (c *fakeConn) SendEmbeds(channelID string, embeds []*discordgo.MessageEmbed) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.embeds = append(c.embeds, sentEmbeds{ChannelID: channelID, Embeds: embeds})
	return nil
}

func (c *fakeConn) React(channelID, messageID, emoji string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reactions = append(c.reactions, emoji)
	return nil
}

func (c *fakeConn) GuildMember(guildID, userID string) (*discordgo.Member, error) {
	return &discordgo.Member{User: &discordgo.User{ID: userID}}, nil
}

func (c *fakeConn) AddRole(guildID, userID, roleID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roleAdds = append(c.roleAdds, userID+":"+roleID)
	return nil
}

func (c *fakeConn) RemoveRole(guildID, userID, roleID string) error { return nil }

func (c *fakeConn) MemberPermissions(guildID, channelID, userID string) (int64, error) {
	return c.perms[userID], nil
}

func (c *fakeConn) BotPermissions(channelID string) (int64, error) {
	return c.botPerms, nil
}

func (c *fakeConn) Kick(guildID, userID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kicked = append(c.kicked, userID)
	return nil
}

func (c *fakeConn) Ban(guildID, userID, reason string) error { return nil }
func (c *fakeConn) Unban(guildID, userID string) error { return nil }
func (c *fakeConn) Timeout(guildID, userID string, until time.Time) error { return nil }
func (c *fakeConn) Purge(channelID string, n int) (int, error) { return n, nil }

func (c *fakeConn) Respond(i *discordgo.Interaction, content string, ephemeral bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, content)
	return nil
}

func (c *fakeConn) RespondEmbeds(i *discordgo.Interaction, embeds []*discordgo.MessageEmbed) error {
	return nil
}

// fakeDialer hands out a prepared fakeConn per Dial.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) Dial(token string) (gateway.Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}
