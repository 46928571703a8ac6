// Package gateway abstracts the live connection between one bot and the
// chat platform. The supervisor and dispatch engines depend on Conn and
// Dialer only; the discordgo-backed implementation lives in discord.go so
// tests can substitute fakes.
package gateway

import (
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"
)

// EventType keys the subscription interface. The rule-facing values match
// models.EventType; ready, disconnect and interactionCreate are
// connection-level and not configurable per rule.
type EventType string

const (
	EventReady             EventType = "ready"
	EventDisconnect        EventType = "disconnect"
	EventInteractionCreate EventType = "interactionCreate"
	EventMessageCreate     EventType = "messageCreate"
	EventMessageDelete     EventType = "messageDelete"
	EventMessageUpdate     EventType = "messageUpdate"
	EventMemberAdd         EventType = "guildMemberAdd"
	EventMemberRemove      EventType = "guildMemberRemove"
	EventReactionAdd       EventType = "messageReactionAdd"
	EventReactionRemove    EventType = "messageReactionRemove"
)

// User identifies the bot account behind a connection.
type User struct {
	ID       string
	Username string
}

// ErrAuth marks login failures caused by a bad or under-privileged
// credential. The wrapped message is operator-actionable, not the raw
// gateway close reason.
var ErrAuth = errors.New("gateway authentication failed")

// Conn is one live, persistent link to the chat platform. Handlers
// registered through On receive the platform event struct
// (*discordgo.MessageCreate and friends) as an untyped value and are
// detached by calling the returned remove func.
type Conn interface {
	Open() error
	Close() error

	On(t EventType, h func(evt any)) (off func())

	BotUser() User
	Latency() time.Duration
	Uptime() time.Duration
	GuildCount() int

	RegisterCommands(cmds []*discordgo.ApplicationCommand) error

	Guild(guildID string) (*discordgo.Guild, error)
	Channel(channelID string) (*discordgo.Channel, error)
	SendMessage(channelID, content string) error
	SendEmbeds(channelID string, embeds []*discordgo.MessageEmbed) error
	React(channelID, messageID, emoji string) error

	GuildMember(guildID, userID string) (*discordgo.Member, error)
	AddRole(guildID, userID, roleID string) error
	RemoveRole(guildID, userID, roleID string) error

	// MemberPermissions resolves the effective permission bits of a member
	// in a channel; BotPermissions does the same for the bot account.
	MemberPermissions(guildID, channelID, userID string) (int64, error)
	BotPermissions(channelID string) (int64, error)

	Kick(guildID, userID, reason string) error
	Ban(guildID, userID, reason string) error
	Unban(guildID, userID string) error
	Timeout(guildID, userID string, until time.Time) error
	Purge(channelID string, n int) (int, error)

	Respond(i *discordgo.Interaction, content string, ephemeral bool) error
	RespondEmbeds(i *discordgo.Interaction, embeds []*discordgo.MessageEmbed) error
}

// Dialer opens gateway connections for a credential. Dial validates the
// token shape and prepares the session; the connection goes live on
// Conn.Open so callers can register ready/error handlers first.
type Dialer interface {
	Dial(token string) (Conn, error)
}
