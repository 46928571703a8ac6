package models

import (
	"strings"
	"time"
)

// BotConfig is the full configuration document for one bot personality.
// The store keeps it as a JSON document keyed by ID; Revision is bumped on
// every write and is the fence used for compare-and-swap updates.
type BotConfig struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Token        string        `json:"token"`
	Prefix       string        `json:"prefix"`
	Status       string        `json:"status"` // last observed, not authoritative
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	Revision     int64         `json:"-"`
	Commands     []Command     `json:"commands"`
	Events       []EventRule   `json:"events"`
	Integrations []Integration `json:"integrations"`
	Settings     Settings      `json:"settings"`
}

type Settings struct {
	AutoStart bool `json:"autoStart"`
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// CommandType controls which invocation paths trigger a command.
type CommandType string

const (
	CommandPrefix CommandType = "prefix"
	CommandSlash  CommandType = "slash"
	CommandBoth   CommandType = "both"
)

// ResponseType selects the action a command executes.
type ResponseType string

const (
	RespondText        ResponseType = "text"
	RespondEmbed       ResponseType = "embed"
	RespondReaction    ResponseType = "reaction"
	RespondModeration  ResponseType = "moderation"
	RespondIntegration ResponseType = "integration"
)

// Command is one declarative command definition.
type Command struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	Description         string       `json:"description,omitempty"`
	Type                CommandType  `json:"type"`
	ResponseType        ResponseType `json:"responseType"`
	RequiredPermissions int64        `json:"requiredPermissions,omitempty"`

	// Payload, by ResponseType.
	ResponseContent    string     `json:"responseContent,omitempty"`
	Embed              *EmbedData `json:"embedData,omitempty"`
	Reaction           string     `json:"reaction,omitempty"`
	ModerationAction   string     `json:"moderationAction,omitempty"`
	IntegrationService Service    `json:"integrationService,omitempty"`
	IntegrationAction  string     `json:"integrationAction,omitempty"`
}

// EventType is the fixed set of gateway events a rule can react to. The
// names follow the gateway's wire naming so stored configs read naturally.
type EventType string

const (
	EventMessageCreate  EventType = "messageCreate"
	EventMessageDelete  EventType = "messageDelete"
	EventMessageUpdate  EventType = "messageUpdate"
	EventMemberAdd      EventType = "guildMemberAdd"
	EventMemberRemove   EventType = "guildMemberRemove"
	EventReactionAdd    EventType = "messageReactionAdd"
	EventReactionRemove EventType = "messageReactionRemove"
)

// EventTypes lists every supported rule event type.
var EventTypes = []EventType{
	EventMessageCreate,
	EventMessageDelete,
	EventMessageUpdate,
	EventMemberAdd,
	EventMemberRemove,
	EventReactionAdd,
	EventReactionRemove,
}

// EventRule binds one gateway event type to a configured reaction.
type EventRule struct {
	ID        string      `json:"id"`
	Name      string      `json:"name,omitempty"`
	EventType EventType   `json:"eventType"`
	Config    EventConfig `json:"config"`
	Action    EventAction `json:"action"`
}

type EventConfig struct {
	LogChannelID     string         `json:"logChannelId,omitempty"`
	WelcomeChannelID string         `json:"welcomeChannelId,omitempty"`
	RoleReactions    []RoleReaction `json:"roleReactions,omitempty"`
}

type RoleReaction struct {
	Emoji  string `json:"emoji"`
	RoleID string `json:"roleId"`
}

// ActionType selects the reaction an event rule executes.
type ActionType string

const (
	ActionSendMessage ActionType = "sendMessage"
	ActionSendEmbed   ActionType = "sendEmbed"
	ActionAssignRole  ActionType = "assignRole"
)

type EventAction struct {
	Type    ActionType `json:"type"`
	Message string     `json:"message,omitempty"`
	Embed   *EmbedData `json:"embedData,omitempty"`
	RoleID  string     `json:"roleId,omitempty"`
}

// Service enumerates the third-party services an integration can bind to.
type Service string

const (
	ServicePlex      Service = "plex"
	ServiceJellyfin  Service = "jellyfin"
	ServiceSonarr    Service = "sonarr"
	ServiceRadarr    Service = "radarr"
	ServiceLidarr    Service = "lidarr"
	ServiceReadarr   Service = "readarr"
	ServiceProwlarr  Service = "prowlarr"
	ServiceOverseerr Service = "overseerr"
	ServiceTautulli  Service = "tautulli"
	ServiceMinecraft Service = "minecraft"
	ServiceStarboard Service = "starboard"
)

// Integration binds a bot to one external service instance.
type Integration struct {
	ID      string            `json:"id"`
	Service Service           `json:"service"`
	Config  IntegrationConfig `json:"config"`
}

type IntegrationConfig struct {
	APIURL        string           `json:"apiUrl,omitempty"`
	APIKey        string           `json:"apiKey,omitempty"`
	ServerName    string           `json:"serverName,omitempty"`
	ServerAddress string           `json:"serverAddress,omitempty"` // minecraft host[:port]
	ChannelID     string           `json:"channelId,omitempty"`
	Scheduler     *SchedulerConfig `json:"scheduler,omitempty"`
}

// Interval is the symbolic recurrence of a scheduled announcement job.
type Interval string

const (
	IntervalHourly  Interval = "hourly"
	IntervalEvery6h Interval = "every6h"
	IntervalDaily   Interval = "daily"
	IntervalWeekly  Interval = "weekly"
)

// AnnouncedIDsCap bounds the persisted dedup set; oldest entries are
// evicted first.
const AnnouncedIDsCap = 500

// SchedulerConfig arms recurring announcements for one integration.
type SchedulerConfig struct {
	Enabled      bool      `json:"enabled"`
	Interval     Interval  `json:"interval"`
	ChannelID    string    `json:"channelId"`
	AnnouncedIDs []string  `json:"announcedIds,omitempty"`
	LastChecked  time.Time `json:"lastChecked,omitempty"`
}

// EmbedData is the declarative shape of a structured card. Every field is
// optional; builders substitute sane defaults.
type EmbedData struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       string       `json:"color,omitempty"` // hex, e.g. #0099ff
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      string       `json:"footer,omitempty"`
	Thumbnail   string       `json:"thumbnail,omitempty"`
	Image       string       `json:"image,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Normalize fills missing fields with documented defaults. The store calls
// it on every write so persisted records are always complete.
func (c *BotConfig) Normalize(id string, now time.Time) {
	c.ID = id
	if c.Name == "" {
		c.Name = "Unnamed Bot"
	}
	if c.Prefix == "" {
		c.Prefix = "!"
	}
	if c.Status == "" {
		c.Status = StatusOffline
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Commands == nil {
		c.Commands = []Command{}
	}
	if c.Events == nil {
		c.Events = []EventRule{}
	}
	if c.Integrations == nil {
		c.Integrations = []Integration{}
	}
}

// Integration returns the integration with the given id, or nil.
func (c *BotConfig) Integration(id string) *Integration {
	for i := range c.Integrations {
		if c.Integrations[i].ID == id {
			return &c.Integrations[i]
		}
	}
	return nil
}

// IntegrationByService returns the first integration for a service, or nil.
func (c *BotConfig) IntegrationByService(svc Service) *Integration {
	for i := range c.Integrations {
		if c.Integrations[i].Service == svc {
			return &c.Integrations[i]
		}
	}
	return nil
}

// CommandByName resolves a command name case-insensitively, or nil.
func (c *BotConfig) CommandByName(name string) *Command {
	for i := range c.Commands {
		if strings.EqualFold(c.Commands[i].Name, name) {
			return &c.Commands[i]
		}
	}
	return nil
}

// SchedulerEnabled reports whether this integration has announcement
// scheduling armed.
func (in *Integration) SchedulerEnabled() bool {
	return in.Config.Scheduler != nil && in.Config.Scheduler.Enabled
}
