package gateway

import "github.com/bwmarrin/discordgo"

// Invocation carries the context of one command invocation, unifying the
// prefix-message and slash-interaction paths. Interaction is nil for
// prefix invocations; MessageID is empty for interactions, which have no
// source message.
type Invocation struct {
	Conn        Conn
	GuildID     string
	ChannelID   string
	MessageID   string
	UserID      string
	Username    string
	Interaction *discordgo.Interaction
	Args        []string
}

// IsSlash reports whether this invocation arrived as a structured
// interaction.
func (inv *Invocation) IsSlash() bool {
	return inv.Interaction != nil
}

// Reply sends a plain-text reply on whichever path the invocation used.
func (inv *Invocation) Reply(content string) error {
	if inv.IsSlash() {
		return inv.Conn.Respond(inv.Interaction, content, false)
	}
	return inv.Conn.SendMessage(inv.ChannelID, content)
}

// ReplyEphemeral replies privately where the platform supports it; prefix
// invocations fall back to a normal channel message.
func (inv *Invocation) ReplyEphemeral(content string) error {
	if inv.IsSlash() {
		return inv.Conn.Respond(inv.Interaction, content, true)
	}
	return inv.Conn.SendMessage(inv.ChannelID, content)
}

// ReplyEmbeds sends structured cards on whichever path the invocation used.
func (inv *Invocation) ReplyEmbeds(embeds []*discordgo.MessageEmbed) error {
	if inv.IsSlash() {
		return inv.Conn.RespondEmbeds(inv.Interaction, embeds)
	}
	return inv.Conn.SendEmbeds(inv.ChannelID, embeds)
}
