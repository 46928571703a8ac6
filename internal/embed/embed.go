// Package embed builds Discord message embeds from declarative
// configuration and from dispatch-engine events.
package embed

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/botsmith/botsmith/internal/models"
)

// Palette used when configuration leaves the color unset.
const (
	ColorDefault = 0x0099ff
	ColorDanger  = 0xff0000
	ColorWarning = 0xffaa00
	ColorPlex    = 0xe5a00d
	ColorGreen   = 0x57f287
	ColorRed     = 0xed4245
)

// ParseColor converts a #rrggbb (or #rgb) hex string to an embed color,
// falling back to fallback on anything unparseable.
func ParseColor(hex string, fallback int) int {
	h := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return fallback
	}
	v, err := strconv.ParseInt(h, 16, 32)
	if err != nil {
		return fallback
	}
	return int(v)
}

// FromData renders a declarative card. Every field is optional; missing
// title/description get placeholder defaults matching what the builder UI
// previews.
func FromData(d *models.EmbedData) *discordgo.MessageEmbed {
	if d == nil {
		d = &models.EmbedData{}
	}
	e := &discordgo.MessageEmbed{
		Title:       d.Title,
		Description: d.Description,
		Color:       ParseColor(d.Color, ColorDefault),
	}
	if e.Title == "" {
		e.Title = "Embed"
	}
	if e.Description == "" {
		e.Description = "No description"
	}
	for _, f := range d.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	if d.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: d.Footer}
	}
	if d.Thumbnail != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: d.Thumbnail}
	}
	if d.Image != "" {
		e.Image = &discordgo.MessageEmbedImage{URL: d.Image}
	}
	return e
}

// Simple builds a titled, colored embed with a timestamp, used for
// moderation-log style notices.
func Simple(title, description string, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
}

// Field appends a field to an embed and returns it, for fluent building.
func Field(e *discordgo.MessageEmbed, name, value string, inline bool) *discordgo.MessageEmbed {
	e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline})
	return e
}
