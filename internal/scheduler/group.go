package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/botsmith/botsmith/internal/embed"
	"github.com/botsmith/botsmith/internal/integrations"
	"github.com/botsmith/botsmith/internal/models"
)

// Group is one announcement unit: either all new episodes of a show
// collapsed together, or a single standalone item.
type Group struct {
	Show  string
	Items []integrations.MediaItem
}

// GroupItems collapses episodes by show while keeping everything else as
// standalone groups. Group order follows first appearance in the input.
func GroupItems(items []integrations.MediaItem) []Group {
	var groups []Group
	showIdx := make(map[string]int)

	for _, item := range items {
		if item.Type == integrations.MediaEpisode && item.ShowID != "" {
			if idx, ok := showIdx[item.ShowID]; ok {
				groups[idx].Items = append(groups[idx].Items, item)
				continue
			}
			showIdx[item.ShowID] = len(groups)
			groups = append(groups, Group{Show: item.ShowTitle, Items: []integrations.MediaItem{item}})
			continue
		}
		groups = append(groups, Group{Items: []integrations.MediaItem{item}})
	}
	return groups
}

func (g Group) isShow() bool {
	return g.Show != ""
}

// LinkItemID picks the item whose metadata backs the group's external
// link: the show link comes from any one episode.
func (g Group) LinkItemID() string {
	return g.Items[0].ID
}

// Embed renders the group as one announcement card.
func (g Group) Embed(in *models.Integration, link string) *discordgo.MessageEmbed {
	serverName := in.Config.ServerName
	if serverName == "" {
		serverName = fmt.Sprintf("%s Server", capitalizeService(in.Service))
	}

	first := g.Items[0]
	e := &discordgo.MessageEmbed{
		Color:     embed.ColorPlex,
		Timestamp: time.Now().Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Added to %s", serverName)},
	}

	if g.isShow() {
		e.Title = g.Show
		if first.Year > 0 {
			e.Title = fmt.Sprintf("%s (%d)", g.Show, first.Year)
		}
		lines := make([]string, 0, len(g.Items))
		for _, ep := range g.Items {
			lines = append(lines, fmt.Sprintf("S%02dE%02d - %s", ep.Season, ep.Episode, ep.Title))
		}
		label := "New Episode"
		if len(g.Items) > 1 {
			label = fmt.Sprintf("%d New Episodes", len(g.Items))
		}
		embed.Field(e, label, strings.Join(lines, "\n"), false)
		if first.ShowThumb != "" {
			e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: first.ShowThumb}
		}
	} else {
		e.Title = first.Title
		if first.Year > 0 {
			e.Title = fmt.Sprintf("%s (%d)", first.Title, first.Year)
		}
		if first.Summary != "" {
			e.Description = truncateSummary(first.Summary, 300)
		}
		if first.Thumb != "" {
			e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: first.Thumb}
		}
	}

	if link != "" {
		e.URL = link
	}
	return e
}

func capitalizeService(svc models.Service) string {
	s := string(svc)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncateSummary(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
