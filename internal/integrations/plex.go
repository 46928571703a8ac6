package integrations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/botsmith/botsmith/internal/embed"
	"github.com/botsmith/botsmith/internal/gateway"
	"github.com/botsmith/botsmith/internal/models"
)

// plexContainer mirrors the MediaContainer envelope Plex wraps every
// response in.
type plexContainer struct {
	MediaContainer struct {
		Size      int        `json:"size"`
		TotalSize int        `json:"totalSize"`
		Metadata  []plexItem `json:"Metadata"`
		Directory []plexDir  `json:"Directory"`
	} `json:"MediaContainer"`
}

type plexItem struct {
	RatingKey            string  `json:"ratingKey"`
	Type                 string  `json:"type"`
	Title                string  `json:"title"`
	Summary              string  `json:"summary"`
	Year                 int     `json:"year"`
	ParentYear           int     `json:"parentYear"`
	ParentIndex          int     `json:"parentIndex"` // season number for episodes
	Index                int     `json:"index"`       // episode number
	GrandparentRatingKey string  `json:"grandparentRatingKey"`
	GrandparentTitle     string  `json:"grandparentTitle"`
	GrandparentThumb     string  `json:"grandparentThumb"`
	Thumb                string  `json:"thumb"`
	Rating               float64 `json:"rating"`
	AddedAt              int64   `json:"addedAt"`
	ViewOffset           int64   `json:"viewOffset"`
	Duration             int64   `json:"duration"`
	Guid                 []struct {
		ID string `json:"id"`
	} `json:"Guid"`
	User   *struct{ Title string } `json:"User"`
	Player *struct {
		Title string `json:"title"`
		State string `json:"state"`
	} `json:"Player"`
}

type plexDir struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

type plexHandler struct {
	log zerolog.Logger
}

func (h *plexHandler) Execute(ctx context.Context, inv *gateway.Invocation, cmd *models.Command, cfg *models.BotConfig) error {
	integ := cfg.IntegrationByService(models.ServicePlex)
	client := NewClient(integ)

	switch cmd.IntegrationAction {
	case "search":
		return h.search(ctx, inv, client, integ)
	case "nowPlaying":
		return h.nowPlaying(ctx, inv, client, integ)
	case "stats":
		return h.stats(ctx, inv, client, integ)
	case "recentlyAdded":
		return h.recentlyAdded(ctx, inv, client, integ)
	case "onDeck":
		return h.onDeck(ctx, inv, client, integ)
	default:
		return inv.Reply(fmt.Sprintf("Unknown Plex action: %s", cmd.IntegrationAction))
	}
}

func (h *plexHandler) search(ctx context.Context, inv *gateway.Invocation, c *Client, integ *models.Integration) error {
	query := strings.Join(inv.Args, " ")
	if query == "" {
		return inv.Reply("Please provide a search query.")
	}

	var out plexContainer
	if err := c.Request(ctx, "/search", map[string]string{"query": query}, &out); err != nil {
		return err
	}
	items := out.MediaContainer.Metadata
	if len(items) == 0 {
		return inv.Reply(fmt.Sprintf("No results found for %q.", query))
	}

	var embeds []*discordgo.MessageEmbed
	for _, item := range items[:minInt(5, len(items))] {
		e := &discordgo.MessageEmbed{
			Title: plexDisplayTitle(item),
			Color: embed.ColorPlex,
		}
		embed.Field(e, "Type", plexTypeLabel(item.Type), true)
		if item.Year > 0 {
			embed.Field(e, "Year", fmt.Sprint(item.Year), true)
		}
		if item.Rating > 0 {
			embed.Field(e, "Rating", fmt.Sprintf("%.1f", item.Rating), true)
		}
		if item.Summary != "" {
			e.Description = truncate(item.Summary, 200)
		}
		if item.Thumb != "" {
			e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: plexImageURL(integ, item.Thumb)}
		}
		embeds = append(embeds, e)
	}
	return inv.ReplyEmbeds(embeds)
}

func (h *plexHandler) nowPlaying(ctx context.Context, inv *gateway.Invocation, c *Client, integ *models.Integration) error {
	var out plexContainer
	if err := c.Request(ctx, "/status/sessions", nil, &out); err != nil {
		return err
	}
	sessions := out.MediaContainer.Metadata
	if len(sessions) == 0 {
		return inv.Reply("Nothing is currently playing on Plex.")
	}

	var embeds []*discordgo.MessageEmbed
	for _, s := range sessions[:minInt(10, len(sessions))] {
		paused := s.Player != nil && s.Player.State == "paused"
		icon := "▶"
		color := embed.ColorPlex
		if paused {
			icon = "⏸"
			color = 0x747f8d
		}
		e := &discordgo.MessageEmbed{
			Title: fmt.Sprintf("%s %s", icon, plexDisplayTitle(s)),
			Color: color,
		}
		user, player := "Unknown", "Unknown device"
		if s.User != nil && s.User.Title != "" {
			user = s.User.Title
		}
		if s.Player != nil && s.Player.Title != "" {
			player = s.Player.Title
		}
		embed.Field(e, "User", user, true)
		embed.Field(e, "Player", player, true)
		if s.ViewOffset > 0 && s.Duration > 0 {
			embed.Field(e, "Progress", progressBar(s.ViewOffset, s.Duration), false)
		}
		if s.Thumb != "" {
			e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: plexImageURL(integ, s.Thumb)}
		}
		embeds = append(embeds, e)
	}
	return inv.ReplyEmbeds(embeds)
}

func (h *plexHandler) stats(ctx context.Context, inv *gateway.Invocation, c *Client, integ *models.Integration) error {
	var out plexContainer
	if err := c.Request(ctx, "/library/sections", nil, &out); err != nil {
		return err
	}
	sections := out.MediaContainer.Directory

	serverName := integ.Config.ServerName
	if serverName == "" {
		serverName = "Plex Server"
	}
	e := embed.Simple(fmt.Sprintf("%s - Library Stats", serverName), "", embed.ColorPlex)
	e.Footer = &discordgo.MessageEmbedFooter{Text: "Powered by Plex"}

	if len(sections) == 0 {
		e.Description = "No libraries found."
		return inv.ReplyEmbeds([]*discordgo.MessageEmbed{e})
	}

	// Container-Size: 0 returns only the total, no items.
	for _, sec := range sections {
		var counted plexContainer
		params := map[string]string{"X-Plex-Container-Start": "0", "X-Plex-Container-Size": "0"}
		if err := c.Request(ctx, fmt.Sprintf("/library/sections/%s/all", sec.Key), params, &counted); err != nil {
			embed.Field(e, sec.Title, "N/A", true)
			continue
		}
		count := counted.MediaContainer.TotalSize
		if count == 0 {
			count = counted.MediaContainer.Size
		}
		embed.Field(e, sec.Title, fmt.Sprintf("%d items", count), true)
	}
	return inv.ReplyEmbeds([]*discordgo.MessageEmbed{e})
}

func (h *plexHandler) recentlyAdded(ctx context.Context, inv *gateway.Invocation, c *Client, integ *models.Integration) error {
	var out plexContainer
	if err := c.Request(ctx, "/library/recentlyAdded", nil, &out); err != nil {
		return err
	}
	items := out.MediaContainer.Metadata
	if len(items) == 0 {
		return inv.Reply("No recently added items found.")
	}

	serverName := integ.Config.ServerName
	if serverName == "" {
		serverName = "Plex Server"
	}
	var embeds []*discordgo.MessageEmbed
	for _, item := range items[:minInt(10, len(items))] {
		e := &discordgo.MessageEmbed{
			Title:  plexDisplayTitle(item),
			Color:  embed.ColorPlex,
			Footer: &discordgo.MessageEmbedFooter{Text: serverName},
		}
		embed.Field(e, "Type", plexTypeLabel(item.Type), true)
		if item.Year > 0 {
			embed.Field(e, "Year", fmt.Sprint(item.Year), true)
		}
		if item.Thumb != "" {
			e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: plexImageURL(integ, item.Thumb)}
		}
		embeds = append(embeds, e)
	}
	return inv.ReplyEmbeds(embeds)
}

func (h *plexHandler) onDeck(ctx context.Context, inv *gateway.Invocation, c *Client, integ *models.Integration) error {
	var out plexContainer
	if err := c.Request(ctx, "/library/onDeck", nil, &out); err != nil {
		return err
	}
	items := out.MediaContainer.Metadata
	if len(items) == 0 {
		return inv.Reply("Nothing is on deck right now.")
	}

	var embeds []*discordgo.MessageEmbed
	for _, item := range items[:minInt(10, len(items))] {
		e := &discordgo.MessageEmbed{
			Title: plexDisplayTitle(item),
			Color: 0x5865f2,
		}
		if item.ViewOffset > 0 && item.Duration > 0 {
			embed.Field(e, "Progress", progressBar(item.ViewOffset, item.Duration), false)
		}
		if item.Thumb != "" {
			e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: plexImageURL(integ, item.Thumb)}
		}
		embeds = append(embeds, e)
	}
	return inv.ReplyEmbeds(embeds)
}

// plexLibrary adapts a Plex server to the scheduler's Library interface.
type plexLibrary struct {
	client *Client
	integ  *models.Integration
}

func (l *plexLibrary) RecentlyAdded(ctx context.Context) ([]MediaItem, error) {
	var out plexContainer
	if err := l.client.Request(ctx, "/library/recentlyAdded", nil, &out); err != nil {
		return nil, err
	}

	items := make([]MediaItem, 0, len(out.MediaContainer.Metadata))
	for _, it := range out.MediaContainer.Metadata {
		m := MediaItem{
			ID:      it.RatingKey,
			Type:    it.Type,
			Title:   it.Title,
			Summary: it.Summary,
			Year:    it.Year,
			AddedAt: time.Unix(it.AddedAt, 0),
		}
		if it.Type == MediaEpisode {
			m.Season = it.ParentIndex
			m.Episode = it.Index
			m.ShowID = it.GrandparentRatingKey
			m.ShowTitle = it.GrandparentTitle
			if m.ShowTitle == "" {
				m.ShowTitle = "Unknown Show"
			}
			m.ShowThumb = plexImageURL(l.integ, firstNonEmpty(it.GrandparentThumb, it.Thumb))
			if it.ParentYear > 0 {
				m.Year = it.ParentYear
			}
		}
		if it.Thumb != "" {
			m.Thumb = plexImageURL(l.integ, it.Thumb)
		}
		items = append(items, m)
	}
	return items, nil
}

// ExternalLink resolves the IMDb URL for an item via its guid metadata.
func (l *plexLibrary) ExternalLink(ctx context.Context, itemID string) string {
	var out plexContainer
	err := l.client.Request(ctx, fmt.Sprintf("/library/metadata/%s", itemID),
		map[string]string{"includeGuids": "1"}, &out)
	if err != nil || len(out.MediaContainer.Metadata) == 0 {
		return ""
	}
	for _, g := range out.MediaContainer.Metadata[0].Guid {
		if strings.HasPrefix(g.ID, "imdb://") {
			return fmt.Sprintf("https://www.imdb.com/title/%s/", strings.TrimPrefix(g.ID, "imdb://"))
		}
	}
	return ""
}

func plexDisplayTitle(it plexItem) string {
	if it.GrandparentTitle != "" {
		return fmt.Sprintf("%s - %s", it.GrandparentTitle, it.Title)
	}
	return it.Title
}

func plexTypeLabel(t string) string {
	switch t {
	case "movie":
		return "Movie"
	case "show":
		return "Show"
	case "episode":
		return "Episode"
	case "artist":
		return "Artist"
	case "album":
		return "Album"
	default:
		return t
	}
}

func plexImageURL(in *models.Integration, thumb string) string {
	if thumb == "" {
		return ""
	}
	base := strings.TrimRight(in.Config.APIURL, "/")
	return fmt.Sprintf("%s%s?X-Plex-Token=%s", base, thumb, in.Config.APIKey)
}

func progressBar(offset, duration int64) string {
	pct := float64(offset) / float64(duration)
	if pct > 1 {
		pct = 1
	}
	filled := int(pct*15 + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", 15-filled) +
		fmt.Sprintf(" %s / %s", formatDuration(offset), formatDuration(duration))
}

func formatDuration(ms int64) string {
	total := ms / 1000
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
