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

// arrHandler serves both Sonarr and Radarr. The two share the v3 API
// shape; only endpoints and field names differ per media kind.
type arrHandler struct {
	service models.Service
	log     zerolog.Logger
}

type arrSeries struct {
	Title     string `json:"title"`
	Year      int    `json:"year"`
	Overview  string `json:"overview"`
	Status    string `json:"status"`
	Monitored bool   `json:"monitored"`
	TvdbID    int64  `json:"tvdbId"`
	ImdbID    string `json:"imdbId"`
	Images    []struct {
		CoverType string `json:"coverType"`
		RemoteURL string `json:"remoteUrl"`
	} `json:"images"`
	Statistics struct {
		SeasonCount  int `json:"seasonCount"`
		EpisodeCount int `json:"episodeCount"`
	} `json:"statistics"`
}

type arrMovie struct {
	Title       string  `json:"title"`
	Year        int     `json:"year"`
	Overview    string  `json:"overview"`
	Status      string  `json:"status"`
	Monitored   bool    `json:"monitored"`
	HasFile     bool    `json:"hasFile"`
	TmdbID      int64   `json:"tmdbId"`
	ImdbID      string  `json:"imdbId"`
	Runtime     int     `json:"runtime"`
	InCinemas   string  `json:"inCinemas"`
	PhysicalRel string  `json:"physicalRelease"`
	DigitalRel  string  `json:"digitalRelease"`
	Ratings     ratings `json:"ratings"`
	Images      []struct {
		CoverType string `json:"coverType"`
		RemoteURL string `json:"remoteUrl"`
	} `json:"images"`
}

type ratings struct {
	Tmdb struct {
		Value float64 `json:"value"`
	} `json:"tmdb"`
}

type arrCalendarEntry struct {
	Title        string `json:"title"`
	SeasonNumber int    `json:"seasonNumber"`
	EpisodeNum   int    `json:"episodeNumber"`
	AirDateUTC   string `json:"airDateUtc"`
	InCinemas    string `json:"inCinemas"`
	Series       *struct {
		Title string `json:"title"`
	} `json:"series"`
}

func (h *arrHandler) Execute(ctx context.Context, inv *gateway.Invocation, cmd *models.Command, cfg *models.BotConfig) error {
	integ := cfg.IntegrationByService(h.service)
	client := NewClient(integ)

	switch cmd.IntegrationAction {
	case "search":
		return h.search(ctx, inv, client)
	case "calendar", "upcoming":
		return h.calendar(ctx, inv, client)
	default:
		return inv.Reply(fmt.Sprintf("Unknown %s action: %s", h.service, cmd.IntegrationAction))
	}
}

func (h *arrHandler) search(ctx context.Context, inv *gateway.Invocation, c *Client) error {
	term := strings.Join(inv.Args, " ")
	if term == "" {
		return inv.Reply("Please provide a search term.")
	}

	if h.service == models.ServiceSonarr {
		var series []arrSeries
		if err := c.Request(ctx, "/series/lookup", map[string]string{"term": term}, &series); err != nil {
			return err
		}
		if len(series) == 0 {
			return inv.Reply(fmt.Sprintf("No series found for %q.", term))
		}
		var embeds []*discordgo.MessageEmbed
		for _, s := range series[:minInt(3, len(series))] {
			embeds = append(embeds, h.seriesEmbed(s))
		}
		return inv.ReplyEmbeds(embeds)
	}

	var movies []arrMovie
	if err := c.Request(ctx, "/movie/lookup", map[string]string{"term": term}, &movies); err != nil {
		return err
	}
	if len(movies) == 0 {
		return inv.Reply(fmt.Sprintf("No movies found for %q.", term))
	}
	var embeds []*discordgo.MessageEmbed
	for _, m := range movies[:minInt(3, len(movies))] {
		embeds = append(embeds, h.movieEmbed(m))
	}
	return inv.ReplyEmbeds(embeds)
}

// calendar lists releases airing in the next seven days.
func (h *arrHandler) calendar(ctx context.Context, inv *gateway.Invocation, c *Client) error {
	now := time.Now().UTC()
	params := map[string]string{
		"start": now.Format("2006-01-02"),
		"end":   now.AddDate(0, 0, 7).Format("2006-01-02"),
	}

	var entries []arrCalendarEntry
	if err := c.Request(ctx, "/calendar", params, &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return inv.Reply("Nothing scheduled in the next 7 days.")
	}

	title := "Upcoming Episodes"
	color := 0x35c5f4
	if h.service == models.ServiceRadarr {
		title = "Upcoming Movies"
		color = 0xffc230
	}
	e := embed.Simple(title, "", color)
	for _, entry := range entries[:minInt(20, len(entries))] {
		name := entry.Title
		when := entry.AirDateUTC
		if entry.Series != nil {
			name = fmt.Sprintf("%s S%02dE%02d - %s",
				entry.Series.Title, entry.SeasonNumber, entry.EpisodeNum, entry.Title)
		}
		if when == "" {
			when = entry.InCinemas
		}
		embed.Field(e, name, formatArrDate(when), false)
	}
	return inv.ReplyEmbeds([]*discordgo.MessageEmbed{e})
}

func (h *arrHandler) seriesEmbed(s arrSeries) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("%s (%d)", s.Title, s.Year),
		Color: 0x35c5f4,
	}
	if s.Overview != "" {
		e.Description = truncate(s.Overview, 250)
	}
	embed.Field(e, "Status", capitalize(s.Status), true)
	if s.Statistics.SeasonCount > 0 {
		embed.Field(e, "Seasons", fmt.Sprint(s.Statistics.SeasonCount), true)
	}
	embed.Field(e, "Monitored", yesNo(s.Monitored), true)
	if url := coverURL(s.Images); url != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: url}
	}
	if s.ImdbID != "" {
		e.URL = fmt.Sprintf("https://www.imdb.com/title/%s/", s.ImdbID)
	}
	return e
}

func (h *arrHandler) movieEmbed(m arrMovie) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("%s (%d)", m.Title, m.Year),
		Color: 0xffc230,
	}
	if m.Overview != "" {
		e.Description = truncate(m.Overview, 250)
	}
	embed.Field(e, "Status", capitalize(m.Status), true)
	if m.Runtime > 0 {
		embed.Field(e, "Runtime", fmt.Sprintf("%d min", m.Runtime), true)
	}
	if m.Ratings.Tmdb.Value > 0 {
		embed.Field(e, "Rating", fmt.Sprintf("%.1f", m.Ratings.Tmdb.Value), true)
	}
	embed.Field(e, "Downloaded", yesNo(m.HasFile), true)
	if url := coverURL(m.Images); url != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: url}
	}
	if m.ImdbID != "" {
		e.URL = fmt.Sprintf("https://www.imdb.com/title/%s/", m.ImdbID)
	}
	return e
}

func coverURL(images []struct {
	CoverType string `json:"coverType"`
	RemoteURL string `json:"remoteUrl"`
}) string {
	for _, img := range images {
		if img.CoverType == "poster" && img.RemoteURL != "" {
			return img.RemoteURL
		}
	}
	return ""
}

func formatArrDate(raw string) string {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("Mon, Jan 2 15:04 MST")
		}
	}
	if raw == "" {
		return "TBA"
	}
	return raw
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
