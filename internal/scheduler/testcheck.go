package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/botsmith/botsmith/internal/gateway"
	"github.com/botsmith/botsmith/internal/integrations"
	"github.com/botsmith/botsmith/internal/models"
)

var (
	ErrSchedulerDisabled = errors.New("announcement scheduler is not enabled")
	ErrNoChannel         = errors.New("no announcement channel configured")
	ErrBadChannel        = errors.New("announcement channel cannot be resolved")
	ErrNoPermission      = errors.New("bot lacks send or embed permission in the announcement channel")
)

// intervalWindows maps each cadence to the lookback used by a dry run.
var intervalWindows = map[models.Interval]time.Duration{
	models.IntervalHourly:  time.Hour,
	models.IntervalEvery6h: 6 * time.Hour,
	models.IntervalDaily:   24 * time.Hour,
	models.IntervalWeekly:  7 * 24 * time.Hour,
}

// TestReport is the outcome of an on-demand announcement check.
type TestReport struct {
	ChannelName string   `json:"channelName"`
	Interval    string   `json:"interval"`
	WindowItems int      `json:"windowItems"`
	Sent        int      `json:"sent"`
	Titles      []string `json:"titles,omitempty"`
}

// TestCheck exercises an integration's announcement pipeline end to end
// without touching the dedup state: it resolves the channel, checks the
// bot's permissions there, then groups every item inside the current
// interval window and posts the test-marked embeds to the channel. The
// window filter stands in for the dedup-set difference, so repeated test
// runs can never suppress a later real announcement.
func (s *Scheduler) TestCheck(ctx context.Context, botID, integrationID string, conn gateway.Conn) (*TestReport, error) {
	cfg, err := s.store.Read(botID)
	if err != nil {
		return nil, err
	}
	in := cfg.Integration(integrationID)
	if in == nil {
		return nil, fmt.Errorf("integration %s not found", integrationID)
	}
	if !in.SchedulerEnabled() {
		return nil, ErrSchedulerDisabled
	}

	channelID := in.Config.Scheduler.ChannelID
	if channelID == "" {
		return nil, ErrNoChannel
	}
	ch, err := conn.Channel(channelID)
	if err != nil || ch == nil {
		return nil, fmt.Errorf("%w: %s", ErrBadChannel, channelID)
	}

	const needed = discordgo.PermissionSendMessages | discordgo.PermissionEmbedLinks
	perms, err := conn.BotPermissions(channelID)
	if err != nil {
		return nil, fmt.Errorf("resolving bot permissions: %w", err)
	}
	if perms&needed != needed {
		return nil, fmt.Errorf("%w: #%s", ErrNoPermission, ch.Name)
	}

	lib, err := s.libraryFor(in)
	if err != nil {
		return nil, err
	}
	items, err := lib.RecentlyAdded(ctx)
	if err != nil {
		return nil, err
	}

	window, ok := intervalWindows[in.Config.Scheduler.Interval]
	if !ok {
		window = intervalWindows[models.IntervalDaily]
	}
	cutoff := time.Now().Add(-window)

	var windowed []integrations.MediaItem
	for _, item := range items {
		if item.AddedAt.After(cutoff) {
			windowed = append(windowed, item)
		}
	}

	report := &TestReport{
		ChannelName: ch.Name,
		Interval:    string(in.Config.Scheduler.Interval),
		WindowItems: len(windowed),
	}
	if len(windowed) == 0 {
		return report, nil
	}

	toSend := windowed
	if len(toSend) > maxAnnouncePerPoll {
		toSend = toSend[:maxAnnouncePerPoll]
	}

	groups := GroupItems(toSend)
	embeds := s.buildEmbeds(ctx, lib, in, groups)
	for _, e := range embeds {
		if e.Footer != nil {
			e.Footer.Text = "TEST | " + e.Footer.Text
		} else {
			e.Footer = &discordgo.MessageEmbedFooter{Text: "TEST"}
		}
	}

	for start := 0; start < len(embeds); start += embedBatchSize {
		end := minInt(start+embedBatchSize, len(embeds))
		if err := conn.SendEmbeds(channelID, embeds[start:end]); err != nil {
			return nil, fmt.Errorf("sending test announcement: %w", err)
		}
	}
	report.Sent = len(embeds)

	for _, item := range toSend[:minInt(10, len(toSend))] {
		title := item.Title
		if item.Type == integrations.MediaEpisode && item.ShowTitle != "" {
			title = fmt.Sprintf("%s S%02dE%02d", item.ShowTitle, item.Season, item.Episode)
		}
		report.Titles = append(report.Titles, title)
	}
	return report, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
