package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botsmith/botsmith/internal/gateway"
	"github.com/botsmith/botsmith/internal/integrations"
	"github.com/botsmith/botsmith/internal/models"
	"github.com/botsmith/botsmith/internal/store"
	"github.com/botsmith/botsmith/pkg/logger"
)

type fakeLibrary struct {
	items []integrations.MediaItem
	links map[string]string
}

func (l *fakeLibrary) RecentlyAdded(ctx context.Context) ([]integrations.MediaItem, error) {
	return l.items, nil
}

func (l *fakeLibrary) ExternalLink(ctx context.Context, itemID string) string {
	return l.links[itemID]
}

// sendConn is a gateway.Conn that only records SendEmbeds batches; the
// scheduler touches nothing else during a poll.
type sendConn struct {
	mu       sync.Mutex
	batches  [][]*discordgo.MessageEmbed
	channels map[string]*discordgo.Channel
	botPerms int64
}

func newSendConn() *sendConn {
	return &sendConn{channels: make(map[string]*discordgo.Channel)}
}

func (c *sendConn) SendEmbeds(channelID string, embeds []*discordgo.MessageEmbed) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, embeds)
	return nil
}

func (c *sendConn) Channel(channelID string) (*discordgo.Channel, error) {
	if ch, ok := c.channels[channelID]; ok {
		return ch, nil
	}
	return nil, fmt.Errorf("unknown channel %s", channelID)
}

func (c *sendConn) BotPermissions(channelID string) (int64, error) { return c.botPerms, nil }

func (c *sendConn) Open() error  { return nil }
func (c *sendConn) Close() error { return nil }
func (c *sendConn) On(t gateway.EventType, h func(any)) func() {
	return func() {}
}
func (c *sendConn) BotUser() gateway.User { return gateway.User{ID: "bot-1"} }
func (c *sendConn) Latency() time.Duration { return 0 }
func (c *sendConn) Uptime() time.Duration  { return 0 }
func (c *sendConn) GuildCount() int        { return 0 }
func (c *sendConn) RegisterCommands(cmds []*discordgo.ApplicationCommand) error { return nil }
func (c *sendConn) Guild(guildID string) (*discordgo.Guild, error)              { return nil, nil }
func (c *sendConn) SendMessage(channelID, content string) error                 { return nil }
func (c *sendConn) React(channelID, messageID, emoji string) error              { return nil }
func (c *sendConn) GuildMember(guildID, userID string) (*discordgo.Member, error) {
	return nil, nil
}
func (c *sendConn) AddRole(guildID, userID, roleID string) error    { return nil }
func (c *sendConn) RemoveRole(guildID, userID, roleID string) error { return nil }
func (c *sendConn) MemberPermissions(guildID, channelID, userID string) (int64, error) {
	return 0, nil
}
func (c *sendConn) Kick(guildID, userID, reason string) error              { return nil }
func (c *sendConn) Ban(guildID, userID, reason string) error               { return nil }
func (c *sendConn) Unban(guildID, userID string) error                     { return nil }
func (c *sendConn) Timeout(guildID, userID string, until time.Time) error  { return nil }
func (c *sendConn) Purge(channelID string, n int) (int, error)             { return 0, nil }
func (c *sendConn) Respond(i *discordgo.Interaction, content string, ephemeral bool) error {
	return nil
}
func (c *sendConn) RespondEmbeds(i *discordgo.Interaction, embeds []*discordgo.MessageEmbed) error {
	return nil
}

func newTestScheduler(t *testing.T, lib integrations.Library) (*Scheduler, *store.Store) {
	t.Helper()
	st, err := store.Open("sqlite", filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	s := New(st, store.NewSelfWriteGuard(), logger.Default())
	t.Cleanup(s.Stop)
	s.libraryFor = func(in *models.Integration) (integrations.Library, error) {
		return lib, nil
	}
	return s, st
}

func seedScheduledBot(t *testing.T, st *store.Store, sched *models.SchedulerConfig) (string, string) {
	t.Helper()
	cfg := &models.BotConfig{
		Name:  "announcer",
		Token: "tok",
		Integrations: []models.Integration{
			{
				ID:      "integ-1",
				Service: models.ServicePlex,
				Config:  models.IntegrationConfig{APIURL: "http://plex", APIKey: "k", Scheduler: sched},
			},
		},
	}
	saved, err := st.Create(cfg)
	require.NoError(t, err)
	return saved.ID, "integ-1"
}

func movie(id, title string, addedAt time.Time) integrations.MediaItem {
	return integrations.MediaItem{ID: id, Type: integrations.MediaMovie, Title: title, Year: 2024, AddedAt: addedAt}
}

func episode(id, showID, show string, season, ep int) integrations.MediaItem {
	return integrations.MediaItem{
		ID:        id,
		Type:      integrations.MediaEpisode,
		Title:     fmt.Sprintf("Episode %d", ep),
		Season:    season,
		Episode:   ep,
		ShowID:    showID,
		ShowTitle: show,
		AddedAt:   time.Now(),
	}
}

func TestGroupItemsCollapsesEpisodes(t *testing.T) {
	items := []integrations.MediaItem{
		episode("e1", "show-1", "Severance", 2, 1),
		episode("e2", "show-1", "Severance", 2, 2),
		episode("e3", "show-1", "Severance", 2, 3),
		movie("m1", "Dune", time.Now()),
	}

	groups := GroupItems(items)
	require.Len(t, groups, 2)
	assert.Equal(t, "Severance", groups[0].Show)
	assert.Len(t, groups[0].Items, 3)
	assert.Empty(t, groups[1].Show)
	assert.Equal(t, "Dune", groups[1].Items[0].Title)
}

func TestGroupEmbedListsEpisodes(t *testing.T) {
	groups := GroupItems([]integrations.MediaItem{
		episode("e1", "show-1", "Severance", 2, 1),
		episode("e2", "show-1", "Severance", 2, 2),
	})
	require.Len(t, groups, 1)

	in := &models.Integration{Service: models.ServicePlex, Config: models.IntegrationConfig{ServerName: "Home"}}
	e := groups[0].Embed(in, "https://example.com/show")

	require.Len(t, e.Fields, 1)
	assert.Equal(t, "2 New Episodes", e.Fields[0].Name)
	assert.Contains(t, e.Fields[0].Value, "S02E01")
	assert.Contains(t, e.Fields[0].Value, "S02E02")
	assert.Equal(t, "https://example.com/show", e.URL)
	assert.Contains(t, e.Footer.Text, "Home")
}

func TestPollAnnouncesAndPersistsDedup(t *testing.T) {
	lib := &fakeLibrary{items: []integrations.MediaItem{
		movie("m1", "Dune", time.Now()),
		movie("m2", "Arrival", time.Now()),
	}}
	s, st := newTestScheduler(t, lib)
	botID, integID := seedScheduledBot(t, st, &models.SchedulerConfig{
		Enabled:   true,
		Interval:  models.IntervalHourly,
		ChannelID: "ann",
	})

	conn := newSendConn()
	s.poll(botID, integID, conn)

	require.Len(t, conn.batches, 1)
	assert.Len(t, conn.batches[0], 2)

	cfg, err := st.Read(botID)
	require.NoError(t, err)
	sched := cfg.Integration(integID).Config.Scheduler
	assert.ElementsMatch(t, []string{"m1", "m2"}, sched.AnnouncedIDs)
	assert.False(t, sched.LastChecked.IsZero())

	// A second poll with the same catalog announces nothing new and
	// leaves the stored record alone.
	s.poll(botID, integID, conn)
	assert.Len(t, conn.batches, 1)
	again, err := st.Read(botID)
	require.NoError(t, err)
	assert.Equal(t, cfg.Revision, again.Revision)
}

func TestPollIdleTickDoesNotCommit(t *testing.T) {
	lib := &fakeLibrary{items: []integrations.MediaItem{movie("m1", "Dune", time.Now())}}
	s, st := newTestScheduler(t, lib)
	botID, integID := seedScheduledBot(t, st, &models.SchedulerConfig{
		Enabled:      true,
		Interval:     models.IntervalHourly,
		ChannelID:    "ann",
		AnnouncedIDs: []string{"m1"},
	})

	before, err := st.Read(botID)
	require.NoError(t, err)

	conn := newSendConn()
	s.poll(botID, integID, conn)

	assert.Empty(t, conn.batches)
	after, err := st.Read(botID)
	require.NoError(t, err)
	assert.Equal(t, before.Revision, after.Revision)
	assert.True(t, after.Integration(integID).Config.Scheduler.LastChecked.IsZero())
}

func TestPollCapsBatchAndChunksEmbeds(t *testing.T) {
	var items []integrations.MediaItem
	for i := 0; i < 40; i++ {
		items = append(items, movie(fmt.Sprintf("m%d", i), fmt.Sprintf("Movie %d", i), time.Now()))
	}
	lib := &fakeLibrary{items: items}
	s, st := newTestScheduler(t, lib)
	botID, integID := seedScheduledBot(t, st, &models.SchedulerConfig{
		Enabled:   true,
		Interval:  models.IntervalHourly,
		ChannelID: "ann",
	})

	conn := newSendConn()
	s.poll(botID, integID, conn)

	// 25 items fit in three batches of at most 10 embeds.
	require.Len(t, conn.batches, 3)
	assert.Len(t, conn.batches[0], 10)
	assert.Len(t, conn.batches[1], 10)
	assert.Len(t, conn.batches[2], 5)

	cfg, err := st.Read(botID)
	require.NoError(t, err)
	assert.Len(t, cfg.Integration(integID).Config.Scheduler.AnnouncedIDs, 25)
}

func TestPollTrimsDedupListToCap(t *testing.T) {
	lib := &fakeLibrary{items: []integrations.MediaItem{movie("new-1", "Fresh", time.Now())}}
	s, st := newTestScheduler(t, lib)

	old := make([]string, models.AnnouncedIDsCap)
	for i := range old {
		old[i] = fmt.Sprintf("old-%d", i)
	}
	botID, integID := seedScheduledBot(t, st, &models.SchedulerConfig{
		Enabled:      true,
		Interval:     models.IntervalHourly,
		ChannelID:    "ann",
		AnnouncedIDs: old,
	})

	s.poll(botID, integID, newSendConn())

	cfg, err := st.Read(botID)
	require.NoError(t, err)
	got := cfg.Integration(integID).Config.Scheduler.AnnouncedIDs
	assert.Len(t, got, models.AnnouncedIDsCap)
	assert.Equal(t, "new-1", got[len(got)-1])
	assert.NotContains(t, got, "old-0")
}

func TestPollSkipsDisabledIntegration(t *testing.T) {
	lib := &fakeLibrary{items: []integrations.MediaItem{movie("m1", "Dune", time.Now())}}
	s, st := newTestScheduler(t, lib)
	botID, integID := seedScheduledBot(t, st, &models.SchedulerConfig{
		Enabled:   false,
		Interval:  models.IntervalHourly,
		ChannelID: "ann",
	})

	conn := newSendConn()
	s.poll(botID, integID, conn)
	assert.Empty(t, conn.batches)
}

func TestStartForBotArmsOnlyEnabledIntegrations(t *testing.T) {
	s, st := newTestScheduler(t, &fakeLibrary{})
	cfg := &models.BotConfig{
		Name:  "mixed",
		Token: "tok",
		Integrations: []models.Integration{
			{ID: "on", Service: models.ServicePlex, Config: models.IntegrationConfig{
				Scheduler: &models.SchedulerConfig{Enabled: true, Interval: models.IntervalDaily, ChannelID: "a"},
			}},
			{ID: "off", Service: models.ServiceSonarr, Config: models.IntegrationConfig{}},
		},
	}
	saved, err := st.Create(cfg)
	require.NoError(t, err)

	s.StartForBot(saved, newSendConn())

	s.mu.Lock()
	_, onArmed := s.jobs[jobKey(saved.ID, "on")]
	_, offArmed := s.jobs[jobKey(saved.ID, "off")]
	s.mu.Unlock()
	assert.True(t, onArmed)
	assert.False(t, offArmed)

	s.StopForBot(saved.ID)
	s.mu.Lock()
	assert.Empty(t, s.jobs)
	s.mu.Unlock()
}
