// Package scheduler polls media integrations on a per-bot cron cadence and
// announces newly added items to a configured channel. Announced item ids
// are persisted on the integration's scheduler config so restarts do not
// re-announce, with compare-and-swap writes so a concurrent config edit is
// never clobbered.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/botsmith/botsmith/internal/gateway"
	"github.com/botsmith/botsmith/internal/integrations"
	"github.com/botsmith/botsmith/internal/models"
	"github.com/botsmith/botsmith/internal/store"
	"github.com/botsmith/botsmith/pkg/logger"
)

// intervalSpecs maps the configurable cadences to cron expressions. Daily
// and weekly land at 09:00 server time.
var intervalSpecs = map[models.Interval]string{
	models.IntervalHourly:  "0 * * * *",
	models.IntervalEvery6h: "0 */6 * * *",
	models.IntervalDaily:   "0 9 * * *",
	models.IntervalWeekly:  "0 9 * * 1",
}

const (
	// maxAnnouncePerPoll caps one poll's announcements; the backlog is
	// picked up by later polls.
	maxAnnouncePerPoll = 25
	// embedBatchSize is the platform limit on embeds per message.
	embedBatchSize = 10

	pollTimeout = 2 * time.Minute
)

type job struct {
	entry cron.EntryID
	conn  gateway.Conn
}

// Scheduler arms one cron job per enabled integration of each running bot.
// Implements the supervisor's JobRunner.
type Scheduler struct {
	store  *store.Store
	guard  *store.SelfWriteGuard
	log    zerolog.Logger
	cron   *cron.Cron
	notify func(botID, message string)

	// libraryFor is swappable so polls can run against fake catalogs.
	libraryFor func(in *models.Integration) (integrations.Library, error)

	mu   sync.Mutex
	jobs map[string]job // botID + "/" + integrationID
}

func New(st *store.Store, guard *store.SelfWriteGuard, log *logger.Logger) *Scheduler {
	s := &Scheduler{
		store: st,
		guard: guard,
		log:   log.WithComponent("scheduler").Logger,
		cron:  cron.New(),
		jobs:  make(map[string]job),

		libraryFor: integrations.LibraryFor,
	}
	s.cron.Start()
	return s
}

// SetNotifier registers the live-feed callback for announcement events.
func (s *Scheduler) SetNotifier(notify func(botID, message string)) {
	s.notify = notify
}

// Stop halts the cron runner, waiting for in-flight polls.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func jobKey(botID, integrationID string) string {
	return botID + "/" + integrationID
}

// StartForBot arms jobs for every scheduler-enabled integration on the
// config and fires an immediate first poll for each.
func (s *Scheduler) StartForBot(cfg *models.BotConfig, conn gateway.Conn) {
	for i := range cfg.Integrations {
		in := &cfg.Integrations[i]
		if !in.SchedulerEnabled() {
			continue
		}
		s.arm(cfg.ID, in, conn)
	}
}

// StopForBot disarms every job belonging to one bot.
func (s *Scheduler) StopForBot(botID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := botID + "/"
	for key, j := range s.jobs {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			s.cron.Remove(j.entry)
			delete(s.jobs, key)
		}
	}
}

// ReloadForBot reconciles jobs with a fresh config: stale jobs are
// disarmed, enabled integrations are re-armed at their current cadence.
func (s *Scheduler) ReloadForBot(cfg *models.BotConfig, conn gateway.Conn) {
	s.StopForBot(cfg.ID)
	s.StartForBot(cfg, conn)
}

func (s *Scheduler) arm(botID string, in *models.Integration, conn gateway.Conn) {
	spec, ok := intervalSpecs[in.Config.Scheduler.Interval]
	if !ok {
		spec = intervalSpecs[models.IntervalDaily]
	}

	integrationID := in.ID
	entry, err := s.cron.AddFunc(spec, func() {
		s.poll(botID, integrationID, conn)
	})
	if err != nil {
		s.log.Error().Err(err).Str("bot_id", botID).Str("integration", integrationID).Msg("arming job")
		return
	}

	s.mu.Lock()
	s.jobs[jobKey(botID, integrationID)] = job{entry: entry, conn: conn}
	s.mu.Unlock()

	s.log.Info().Str("bot_id", botID).Str("integration", integrationID).
		Str("interval", string(in.Config.Scheduler.Interval)).Msg("announcement job armed")

	// Catch up right away instead of waiting out the first cron window.
	go s.poll(botID, integrationID, conn)
}

// poll runs one announcement cycle for an integration. The config is
// re-read fresh so edits between polls always apply.
func (s *Scheduler) poll(botID, integrationID string, conn gateway.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()

	log := s.log.With().Str("bot_id", botID).Str("integration", integrationID).Logger()

	cfg, err := s.store.Read(botID)
	if err != nil {
		log.Error().Err(err).Msg("poll config read")
		return
	}
	in := cfg.Integration(integrationID)
	if in == nil || !in.SchedulerEnabled() {
		log.Debug().Msg("integration disabled since arming, skipping")
		return
	}
	channelID := in.Config.Scheduler.ChannelID
	if channelID == "" {
		log.Warn().Msg("no announcement channel configured")
		return
	}

	lib, err := s.libraryFor(in)
	if err != nil {
		log.Warn().Err(err).Msg("no library for service")
		return
	}

	items, err := lib.RecentlyAdded(ctx)
	if err != nil {
		log.Error().Err(err).Msg("recently added fetch")
		return
	}

	fresh := filterAnnounced(items, in.Config.Scheduler.AnnouncedIDs)
	if len(fresh) == 0 {
		// Nothing new: leave the record alone so an idle tick never
		// commits a revision.
		log.Debug().Msg("no new items")
		return
	}
	if len(fresh) > maxAnnouncePerPoll {
		fresh = fresh[:maxAnnouncePerPoll]
	}

	groups := GroupItems(fresh)
	embeds := s.buildEmbeds(ctx, lib, in, groups)

	for start := 0; start < len(embeds); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(embeds) {
			end = len(embeds)
		}
		if err := conn.SendEmbeds(channelID, embeds[start:end]); err != nil {
			log.Error().Err(err).Int("batch", start/embedBatchSize).Msg("announcement send")
			// Do not mark items announced when nothing went out.
			if start == 0 {
				return
			}
			break
		}
	}

	announced := make([]string, 0, len(fresh))
	for _, item := range fresh {
		announced = append(announced, item.ID)
	}
	s.persistState(botID, integrationID, announced)

	log.Info().Int("items", len(fresh)).Int("embeds", len(embeds)).Msg("announced new items")
	if s.notify != nil {
		s.notify(botID, fmt.Sprintf("announced %d new items", len(fresh)))
	}
}

func filterAnnounced(items []integrations.MediaItem, announcedIDs []string) []integrations.MediaItem {
	seen := make(map[string]struct{}, len(announcedIDs))
	for _, id := range announcedIDs {
		seen[id] = struct{}{}
	}
	var fresh []integrations.MediaItem
	for _, item := range items {
		if _, ok := seen[item.ID]; !ok {
			fresh = append(fresh, item)
		}
	}
	return fresh
}

// buildEmbeds renders announcement groups, resolving external links
// concurrently since each is a separate metadata fetch.
func (s *Scheduler) buildEmbeds(ctx context.Context, lib integrations.Library, in *models.Integration, groups []Group) []*discordgo.MessageEmbed {
	links := make([]string, len(groups))
	var wg sync.WaitGroup
	for i, g := range groups {
		wg.Add(1)
		go func(i int, itemID string) {
			defer wg.Done()
			links[i] = lib.ExternalLink(ctx, itemID)
		}(i, g.LinkItemID())
	}
	wg.Wait()

	embeds := make([]*discordgo.MessageEmbed, 0, len(groups))
	for i, g := range groups {
		embeds = append(embeds, g.Embed(in, links[i]))
	}
	return embeds
}

// persistState appends newly announced ids, trims the dedup list to its
// cap and stamps LastChecked, committing with compare-and-swap. One
// conflict retry re-reads and reapplies; a second conflict leaves the
// items to be re-filtered next poll.
func (s *Scheduler) persistState(botID, integrationID string, announced []string) {
	for attempt := 0; attempt < 2; attempt++ {
		cfg, err := s.store.Read(botID)
		if err != nil {
			s.log.Error().Err(err).Str("bot_id", botID).Msg("state read")
			return
		}
		in := cfg.Integration(integrationID)
		if in == nil {
			return
		}

		sched := in.Config.Scheduler
		if sched == nil {
			return
		}
		sched.AnnouncedIDs = append(sched.AnnouncedIDs, announced...)
		if n := len(sched.AnnouncedIDs); n > models.AnnouncedIDsCap {
			sched.AnnouncedIDs = sched.AnnouncedIDs[n-models.AnnouncedIDsCap:]
		}
		sched.LastChecked = time.Now()

		// Record the revision this write will produce before committing,
		// so a watcher tick between commit and record cannot slip through.
		next := cfg.Revision + 1
		s.guard.Record(botID, next)
		_, err = s.store.CompareAndSwap(botID, cfg)
		if err == nil {
			return
		}
		s.guard.Forget(botID, next)
		if !errors.Is(err, store.ErrConflict) {
			s.log.Error().Err(err).Str("bot_id", botID).Msg("state write")
			return
		}
		s.log.Debug().Str("bot_id", botID).Msg("state write conflict, retrying")
	}
	s.log.Warn().Str("bot_id", botID).Msg("state write lost two races, leaving for next poll")
}
