// Package bot runs the managed bot fleet: one supervisor owns the
// lifecycle of every configured bot, and per-bot dispatch engines turn
// stored command and event definitions into live gateway behavior.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/botsmith/botsmith/internal/gateway"
	"github.com/botsmith/botsmith/internal/health"
	"github.com/botsmith/botsmith/internal/integrations"
	"github.com/botsmith/botsmith/internal/models"
	"github.com/botsmith/botsmith/internal/store"
	"github.com/botsmith/botsmith/pkg/logger"
)

var (
	ErrAlreadyRunning = errors.New("bot is already running")
	ErrNotRunning     = errors.New("bot is not running")
	ErrNoToken        = errors.New("bot has no token configured")
)

// JobRunner is the scheduler surface the supervisor drives on start, stop
// and reload. Registered after construction to break the wiring cycle.
type JobRunner interface {
	StartForBot(cfg *models.BotConfig, conn gateway.Conn)
	StopForBot(botID string)
	ReloadForBot(cfg *models.BotConfig, conn gateway.Conn)
}

// StatusInfo is the live view of one bot returned by Status.
type StatusInfo struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Running  bool          `json:"running"`
	Status   string        `json:"status"`
	Username string        `json:"username,omitempty"`
	Uptime   time.Duration `json:"uptime,omitempty"`
	Latency  time.Duration `json:"latency,omitempty"`
	Guilds   int           `json:"guilds,omitempty"`
}

type instance struct {
	cfg      *models.BotConfig
	conn     gateway.Conn
	commands *CommandEngine
	events   *EventEngine
	offs     []func()
}

// Supervisor owns every running bot instance. All state transitions are
// serialized per supervisor; engines and the scheduler hang off the
// connections it opens.
type Supervisor struct {
	store    *store.Store
	guard    *store.SelfWriteGuard
	dialer   gateway.Dialer
	registry *integrations.Registry
	notifier *Notifier
	health   *health.Aggregator
	log      zerolog.Logger

	mu        sync.Mutex
	instances map[string]*instance
	jobs      JobRunner
}

func NewSupervisor(st *store.Store, guard *store.SelfWriteGuard, dialer gateway.Dialer, reg *integrations.Registry, agg *health.Aggregator, log *logger.Logger) *Supervisor {
	return &Supervisor{
		store:     st,
		guard:     guard,
		dialer:    dialer,
		registry:  reg,
		notifier:  NewNotifier(),
		health:    agg,
		log:       log.WithComponent("supervisor").Logger,
		instances: make(map[string]*instance),
	}
}

// SetJobRunner registers the announcement scheduler. Must be called before
// the first Start.
func (s *Supervisor) SetJobRunner(j JobRunner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = j
}

func (s *Supervisor) Notifier() *Notifier { return s.notifier }

// Start brings one bot online: dial, attach engines, open the gateway,
// register slash commands, arm scheduler jobs. Starting a running bot is
// an error; the caller decides whether that is a conflict or a no-op.
func (s *Supervisor) Start(ctx context.Context, botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[botID]; ok {
		return ErrAlreadyRunning
	}

	cfg, err := s.store.Read(botID)
	if err != nil {
		return err
	}
	if cfg.Token == "" {
		return fmt.Errorf("%w: %s", ErrNoToken, cfg.Name)
	}

	conn, err := s.dialer.Dial(cfg.Token)
	if err != nil {
		s.emitLog(botID, "failed to prepare session: %v", err)
		return err
	}

	inst := &instance{
		cfg:      cfg,
		conn:     conn,
		commands: NewCommandEngine(cfg, s.registry, s.log, s.reporter(botID, KindCommand)),
		events:   NewEventEngine(botID, s.log, s.reporter(botID, KindEvent)),
	}

	offReady := conn.On(gateway.EventReady, func(any) {
		s.emitLog(botID, "connected as %s", conn.BotUser().Username)
	})
	offDisc := conn.On(gateway.EventDisconnect, func(any) {
		s.emitLog(botID, "gateway disconnected, reconnecting")
	})
	inst.offs = append(inst.offs, offReady, offDisc)

	inst.commands.Attach(conn)
	inst.events.Resync(conn, cfg)

	if err := conn.Open(); err != nil {
		inst.commands.Detach()
		inst.events.Detach()
		for _, off := range inst.offs {
			off()
		}
		s.emitLog(botID, "failed to start: %v", err)
		return err
	}

	// Slash registration is best-effort; prefix commands still work when
	// the application command scope is missing.
	if err := inst.commands.RegisterSlash(conn); err != nil {
		s.emitLog(botID, "slash command registration failed: %v", err)
	}

	s.instances[botID] = inst
	s.setStatus(botID, models.StatusOnline)

	if s.jobs != nil {
		s.jobs.StartForBot(cfg, conn)
	}

	s.log.Info().Str("bot_id", botID).Str("name", cfg.Name).Msg("bot started")
	s.emit(botID, KindStatus, models.StatusOnline)
	return nil
}

// Stop takes one bot offline and disarms its scheduler jobs.
func (s *Supervisor) Stop(botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(botID)
}

func (s *Supervisor) stopLocked(botID string) error {
	inst, ok := s.instances[botID]
	if !ok {
		return ErrNotRunning
	}

	if s.jobs != nil {
		s.jobs.StopForBot(botID)
	}
	inst.commands.Detach()
	inst.events.Detach()
	for _, off := range inst.offs {
		off()
	}
	if err := inst.conn.Close(); err != nil {
		s.log.Warn().Err(err).Str("bot_id", botID).Msg("gateway close")
	}
	delete(s.instances, botID)

	s.setStatus(botID, models.StatusOffline)
	s.log.Info().Str("bot_id", botID).Msg("bot stopped")
	s.emitLog(botID, "bot stopped")
	s.emit(botID, KindStatus, models.StatusOffline)
	return nil
}

// Restart is a full stop/start cycle, picking up token changes.
func (s *Supervisor) Restart(ctx context.Context, botID string) error {
	if err := s.Stop(botID); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return s.Start(ctx, botID)
}

// ReloadConfig re-reads a bot's stored config and resyncs its engines and
// scheduler jobs in place. The gateway connection stays up; a token change
// needs Restart.
func (s *Supervisor) ReloadConfig(botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[botID]
	if !ok {
		return ErrNotRunning
	}

	cfg, err := s.store.Read(botID)
	if err != nil {
		return err
	}

	inst.cfg = cfg
	inst.commands.Reload(cfg)
	if err := inst.commands.RegisterSlash(inst.conn); err != nil {
		s.emitLog(botID, "slash command registration failed: %v", err)
	}
	inst.events.Resync(inst.conn, cfg)
	if s.jobs != nil {
		s.jobs.ReloadForBot(cfg, inst.conn)
	}

	s.log.Info().Str("bot_id", botID).Msg("config reloaded")
	s.emitLog(botID, "configuration reloaded")
	return nil
}

// IsRunning reports whether a bot currently holds a live connection.
func (s *Supervisor) IsRunning(botID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.instances[botID]
	return ok
}

// Connection returns the live gateway connection for a running bot.
func (s *Supervisor) Connection(botID string) (gateway.Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[botID]
	if !ok {
		return nil, false
	}
	return inst.conn, true
}

// RunningIDs lists the ids of all running bots.
func (s *Supervisor) RunningIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	return ids
}

// Status reports the live view of one bot. Works for stopped bots too;
// their stored config supplies name and last status.
func (s *Supervisor) Status(botID string) (*StatusInfo, error) {
	s.mu.Lock()
	inst, running := s.instances[botID]
	s.mu.Unlock()

	cfg, err := s.store.Read(botID)
	if err != nil {
		return nil, err
	}

	info := &StatusInfo{
		ID:      cfg.ID,
		Name:    cfg.Name,
		Running: running,
		Status:  cfg.Status,
	}
	if running {
		info.Status = models.StatusOnline
		info.Username = inst.conn.BotUser().Username
		info.Uptime = inst.conn.Uptime()
		info.Latency = inst.conn.Latency()
		info.Guilds = inst.conn.GuildCount()
	}
	return info, nil
}

// StartAll starts every stored bot flagged for auto-start. Failures are
// logged per bot and do not stop the sweep.
func (s *Supervisor) StartAll(ctx context.Context) {
	cfgs, err := s.store.List()
	if err != nil {
		s.log.Error().Err(err).Msg("auto-start listing failed")
		return
	}
	for _, cfg := range cfgs {
		if !cfg.Settings.AutoStart {
			continue
		}
		if err := s.Start(ctx, cfg.ID); err != nil {
			s.log.Error().Err(err).Str("bot_id", cfg.ID).Str("name", cfg.Name).Msg("auto-start failed")
		}
	}
}

// StopAll takes every running bot offline. Used on shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.instances {
		if err := s.stopLocked(id); err != nil {
			s.log.Warn().Err(err).Str("bot_id", id).Msg("stop on shutdown")
		}
	}
}

// WatchChanges follows the store's change feed and hot-reloads running
// bots when their config is edited externally. Self-writes recorded in the
// guard are consumed silently. Blocks until ctx is done.
func (s *Supervisor) WatchChanges(ctx context.Context, interval time.Duration) {
	for change := range s.store.Watch(ctx, interval) {
		if s.guard.Suppress(change.BotID, change.Revision) {
			continue
		}
		if !s.IsRunning(change.BotID) {
			continue
		}
		s.log.Info().Str("bot_id", change.BotID).Int64("revision", change.Revision).Msg("external config change")
		if err := s.ReloadConfig(change.BotID); err != nil {
			s.log.Error().Err(err).Str("bot_id", change.BotID).Msg("hot reload failed")
		}
	}
}

// setStatus persists the observed status, recording the revision the
// write will produce before committing so the change watcher never sees
// it as an external edit.
func (s *Supervisor) setStatus(botID, status string) {
	cfg, err := s.store.Read(botID)
	if err != nil {
		s.log.Warn().Err(err).Str("bot_id", botID).Msg("status read")
		return
	}
	cfg.Status = status
	next := cfg.Revision + 1
	s.guard.Record(botID, next)
	if _, err := s.store.Write(botID, cfg); err != nil {
		s.guard.Forget(botID, next)
		s.log.Warn().Err(err).Str("bot_id", botID).Msg("status write")
	}
}

// reporter builds the engines' fan-out callback: counted for health,
// appended to the bot's durable log and published to live subscribers.
func (s *Supervisor) reporter(botID string, kind EventKind) func(msg string) {
	return func(msg string) {
		switch kind {
		case KindCommand:
			s.health.RecordCommand()
		case KindEvent:
			s.health.RecordEvent()
		}
		if err := s.store.AppendLog(botID, msg); err != nil {
			s.log.Warn().Err(err).Str("bot_id", botID).Msg("log append")
		}
		s.emit(botID, kind, msg)
	}
}

func (s *Supervisor) emit(botID string, kind EventKind, msg string) {
	s.notifier.Publish(Event{BotID: botID, Kind: kind, Message: msg})
}

// emitLog writes one line to the bot's persistent log and the live feed.
func (s *Supervisor) emitLog(botID, format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if err := s.store.AppendLog(botID, line); err != nil {
		s.log.Warn().Err(err).Str("bot_id", botID).Msg("log append")
	}
	s.emit(botID, KindLog, line)
}
