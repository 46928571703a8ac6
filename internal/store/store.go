package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/botsmith/botsmith/internal/models"
)

var (
	// ErrNotFound is returned when no record exists for a bot id.
	ErrNotFound = errors.New("bot not found")
	// ErrConflict is returned by CompareAndSwap when the stored revision
	// no longer matches the caller's snapshot.
	ErrConflict = errors.New("revision conflict")
)

// BotRecord is the persisted form of a bot configuration. The document is
// the JSON-encoded models.BotConfig; name and status are denormalized for
// cheap listing.
type BotRecord struct {
	ID        string `gorm:"primaryKey;column:id"`
	Revision  int64  `gorm:"column:revision"`
	Name      string `gorm:"column:name"`
	Status    string `gorm:"column:status"`
	Document  string `gorm:"column:document"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (BotRecord) TableName() string {
	return "bot_records"
}

// LogLine is one append-only log entry for a bot.
type LogLine struct {
	ID        uint   `gorm:"primaryKey"`
	BotID     string `gorm:"column:bot_id;index"`
	Line      string `gorm:"column:line"`
	CreatedAt time.Time
}

func (LogLine) TableName() string {
	return "bot_logs"
}

// Store is the durable configuration store for bot records and their logs.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and runs migrations. Driver is
// "sqlite" or "postgres".
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.AutoMigrate(&BotRecord{}, &LogLine{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// withRetry retries transient database errors (sqlite lock contention)
// with a short backoff.
func withRetry(op func() error) error {
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		time.Sleep(time.Duration(50*(i+1)) * time.Millisecond)
	}
	return err
}

func isTransient(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

func decode(rec *BotRecord) (*models.BotConfig, error) {
	var cfg models.BotConfig
	if err := json.Unmarshal([]byte(rec.Document), &cfg); err != nil {
		return nil, fmt.Errorf("decoding bot %s: %w", rec.ID, err)
	}
	cfg.Revision = rec.Revision
	return &cfg, nil
}

// Read returns the configuration for a bot id.
func (s *Store) Read(id string) (*models.BotConfig, error) {
	var rec BotRecord
	err := withRetry(func() error {
		return s.db.Where("id = ?", id).First(&rec).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("bot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decode(&rec)
}

// Create stores a new bot with a generated id and returns the normalized
// record.
func (s *Store) Create(cfg *models.BotConfig) (*models.BotConfig, error) {
	return s.Write(uuid.NewString(), cfg)
}

// Write replaces the full configuration for a bot id, normalizing missing
// fields and bumping the revision. Last writer wins; the scheduler's
// dedup-state writes go through CompareAndSwap instead.
func (s *Store) Write(id string, cfg *models.BotConfig) (*models.BotConfig, error) {
	now := time.Now().UTC()
	stored := *cfg
	stored.Normalize(id, now)

	err := withRetry(func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			var prior BotRecord
			res := tx.Where("id = ?", id).First(&prior)
			switch {
			case res.Error == nil:
				stored.Revision = prior.Revision + 1
				stored.CreatedAt = decodeCreatedAt(&prior, stored.CreatedAt)
			case errors.Is(res.Error, gorm.ErrRecordNotFound):
				stored.Revision = 1
			default:
				return res.Error
			}

			doc, err := json.Marshal(&stored)
			if err != nil {
				return err
			}
			rec := BotRecord{
				ID:       id,
				Revision: stored.Revision,
				Name:     stored.Name,
				Status:   stored.Status,
				Document: string(doc),
			}
			return tx.Save(&rec).Error
		})
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func decodeCreatedAt(rec *BotRecord, fallback time.Time) time.Time {
	cfg, err := decode(rec)
	if err != nil || cfg.CreatedAt.IsZero() {
		return fallback
	}
	return cfg.CreatedAt
}

// CompareAndSwap writes cfg only if the stored revision still equals
// cfg.Revision, returning ErrConflict otherwise. On success the returned
// config carries the new revision.
func (s *Store) CompareAndSwap(id string, cfg *models.BotConfig) (*models.BotConfig, error) {
	now := time.Now().UTC()
	stored := *cfg
	expected := cfg.Revision
	stored.Normalize(id, now)
	stored.Revision = expected + 1

	doc, err := json.Marshal(&stored)
	if err != nil {
		return nil, err
	}

	err = withRetry(func() error {
		res := s.db.Model(&BotRecord{}).
			Where("id = ? AND revision = ?", id, expected).
			Updates(map[string]any{
				"revision": stored.Revision,
				"name":     stored.Name,
				"status":   stored.Status,
				"document": string(doc),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bot %s: %w", id, err)
	}
	return &stored, nil
}

// List returns every stored bot configuration.
func (s *Store) List() ([]*models.BotConfig, error) {
	var recs []BotRecord
	err := withRetry(func() error {
		return s.db.Order("created_at").Find(&recs).Error
	})
	if err != nil {
		return nil, err
	}
	out := make([]*models.BotConfig, 0, len(recs))
	for i := range recs {
		cfg, err := decode(&recs[i])
		if err != nil {
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Delete removes a bot record and its logs.
func (s *Store) Delete(id string) error {
	return withRetry(func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			res := tx.Where("id = ?", id).Delete(&BotRecord{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("bot %s: %w", id, ErrNotFound)
			}
			return tx.Where("bot_id = ?", id).Delete(&LogLine{}).Error
		})
	})
}

// AppendLog appends one line to a bot's durable log.
func (s *Store) AppendLog(id, line string) error {
	return withRetry(func() error {
		return s.db.Create(&LogLine{BotID: id, Line: line}).Error
	})
}

// Logs returns the most recent n log lines for a bot, oldest first.
func (s *Store) Logs(id string, n int) ([]string, error) {
	if n <= 0 {
		n = 100
	}
	var lines []LogLine
	err := withRetry(func() error {
		return s.db.Where("bot_id = ?", id).
			Order("id DESC").
			Limit(n).
			Find(&lines).Error
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, len(lines))
	for i := range lines {
		l := lines[len(lines)-1-i]
		out[i] = fmt.Sprintf("[%s] %s", l.CreatedAt.UTC().Format(time.RFC3339), l.Line)
	}
	return out, nil
}
