package integrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/botsmith/botsmith/internal/models"
)

// ErrNoLibrary is returned when an integration's service has no media
// library backing announcement scheduling.
var ErrNoLibrary = errors.New("service has no media library")

// MediaItem is one entry of a media catalog in the shape the announcement
// scheduler groups and posts. ShowID/ShowTitle are set for episodes so
// multiple episodes of one show collapse into a single announcement unit.
type MediaItem struct {
	ID        string
	Type      string // episode, movie, or anything else
	Title     string
	Summary   string
	Year      int
	Season    int
	Episode   int
	ShowID    string
	ShowTitle string
	ShowThumb string
	Thumb     string
	AddedAt   time.Time
}

const (
	MediaEpisode = "episode"
	MediaMovie   = "movie"
)

// Library is the catalog surface the announcement scheduler polls.
// ExternalLink resolves a public reference URL (IMDb) for an item;
// it is best-effort and returns "" when none exists.
type Library interface {
	RecentlyAdded(ctx context.Context) ([]MediaItem, error)
	ExternalLink(ctx context.Context, itemID string) string
}

// LibraryFor returns the media library behind an integration, or
// ErrNoLibrary for services that cannot be polled for recently-added
// content.
func LibraryFor(in *models.Integration) (Library, error) {
	switch in.Service {
	case models.ServicePlex:
		return &plexLibrary{client: NewClient(in), integ: in}, nil
	default:
		return nil, fmt.Errorf("%s: %w", in.Service, ErrNoLibrary)
	}
}
