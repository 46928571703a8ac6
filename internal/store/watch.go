package store

import (
	"context"
	"time"
)

// Change reports that a bot's stored configuration moved to a new revision.
type Change struct {
	BotID    string
	Revision int64
}

// Watch polls the store for revision changes and emits one Change per
// modified bot. The first poll seeds the baseline without emitting, so only
// edits made after Watch starts are reported. The channel closes when ctx
// is done.
func (s *Store) Watch(ctx context.Context, interval time.Duration) <-chan Change {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ch := make(chan Change, 16)

	go func() {
		defer close(ch)

		seen := make(map[string]int64)
		if revs, err := s.revisions(); err == nil {
			seen = revs
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			revs, err := s.revisions()
			if err != nil {
				continue
			}
			for id, rev := range revs {
				if prior, ok := seen[id]; !ok || rev != prior {
					select {
					case ch <- Change{BotID: id, Revision: rev}:
					case <-ctx.Done():
						return
					}
				}
			}
			seen = revs
		}
	}()

	return ch
}

func (s *Store) revisions() (map[string]int64, error) {
	var recs []BotRecord
	err := withRetry(func() error {
		return s.db.Select("id", "revision").Find(&recs).Error
	})
	if err != nil {
		return nil, err
	}
	revs := make(map[string]int64, len(recs))
	for _, r := range recs {
		revs[r.ID] = r.Revision
	}
	return revs, nil
}
