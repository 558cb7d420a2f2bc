package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultSweepInterval = 30 * time.Minute
	DefaultFileTTL       = 6 * time.Hour
)

// StartSweeper removes scratch files left behind by runs that never reached
// Release, e.g. after a crash.
func (s *Store) StartSweeper(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if ttl <= 0 {
		ttl = DefaultFileTTL
	}
	go s.sweepLoop(ctx, interval, ttl)
}

func (s *Store) sweepLoop(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, err := s.sweep(time.Now().Add(-ttl)); err != nil {
				s.logger.Warn("sweep scratch dir failed", "error", err)
			} else if removed > 0 {
				s.logger.Info("swept stale temp files", "removed", removed)
			}
		}
	}
}

// sweep deletes store-owned files last modified before cutoff.
func (s *Store) sweep(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), filePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove stale temp file failed", "name", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
