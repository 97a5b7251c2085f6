package config

import (
	"context"
	"os"
	"time"
)

// WatchSupervisorFile polls the supervisor config file's mtime on the given
// interval and calls onChange whenever its mutable station fields change.
// The teacher's dependency set carries no filesystem-notification library,
// so this follows the simplest idiomatic alternative: an mtime poll.
func WatchSupervisorFile(ctx context.Context, cfg *Config, path string, interval time.Duration, onChange func(*Config)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()
			changed, err := RefreshMutableStationFields(cfg, path)
			if err == nil && changed && onChange != nil {
				onChange(cfg)
			}
		}
	}
}
