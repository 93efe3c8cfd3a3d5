package services

import (
	"context"
	"log/slog"
	"time"
)

// Purger deletes rows whose expiry has passed.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Janitor 定时清理过期的注册验证码和重置令牌
type Janitor struct {
	Interval time.Duration
	Logger   *slog.Logger
	targets  map[string]Purger
}

func NewJanitor(interval time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{Interval: interval, Logger: logger, targets: map[string]Purger{}}
}

func (j *Janitor) Add(name string, p Purger) *Janitor {
	j.targets[name] = p
	return j
}

// RunOnce purges every target and returns the total removed.
func (j *Janitor) RunOnce(ctx context.Context) int64 {
	var total int64
	for name, p := range j.targets {
		n, err := p.PurgeExpired(ctx)
		if err != nil {
			j.Logger.ErrorContext(ctx, "purge expired failed", "target", name, "error", err)
			continue
		}
		if n > 0 {
			j.Logger.InfoContext(ctx, "purged expired rows", "target", name, "count", n)
		}
		total += n
	}
	return total
}

// Start runs immediately, then on every tick until ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(j.Interval)
		defer ticker.Stop()

		j.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.RunOnce(ctx)
			}
		}
	}()
}
