package runner

import (
	"context"
	"math/rand"
	"os"
	"time"

	"go.uber.org/zap"

	"rechub/internal/runner/client"
	"rechub/internal/runner/verify"
	"rechub/pkg/utils/logger"
)

// Poll pauses are drawn uniformly from this range so a fleet of
// runners does not hammer the server in lockstep.
const (
	minBackoff = 5 * time.Second
	maxBackoff = 25 * time.Second
)

// API is the server surface the loop needs. *client.Client satisfies
// it.
type API interface {
	Pending(ctx context.Context, os, cursor string, limit int) (*client.PendingPage, error)
	Download(ctx context.Context, item client.PendingItem, destDir string) (string, error)
	ReportRun(ctx context.Context, item client.PendingItem, os string, outcome *verify.Outcome) error
}

// Verifier plays back one recording. *verify.Invoker satisfies it.
type Verifier interface {
	Verify(ctx context.Context, recordingPath string) (*verify.Outcome, error)
}

// Loop polls the pending queue, verifies each recording and reports
// the outcome. A submission that makes any step blow up is
// quarantined for the rest of the process so one broken file cannot
// wedge the queue.
type Loop struct {
	api      API
	verifier Verifier
	os       string
	workDir  string
	pageSize int

	quarantined map[int64]bool

	// Injection points for tests.
	sleep   func(ctx context.Context, d time.Duration)
	backoff func() time.Duration
}

// NewLoop creates a runner loop. workDir holds downloaded recordings.
func NewLoop(api API, verifier Verifier, osLabel, workDir string) *Loop {
	return &Loop{
		api:         api,
		verifier:    verifier,
		os:          osLabel,
		workDir:     workDir,
		pageSize:    50,
		quarantined: make(map[int64]bool),
		sleep:       sleepCtx,
		backoff:     randomBackoff,
	}
}

// Run polls until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		processed, err := l.RunBatch(ctx)
		if err != nil {
			logger.Warn(ctx, "poll failed", zap.Error(err))
		} else if processed > 0 {
			logger.Info(ctx, "batch done", zap.Int("processed", processed))
		}

		l.sleep(ctx, l.backoff())
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// RunBatch walks the whole pending queue once and returns how many
// submissions it reported on. Quarantined submissions are skipped.
func (l *Loop) RunBatch(ctx context.Context) (int, error) {
	processed := 0
	cursor := ""
	for {
		page, err := l.api.Pending(ctx, l.os, cursor, l.pageSize)
		if err != nil {
			return processed, err
		}

		for _, item := range page.Items {
			if ctx.Err() != nil {
				return processed, ctx.Err()
			}
			if l.quarantined[item.ID] {
				continue
			}
			if err := l.processItem(ctx, item); err != nil {
				l.quarantined[item.ID] = true
				logger.Warn(ctx, "submission quarantined",
					zap.Int64("id", item.ID),
					zap.String("file", item.FileName),
					zap.Error(err))
				continue
			}
			processed++
		}

		if page.NextCursor == "" {
			return processed, nil
		}
		cursor = page.NextCursor
	}
}

// Quarantined reports whether a submission has been set aside.
func (l *Loop) Quarantined(id int64) bool {
	return l.quarantined[id]
}

func (l *Loop) processItem(ctx context.Context, item client.PendingItem) error {
	localPath, err := l.api.Download(ctx, item, l.workDir)
	if err != nil {
		return err
	}
	defer os.Remove(localPath)

	outcome, err := l.verifier.Verify(ctx, localPath)
	if err != nil {
		return err
	}
	return l.api.ReportRun(ctx, item, l.os, outcome)
}

func randomBackoff() time.Duration {
	return minBackoff + time.Duration(rand.Int63n(int64(maxBackoff-minBackoff)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
