package cron

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/flemzord/relaybot/internal/access"
	"github.com/flemzord/relaybot/internal/fsutil"
)

const snapshotPrefix = "state-"

// SnapshotSource is the subset of access.Store read by SnapshotJob.
type SnapshotSource interface {
	Snapshot() access.State
}

// SnapshotJob writes a timestamped copy of the access state and keeps
// the newest Keep files.
type SnapshotJob struct {
	Source       SnapshotSource
	Dir          string
	Keep         int
	ScheduleExpr string
	Logger       *slog.Logger
	Now          func() time.Time
}

var _ Job = (*SnapshotJob)(nil)

// Name implements Job.
func (j *SnapshotJob) Name() string { return "state_snapshot" }

// Schedule implements Job.
func (j *SnapshotJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 */6 * * *"
}

// Run writes one snapshot and prunes old ones.
func (j *SnapshotJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cron: snapshot cancelled: %w", err)
	}
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}

	name := snapshotPrefix + now().UTC().Format("20060102T150405Z") + ".json"
	path := filepath.Join(j.Dir, name)
	if err := fsutil.WriteJSONAtomic(path, j.Source.Snapshot()); err != nil {
		return fmt.Errorf("cron: snapshot: %w", err)
	}

	removed, err := j.prune()
	if err != nil {
		return err
	}
	if j.Logger != nil {
		j.Logger.Info("cron: state snapshot written", "path", path, "pruned", removed)
	}
	return nil
}

func (j *SnapshotJob) prune() (int, error) {
	if j.Keep <= 0 {
		return 0, nil
	}
	snaps, err := ListSnapshots(j.Dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for len(snaps) > j.Keep {
		if err := os.Remove(snaps[0]); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("cron: prune %s: %w", snaps[0], err)
		}
		snaps = snaps[1:]
		removed++
	}
	return removed, nil
}

// ListSnapshots returns the snapshot files in dir, oldest first.
func ListSnapshots(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cron: list snapshots: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), snapshotPrefix) || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	slices.Sort(out)
	return out, nil
}

// PendingExpirer is the subset of conversation.Machine used by PendingExpiryJob.
type PendingExpirer interface {
	Expire(maxAge time.Duration) int
}

// PendingExpiryJob drops awaited inputs older than MaxAge.
type PendingExpiryJob struct {
	Machine PendingExpirer
	MaxAge  time.Duration
	Logger  *slog.Logger
}

var _ Job = (*PendingExpiryJob)(nil)

// Name implements Job.
func (j *PendingExpiryJob) Name() string { return "pending_expiry" }

// Schedule implements Job.
func (j *PendingExpiryJob) Schedule() string { return "* * * * *" }

// Run implements Job.
func (j *PendingExpiryJob) Run(_ context.Context) error {
	if j.MaxAge <= 0 {
		return nil
	}
	if n := j.Machine.Expire(j.MaxAge); n > 0 && j.Logger != nil {
		j.Logger.Debug("cron: expired pending prompts", "count", n)
	}
	return nil
}

// Pruner drops idle per-key state.
type Pruner interface {
	Prune() int
}

// LimiterPruneJob releases rate limiters of principals that went quiet.
type LimiterPruneJob struct {
	Limiters []Pruner
	Logger   *slog.Logger
}

var _ Job = (*LimiterPruneJob)(nil)

// Name implements Job.
func (j *LimiterPruneJob) Name() string { return "limiter_prune" }

// Schedule implements Job.
func (j *LimiterPruneJob) Schedule() string { return "*/10 * * * *" }

// Run implements Job.
func (j *LimiterPruneJob) Run(_ context.Context) error {
	total := 0
	for _, l := range j.Limiters {
		if l != nil {
			total += l.Prune()
		}
	}
	if total > 0 && j.Logger != nil {
		j.Logger.Debug("cron: pruned idle limiters", "count", total)
	}
	return nil
}
