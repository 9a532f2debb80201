package controllerloop

import (
	"context"
	"sync"

	"github.com/sbidoul/runboat/pkg/build"
	"github.com/sbidoul/runboat/pkg/render"
)

// maxCleanupRetries bounds how many times the deletion driver will
// re-apply a failed cleanup job before escalating (§4.5: "failure → retry
// with backoff (bounded), then escalate as an operational error").
const maxCleanupRetries = 3

// cleanupAttempts tracks, in memory, how many cleanup jobs have been
// applied per build. It is not part of the Build Index: retry counts are
// reconciler-local bookkeeping, not cluster-observable truth, and are
// lost (harmlessly — the cluster still reflects ground truth) on a
// controller restart.
type cleanupAttempts struct {
	mu       sync.Mutex
	attempts map[string]int
	escalated map[string]bool
}

func newCleanupAttempts() *cleanupAttempts {
	return &cleanupAttempts{attempts: make(map[string]int), escalated: make(map[string]bool)}
}

// reconcileDeletionDriver applies the cleanup bundle for every workload
// with a deletion timestamp and no successful cleanup job yet (§4.5).
func (l *Loop) reconcileDeletionDriver(ctx context.Context) error {
	all, err := l.index.List()
	if err != nil {
		return err
	}
	for _, b := range all {
		if !b.Deleted || b.CleanupSucceeded {
			continue
		}
		if err := l.driveCleanup(ctx, b); err != nil {
			l.log.Error(err, "deletion driver failed for build", "build", b.Name)
		}
	}
	return nil
}

func (l *Loop) driveCleanup(ctx context.Context, b build.Build) error {
	succeeded, determined, err := l.gw.CleanupJobOutcome(ctx, b.Name)
	if err != nil {
		return err
	}
	if succeeded {
		return nil // the job reaper takes it from here
	}

	l.cleanup.mu.Lock()
	attempted := l.cleanup.attempts[b.Name]
	escalated := l.cleanup.escalated[b.Name]
	l.cleanup.mu.Unlock()

	if escalated {
		return nil
	}

	if !determined {
		if attempted > 0 {
			return nil // a cleanup job already exists and hasn't terminated yet
		}
		return l.applyCleanupBundle(ctx, b)
	}

	// determined && !succeeded: the most recent cleanup job failed.
	if attempted > maxCleanupRetries {
		l.cleanup.mu.Lock()
		l.cleanup.escalated[b.Name] = true
		l.cleanup.mu.Unlock()
		if l.metrics != nil {
			l.metrics.CleanupEscalations.Inc()
		}
		l.log.Error(nil, "cleanup job exhausted retries, escalating", "build", b.Name, "attempts", attempted)
		return nil
	}
	return l.applyCleanupBundle(ctx, b)
}

func (l *Loop) applyCleanupBundle(ctx context.Context, b build.Build) error {
	vars := render.StandardVars(b, l.opts.BuildDomain, mergeAll(l.opts.BuildEnv, l.opts.BuildSecretEnv, l.opts.BuildTemplateVars))
	if err := l.applyMode(ctx, b, "cleanup", vars); err != nil {
		return err
	}
	l.cleanup.mu.Lock()
	l.cleanup.attempts[b.Name]++
	l.cleanup.mu.Unlock()
	return nil
}
