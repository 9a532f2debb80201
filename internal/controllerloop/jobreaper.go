package controllerloop

import (
	"context"
	"time"

	"github.com/sbidoul/runboat/pkg/build"
	"github.com/sbidoul/runboat/pkg/render"
)

// reconcileJobReaper reacts to terminal init/cleanup jobs (§4.5). The
// demultiplexer already folds job terminal state into InitJobInFlight and
// CleanupSucceeded; this reconciler drives the *next* mutation those
// terminal states imply — it is idempotent, so re-running it against a
// build already past the transition (e.g. init_status already succeeded)
// is a cheap no-op.
func (l *Loop) reconcileJobReaper(ctx context.Context) error {
	all, err := l.index.List()
	if err != nil {
		return err
	}
	for _, b := range all {
		if err := l.reapOne(ctx, b); err != nil {
			l.log.Error(err, "job reaper failed for build", "build", b.Name)
		}
	}
	return nil
}

func (l *Loop) reapOne(ctx context.Context, b build.Build) error {
	switch {
	case b.InitStatus == build.InitStarted && !b.InitJobInFlight:
		// The init job finished; the demux only flips InitJobInFlight, it
		// does not know success from failure, so settleInitJob asks the
		// Gateway for the job's outcome (see below).
		return l.settleInitJob(ctx, b)
	case b.Deleted && b.CleanupSucceeded:
		return l.finishCleanup(ctx, b)
	}
	return nil
}

// settleInitJob is invoked once the init job has left InitJobInFlight with
// InitStatus still "started" — i.e. it reached a terminal state. The demux
// does not carry the job's success/failure verdict into the Build itself
// (only "in flight or not"), so the reaper re-derives it directly from the
// job status via the Gateway rather than guessing; a job whose outcome
// cannot yet be determined (e.g. the watch event for job completion has not
// arrived) is left for the next pass.
func (l *Loop) settleInitJob(ctx context.Context, b build.Build) error {
	succeeded, determined, err := l.gw.InitJobOutcome(ctx, b.Name)
	if err != nil {
		return err
	}
	if !determined {
		return nil
	}

	if succeeded {
		if err := l.gw.PatchAnnotations(ctx, kindForBuild, b.Name, map[string]*string{
			build.AnnotationInitStatus: strPtr(string(build.InitSucceeded)),
		}); err != nil {
			return err
		}
		vars := render.StandardVars(b, l.opts.BuildDomain, mergeAll(l.opts.BuildEnv, l.opts.BuildSecretEnv, l.opts.BuildTemplateVars))
		if err := l.applyMode(ctx, b, "start", vars); err != nil {
			return err
		}
		now := time.Now()
		if err := l.gw.PatchAnnotations(ctx, kindForBuild, b.Name, map[string]*string{
			build.AnnotationLastScaled: strPtr(now.UTC().Format(time.RFC3339Nano)),
		}); err != nil {
			return err
		}
		return l.gw.Scale(ctx, b.Name, 1)
	}

	if err := l.gw.PatchAnnotations(ctx, kindForBuild, b.Name, map[string]*string{
		build.AnnotationInitStatus: strPtr(string(build.InitFailed)),
	}); err != nil {
		return err
	}
	return l.gw.Scale(ctx, b.Name, 0)
}

// finishCleanup runs once a deleted build's cleanup job has succeeded: it
// removes every resource carrying the build's label and then the
// finalizer, per §3's "destroyed by the job reaper after the cleanup job
// succeeds" and §4.5's "success → delete_by_label(name) then
// remove_finalizer(name)".
func (l *Loop) finishCleanup(ctx context.Context, b build.Build) error {
	if err := l.gw.DeleteByLabel(ctx, b.Name); err != nil {
		return err
	}
	return l.gw.RemoveFinalizer(ctx, b.Name, build.FinalizerCleanup)
}
