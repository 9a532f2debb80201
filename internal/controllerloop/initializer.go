package controllerloop

import (
	"context"
	"time"

	"github.com/sbidoul/runboat/pkg/build"
	"github.com/sbidoul/runboat/pkg/render"
)

// reconcileInitializer admits queued builds up to max_initializing (§4.5,
// invariant I5/P1). Admission is best-effort: patching init-status acts as
// a lease, so a conflicting concurrent patch (another controller instance,
// §5 "tolerates temporary duplication") simply yields that build to the
// next pass rather than erroring the reconciler.
func (l *Loop) reconcileInitializer(ctx context.Context) error {
	inFlight := l.index.CountInitializing()
	budget := l.opts.MaxInitializing - inFlight
	if budget <= 0 {
		return nil
	}

	queue := l.index.TodoQueue()
	for i := 0; i < len(queue) && budget > 0; i++ {
		b := queue[i]
		if err := l.admitInit(ctx, b); err != nil {
			l.log.Error(err, "failed to admit build for initialization", "build", b.Name)
			continue
		}
		budget--
	}
	return nil
}

func (l *Loop) admitInit(ctx context.Context, b build.Build) error {
	now := time.Now()
	err := l.gw.PatchAnnotations(ctx, kindForBuild, b.Name, map[string]*string{
		build.AnnotationInitStatus:          strPtr(string(build.InitStarted)),
		build.AnnotationInitStatusTimestamp: strPtr(now.UTC().Format(time.RFC3339Nano)),
	})
	if err != nil {
		return err
	}

	vars := render.StandardVars(b, l.opts.BuildDomain, mergeAll(l.opts.BuildEnv, l.opts.BuildSecretEnv, l.opts.BuildTemplateVars))
	return l.applyMode(ctx, b, "initialization", vars)
}
