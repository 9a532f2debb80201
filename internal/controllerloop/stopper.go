package controllerloop

import (
	"context"
	"time"

	"github.com/sbidoul/runboat/pkg/build"
)

// reconcileStopper evicts the oldest-scaled started builds until
// count(status=started) <= max_started (§4.5, invariant I6, property P3).
func (l *Loop) reconcileStopper(ctx context.Context) error {
	over := l.index.CountByStatus(build.StatusStarted) - l.opts.MaxStarted
	if over <= 0 {
		return nil
	}

	queue := l.index.StartedQueue() // oldest last_scaled_at first
	for i := 0; i < len(queue) && i < over; i++ {
		if err := l.stopOne(ctx, queue[i]); err != nil {
			l.log.Error(err, "stopper failed to stop build", "build", queue[i].Name)
		}
	}
	return nil
}

func (l *Loop) stopOne(ctx context.Context, b build.Build) error {
	if err := l.gw.Scale(ctx, b.Name, 0); err != nil {
		return err
	}
	return l.gw.PatchAnnotations(ctx, kindForBuild, b.Name, map[string]*string{
		build.AnnotationLastScaled: strPtr(time.Now().UTC().Format(time.RFC3339Nano)),
	})
}
