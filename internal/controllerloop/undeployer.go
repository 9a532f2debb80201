package controllerloop

import (
	"context"
)

// reconcileUndeployer evicts the oldest stopped|failed builds until
// count(total non-cleaning) <= max_deployed (§4.5, invariant I7, property
// P3). It never touches initializing or started builds.
func (l *Loop) reconcileUndeployer(ctx context.Context) error {
	over := l.index.CountDeployed() - l.opts.MaxDeployed
	if over <= 0 {
		return nil
	}

	candidates := l.index.UndeployCandidates() // oldest created_at first
	for i := 0; i < len(candidates) && i < over; i++ {
		b := candidates[i]
		if err := l.gw.Scale(ctx, b.Name, 0); err != nil {
			l.log.Error(err, "undeployer failed to scale build to 0 before deletion", "build", b.Name)
			continue
		}
		if err := l.gw.DeleteWorkload(ctx, b.Name); err != nil {
			l.log.Error(err, "undeployer failed to mark build for deletion", "build", b.Name)
		}
	}
	return nil
}
