// Package phase is the State Machine (§4.4): a total, side-effect-free
// function from a Build's raw cluster-derived fields to its Status, plus
// the legality checks the Command Surface consults before issuing a
// mutation. Modeled on the teacher's phase-state-machine convention
// (IsTerminal/CanTransition as pure functions over a typed enum) rather
// than a method per state.
package phase

import "github.com/sbidoul/runboat/pkg/build"

// Derive computes a Build's Status from its raw fields, per the table in
// §4.4. It is a total function: every reachable combination of fields maps
// to exactly one Status.
func Derive(b build.Build) build.Status {
	if b.Deleted && !b.CleanupSucceeded {
		return build.StatusCleaning
	}
	switch b.InitStatus {
	case build.InitTodo:
		if b.InitJobInFlight {
			return build.StatusInitializing
		}
		return build.StatusTodo
	case build.InitStarted:
		return build.StatusInitializing
	case build.InitFailed:
		return build.StatusFailed
	case build.InitSucceeded:
		if b.DesiredReplicas == 0 {
			return build.StatusStopped
		}
		if b.ObservedReplicas >= 1 {
			return build.StatusStarted
		}
		return build.StatusStarting
	default:
		// An init job landed mid-flight (annotation patch not yet
		// observed) is treated the same as the explicit "started" case.
		if b.InitJobInFlight {
			return build.StatusInitializing
		}
		return build.StatusTodo
	}
}

// IsTerminal reports whether status represents a build that will not
// change on its own without an external command or job completion. The
// undeployer does not use it: its candidates are CanEvictAsUndeployed's
// stopped|failed builds, which excludes started.
func IsTerminal(status build.Status) bool {
	switch status {
	case build.StatusStopped, build.StatusFailed, build.StatusStarted:
		return true
	default:
		return false
	}
}

// CanStart reports whether start(name) is legal (or a no-op) for the given
// status, per §4.4's command table.
func CanStart(status build.Status) bool {
	switch status {
	case build.StatusStopped, build.StatusFailed, build.StatusTodo, build.StatusInitializing:
		return true
	default:
		return false
	}
}

// CanStop reports whether stop(name) is legal. Stop is defined for every
// status in §4.4 ("scale to 0"); it is simply a no-op for builds that are
// not currently scaled up.
func CanStop(status build.Status) bool {
	return true
}

// CanReset reports whether reset(name) is legal. Like stop, reset is
// always legal — it forces re-initialization regardless of current phase.
func CanReset(status build.Status) bool {
	return true
}

// CanUndeploy reports whether undeploy(name) is legal. A build already
// cleaning is a no-op, not an error (idempotence, §4.4/P7).
func CanUndeploy(status build.Status) bool {
	return true
}

// CanEvictAsStopped reports whether the stopper may pick this build as an
// eviction candidate: only status=started builds count toward max_started
// (§4.5).
func CanEvictAsStopped(status build.Status) bool {
	return status == build.StatusStarted
}

// CanEvictAsUndeployed reports whether the undeployer may pick this build:
// only stopped|failed builds are eligible, never initializing or started
// (§4.5, "Never evicts initializing or started").
func CanEvictAsUndeployed(status build.Status) bool {
	return status == build.StatusStopped || status == build.StatusFailed
}

// CountsTowardDeployed reports whether a build counts against max_deployed
// (§4.5's undeployer loop condition "non-cleaning").
func CountsTowardDeployed(status build.Status) bool {
	return status != build.StatusCleaning
}
