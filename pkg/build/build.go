// Package build defines the central Build entity, its cluster-level
// persistence contract (labels, annotations, finalizer), and the derived
// Status the State Machine computes from it. All fields except Status must
// be recoverable from cluster state alone (§3 of the specification).
package build

import "time"

// Label and annotation keys that carry a Build's durable state on cluster
// resources. The workload (Deployment) carries every annotation; every other
// managed resource carries LabelBuild, and jobs also carry LabelJobKind.
const (
	LabelBuild   = "runboat/build"
	LabelJobKind = "runboat/job-kind"

	JobKindInitialize = "initialize"
	JobKindCleanup    = "cleanup"

	AnnotationRepo                = "runboat/repo"
	AnnotationTargetBranch        = "runboat/target-branch"
	AnnotationPR                  = "runboat/pr"
	AnnotationGitCommit           = "runboat/git-commit"
	AnnotationInitStatus          = "runboat/init-status"
	AnnotationInitStatusTimestamp = "runboat/init-status-timestamp"
	AnnotationLastScaled          = "runboat/last-scaled"
	AnnotationImage               = "runboat/image"
	AnnotationTemplatePath        = "runboat/template-path"

	FinalizerCleanup = "runboat/cleanup"
)

// InitStatus is the annotation-backed initialization state of a Build.
type InitStatus string

const (
	InitTodo      InitStatus = "todo"
	InitStarted   InitStatus = "started"
	InitSucceeded InitStatus = "succeeded"
	InitFailed    InitStatus = "failed"
)

// Status is the State Machine's derived, total classification of a Build.
// It is never stored — always recomputed from the fields below.
type Status string

const (
	StatusCleaning     Status = "cleaning"
	StatusTodo         Status = "todo"
	StatusInitializing Status = "initializing"
	StatusFailed       Status = "failed"
	StatusStopped      Status = "stopped"
	StatusStarted      Status = "started"
	StatusStarting     Status = "starting"
)

// AllStatuses enumerates every derived Status, used by callers (the
// metrics reconciler) that must report a count for every status including
// zero, rather than only the statuses currently present in the index.
var AllStatuses = []Status{
	StatusCleaning,
	StatusTodo,
	StatusInitializing,
	StatusFailed,
	StatusStopped,
	StatusStarted,
	StatusStarting,
}

// Key identifies the logical target a Build was deployed for: one
// repository, one target branch, optionally one pull request. Builds of the
// same Key for different commits are distinct Builds (distinguished by
// Name), but share the secondary index used by undeploy_all.
type Key struct {
	Repo         string
	TargetBranch string
	PR           *int
}

// Build is the in-memory, derived view of one managed group of cluster
// resources. Every field but Status is read back from the workload's
// annotations/labels and the observed replica count; Status is a pure
// function of the rest (see pkg/phase).
type Build struct {
	Name         string
	Repo         string
	TargetBranch string
	PR           *int
	CommitSHA    string

	Image        string
	TemplatePath string

	CreatedAt time.Time

	InitStatus          InitStatus
	InitStatusTimestamp time.Time
	// InitJobInFlight is true when an "initialize" Job for this build
	// exists and has not yet reached a terminal (succeeded/failed) state.
	InitJobInFlight bool

	DesiredReplicas  int32
	ObservedReplicas int32

	LastScaledAt time.Time

	// Deleted is true iff the workload carries a deletion timestamp.
	Deleted bool
	// CleanupSucceeded is true once the cleanup Job for a deleted build
	// has completed successfully (cleared only by full resource removal).
	CleanupSucceeded bool

	Status Status
}

// Key returns the secondary-index key this Build is filed under.
func (b Build) Key() Key {
	return Key{Repo: b.Repo, TargetBranch: b.TargetBranch, PR: b.PR}
}

// Equal compares two Builds by value. Build.PR is a pointer, so the
// default == on Build would compare pointer identity rather than the PR
// number itself; every derivation allocates a fresh *int, which would make
// the Build Index believe every re-derived build differs from the one it
// already has. Equal is what Upsert uses instead.
func (b Build) Equal(other Build) bool {
	if (b.PR == nil) != (other.PR == nil) {
		return false
	}
	if b.PR != nil && *b.PR != *other.PR {
		return false
	}
	bCopy, otherCopy := b, other
	bCopy.PR, otherCopy.PR = nil, nil
	return bCopy == otherCopy
}

// Matches reports whether the build belongs to the given (repo,
// targetBranch, pr) filter. An empty/nil field in the filter means "any".
func (k Key) Matches(repo, targetBranch string, pr *int) bool {
	if repo != "" && repo != k.Repo {
		return false
	}
	if targetBranch != "" && targetBranch != k.TargetBranch {
		return false
	}
	if pr != nil {
		if k.PR == nil || *k.PR != *pr {
			return false
		}
	}
	return true
}
