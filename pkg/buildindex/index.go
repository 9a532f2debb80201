// Package buildindex implements the Build Index (§4.3): an in-memory,
// concurrently-read map of every managed build keyed by name, incrementally
// maintained from the cluster watch stream, with the secondary orderings
// the Controller Loop's reconcilers need for their capacity queues.
package buildindex

import (
	"sort"
	"sync"

	"github.com/sbidoul/runboat/internal/apperrors"
	"github.com/sbidoul/runboat/pkg/build"
)

// Kind distinguishes the two events the index publishes to the Event Bus.
type Kind string

const (
	KindUpdate Kind = "upd"
	KindDelete Kind = "del"
)

// Event is one Build Index delta, published once per Upsert/Delete that
// actually changes observable state.
type Event struct {
	Kind  Kind
	Build build.Build
}

// Publisher receives index deltas. *eventbus.Bus implements this; tests can
// substitute a recording fake without importing the event bus package.
type Publisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// Index is the Build Index. The zero value is not usable; construct with
// New. Writes come only from the watch demultiplexer (single-writer
// discipline, §5); reads may come from any number of concurrent readers.
type Index struct {
	mu        sync.RWMutex
	builds    map[string]build.Build
	ready     bool
	publisher Publisher
}

// New constructs an empty, not-yet-ready Index. Pass nil for publisher to
// run without Event Bus wiring (used by controller-loop unit tests that
// only care about index state).
func New(publisher Publisher) *Index {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &Index{
		builds:    make(map[string]build.Build),
		publisher: publisher,
	}
}

// MarkInitialListComplete flips the index to "ready". Before this call,
// reads return Unavailable per §4.3 ("until then, reads block or return a
// starting sentinel") — this implementation chooses the non-blocking
// sentinel so a slow initial list never stalls HTTP handlers.
func (idx *Index) MarkInitialListComplete() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.ready = true
}

// Ready reports whether the initial list has completed.
func (idx *Index) Ready() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Upsert applies an ADDED/MODIFIED watch event. It replaces the stored
// Build and publishes an update only when the new derivation differs from
// what was stored, per §4.3.
func (idx *Index) Upsert(b build.Build) {
	idx.mu.Lock()
	old, existed := idx.builds[b.Name]
	changed := !existed || !old.Equal(b)
	if changed {
		idx.builds[b.Name] = b
	}
	idx.mu.Unlock()

	if changed {
		idx.publisher.Publish(Event{Kind: KindUpdate, Build: b})
	}
}

// Delete applies a DELETED watch event.
func (idx *Index) Delete(name string) {
	idx.mu.Lock()
	b, existed := idx.builds[name]
	if existed {
		delete(idx.builds, name)
	}
	idx.mu.Unlock()

	if existed {
		idx.publisher.Publish(Event{Kind: KindDelete, Build: b})
	}
}

// Get returns the Build with the given name. Returns Unavailable before the
// initial list completes, NotFound if no such build exists.
func (idx *Index) Get(name string) (build.Build, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if !idx.ready {
		return build.Build{}, apperrors.NewUnavailableError("index not ready")
	}
	b, ok := idx.builds[name]
	if !ok {
		return build.Build{}, apperrors.NewNotFoundError("build")
	}
	return b, nil
}

// List returns every build, in no particular order.
func (idx *Index) List() ([]build.Build, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if !idx.ready {
		return nil, apperrors.NewUnavailableError("index not ready")
	}
	out := make([]build.Build, 0, len(idx.builds))
	for _, b := range idx.builds {
		out = append(out, b)
	}
	return out, nil
}

// ListByKey returns every build matching the (repo, targetBranch, pr)
// filter, used by undeploy_all. Empty repo/targetBranch and nil pr mean
// "any" for that field, per build.Key.Matches.
func (idx *Index) ListByKey(repo, targetBranch string, pr *int) ([]build.Build, error) {
	all, err := idx.List()
	if err != nil {
		return nil, err
	}
	out := make([]build.Build, 0)
	for _, b := range all {
		if b.Key().Matches(repo, targetBranch, pr) {
			out = append(out, b)
		}
	}
	return out, nil
}

// ExistsByName reports whether a build with the given deterministic name is
// already present, used by deploy's duplicate-name guard (§4.4). Unlike
// Get, it does not check readiness; the command surface's Deploy checks
// Ready itself before calling it.
func (idx *Index) ExistsByName(name string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.builds[name]
	return ok
}

// TodoQueue returns builds with init_status=todo ordered by
// runboat/init-status-timestamp ascending (oldest first) — the
// initializer's admission queue.
func (idx *Index) TodoQueue() []build.Build {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]build.Build, 0)
	for _, b := range idx.builds {
		if b.InitStatus == build.InitTodo && !b.InitJobInFlight {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InitStatusTimestamp.Before(out[j].InitStatusTimestamp) })
	return out
}

// StartedQueue returns builds with status=started ordered by
// last_scaled_at ascending (oldest first) — the stopper's eviction queue.
func (idx *Index) StartedQueue() []build.Build {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]build.Build, 0)
	for _, b := range idx.builds {
		if b.Status == build.StatusStarted {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastScaledAt.Before(out[j].LastScaledAt) })
	return out
}

// UndeployCandidates returns builds with status in {stopped, failed}
// ordered by created_at ascending (oldest first) — the undeployer's
// eviction queue. Builds that are initializing, starting, started, or
// cleaning are never returned (§4.5).
func (idx *Index) UndeployCandidates() []build.Build {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]build.Build, 0)
	for _, b := range idx.builds {
		if b.Status == build.StatusStopped || b.Status == build.StatusFailed {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CountByStatus returns the number of builds currently at the given
// status, used for the fleet-wide capacity checks in §4.5.
func (idx *Index) CountByStatus(status build.Status) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := 0
	for _, b := range idx.builds {
		if b.Status == status {
			n++
		}
	}
	return n
}

// CountInitializing returns the number of builds with an init job
// currently in flight, the quantity max_initializing bounds (invariant I5).
func (idx *Index) CountInitializing() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := 0
	for _, b := range idx.builds {
		if b.InitJobInFlight {
			n++
		}
	}
	return n
}

// CountDeployed returns the number of non-cleaning builds, the quantity
// max_deployed bounds (invariant I7).
func (idx *Index) CountDeployed() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := 0
	for _, b := range idx.builds {
		if b.Status != build.StatusCleaning {
			n++
		}
	}
	return n
}
