// Package controllerloop implements the Controller Loop (§4.5): the watch
// demultiplexer (the Build Index's single writer) plus the six cooperating
// reconcilers, run as an errgroup task tree under one cancellable context
// (§5, §9 "cooperative task tree with structured cancellation").
package controllerloop

import (
	"context"
	"sync"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/go-logr/logr"

	"github.com/sbidoul/runboat/pkg/build"
	"github.com/sbidoul/runboat/pkg/buildindex"
	"github.com/sbidoul/runboat/pkg/gateway"
	"github.com/sbidoul/runboat/pkg/phase"
)

// demux is the watch demultiplexer: the only component that writes to the
// Build Index (§5, "single-writer discipline"). It folds the Deployment
// watch stream (the workload carrying every annotation) with the Job watch
// stream (init/cleanup job completion) into derived Builds.
type demux struct {
	gw    *gateway.Gateway
	index *buildindex.Index
	log   logr.Logger

	mu             sync.Mutex
	deployments    map[string]*appsv1.Deployment
	initJobActive  map[string]bool
	cleanupSuccess map[string]bool
}

func newDemux(gw *gateway.Gateway, index *buildindex.Index, log logr.Logger) *demux {
	return &demux{
		gw:             gw,
		index:          index,
		log:            log.WithName("demux"),
		deployments:    make(map[string]*appsv1.Deployment),
		initJobActive:  make(map[string]bool),
		cleanupSuccess: make(map[string]bool),
	}
}

// run streams Deployment and Job events until ctx is canceled. Per §4.1,
// list_watch re-establishes itself on stream close — that resilience lives
// in gateway.WatchDeployments/WatchJobs; run just keeps folding whatever it
// receives into the index, including the synthetic ADDED events a re-list
// emits, so the index self-heals after a cursor-stale restart (P6).
func (d *demux) run(ctx context.Context) error {
	depEvents, err := d.gw.WatchDeployments(ctx, build.LabelBuild)
	if err != nil {
		return err
	}
	jobEvents, err := d.gw.WatchJobs(ctx, build.LabelBuild)
	if err != nil {
		return err
	}
	// Both initial List calls above already completed synchronously before
	// WatchDeployments/WatchJobs returned; the synthetic ADDED events they
	// queued are what the loop below drains first, so the index is ready
	// the moment the lists themselves succeeded (§4.3: "Unavailable ...
	// initial list not complete").
	d.index.MarkInitialListComplete()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-depEvents:
			if !ok {
				return nil
			}
			d.handleDeployment(ev)
		case ev, ok := <-jobEvents:
			if !ok {
				return nil
			}
			d.handleJob(ev)
		}
	}
}

func (d *demux) handleDeployment(ev gateway.DeploymentEvent) {
	name := ev.Deployment.Labels[build.LabelBuild]
	if name == "" {
		return
	}

	if ev.Type == watch.Deleted {
		d.mu.Lock()
		delete(d.deployments, name)
		delete(d.initJobActive, name)
		delete(d.cleanupSuccess, name)
		d.mu.Unlock()
		d.index.Delete(name)
		return
	}

	d.mu.Lock()
	d.deployments[name] = ev.Deployment
	initInFlight := d.initJobActive[name]
	cleanupDone := d.cleanupSuccess[name]
	d.mu.Unlock()

	b, err := deriveBuild(name, ev.Deployment, initInFlight, cleanupDone)
	if err != nil {
		d.log.Error(err, "failed to derive build from deployment", "build", name)
		return
	}
	d.index.Upsert(b)
}

func (d *demux) handleJob(ev gateway.JobEvent) {
	name := ev.Job.Labels[build.LabelBuild]
	if name == "" {
		return
	}
	kind := ev.Job.Labels[build.LabelJobKind]

	d.mu.Lock()
	switch {
	case ev.Type == watch.Deleted:
		if kind == build.JobKindInitialize {
			delete(d.initJobActive, name)
		}
	case kind == build.JobKindInitialize:
		d.initJobActive[name] = !jobTerminal(ev.Job)
	case kind == build.JobKindCleanup:
		if jobSucceeded(ev.Job) {
			d.cleanupSuccess[name] = true
		}
	}
	dep, haveDep := d.deployments[name]
	initInFlight := d.initJobActive[name]
	cleanupDone := d.cleanupSuccess[name]
	d.mu.Unlock()

	if !haveDep {
		return
	}
	b, err := deriveBuild(name, dep, initInFlight, cleanupDone)
	if err != nil {
		d.log.Error(err, "failed to derive build after job event", "build", name)
		return
	}
	d.index.Upsert(b)
}

func jobTerminal(j *batchv1.Job) bool {
	return j.Status.Succeeded > 0 || j.Status.Failed > 0
}

func jobSucceeded(j *batchv1.Job) bool {
	return j.Status.Succeeded > 0
}

func deriveBuild(name string, dep *appsv1.Deployment, initJobInFlight, cleanupSucceeded bool) (build.Build, error) {
	b, err := build.FromAnnotations(name, dep.Annotations)
	if err != nil {
		return build.Build{}, err
	}
	b.CreatedAt = dep.CreationTimestamp.Time
	b.InitJobInFlight = initJobInFlight
	b.CleanupSucceeded = cleanupSucceeded
	b.Deleted = dep.DeletionTimestamp != nil
	if dep.Spec.Replicas != nil {
		b.DesiredReplicas = *dep.Spec.Replicas
	}
	b.ObservedReplicas = dep.Status.ReadyReplicas
	b.Status = phase.Derive(b)
	return b, nil
}
