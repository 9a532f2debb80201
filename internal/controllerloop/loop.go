package controllerloop

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/sbidoul/runboat/internal/metrics"
	"github.com/sbidoul/runboat/pkg/build"
	"github.com/sbidoul/runboat/pkg/buildindex"
	"github.com/sbidoul/runboat/pkg/eventbus"
	"github.com/sbidoul/runboat/pkg/gateway"
)

// Options configures the Controller Loop's capacity limits and rendering
// context (§6's max_initializing/max_started/max_deployed, build_domain,
// env/secret/template var bags).
type Options struct {
	BuildNamespace    string
	BuildDomain       string
	KubefilesBaseDir  string
	BuildEnv          map[string]string
	BuildSecretEnv    map[string]string
	BuildTemplateVars map[string]string

	MaxInitializing int
	MaxStarted      int
	MaxDeployed     int

	// ReconcileInterval is the periodic tick each reconciler also runs on,
	// independent of Build Index change notifications (§4.5, "driven by
	// both periodic ticks ... and Build Index change notifications").
	ReconcileInterval time.Duration
}

// Loop owns the watch demultiplexer and the six reconcilers, run as one
// errgroup task tree (§5, §9).
type Loop struct {
	gw      *gateway.Gateway
	index   *buildindex.Index
	bus     *eventbus.Bus
	metrics *metrics.Registry
	log     logr.Logger
	opts    Options
	demux   *demux
	cleanup *cleanupAttempts
}

// New constructs a Loop. The demultiplexer is the Build Index's single
// writer; gw and bus are shared with the Command Surface and REST layer.
func New(gw *gateway.Gateway, index *buildindex.Index, bus *eventbus.Bus, reg *metrics.Registry, log logr.Logger, opts Options) *Loop {
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = 10 * time.Second
	}
	return &Loop{
		gw:      gw,
		index:   index,
		bus:     bus,
		metrics: reg,
		log:     log.WithName("controllerloop"),
		opts:    opts,
		demux:   newDemux(gw, index, log),
		cleanup: newCleanupAttempts(),
	}
}

// Run starts the demultiplexer and every reconciler and blocks until ctx is
// canceled or one of them returns a non-nil error other than
// context.Canceled. Per §7, "a reconciler's exception is logged and the
// reconciler restarts; it does not tear down the process" — runReconciler
// wraps each reconciler accordingly, so only the demultiplexer's failure
// (an unrecoverable watch setup error) actually fails the group.
func (l *Loop) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return l.demux.run(ctx) })

	reconcilers := map[string]func(context.Context) error{
		"initializer":     l.reconcileInitializer,
		"job-reaper":      l.reconcileJobReaper,
		"deletion-driver": l.reconcileDeletionDriver,
		"stopper":         l.reconcileStopper,
		"undeployer":      l.reconcileUndeployer,
		"metrics":         l.reconcileMetrics,
	}
	for name, fn := range reconcilers {
		name, fn := name, fn
		g.Go(func() error {
			l.runReconciler(ctx, name, fn)
			return nil
		})
	}

	return g.Wait()
}

// runReconciler ticks fn on a timer and on every Event Bus notification,
// restarting fn's panics/errors without propagating them — a single
// reconciler misbehaving never tears down the rest of the loop.
func (l *Loop) runReconciler(ctx context.Context, name string, fn func(context.Context) error) {
	ticker := time.NewTicker(l.opts.ReconcileInterval)
	defer ticker.Stop()

	var events <-chan buildindex.Event
	var unsubscribe func()
	if l.bus != nil {
		events, unsubscribe = l.bus.Subscribe()
		defer func() { unsubscribe() }()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.runOnce(ctx, name, fn)
		case _, ok := <-events:
			if !ok {
				events, unsubscribe = l.bus.Subscribe()
				continue
			}
			l.runOnce(ctx, name, fn)
		}
	}
}

// reconcileMetrics is the sixth reconciler: it reports a full Build Index
// snapshot and the current Event Bus subscriber count to Prometheus on the
// same tick/notification cadence as every other reconciler (§4.5), rather
// than a bespoke polling goroutine.
func (l *Loop) reconcileMetrics(ctx context.Context) error {
	if l.metrics == nil {
		return nil
	}
	counts := make(map[string]int, len(build.AllStatuses))
	for _, status := range build.AllStatuses {
		counts[string(status)] = l.index.CountByStatus(status)
	}
	l.metrics.ObserveBuildCounts(counts)
	if l.bus != nil {
		l.metrics.EventBusSubscribers.Set(float64(l.bus.SubscriberCount()))
	}
	return nil
}

func (l *Loop) runOnce(ctx context.Context, name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error(nil, "reconciler panicked, restarting", "reconciler", name, "panic", r)
		}
	}()

	start := time.Now()
	err := fn(ctx)
	if l.metrics != nil {
		l.metrics.ReconcilerLoopSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	if err != nil && ctx.Err() == nil {
		l.log.Error(err, "reconciler pass failed", "reconciler", name)
	}
}
