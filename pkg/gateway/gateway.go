// Package gateway implements the Cluster Gateway (§4.1): the controller's
// only point of contact with the Kubernetes API, wrapping a typed
// client-go clientset (for the operations the watch/scale/finalizer/log
// paths need) and a dynamic client (for apply_bundle/delete_by_label,
// which must operate across every kind a rendered bundle can contain).
//
// Every write, job-outcome read and log stream is routed through a circuit
// breaker so a degraded API server trips the breaker once instead of every
// reconciler separately exhausting its own backoff budget against it (§5,
// "Blocking I/O ... must not stall the loop"). The watch streams and
// ReadLog's pod listing call the API server directly.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"

	"github.com/sbidoul/runboat/internal/metrics"
)

// Kind enumerates the resource kinds the Cluster Gateway manages: the kinds
// a rendered bundle may contain.
type Kind string

const (
	KindDeployment Kind = "Deployment"
	KindJob        Kind = "Job"
	KindService    Kind = "Service"
	KindIngress    Kind = "Ingress"
	KindPVC        Kind = "PersistentVolumeClaim"
)

// gvrFor maps the kinds the controller manages onto their GroupVersionResource,
// a small static table standing in for full API discovery since the set of
// kinds a build manifests is fixed (§1: "a scalable workload, a one-shot
// initialization job, a persistent volume, a service, an ingress, and a
// one-shot cleanup job").
var gvrFor = map[Kind]schema.GroupVersionResource{
	KindDeployment: {Group: "apps", Version: "v1", Resource: "deployments"},
	KindJob:        {Group: "batch", Version: "v1", Resource: "jobs"},
	KindService:    {Group: "", Version: "v1", Resource: "services"},
	KindIngress:    {Group: "networking.k8s.io", Version: "v1", Resource: "ingresses"},
	KindPVC:        {Group: "", Version: "v1", Resource: "persistentvolumeclaims"},
}

// managedKinds is every kind delete_by_label must sweep.
var managedKinds = []Kind{KindDeployment, KindJob, KindService, KindIngress, KindPVC}

// Gateway is the Cluster Gateway. Construct with New.
type Gateway struct {
	clientset kubernetes.Interface
	dynamic   dynamic.Interface
	namespace string
	log       logr.Logger
	breaker   *gobreaker.CircuitBreaker
	backoff   wait.Backoff
	metrics   *metrics.Registry
}

// Options configures retry/backoff and circuit breaker behavior. The zero
// value is sane for production use.
type Options struct {
	// MaxBackoff bounds the exponential retry delay for transient errors
	// (§4.1: "retries transient errors with bounded exponential backoff,
	// e.g. up to 30s").
	MaxBackoff time.Duration
	// BreakerName identifies this breaker in metrics/logs when a process
	// runs more than one Gateway (e.g. in tests).
	BreakerName string
	// Metrics, when non-nil, records GatewayCallSeconds/GatewayRetriesTotal
	// for every operation withRetry runs.
	Metrics *metrics.Registry
}

// New constructs a Gateway bound to one namespace.
func New(clientset kubernetes.Interface, dyn dynamic.Interface, namespace string, log logr.Logger, opts Options) *Gateway {
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.BreakerName == "" {
		opts.BreakerName = "cluster-gateway"
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.BreakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Gateway{
		clientset: clientset,
		dynamic:   dyn,
		namespace: namespace,
		log:       log.WithName("gateway"),
		breaker:   breaker,
		backoff: wait.Backoff{
			Duration: 250 * time.Millisecond,
			Factor:   2.0,
			Jitter:   0.1,
			Steps:    8,
			Cap:      opts.MaxBackoff,
		},
		metrics: opts.Metrics,
	}
}

// withRetry runs fn, retrying transient errors (as classified by
// isRetryable) with bounded exponential backoff, and trips fn's call
// through the circuit breaker so repeated failures fail fast for
// subsequent callers instead of each queuing its own backoff against a
// downed API server. Every call is timed into GatewayCallSeconds and every
// retry past the first attempt is counted into GatewayRetriesTotal, both
// labeled by op.
func (g *Gateway) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	attempt := 0
	err := wait.ExponentialBackoffWithContext(ctx, g.backoff, func(ctx context.Context) (bool, error) {
		attempt++
		if attempt > 1 && g.metrics != nil {
			g.metrics.GatewayRetriesTotal.WithLabelValues(op).Inc()
		}
		_, err := g.breaker.Execute(func() (any, error) {
			return nil, fn(ctx)
		})
		if err == nil {
			return true, nil
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			g.log.V(1).Info("circuit breaker open, deferring retry", "op", op)
			return false, nil
		}
		if !isRetryable(err) {
			return false, err
		}
		g.log.V(1).Info("transient cluster error, retrying", "op", op, "attempt", attempt, "error", err.Error())
		return false, nil
	})
	if g.metrics != nil {
		g.metrics.GatewayCallSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("gateway: %s: %w", op, err)
	}
	return nil
}

func gvrFromKind(kind Kind) (schema.GroupVersionResource, error) {
	gvr, ok := gvrFor[kind]
	if !ok {
		return schema.GroupVersionResource{}, fmt.Errorf("unknown resource kind %q", kind)
	}
	return gvr, nil
}
