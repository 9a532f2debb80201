package gateway

import (
	"context"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
)

// DeploymentEvent is one delta on the workload Deployments the watch
// demultiplexer folds into the Build Index.
type DeploymentEvent struct {
	Type       watch.EventType
	Deployment *appsv1.Deployment
}

// JobEvent is one delta on the init/cleanup Jobs.
type JobEvent struct {
	Type watch.EventType
	Job  *batchv1.Job
}

const relistBackoff = 2 * time.Second

// WatchDeployments streams every ADDED/MODIFIED/DELETED event for
// Deployments matching labelSelector, starting with a full list (emitted as
// synthetic ADDED events) per §4.1's list_watch contract. The returned
// channel is closed when ctx is canceled. Internally the watch resumes from
// its last resourceVersion on a transient disconnect, and falls back to a
// full re-list (again emitting synthetic ADDEDs, so the Build Index
// self-heals from a stale cursor) when the API server reports the
// resourceVersion has expired.
func (g *Gateway) WatchDeployments(ctx context.Context, labelSelector string) (<-chan DeploymentEvent, error) {
	out := make(chan DeploymentEvent, 64)
	client := g.clientset.AppsV1().Deployments(g.namespace)

	list, err := client.List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		close(out)
		return nil, err
	}
	go func() {
		defer close(out)
		for i := range list.Items {
			item := list.Items[i]
			select {
			case out <- DeploymentEvent{Type: watch.Added, Deployment: &item}:
			case <-ctx.Done():
				return
			}
		}

		resourceVersion := list.ResourceVersion
		for {
			if ctx.Err() != nil {
				return
			}
			w, err := client.Watch(ctx, metav1.ListOptions{
				LabelSelector:   labelSelector,
				ResourceVersion: resourceVersion,
			})
			if err != nil {
				if apierrors.IsResourceExpired(err) || apierrors.IsGone(err) {
					resourceVersion, err = g.relistDeployments(ctx, labelSelector, out)
					if err != nil {
						g.log.Error(err, "re-list of deployments failed, backing off")
						time.Sleep(relistBackoff)
					}
					continue
				}
				g.log.Error(err, "deployment watch failed, retrying")
				time.Sleep(relistBackoff)
				continue
			}
			resourceVersion = g.drainDeploymentWatch(ctx, w, out, resourceVersion)
		}
	}()
	return out, nil
}

func (g *Gateway) relistDeployments(ctx context.Context, labelSelector string, out chan<- DeploymentEvent) (string, error) {
	list, err := g.clientset.AppsV1().Deployments(g.namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return "", err
	}
	for i := range list.Items {
		item := list.Items[i]
		select {
		case out <- DeploymentEvent{Type: watch.Added, Deployment: &item}:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return list.ResourceVersion, nil
}

func (g *Gateway) drainDeploymentWatch(ctx context.Context, w watch.Interface, out chan<- DeploymentEvent, lastRV string) string {
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return lastRV
		case ev, ok := <-w.ResultChan():
			if !ok {
				return lastRV
			}
			dep, ok := ev.Object.(*appsv1.Deployment)
			if !ok {
				continue
			}
			lastRV = dep.ResourceVersion
			select {
			case out <- DeploymentEvent{Type: ev.Type, Deployment: dep}:
			case <-ctx.Done():
				return lastRV
			}
		}
	}
}

// WatchJobs mirrors WatchDeployments for the init/cleanup Jobs.
func (g *Gateway) WatchJobs(ctx context.Context, labelSelector string) (<-chan JobEvent, error) {
	out := make(chan JobEvent, 64)
	client := g.clientset.BatchV1().Jobs(g.namespace)

	list, err := client.List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		close(out)
		return nil, err
	}
	go func() {
		defer close(out)
		for i := range list.Items {
			item := list.Items[i]
			select {
			case out <- JobEvent{Type: watch.Added, Job: &item}:
			case <-ctx.Done():
				return
			}
		}

		resourceVersion := list.ResourceVersion
		for {
			if ctx.Err() != nil {
				return
			}
			w, err := client.Watch(ctx, metav1.ListOptions{
				LabelSelector:   labelSelector,
				ResourceVersion: resourceVersion,
			})
			if err != nil {
				if apierrors.IsResourceExpired(err) || apierrors.IsGone(err) {
					resourceVersion, err = g.relistJobs(ctx, labelSelector, out)
					if err != nil {
						g.log.Error(err, "re-list of jobs failed, backing off")
						time.Sleep(relistBackoff)
					}
					continue
				}
				g.log.Error(err, "job watch failed, retrying")
				time.Sleep(relistBackoff)
				continue
			}
			resourceVersion = g.drainJobWatch(ctx, w, out, resourceVersion)
		}
	}()
	return out, nil
}

func (g *Gateway) relistJobs(ctx context.Context, labelSelector string, out chan<- JobEvent) (string, error) {
	list, err := g.clientset.BatchV1().Jobs(g.namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return "", err
	}
	for i := range list.Items {
		item := list.Items[i]
		select {
		case out <- JobEvent{Type: watch.Added, Job: &item}:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return list.ResourceVersion, nil
}

func (g *Gateway) drainJobWatch(ctx context.Context, w watch.Interface, out chan<- JobEvent, lastRV string) string {
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return lastRV
		case ev, ok := <-w.ResultChan():
			if !ok {
				return lastRV
			}
			job, ok := ev.Object.(*batchv1.Job)
			if !ok {
				continue
			}
			lastRV = job.ResourceVersion
			select {
			case out <- JobEvent{Type: ev.Type, Job: job}:
			case <-ctx.Done():
				return lastRV
			}
		}
	}
}
