package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/util/retry"
)

// PatchAnnotations merges ann into the named resource's annotations via a
// JSON merge patch. Per §4.1, merge-patches don't need a resourceVersion and
// so never conflict the way an Update of a stale object would; transient
// API-server errors still go through withRetry.
func (g *Gateway) PatchAnnotations(ctx context.Context, kind Kind, name string, ann map[string]*string) error {
	patch := map[string]any{
		"metadata": map[string]any{
			"annotations": ann,
		},
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("gateway: marshal annotation patch: %w", err)
	}

	gvr, err := gvrFromKind(kind)
	if err != nil {
		return err
	}

	return g.withRetry(ctx, "patch_annotations", func(ctx context.Context) error {
		_, err := g.dynamic.Resource(gvr).Namespace(g.namespace).Patch(ctx, name, types.MergePatchType, body, metav1.PatchOptions{
			FieldManager: "runboat-controller",
		})
		return err
	})
}

// Scale sets the workload Deployment's replica count via the /scale
// subresource, which does carry a resourceVersion and so can genuinely
// conflict under concurrent writers — retried with client-go's
// RetryOnConflict (§4.1: "every write is safe to retry").
func (g *Gateway) Scale(ctx context.Context, deploymentName string, replicas int32) error {
	client := g.clientset.AppsV1().Deployments(g.namespace)
	return g.withRetry(ctx, "scale", func(ctx context.Context) error {
		return retry.RetryOnConflict(retry.DefaultRetry, func() error {
			current, err := client.GetScale(ctx, deploymentName, metav1.GetOptions{})
			if err != nil {
				return err
			}
			if current.Spec.Replicas == replicas {
				return nil
			}
			current.Spec.Replicas = replicas
			_, err = client.UpdateScale(ctx, deploymentName, current, metav1.UpdateOptions{
				FieldManager: "runboat-controller",
			})
			return err
		})
	})
}

// DeleteWorkload deletes the named Deployment. Because the workload always
// carries the runboat/cleanup finalizer, this stamps a deletion timestamp
// rather than actually removing the object — the signal the deletion
// driver watches for (§4.4 undeploy: "mark for deletion ... finalizer
// blocks actual removal until cleanup runs").
func (g *Gateway) DeleteWorkload(ctx context.Context, deploymentName string) error {
	client := g.clientset.AppsV1().Deployments(g.namespace)
	return g.withRetry(ctx, "delete_workload", func(ctx context.Context) error {
		err := client.Delete(ctx, deploymentName, metav1.DeleteOptions{})
		if apierrors.IsNotFound(err) {
			return nil
		}
		return err
	})
}

// AddFinalizer adds finalizer to the named Deployment's finalizer list if
// not already present, applied once at deploy time (§3: "a finalizer
// runboat/cleanup on the workload enforces cleanup-before-delete").
func (g *Gateway) AddFinalizer(ctx context.Context, deploymentName, finalizer string) error {
	client := g.clientset.AppsV1().Deployments(g.namespace)
	return g.withRetry(ctx, "add_finalizer", func(ctx context.Context) error {
		return retry.RetryOnConflict(retry.DefaultRetry, func() error {
			dep, err := client.Get(ctx, deploymentName, metav1.GetOptions{})
			if err != nil {
				return err
			}
			for _, f := range dep.Finalizers {
				if f == finalizer {
					return nil
				}
			}
			dep.Finalizers = append(dep.Finalizers, finalizer)
			_, err = client.Update(ctx, dep, metav1.UpdateOptions{FieldManager: "runboat-controller"})
			return err
		})
	})
}

// RemoveFinalizer removes finalizer from the named Deployment's finalizer
// list, the job reaper's last step once a build's cleanup job has
// succeeded. It is a no-op if the finalizer is already absent.
func (g *Gateway) RemoveFinalizer(ctx context.Context, deploymentName, finalizer string) error {
	client := g.clientset.AppsV1().Deployments(g.namespace)
	return g.withRetry(ctx, "remove_finalizer", func(ctx context.Context) error {
		return retry.RetryOnConflict(retry.DefaultRetry, func() error {
			dep, err := client.Get(ctx, deploymentName, metav1.GetOptions{})
			if err != nil {
				return err
			}
			kept := dep.Finalizers[:0]
			removed := false
			for _, f := range dep.Finalizers {
				if f == finalizer {
					removed = true
					continue
				}
				kept = append(kept, f)
			}
			if !removed {
				return nil
			}
			dep.Finalizers = kept
			_, err = client.Update(ctx, dep, metav1.UpdateOptions{FieldManager: "runboat-controller"})
			return err
		})
	})
}
