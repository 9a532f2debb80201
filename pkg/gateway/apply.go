package gateway

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/sbidoul/runboat/pkg/render"
)

// ApplyBundle server-side-applies every resource in bundle, stamping the
// runboat/build label onto each one so delete_by_label can later find it
// and PatchAnnotations can target it individually. Per §4.1 apply_bundle is
// idempotent: re-applying the same bundle against an unchanged cluster
// object is a no-op other than refreshing the field manager's view.
func (g *Gateway) ApplyBundle(ctx context.Context, buildName string, bundle []render.Resource) error {
	for _, res := range bundle {
		obj := res.Object
		labels := obj.GetLabels()
		if labels == nil {
			labels = map[string]string{}
		}
		labels["runboat/build"] = buildName
		obj.SetLabels(labels)

		gvr, err := gvrFromKind(Kind(obj.GetKind()))
		if err != nil {
			return fmt.Errorf("apply_bundle: %s/%s: %w", buildName, obj.GetName(), err)
		}

		name := obj.GetName()
		err = g.withRetry(ctx, "apply_bundle", func(ctx context.Context) error {
			_, err := g.dynamic.Resource(gvr).Namespace(g.namespace).Apply(ctx, name, obj, metav1.ApplyOptions{
				FieldManager: "runboat-controller",
				Force:        true,
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("apply_bundle: applying %s %s/%s: %w", obj.GetKind(), g.namespace, name, err)
		}
	}
	return nil
}

// DeleteByLabel deletes every managed-kind resource carrying
// runboat/build=buildName, the bulk teardown step the job reaper runs once
// a build's cleanup job has succeeded (§4.5).
func (g *Gateway) DeleteByLabel(ctx context.Context, buildName string) error {
	selector := "runboat/build=" + buildName
	for _, kind := range managedKinds {
		gvr, err := gvrFromKind(kind)
		if err != nil {
			return err
		}
		err = g.withRetry(ctx, "delete_by_label", func(ctx context.Context) error {
			return g.dynamic.Resource(gvr).Namespace(g.namespace).DeleteCollection(ctx, metav1.DeleteOptions{}, metav1.ListOptions{
				LabelSelector: selector,
			})
		})
		if err != nil {
			return fmt.Errorf("delete_by_label: %s %s: %w", kind, buildName, err)
		}
	}
	return nil
}
