package gateway

import (
	"context"
	"fmt"
	"sort"

	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/sbidoul/runboat/pkg/build"
)

// jobOutcome returns the terminal outcome of the most recent job labeled
// with the given build name and job kind. determined is false when no job
// exists yet, or the existing one hasn't reached a terminal state — the
// caller should leave the decision for a later reconciler pass.
func (g *Gateway) jobOutcome(ctx context.Context, buildName, jobKind string) (succeeded, determined bool, err error) {
	selector := fmt.Sprintf("%s=%s,%s=%s", build.LabelBuild, buildName, build.LabelJobKind, jobKind)

	var list *batchv1.JobList
	err = g.withRetry(ctx, "read_job_outcome", func(ctx context.Context) error {
		var listErr error
		list, listErr = g.clientset.BatchV1().Jobs(g.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
		return listErr
	})
	if err != nil {
		return false, false, err
	}
	if len(list.Items) == 0 {
		return false, false, nil
	}

	sort.Slice(list.Items, func(i, j int) bool {
		return list.Items[j].CreationTimestamp.Before(&list.Items[i].CreationTimestamp)
	})
	job := list.Items[0]

	switch {
	case job.Status.Succeeded > 0:
		return true, true, nil
	case job.Status.Failed > 0:
		return false, true, nil
	default:
		return false, false, nil
	}
}

// InitJobOutcome reports the terminal outcome of a build's most recent
// initialization job.
func (g *Gateway) InitJobOutcome(ctx context.Context, buildName string) (succeeded, determined bool, err error) {
	return g.jobOutcome(ctx, buildName, build.JobKindInitialize)
}

// CleanupJobOutcome reports the terminal outcome of a build's most recent
// cleanup job.
func (g *Gateway) CleanupJobOutcome(ctx context.Context, buildName string) (succeeded, determined bool, err error) {
	return g.jobOutcome(ctx, buildName, build.JobKindCleanup)
}
