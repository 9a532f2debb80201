package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// DefaultLogTailLines caps how much of a pod's log read_log returns when
// the caller doesn't pass a positive tail length.
const DefaultLogTailLines = 2000

// ReadLog returns the tail of the log of the most recently created pod
// matching labelSelector — used to serve init-log (the build's init job)
// and log (the build's running workload) (§6). tailLines <= 0 uses
// DefaultLogTailLines.
func (g *Gateway) ReadLog(ctx context.Context, labelSelector string, tailLines int64) (string, error) {
	if tailLines <= 0 {
		tailLines = DefaultLogTailLines
	}

	pods, err := g.clientset.CoreV1().Pods(g.namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return "", fmt.Errorf("gateway: read_log: listing pods: %w", err)
	}
	if len(pods.Items) == 0 {
		return "", fmt.Errorf("gateway: read_log: no pod matches %q", labelSelector)
	}

	sort.Slice(pods.Items, func(i, j int) bool {
		return pods.Items[j].CreationTimestamp.Before(&pods.Items[i].CreationTimestamp)
	})
	pod := pods.Items[0]

	var buf bytes.Buffer
	err = g.withRetry(ctx, "read_log", func(ctx context.Context) error {
		buf.Reset()
		req := g.clientset.CoreV1().Pods(g.namespace).GetLogs(pod.Name, &corev1.PodLogOptions{
			TailLines: &tailLines,
		})
		stream, err := req.Stream(ctx)
		if err != nil {
			return err
		}
		defer stream.Close()
		_, err = io.Copy(&buf, stream)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("gateway: read_log: streaming logs of pod %s: %w", pod.Name, err)
	}
	return buf.String(), nil
}
