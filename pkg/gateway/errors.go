package gateway

import (
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// isRetryable classifies a cluster API error as transient (worth a bounded
// backoff retry) versus a non-retryable rejection that should surface to
// the caller immediately as apperrors.ErrorTypeUpstream/ErrorTypeRejected.
func isRetryable(err error) bool {
	switch {
	case apierrors.IsServerTimeout(err),
		apierrors.IsTimeout(err),
		apierrors.IsTooManyRequests(err),
		apierrors.IsServiceUnavailable(err),
		apierrors.IsInternalError(err):
		return true
	default:
		return false
	}
}
