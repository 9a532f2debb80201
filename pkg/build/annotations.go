package build

import (
	"fmt"
	"strconv"
	"time"
)

// ToAnnotations renders the annotation set the Cluster Gateway stamps onto
// a workload at deploy time and keeps current thereafter, the durable
// half of the persistence contract in §3.
func (b Build) ToAnnotations() map[string]string {
	ann := map[string]string{
		AnnotationRepo:         b.Repo,
		AnnotationTargetBranch: b.TargetBranch,
		AnnotationGitCommit:    b.CommitSHA,
		AnnotationImage:        b.Image,
		AnnotationTemplatePath: b.TemplatePath,
		AnnotationInitStatus:   string(b.InitStatus),
	}
	if b.PR != nil {
		ann[AnnotationPR] = strconv.Itoa(*b.PR)
	}
	if !b.InitStatusTimestamp.IsZero() {
		ann[AnnotationInitStatusTimestamp] = b.InitStatusTimestamp.UTC().Format(time.RFC3339Nano)
	}
	if !b.LastScaledAt.IsZero() {
		ann[AnnotationLastScaled] = b.LastScaledAt.UTC().Format(time.RFC3339Nano)
	}
	return ann
}

// FromAnnotations reconstructs the annotation-backed fields of a Build from
// a workload's annotation map, the inverse operation ToAnnotations performs
// and the round-trip half of invariant P8.
func FromAnnotations(name string, ann map[string]string) (Build, error) {
	b := Build{
		Name:         name,
		Repo:         ann[AnnotationRepo],
		TargetBranch: ann[AnnotationTargetBranch],
		CommitSHA:    ann[AnnotationGitCommit],
		Image:        ann[AnnotationImage],
		TemplatePath: ann[AnnotationTemplatePath],
		InitStatus:   InitStatus(ann[AnnotationInitStatus]),
	}
	if raw, ok := ann[AnnotationPR]; ok && raw != "" {
		pr, err := strconv.Atoi(raw)
		if err != nil {
			return Build{}, fmt.Errorf("annotation %s: %w", AnnotationPR, err)
		}
		b.PR = &pr
	}
	if raw, ok := ann[AnnotationInitStatusTimestamp]; ok && raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Build{}, fmt.Errorf("annotation %s: %w", AnnotationInitStatusTimestamp, err)
		}
		b.InitStatusTimestamp = ts
	}
	if raw, ok := ann[AnnotationLastScaled]; ok && raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Build{}, fmt.Errorf("annotation %s: %w", AnnotationLastScaled, err)
		}
		b.LastScaledAt = ts
	}
	return b, nil
}
