package build

import (
	"strings"
	"testing"
)

func TestNameDeterministicAndStable(t *testing.T) {
	commit := strings.Repeat("a", 40)
	n1, err := Name("acme/svc", "main", nil, commit)
	if err != nil {
		t.Fatalf("Name() error = %v", err)
	}
	n2, err := Name("acme/svc", "main", nil, commit)
	if err != nil {
		t.Fatalf("Name() error = %v", err)
	}
	if n1 != n2 {
		t.Fatalf("expected deterministic name, got %q and %q", n1, n2)
	}
	if n1 != "acme-svc-main-"+commit[:8] {
		t.Fatalf("unexpected name: %q", n1)
	}
}

func TestNameIncludesPR(t *testing.T) {
	commit := strings.Repeat("b", 40)
	pr := 42
	n, err := Name("acme/svc", "main", &pr, commit)
	if err != nil {
		t.Fatalf("Name() error = %v", err)
	}
	if n != "acme-svc-main-pr42-"+commit[:8] {
		t.Fatalf("unexpected name: %q", n)
	}
}

func TestNameIsDNSLabelCompatible(t *testing.T) {
	commit := strings.Repeat("c", 40)
	n, err := Name("ACME/My.Service_Name", "feature/very-long-branch-name-that-keeps-going-and-going-and-going", nil, commit)
	if err != nil {
		t.Fatalf("Name() error = %v", err)
	}
	if len(n) > maxNameLength {
		t.Fatalf("name exceeds %d characters: %q (%d)", maxNameLength, n, len(n))
	}
	for _, r := range n {
		if !(r == '-' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			t.Fatalf("name contains invalid character %q: %q", r, n)
		}
	}
}

func TestNameTruncationPreservesUniqueness(t *testing.T) {
	longRepo := "acme/" + strings.Repeat("x", 80)
	n1, err := Name(longRepo, "main", nil, strings.Repeat("1", 40))
	if err != nil {
		t.Fatalf("Name() error = %v", err)
	}
	n2, err := Name(longRepo, "main", nil, strings.Repeat("2", 40))
	if err != nil {
		t.Fatalf("Name() error = %v", err)
	}
	if n1 == n2 {
		t.Fatalf("expected distinct names for distinct commits after truncation, both = %q", n1)
	}
	if len(n1) > maxNameLength || len(n2) > maxNameLength {
		t.Fatalf("truncated names still exceed limit: %d %d", len(n1), len(n2))
	}
}

func TestNameRejectsShortCommit(t *testing.T) {
	if _, err := Name("acme/svc", "main", nil, "abc"); err == nil {
		t.Fatal("expected error for too-short commit sha")
	}
}

func TestNameRejectsNonHexCommitOfValidLength(t *testing.T) {
	notHex := "not-a-sha!" + strings.Repeat("x", 30)
	if _, err := Name("acme/svc", "main", nil, notHex); err == nil {
		t.Fatal("expected error for non-hex commit sha even at the right length")
	}
}

func TestAnnotationRoundTrip(t *testing.T) {
	pr := 7
	original := Build{
		Repo:         "acme/svc",
		TargetBranch: "main",
		PR:           &pr,
		CommitSHA:    strings.Repeat("d", 40),
		Image:        "img:1",
		TemplatePath: "templates/default",
		InitStatus:   InitSucceeded,
	}

	ann := original.ToAnnotations()
	recovered, err := FromAnnotations("ignored-name", ann)
	if err != nil {
		t.Fatalf("FromAnnotations() error = %v", err)
	}

	if recovered.Repo != original.Repo || recovered.TargetBranch != original.TargetBranch ||
		recovered.CommitSHA != original.CommitSHA || recovered.Image != original.Image ||
		recovered.TemplatePath != original.TemplatePath || recovered.InitStatus != original.InitStatus {
		t.Fatalf("round trip mismatch: got %+v, want fields of %+v", recovered, original)
	}
	if recovered.PR == nil || *recovered.PR != pr {
		t.Fatalf("expected PR=%d, got %v", pr, recovered.PR)
	}
}
