package command

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/sbidoul/runboat/internal/apperrors"
	"github.com/sbidoul/runboat/pkg/build"
	"github.com/sbidoul/runboat/pkg/buildindex"
	"github.com/sbidoul/runboat/pkg/gateway"
	"github.com/sbidoul/runboat/pkg/matcher"
	"k8s.io/apimachinery/pkg/runtime"
)

func newTestSurface(t *testing.T, rules []matcher.RuleConfig) (*Surface, *buildindex.Index) {
	t.Helper()
	m, err := matcher.New(rules)
	if err != nil {
		t.Fatalf("matcher.New: %v", err)
	}
	index := buildindex.New(nil)
	index.MarkInitialListComplete()

	clientset := fake.NewSimpleClientset()
	dynClient := dynamicfake.NewSimpleDynamicClient(runtime.NewScheme())
	gw := gateway.New(clientset, dynClient, "runboat-builds", logr.Discard(), gateway.Options{})

	return New(m, index, gw, logr.Discard(), Options{}), index
}

func TestDeployRejectsWhenNoRuleMatches(t *testing.T) {
	s, _ := newTestSurface(t, nil)

	_, err := s.Deploy(context.Background(), "acme/svc", "main", nil, "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	if !apperrors.IsType(err, apperrors.ErrorTypeRejected) {
		t.Fatalf("err = %v, want ErrorTypeRejected", err)
	}
}

func TestDeployConflictsOnExistingName(t *testing.T) {
	s, index := newTestSurface(t, []matcher.RuleConfig{
		{RepoRegex: "acme/svc", BranchRegex: "main", Recipes: []matcher.RecipeConfig{{Image: "acme/svc:latest"}}},
	})

	name, err := build.Name("acme/svc", "main", nil, "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	if err != nil {
		t.Fatalf("build.Name: %v", err)
	}
	index.Upsert(build.Build{Name: name, Status: build.StatusTodo})

	_, err = s.Deploy(context.Background(), "acme/svc", "main", nil, "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	if !apperrors.IsType(err, apperrors.ErrorTypeConflict) {
		t.Fatalf("err = %v, want ErrorTypeConflict", err)
	}
}

func TestStartRejectsIllegalTransitionFromStarting(t *testing.T) {
	s, index := newTestSurface(t, nil)
	index.Upsert(build.Build{Name: "b1", Status: build.StatusStarting})

	_, err := s.Start(context.Background(), "b1")
	if !apperrors.IsType(err, apperrors.ErrorTypeConflict) {
		t.Fatalf("err = %v, want ErrorTypeConflict", err)
	}
}

func TestStartIsNoOpForTodoBuild(t *testing.T) {
	s, index := newTestSurface(t, nil)
	index.Upsert(build.Build{Name: "b1", Status: build.StatusTodo})

	b, err := s.Start(context.Background(), "b1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if b.Status != build.StatusTodo {
		t.Fatalf("status = %s, want todo unchanged", b.Status)
	}
}

func TestInspectMissingBuildReturnsNotFound(t *testing.T) {
	s, _ := newTestSurface(t, nil)

	_, err := s.Inspect("missing")
	if !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		t.Fatalf("err = %v, want ErrorTypeNotFound", err)
	}
}

func TestListFiltersByKey(t *testing.T) {
	s, index := newTestSurface(t, nil)
	index.Upsert(build.Build{Name: "b1", Repo: "acme/svc", TargetBranch: "main", Status: build.StatusTodo})
	index.Upsert(build.Build{Name: "b2", Repo: "acme/other", TargetBranch: "main", Status: build.StatusTodo})

	builds, err := s.List("acme/svc", "", nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(builds) != 1 || builds[0].Name != "b1" {
		t.Fatalf("builds = %+v, want only b1", builds)
	}
}
