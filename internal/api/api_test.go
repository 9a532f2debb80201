package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"

	"github.com/sbidoul/runboat/internal/apperrors"
	"github.com/sbidoul/runboat/pkg/build"
	"github.com/sbidoul/runboat/pkg/eventbus"
)

type fakeCommandSurface struct {
	deployErr error
	builds    map[string]build.Build
}

func (f *fakeCommandSurface) Deploy(_ context.Context, repo, targetBranch string, pr *int, commitSHA string) (build.Build, error) {
	if f.deployErr != nil {
		return build.Build{}, f.deployErr
	}
	return build.Build{Name: "acme-svc-main-deadbeef", Repo: repo, TargetBranch: targetBranch, PR: pr, CommitSHA: commitSHA, Status: build.StatusTodo}, nil
}

func (f *fakeCommandSurface) Start(_ context.Context, name string) (build.Build, error) {
	return f.lookup(name)
}
func (f *fakeCommandSurface) Stop(_ context.Context, name string) (build.Build, error) {
	return f.lookup(name)
}
func (f *fakeCommandSurface) Reset(_ context.Context, name string) (build.Build, error) {
	return f.lookup(name)
}
func (f *fakeCommandSurface) Undeploy(_ context.Context, name string) (build.Build, error) {
	return f.lookup(name)
}
func (f *fakeCommandSurface) UndeployAll(_ context.Context, repo, targetBranch string, pr *int) ([]build.Build, error) {
	return nil, nil
}
func (f *fakeCommandSurface) List(repo, targetBranch string, pr *int) ([]build.Build, error) {
	out := make([]build.Build, 0, len(f.builds))
	for _, b := range f.builds {
		out = append(out, b)
	}
	return out, nil
}
func (f *fakeCommandSurface) Inspect(name string) (build.Build, error) {
	return f.lookup(name)
}

func (f *fakeCommandSurface) lookup(name string) (build.Build, error) {
	b, ok := f.builds[name]
	if !ok {
		return build.Build{}, apperrors.NewNotFoundError("build")
	}
	return b, nil
}

type fakeLogReader struct{}

func (fakeLogReader) ReadLog(_ context.Context, _ string, _ int64) (string, error) { return "log\n", nil }

func newTestRouter(cmd *fakeCommandSurface, opts Options) http.Handler {
	return New(context.Background(), cmd, fakeLogReader{}, eventbus.New(0), logr.Discard(), opts)
}

func TestDeployMissingFieldsIsRejectedWith400(t *testing.T) {
	cmd := &fakeCommandSurface{}
	router := newTestRouter(cmd, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/builds", bytes.NewReader([]byte(`{}`)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rr.Code, rr.Body.String())
	}
}

func TestDeploySucceedsReturns202(t *testing.T) {
	cmd := &fakeCommandSurface{}
	router := newTestRouter(cmd, Options{})

	body, _ := json.Marshal(map[string]any{
		"repo": "acme/svc", "target_branch": "main", "git_commit": "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/builds", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", rr.Code, rr.Body.String())
	}
}

func TestDeployRejectsNonFullSHACommit(t *testing.T) {
	cmd := &fakeCommandSurface{}
	router := newTestRouter(cmd, Options{})

	body, _ := json.Marshal(map[string]any{
		"repo": "acme/svc", "target_branch": "main", "git_commit": "not-a-sha!",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/builds", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rr.Code, rr.Body.String())
	}
}

func TestGetBuildNotFoundReturns404(t *testing.T) {
	cmd := &fakeCommandSurface{builds: map[string]build.Build{}}
	router := newTestRouter(cmd, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/builds/missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestMutatingRouteRequiresBasicAuthWhenConfigured(t *testing.T) {
	cmd := &fakeCommandSurface{builds: map[string]build.Build{"b1": {Name: "b1"}}}
	router := newTestRouter(cmd, Options{AdminUser: "admin", AdminPassword: "secret"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/builds/b1/stop", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status without credentials = %d, want 401", rr.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/builds/b1/stop", nil)
	req2.SetBasicAuth("admin", "secret")
	rr2 := httptest.NewRecorder()
	router.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusAccepted {
		t.Fatalf("status with credentials = %d, want 202, body=%s", rr2.Code, rr2.Body.String())
	}
}

func TestListBuildsReturnsOKWithEmptySet(t *testing.T) {
	cmd := &fakeCommandSurface{builds: map[string]build.Build{}}
	router := newTestRouter(cmd, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/builds", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestLogEndpointStreamsText(t *testing.T) {
	cmd := &fakeCommandSurface{builds: map[string]build.Build{"b1": {Name: "b1"}}}
	router := newTestRouter(cmd, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/builds/b1/log", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || rr.Body.String() != "log\n" {
		t.Fatalf("unexpected response: %d %q", rr.Code, rr.Body.String())
	}
}
