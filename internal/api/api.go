// Package api implements the REST surface (§6): JSON endpoints under
// /api/v1, an SSE build-events stream, and the Prometheus /metrics
// endpoint. Mutating routes require HTTP basic auth when an admin
// credential is configured.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sbidoul/runboat/internal/apperrors"
	"github.com/sbidoul/runboat/internal/webhook"
	"github.com/sbidoul/runboat/pkg/build"
	"github.com/sbidoul/runboat/pkg/eventbus"
)

// CommandSurface is the subset of internal/command.Surface the REST layer
// drives. A narrow interface keeps handler tests from needing a real
// Gateway/Matcher/Index.
type CommandSurface interface {
	webhook.Deployer
	Start(ctx context.Context, name string) (build.Build, error)
	Stop(ctx context.Context, name string) (build.Build, error)
	Reset(ctx context.Context, name string) (build.Build, error)
	Undeploy(ctx context.Context, name string) (build.Build, error)
	UndeployAll(ctx context.Context, repo, targetBranch string, pr *int) ([]build.Build, error)
	List(repo, targetBranch string, pr *int) ([]build.Build, error)
	Inspect(name string) (build.Build, error)
}

// LogReader is the Gateway subset used to stream init/run logs.
type LogReader interface {
	ReadLog(ctx context.Context, labelSelector string, tailLines int64) (string, error)
}

// Options configures the router.
type Options struct {
	AdminUser     string
	AdminPassword string
	// CORSAllowedOrigins, when empty, defaults to allowing none
	// (same-origin only); "*" allows any origin.
	CORSAllowedOrigins []string
	// GitHubWebhookSecret, when set, is used to verify X-Hub-Signature-256
	// on incoming webhook deliveries (§4.6). Empty means the endpoint is
	// open — the caller is expected to have logged that risk at startup.
	GitHubWebhookSecret string
}

// New builds the full chi.Router serving the REST surface, SSE stream, and
// metrics endpoint. ctx governs the SSE stream's lifetime independently of
// any one request's context, so a process shutdown can drain every
// subscriber with a final frame instead of waiting for clients to
// disconnect on their own (§5 "Cancellation").
func New(ctx context.Context, cmd CommandSurface, logs LogReader, bus *eventbus.Bus, log logr.Logger, opts Options) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log.WithName("api")))

	origins := opts.CORSAllowedOrigins
	var allowOrigin func(*http.Request, string) bool
	if len(origins) == 0 {
		// go-chi/cors allows every origin when AllowedOrigins is empty.
		allowOrigin = func(*http.Request, string) bool { return false }
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowOriginFunc:  allowOrigin,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := &handlers{
		ctx:      ctx,
		cmd:      cmd,
		logs:     logs,
		bus:      bus,
		log:      log.WithName("api"),
		validate: validator.New(),
		webhookH: webhook.New(cmd, opts.GitHubWebhookSecret, log),
	}

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/builds", h.listBuilds)
		r.Get("/builds/{name}", h.getBuild)
		r.Get("/builds/{name}/init-log", h.initLog)
		r.Get("/builds/{name}/log", h.runLog)
		r.Get("/build-events", h.buildEvents)
		// The webhook authenticates by HMAC signature, not basic auth.
		r.Post("/webhooks/github", h.webhook)

		r.Group(func(r chi.Router) {
			if opts.AdminUser != "" || opts.AdminPassword != "" {
				r.Use(middleware.BasicAuth("runboat", map[string]string{opts.AdminUser: opts.AdminPassword}))
			}
			r.Post("/builds", h.deploy)
			r.Post("/builds/{name}/start", h.command(CommandSurface.Start))
			r.Post("/builds/{name}/stop", h.command(CommandSurface.Stop))
			r.Post("/builds/{name}/reset", h.command(CommandSurface.Reset))
			r.Post("/builds/{name}/undeploy", h.command(CommandSurface.Undeploy))
		})
	})

	return r
}

type handlers struct {
	ctx      context.Context
	cmd      CommandSurface
	logs     LogReader
	bus      *eventbus.Bus
	log      logr.Logger
	validate *validator.Validate
	webhookH *webhook.Handler
}

func requestLogger(log logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.V(1).Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}

// deployRequest is the body of POST /builds (§6: "{repo, target_branch,
// pr?, git_commit}").
type deployRequest struct {
	Repo         string `json:"repo" validate:"required"`
	TargetBranch string `json:"target_branch" validate:"required"`
	PR           *int   `json:"pr,omitempty" validate:"omitempty,min=1"`
	GitCommit    string `json:"git_commit" validate:"required,len=40,hexadecimal"`
}

func (h *handlers) deploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewValidationError("malformed request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	b, err := h.cmd.Deploy(r.Context(), req.Repo, req.TargetBranch, req.PR, req.GitCommit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, b)
}

// command adapts a single-build Command Surface operation (start, stop,
// reset, undeploy) into a handler that reads {name} from the path and
// replies 202/409 per §6.
func (h *handlers) command(op func(CommandSurface, context.Context, string) (build.Build, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		b, err := op(h.cmd, r.Context(), name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, b)
	}
}

func (h *handlers) listBuilds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pr, err := optionalIntParam(q.Get("pr"))
	if err != nil {
		writeError(w, apperrors.NewValidationError("pr must be an integer"))
		return
	}
	builds, err := h.cmd.List(q.Get("repo"), q.Get("target_branch"), pr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, builds)
}

func (h *handlers) getBuild(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	b, err := h.cmd.Inspect(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handlers) initLog(w http.ResponseWriter, r *http.Request) {
	h.serveLog(w, r, build.JobKindInitialize)
}

func (h *handlers) runLog(w http.ResponseWriter, r *http.Request) {
	h.serveLog(w, r, "")
}

// serveLog streams the tail of the most recent pod's log for a build. An
// empty jobKind selects the running workload's own pods (those with no
// job-kind label); otherwise it selects the named job's pods.
func (h *handlers) serveLog(w http.ResponseWriter, r *http.Request, jobKind string) {
	name := chi.URLParam(r, "name")
	selector := fmt.Sprintf("%s=%s", build.LabelBuild, name)
	if jobKind != "" {
		selector += fmt.Sprintf(",%s=%s", build.LabelJobKind, jobKind)
	} else {
		selector += fmt.Sprintf(",!%s", build.LabelJobKind)
	}

	tailLines := int64(0)
	if v := r.URL.Query().Get("tail_lines"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, apperrors.NewValidationError("tail_lines must be an integer"))
			return
		}
		tailLines = n
	}

	logText, err := h.logs.ReadLog(r.Context(), selector, tailLines)
	if err != nil {
		writeError(w, apperrors.Wrapf(err, apperrors.ErrorTypeUpstream, "reading log for %s", name))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(logText))
}

// buildEvents serves GET /build-events: an SSE stream, one event per Build
// Index delta (§4.7).
func (h *handlers) buildEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.New(apperrors.ErrorTypeInternal, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.ctx.Done():
			fmt.Fprint(w, "event: bye\ndata: {}\n\n")
			flusher.Flush()
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload)
			flusher.Flush()
		}
	}
}

func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	h.webhookH.ServeHTTP(w, r)
}

func optionalIntParam(v string) (*int, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperrors.GetStatusCode(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": apperrors.SafeErrorMessage(err)})
}
