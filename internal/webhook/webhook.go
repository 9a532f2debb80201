// Package webhook implements the GitHub webhook ingest path (§4.6): it
// parses a (repo, branch, pr?, commit) tuple out of a push or pull_request
// event, verifies delivery authenticity when a shared secret is configured,
// and hands the tuple to the Command Surface's deploy operation. The Repo
// Matcher itself is consulted inside Deploy, so an event for a repo/branch
// with no matching rule is simply rejected there rather than filtered here.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-logr/logr"

	"github.com/sbidoul/runboat/internal/apperrors"
	"github.com/sbidoul/runboat/pkg/build"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	eventHeader     = "X-GitHub-Event"
	signaturePrefix = "sha256="

	eventPush        = "push"
	eventPullRequest = "pull_request"

	refBranchPrefix = "refs/heads/"
)

// Deployer is the Command Surface operation the webhook handler drives.
// Accepting the narrow interface (rather than *command.Surface) keeps this
// package testable without constructing a real Gateway/Matcher/Index.
type Deployer interface {
	Deploy(ctx context.Context, repo, targetBranch string, pr *int, commitSHA string) (build.Build, error)
}

// Handler serves POST /webhooks/github.
type Handler struct {
	deployer Deployer
	secret   []byte
	log      logr.Logger
}

// New constructs a Handler. An empty secret means signature verification is
// skipped — the caller (cmd/runboatd) is responsible for logging that as a
// documented startup risk, per §4.6.
func New(deployer Deployer, secret string, log logr.Logger) *Handler {
	var s []byte
	if secret != "" {
		s = []byte(secret)
	}
	return &Handler{deployer: deployer, secret: s, log: log.WithName("webhook")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 5<<20))
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	if h.secret != nil {
		if !h.verifySignature(r.Header.Get(signatureHeader), body) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	repo, targetBranch, pr, commitSHA, handled, err := parseEvent(r.Header.Get(eventHeader), body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !handled {
		w.WriteHeader(http.StatusOK)
		return
	}

	b, err := h.deployer.Deploy(r.Context(), repo, targetBranch, pr, commitSHA)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(b)
	case apperrors.IsType(err, apperrors.ErrorTypeRejected):
		// Repo/branch matched no rule: not an error from the webhook
		// sender's point of view, just nothing to do.
		w.WriteHeader(http.StatusOK)
	case apperrors.IsType(err, apperrors.ErrorTypeConflict):
		// Build already exists for this commit (duplicate delivery).
		w.WriteHeader(http.StatusOK)
	default:
		h.log.Error(err, "webhook-triggered deploy failed", "repo", repo, "branch", targetBranch)
		http.Error(w, apperrors.SafeErrorMessage(err), apperrors.GetStatusCode(err))
	}
}

// verifySignature recomputes the HMAC-SHA256 of body using the shared
// secret and compares it, in constant time, against the header value
// GitHub sends ("sha256=<hex>").
func (h *Handler) verifySignature(header string, body []byte) bool {
	got, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok {
		return false
	}
	gotMAC, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	want := mac.Sum(nil)
	return hmac.Equal(gotMAC, want)
}

// parseEvent extracts (repo, target_branch, pr, commit) from a push or
// pull_request payload. handled is false for event types and actions the
// controller does not act on (e.g. pull_request "closed"), in which case
// the caller should acknowledge with 200 and do nothing.
func parseEvent(eventType string, body []byte) (repo, targetBranch string, pr *int, commitSHA string, handled bool, err error) {
	switch eventType {
	case eventPush:
		var ev pushEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", "", nil, "", false, err
		}
		branch, ok := strings.CutPrefix(ev.Ref, refBranchPrefix)
		if !ok {
			// Tag push or other non-branch ref: nothing to deploy.
			return "", "", nil, "", false, nil
		}
		return ev.Repo.FullName, branch, nil, ev.After, true, nil

	case eventPullRequest:
		var ev pullRequestEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", "", nil, "", false, err
		}
		if !relevantPullRequestActions[ev.Action] {
			return "", "", nil, "", false, nil
		}
		n := ev.Number
		return ev.Repository.FullName, ev.PullRequest.Base.Ref, &n, ev.PullRequest.Head.SHA, true, nil

	default:
		// ping and every other event type: acknowledged, not acted on.
		return "", "", nil, "", false, nil
	}
}

// pushEvent is the subset of a GitHub push payload the controller cares
// about: the target branch (from ref) and the head commit SHA.
type pushEvent struct {
	Ref   string `json:"ref"`
	After string `json:"after"`
	Repo  struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// pullRequestEvent is the subset of a GitHub pull_request payload the
// controller cares about: the PR number, its base branch (the "target"),
// and the head commit SHA.
type pullRequestEvent struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Head struct {
			SHA string `json:"sha"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// relevantPullRequestActions are the actions that represent a new or
// updated commit worth deploying; others (closed, labeled, ...) are
// acknowledged with 200 but produce no deploy.
var relevantPullRequestActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}
