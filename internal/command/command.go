// Package command implements the Command Surface (§4.6): the operations
// exposed to the REST and webhook transports, performing authorization
// (upstream, at the HTTP layer) and state-machine legality checks before
// issuing Cluster Gateway mutations.
package command

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"github.com/sbidoul/runboat/internal/apperrors"
	"github.com/sbidoul/runboat/pkg/build"
	"github.com/sbidoul/runboat/pkg/buildindex"
	"github.com/sbidoul/runboat/pkg/gateway"
	"github.com/sbidoul/runboat/pkg/matcher"
	"github.com/sbidoul/runboat/pkg/phase"
	"github.com/sbidoul/runboat/pkg/render"
)

// Options carries the rendering context every deploy needs: the kubefiles
// root, the wildcard build domain, and the env/secret/template var bags
// merged into every template (§6).
type Options struct {
	KubefilesBaseDir  string
	BuildDomain       string
	BuildEnv          map[string]string
	BuildSecretEnv    map[string]string
	BuildTemplateVars map[string]string
}

// Surface is the Command Surface.
type Surface struct {
	matcher *matcher.Matcher
	index   *buildindex.Index
	gw      *gateway.Gateway
	opts    Options
	log     logr.Logger

	// deploySF deduplicates concurrent deploy calls that race on the same
	// computed build name (two webhook deliveries for the same commit).
	deploySF singleflight.Group
}

// New constructs a Surface.
func New(m *matcher.Matcher, index *buildindex.Index, gw *gateway.Gateway, log logr.Logger, opts Options) *Surface {
	return &Surface{matcher: m, index: index, gw: gw, opts: opts, log: log.WithName("command")}
}

// Deploy implements deploy(repo, branch, pr?, commit) (§4.4).
func (s *Surface) Deploy(ctx context.Context, repo, targetBranch string, pr *int, commitSHA string) (build.Build, error) {
	recipes, ok := s.matcher.Match(repo, targetBranch)
	if !ok {
		return build.Build{}, apperrors.Newf(apperrors.ErrorTypeRejected, "no repo rule matches %s/%s", repo, targetBranch)
	}
	recipe := recipes[0]

	name, err := build.Name(repo, targetBranch, pr, commitSHA)
	if err != nil {
		return build.Build{}, apperrors.NewValidationError(err.Error())
	}

	if !s.index.Ready() {
		return build.Build{}, apperrors.NewUnavailableError("build index not ready")
	}
	if s.index.ExistsByName(name) {
		return build.Build{}, apperrors.Newf(apperrors.ErrorTypeConflict, "build %s already exists", name)
	}

	v, err, _ := s.deploySF.Do(name, func() (any, error) {
		return s.deploy(ctx, name, repo, targetBranch, pr, commitSHA, recipe)
	})
	if err != nil {
		return build.Build{}, err
	}
	return v.(build.Build), nil
}

func (s *Surface) deploy(ctx context.Context, name, repo, targetBranch string, pr *int, commitSHA string, recipe matcher.Recipe) (build.Build, error) {
	now := time.Now()
	b := build.Build{
		Name:                name,
		Repo:                repo,
		TargetBranch:        targetBranch,
		PR:                  pr,
		CommitSHA:           commitSHA,
		Image:               recipe.Image,
		TemplatePath:        recipe.TemplatePath,
		CreatedAt:           now,
		InitStatus:          build.InitTodo,
		InitStatusTimestamp: now,
		DesiredReplicas:     0,
	}

	vars := s.standardVars(b, recipe.ExtraVars)
	bundle, err := render.Bundle(s.opts.KubefilesBaseDir, render.ModePath(b.TemplatePath, "deployment"), vars)
	if err != nil {
		return build.Build{}, apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "rendering deployment bundle for %s", name)
	}
	if err := s.gw.ApplyBundle(ctx, name, bundle); err != nil {
		return build.Build{}, apperrors.Wrapf(err, apperrors.ErrorTypeUpstream, "applying deployment bundle for %s", name)
	}
	if err := s.gw.PatchAnnotations(ctx, gateway.KindDeployment, name, annotationsToPatch(b.ToAnnotations())); err != nil {
		return build.Build{}, apperrors.Wrapf(err, apperrors.ErrorTypeUpstream, "stamping annotations for %s", name)
	}
	if err := s.gw.AddFinalizer(ctx, name, build.FinalizerCleanup); err != nil {
		return build.Build{}, apperrors.Wrapf(err, apperrors.ErrorTypeUpstream, "adding finalizer for %s", name)
	}
	b.Status = build.StatusTodo
	return b, nil
}

// Start implements start(name) (§4.4): stopped → scale to 1; failed →
// re-queue init; todo|initializing → no-op; otherwise reject.
func (s *Surface) Start(ctx context.Context, name string) (build.Build, error) {
	b, err := s.get(name)
	if err != nil {
		return build.Build{}, err
	}
	if !phase.CanStart(b.Status) {
		return build.Build{}, apperrors.Newf(apperrors.ErrorTypeConflict, "start is not legal for build %s in status %s", name, b.Status)
	}

	switch b.Status {
	case build.StatusStopped:
		if err := s.gw.Scale(ctx, name, 1); err != nil {
			return build.Build{}, apperrors.Wrapf(err, apperrors.ErrorTypeUpstream, "scaling %s", name)
		}
		if err := s.touchLastScaled(ctx, name); err != nil {
			return build.Build{}, err
		}
	case build.StatusFailed:
		if err := s.setInitStatus(ctx, name, build.InitTodo); err != nil {
			return build.Build{}, err
		}
	}
	// todo/initializing: no-op, already converging toward started.
	return b, nil
}

// Stop implements stop(name): scale to 0, always legal (§4.4, P7).
func (s *Surface) Stop(ctx context.Context, name string) (build.Build, error) {
	b, err := s.get(name)
	if err != nil {
		return build.Build{}, err
	}
	if err := s.gw.Scale(ctx, name, 0); err != nil {
		return build.Build{}, apperrors.Wrapf(err, apperrors.ErrorTypeUpstream, "scaling %s", name)
	}
	if err := s.touchLastScaled(ctx, name); err != nil {
		return build.Build{}, err
	}
	return b, nil
}

// Reset implements reset(name): re-queue init and scale to 0.
func (s *Surface) Reset(ctx context.Context, name string) (build.Build, error) {
	b, err := s.get(name)
	if err != nil {
		return build.Build{}, err
	}
	if err := s.gw.Scale(ctx, name, 0); err != nil {
		return build.Build{}, apperrors.Wrapf(err, apperrors.ErrorTypeUpstream, "scaling %s", name)
	}
	if err := s.setInitStatus(ctx, name, build.InitTodo); err != nil {
		return build.Build{}, err
	}
	return b, nil
}

// Undeploy implements undeploy(name): mark the workload for deletion. The
// finalizer (added at deploy time) blocks actual removal until the
// deletion driver's cleanup job succeeds.
func (s *Surface) Undeploy(ctx context.Context, name string) (build.Build, error) {
	b, err := s.get(name)
	if err != nil {
		return build.Build{}, err
	}
	if err := s.gw.DeleteWorkload(ctx, name); err != nil {
		return build.Build{}, apperrors.Wrapf(err, apperrors.ErrorTypeUpstream, "deleting workload %s", name)
	}
	return b, nil
}

// UndeployAll implements undeploy_all(repo, [target_branch], [pr]): undeploy
// every Build matching the filter.
func (s *Surface) UndeployAll(ctx context.Context, repo, targetBranch string, pr *int) ([]build.Build, error) {
	matches, err := s.index.ListByKey(repo, targetBranch, pr)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "listing builds")
	}
	out := make([]build.Build, 0, len(matches))
	for _, b := range matches {
		if err := s.gw.DeleteWorkload(ctx, b.Name); err != nil {
			s.log.Error(err, "undeploy_all failed for build", "build", b.Name)
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// List implements list, optionally filtered by (repo, target_branch, pr).
func (s *Surface) List(repo, targetBranch string, pr *int) ([]build.Build, error) {
	return s.index.ListByKey(repo, targetBranch, pr)
}

// Inspect implements inspect(name): 404 if absent.
func (s *Surface) Inspect(name string) (build.Build, error) {
	return s.get(name)
}

// annotationsToPatch adapts a plain annotation map to the *string-valued
// form PatchAnnotations expects, where a nil value deletes the key (merge
// patch semantics) — deploy-time annotations are all set, never deleted.
func annotationsToPatch(ann map[string]string) map[string]*string {
	out := make(map[string]*string, len(ann))
	for k, v := range ann {
		v := v
		out[k] = &v
	}
	return out
}

func (s *Surface) get(name string) (build.Build, error) {
	b, err := s.index.Get(name)
	if err != nil {
		return build.Build{}, err
	}
	return b, nil
}

func (s *Surface) touchLastScaled(ctx context.Context, name string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.gw.PatchAnnotations(ctx, gateway.KindDeployment, name, map[string]*string{
		build.AnnotationLastScaled: &now,
	}); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeUpstream, "patching last-scaled for %s", name)
	}
	return nil
}

func (s *Surface) setInitStatus(ctx context.Context, name string, status build.InitStatus) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	v := string(status)
	if err := s.gw.PatchAnnotations(ctx, gateway.KindDeployment, name, map[string]*string{
		build.AnnotationInitStatus:          &v,
		build.AnnotationInitStatusTimestamp: &now,
	}); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeUpstream, "patching init-status for %s", name)
	}
	return nil
}

func (s *Surface) standardVars(b build.Build, recipeExtraVars map[string]string) render.Vars {
	merged := map[string]string{}
	for k, v := range s.opts.BuildEnv {
		merged[k] = v
	}
	for k, v := range s.opts.BuildSecretEnv {
		merged[k] = v
	}
	for k, v := range s.opts.BuildTemplateVars {
		merged[k] = v
	}
	for k, v := range recipeExtraVars {
		merged[k] = v
	}
	return render.StandardVars(b, s.opts.BuildDomain, merged)
}
