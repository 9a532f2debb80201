package controllerloop

import (
	"context"

	"github.com/sbidoul/runboat/pkg/build"
	"github.com/sbidoul/runboat/pkg/gateway"
	"github.com/sbidoul/runboat/pkg/render"
)

// kindForBuild is the resource kind the workload's annotations live on —
// always the Deployment (§3's "annotations on the workload").
const kindForBuild = gateway.KindDeployment

func strPtr(s string) *string { return &s }

// mergeAll folds any number of string maps left-to-right, later maps
// winning on key collision, for combining build_env/build_secret_env/
// build_template_vars (§6) before rendering.
func mergeAll(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// applyMode renders b's template at the given apply_bundle mode and
// server-side applies it (§4.1).
func (l *Loop) applyMode(ctx context.Context, b build.Build, mode string, vars render.Vars) error {
	bundle, err := render.Bundle(l.opts.KubefilesBaseDir, render.ModePath(b.TemplatePath, mode), vars)
	if err != nil {
		return err
	}
	return l.gw.ApplyBundle(ctx, b.Name, bundle)
}
