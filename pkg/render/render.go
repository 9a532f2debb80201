// Package render implements bundle template rendering: a build's template
// is a directory of YAML manifests containing {{ .Var }} placeholders,
// rendered with the build's recipe variables and parsed into
// unstructured.Unstructured objects ready for the Cluster Gateway's
// server-side apply (§4.1 apply_bundle, §3 Recipe.ExtraVars).
package render

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"

	"github.com/sbidoul/runboat/pkg/build"
)

// Resource is one rendered manifest, parsed into the generic form the
// Cluster Gateway's dynamic client operates on.
type Resource struct {
	// SourceFile is the template file this resource was rendered from, for
	// error messages.
	SourceFile string
	Object     *unstructured.Unstructured
}

// Vars supplies template placeholders. Standard vars (image, build name,
// repo, branch, PR, commit) are merged with Recipe.ExtraVars by the caller
// before Bundle is invoked.
type Vars map[string]string

var docSeparator = regexp.MustCompile(`(?m)^---\s*$`)

// Bundle renders every *.yaml/*.yml file directly under
// filepath.Join(baseDir, templatePath), in lexical filename order, against
// vars, and parses each YAML document in each file into a Resource.
//
// Rendering is fully deterministic: same baseDir/templatePath/vars always
// produces the same resource list in the same order, which apply_bundle
// relies on for idempotency.
func Bundle(baseDir, templatePath string, vars Vars) ([]Resource, error) {
	dir := filepath.Join(baseDir, templatePath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("render: reading template dir %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var resources []Resource
	for _, name := range files {
		path := filepath.Join(dir, name)
		rendered, err := renderFile(path, vars)
		if err != nil {
			return nil, err
		}
		docs, err := parseDocuments(name, rendered)
		if err != nil {
			return nil, err
		}
		resources = append(resources, docs...)
	}
	return resources, nil
}

func renderFile(path string, vars Vars) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("render: reading %s: %w", path, err)
	}

	tmpl, err := template.New(filepath.Base(path)).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("render: parsing template %s: %w", path, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render: executing template %s: %w", path, err)
	}
	return buf.String(), nil
}

func parseDocuments(sourceFile, rendered string) ([]Resource, error) {
	var resources []Resource
	for _, doc := range docSeparator.Split(rendered, -1) {
		doc = strings.TrimSpace(doc)
		if doc == "" {
			continue
		}
		var m map[string]any
		if err := yaml.Unmarshal([]byte(doc), &m); err != nil {
			return nil, fmt.Errorf("render: parsing document in %s: %w", sourceFile, err)
		}
		if len(m) == 0 {
			continue
		}
		obj := &unstructured.Unstructured{Object: m}
		if obj.GetKind() == "" || obj.GetName() == "" {
			return nil, fmt.Errorf("render: document in %s is missing kind or metadata.name", sourceFile)
		}
		resources = append(resources, Resource{SourceFile: sourceFile, Object: obj})
	}
	return resources, nil
}

// MergeVars combines recipe extra vars over the standard build vars,
// recipe values taking precedence on key collision (§3: Recipe.ExtraVars).
func MergeVars(standard, extra map[string]string) Vars {
	out := make(Vars, len(standard)+len(extra))
	for k, v := range standard {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// StandardVars builds the template variables every rendered bundle receives
// at minimum (§6: "Template rendering receives at least: name, slug, image,
// repo, git_ref, pr, commit, build_domain, ..."), merged with extra
// (build_env/build_secret_env/build_template_vars/Recipe.ExtraVars, already
// combined by the caller).
func StandardVars(b build.Build, buildDomain string, extra map[string]string) Vars {
	vars := Vars{
		"name":         b.Name,
		"slug":         b.Name,
		"image":        b.Image,
		"repo":         b.Repo,
		"git_ref":      b.TargetBranch,
		"commit":       b.CommitSHA,
		"build_domain": buildDomain,
	}
	if b.PR != nil {
		vars["pr"] = strconv.Itoa(*b.PR)
	} else {
		vars["pr"] = ""
	}
	return MergeVars(vars, extra)
}

// ModePath joins a build's template path with the apply_bundle mode
// subdirectory (§4.1: "apply_bundle(template_path, mode, vars)").
func ModePath(templatePath, mode string) string {
	return filepath.Join(templatePath, mode)
}
