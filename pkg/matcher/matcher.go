// Package matcher implements the Repo Matcher: a pure, constant-time-given-
// its-ruleset function mapping (repo, branch) to zero or more build recipes.
package matcher

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
)

// Recipe is the tuple chosen for a given (repo, branch): the image to run,
// the template directory to render, and extra template variables.
type Recipe struct {
	Image        string
	TemplatePath string
	ExtraVars    map[string]string
}

// RuleConfig is the user-authored form of a rule, as loaded from
// configuration (§4.2): an ordered sequence of repo/branch regexes each
// naming one or more recipes. The first matching rule wins.
type RuleConfig struct {
	RepoRegex   string            `yaml:"repo_regex" json:"repo_regex"`
	BranchRegex string            `yaml:"branch_regex" json:"branch_regex"`
	Recipes     []RecipeConfig    `yaml:"recipes" json:"recipes"`
}

type RecipeConfig struct {
	Image        string            `yaml:"image" json:"image"`
	TemplatePath string            `yaml:"template_path,omitempty" json:"template_path,omitempty"`
	ExtraVars    map[string]string `yaml:"extra_vars,omitempty" json:"extra_vars,omitempty"`
}

type rule struct {
	repoRegex   *regexp.Regexp
	branchRegex *regexp.Regexp
	recipes     []Recipe
}

// Matcher holds a compiled, ordered rule set. It is safe for concurrent use
// and its rule set can be hot-swapped via Reload without disrupting
// in-flight Match calls.
type Matcher struct {
	rules atomic.Pointer[[]rule]
}

// New compiles ruleConfigs into a Matcher. Each regex is anchored so that
// "main" never accidentally matches "main-2" or "not-main".
func New(ruleConfigs []RuleConfig) (*Matcher, error) {
	m := &Matcher{}
	if err := m.Reload(ruleConfigs); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload atomically replaces the rule set, used by the config hot-reload
// path when the repo-rules file changes on disk.
func (m *Matcher) Reload(ruleConfigs []RuleConfig) error {
	compiled := make([]rule, 0, len(ruleConfigs))
	for i, rc := range ruleConfigs {
		if len(rc.Recipes) == 0 {
			return fmt.Errorf("rule %d (%s/%s): at least one recipe is required", i, rc.RepoRegex, rc.BranchRegex)
		}
		repoRe, err := compileAnchored(rc.RepoRegex)
		if err != nil {
			return fmt.Errorf("rule %d: invalid repo_regex %q: %w", i, rc.RepoRegex, err)
		}
		branchRe, err := compileAnchored(rc.BranchRegex)
		if err != nil {
			return fmt.Errorf("rule %d: invalid branch_regex %q: %w", i, rc.BranchRegex, err)
		}
		recipes := make([]Recipe, 0, len(rc.Recipes))
		for _, rec := range rc.Recipes {
			if rec.Image == "" {
				return fmt.Errorf("rule %d: recipe missing image", i)
			}
			recipes = append(recipes, Recipe{
				Image:        rec.Image,
				TemplatePath: rec.TemplatePath,
				ExtraVars:    rec.ExtraVars,
			})
		}
		compiled = append(compiled, rule{repoRegex: repoRe, branchRegex: branchRe, recipes: recipes})
	}
	m.rules.Store(&compiled)
	return nil
}

// compileAnchored always wraps pattern in ^(?: )$, stripping any
// caller-supplied leading "^" or trailing "$" first so a half-anchored rule
// like "^main" doesn't end up anchored on one side only — since the spec
// requires rules to be fully anchored, a bare "acme/svc" or "^main" must
// not also match "acme/svc-other" or "mainline".
func compileAnchored(pattern string) (*regexp.Regexp, error) {
	trimmed := strings.TrimPrefix(pattern, "^")
	trimmed = strings.TrimSuffix(trimmed, "$")
	return regexp.Compile("^(?:" + trimmed + ")$")
}

// Match returns the recipes of the first rule whose repo and branch regexes
// both match, in rule-list order. ok is false when no rule matches, per
// §4.2: the input is then rejected by the caller.
func (m *Matcher) Match(repo, branch string) (recipes []Recipe, ok bool) {
	rules := m.rules.Load()
	if rules == nil {
		return nil, false
	}
	for _, r := range *rules {
		if r.repoRegex.MatchString(repo) && r.branchRegex.MatchString(branch) {
			return r.recipes, true
		}
	}
	return nil, false
}
