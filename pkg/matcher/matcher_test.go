package matcher

import "testing"

func mustMatcher(t *testing.T, rules []RuleConfig) *Matcher {
	t.Helper()
	m, err := New(rules)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func TestMatchFirstRuleWins(t *testing.T) {
	m := mustMatcher(t, []RuleConfig{
		{
			RepoRegex:   "^acme/svc$",
			BranchRegex: "^main$",
			Recipes:     []RecipeConfig{{Image: "img:main"}},
		},
		{
			RepoRegex:   "^acme/svc$",
			BranchRegex: ".*",
			Recipes:     []RecipeConfig{{Image: "img:fallback"}},
		},
	})

	recipes, ok := m.Match("acme/svc", "main")
	if !ok || len(recipes) != 1 || recipes[0].Image != "img:main" {
		t.Fatalf("expected first rule to win, got %+v ok=%v", recipes, ok)
	}

	recipes, ok = m.Match("acme/svc", "feature-x")
	if !ok || recipes[0].Image != "img:fallback" {
		t.Fatalf("expected fallback rule to match, got %+v ok=%v", recipes, ok)
	}
}

func TestMatchRejectsNoRule(t *testing.T) {
	m := mustMatcher(t, []RuleConfig{
		{RepoRegex: "^acme/svc$", BranchRegex: "^main$", Recipes: []RecipeConfig{{Image: "img"}}},
	})

	if _, ok := m.Match("acme/other", "main"); ok {
		t.Fatalf("expected no match for unrelated repo")
	}
}

func TestMatchIsFullyAnchored(t *testing.T) {
	m := mustMatcher(t, []RuleConfig{
		{RepoRegex: "^acme/svc$", BranchRegex: "^main$", Recipes: []RecipeConfig{{Image: "img"}}},
	})

	cases := []struct {
		repo, branch string
	}{
		{"acme/svc-other", "main"},
		{"notacme/svc", "main"},
		{"acme/svc", "main-2"},
		{"acme/svc", "not-main"},
	}
	for _, c := range cases {
		if _, ok := m.Match(c.repo, c.branch); ok {
			t.Errorf("expected anchored regex to reject repo=%q branch=%q", c.repo, c.branch)
		}
	}
}

func TestMatchIsFullyAnchoredEvenWhenRuleIsHalfAnchored(t *testing.T) {
	m := mustMatcher(t, []RuleConfig{
		{RepoRegex: "^acme/svc$", BranchRegex: "^main", Recipes: []RecipeConfig{{Image: "img"}}},
	})

	cases := []struct {
		repo, branch string
	}{
		{"acme/svc", "main-2"},
		{"acme/svc", "mainline"},
	}
	for _, c := range cases {
		if _, ok := m.Match(c.repo, c.branch); ok {
			t.Errorf("expected half-anchored rule to still reject repo=%q branch=%q", c.repo, c.branch)
		}
	}

	if _, ok := m.Match("acme/svc", "main"); !ok {
		t.Fatalf("expected exact match to still succeed")
	}
}

func TestReloadHotSwapsRules(t *testing.T) {
	m := mustMatcher(t, []RuleConfig{
		{RepoRegex: "^acme/svc$", BranchRegex: "^main$", Recipes: []RecipeConfig{{Image: "img:v1"}}},
	})

	if err := m.Reload([]RuleConfig{
		{RepoRegex: "^acme/svc$", BranchRegex: "^main$", Recipes: []RecipeConfig{{Image: "img:v2"}}},
	}); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	recipes, ok := m.Match("acme/svc", "main")
	if !ok || recipes[0].Image != "img:v2" {
		t.Fatalf("expected reloaded rule to apply, got %+v", recipes)
	}
}

func TestNewRejectsRuleWithoutRecipes(t *testing.T) {
	_, err := New([]RuleConfig{{RepoRegex: "^a$", BranchRegex: "^b$"}})
	if err == nil {
		t.Fatal("expected error for rule with no recipes")
	}
}

func TestNewRejectsInvalidRegex(t *testing.T) {
	_, err := New([]RuleConfig{{RepoRegex: "(", BranchRegex: "^b$", Recipes: []RecipeConfig{{Image: "img"}}}})
	if err == nil {
		t.Fatal("expected error for invalid repo_regex")
	}
}
