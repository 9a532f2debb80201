package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, e := range []string{
		envReposConfig, envReposYAML, envBuildNS, envBuildDomain, envBuildEnv,
		envBuildSecEnv, envTemplateVars, envKubefiles, envMaxInit, envMaxStarted,
		envMaxDeployed, envAdminUser, envAdminPass, envGitHubToken, envWebhookSec,
		envBaseURL, envLogConfig, envFooterHTML, envShutdownSecs,
	} {
		os.Unsetenv(e)
	}
}

func TestLoadRejectsMissingRequiredOptions(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatal("expected an error when required options are missing")
	}
}

func TestLoadFromInlineYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv(envBuildNS, "runboat-builds")
	t.Setenv(envBuildDomain, "builds.example.com")
	t.Setenv(envReposYAML, "rules:\n  - repo_regex: \"^acme/svc$\"\n    branch_regex: \"^main$\"\n    recipes:\n      - image: \"acme/svc:latest\"\n")
	t.Setenv(envMaxInit, "3")
	t.Setenv(envBuildEnv, "FOO=bar, BAZ=qux")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Repos) != 1 {
		t.Fatalf("expected 1 repo rule, got %d", len(cfg.Repos))
	}
	if cfg.MaxInitializing != 3 {
		t.Fatalf("expected MaxInitializing=3, got %d", cfg.MaxInitializing)
	}
	if cfg.BuildEnv["FOO"] != "bar" || cfg.BuildEnv["BAZ"] != "qux" {
		t.Fatalf("unexpected BuildEnv: %+v", cfg.BuildEnv)
	}
}

func TestLoadFromReposConfigFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "repos.yaml")
	content := "rules:\n  - repo_regex: \"^acme/.*$\"\n    branch_regex: \".*\"\n    recipes:\n      - image: \"acme/default:latest\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(envBuildNS, "runboat-builds")
	t.Setenv(envBuildDomain, "builds.example.com")
	t.Setenv(envReposConfig, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Repos) != 1 || cfg.Repos[0].Recipes[0].Image != "acme/default:latest" {
		t.Fatalf("unexpected repos: %+v", cfg.Repos)
	}
}

func TestIntEnvRejectsNonPositive(t *testing.T) {
	clearEnv(t)
	t.Setenv(envMaxInit, "0")
	if _, err := intEnv(envMaxInit, 1); err == nil {
		t.Fatal("expected an error for a non-positive value")
	}
}

func TestMapEnvRejectsMalformedEntry(t *testing.T) {
	clearEnv(t)
	t.Setenv(envBuildEnv, "not-a-pair")
	if _, err := mapEnv(envBuildEnv); err == nil {
		t.Fatal("expected an error for a malformed k=v entry")
	}
}
