// Package config loads the operator's configuration (§6) from environment
// variables — the authoritative source for a container workload — with an
// optional YAML repo-rules file that is hot-reloaded without a restart.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sbidoul/runboat/pkg/matcher"
)

// Config holds every option of §6's configuration surface.
type Config struct {
	Repos []matcher.RuleConfig

	BuildNamespace string
	BuildDomain    string

	BuildEnv          map[string]string
	BuildSecretEnv    map[string]string
	BuildTemplateVars map[string]string

	DefaultKubefilesPath string

	MaxInitializing int
	MaxStarted      int
	MaxDeployed     int

	APIAdminUser     string
	APIAdminPassword string

	GitHubToken         string
	GitHubWebhookSecret string

	BaseURL              string
	LogConfig            string
	AdditionalFooterHTML string

	// ReposConfigPath, when set, is watched for changes and hot-reloaded
	// into the Repo Matcher (§1.3).
	ReposConfigPath string

	ShutdownTimeoutSeconds int
}

const (
	envPrefix = "RUNBOAT_"

	envReposConfig  = envPrefix + "REPOS_CONFIG"
	envReposYAML    = envPrefix + "REPOS_YAML"
	envBuildNS      = envPrefix + "BUILD_NAMESPACE"
	envBuildDomain  = envPrefix + "BUILD_DOMAIN"
	envBuildEnv     = envPrefix + "BUILD_ENV"
	envBuildSecEnv  = envPrefix + "BUILD_SECRET_ENV"
	envTemplateVars = envPrefix + "BUILD_TEMPLATE_VARS"
	envKubefiles    = envPrefix + "DEFAULT_KUBEFILES_PATH"
	envMaxInit      = envPrefix + "MAX_INITIALIZING"
	envMaxStarted   = envPrefix + "MAX_STARTED"
	envMaxDeployed  = envPrefix + "MAX_DEPLOYED"
	envAdminUser    = envPrefix + "API_ADMIN_USER"
	envAdminPass    = envPrefix + "API_ADMIN_PASSWORD"
	envGitHubToken  = envPrefix + "GITHUB_TOKEN"
	envWebhookSec   = envPrefix + "GITHUB_WEBHOOK_SECRET"
	envBaseURL      = envPrefix + "BASE_URL"
	envLogConfig    = envPrefix + "LOG_CONFIG"
	envFooterHTML   = envPrefix + "ADDITIONAL_FOOTER_HTML"
	envShutdownSecs = envPrefix + "SHUTDOWN_TIMEOUT_SECONDS"
)

// reposFile is the on-disk shape of the repo rules: a mapping whose "rules"
// key holds the list of rules, each matched 1:1 to matcher.RuleConfig.
type reposFile struct {
	Rules []matcher.RuleConfig `yaml:"rules"`
}

// Load reads Config from the process environment. Missing required options
// (build_namespace, build_domain, at least one repo rule) return an error,
// which callers treat as a fatal startup condition per §6's exit-code
// contract.
func Load() (Config, error) {
	cfg := Config{
		BuildNamespace:         os.Getenv(envBuildNS),
		BuildDomain:            os.Getenv(envBuildDomain),
		DefaultKubefilesPath:   os.Getenv(envKubefiles),
		APIAdminUser:           os.Getenv(envAdminUser),
		APIAdminPassword:       os.Getenv(envAdminPass),
		GitHubToken:            os.Getenv(envGitHubToken),
		GitHubWebhookSecret:    os.Getenv(envWebhookSec),
		BaseURL:                os.Getenv(envBaseURL),
		LogConfig:              os.Getenv(envLogConfig),
		AdditionalFooterHTML:   os.Getenv(envFooterHTML),
		ReposConfigPath:        os.Getenv(envReposConfig),
		ShutdownTimeoutSeconds: 10,
	}

	var err error
	if cfg.MaxInitializing, err = intEnv(envMaxInit, 2); err != nil {
		return Config{}, err
	}
	if cfg.MaxStarted, err = intEnv(envMaxStarted, 10); err != nil {
		return Config{}, err
	}
	if cfg.MaxDeployed, err = intEnv(envMaxDeployed, 50); err != nil {
		return Config{}, err
	}
	if v := os.Getenv(envShutdownSecs); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", envShutdownSecs, err)
		}
		cfg.ShutdownTimeoutSeconds = n
	}

	if cfg.BuildEnv, err = mapEnv(envBuildEnv); err != nil {
		return Config{}, err
	}
	if cfg.BuildSecretEnv, err = mapEnv(envBuildSecEnv); err != nil {
		return Config{}, err
	}
	if cfg.BuildTemplateVars, err = mapEnv(envTemplateVars); err != nil {
		return Config{}, err
	}

	rules, err := loadRepoRules(cfg.ReposConfigPath)
	if err != nil {
		return Config{}, err
	}
	cfg.Repos = rules

	return cfg, cfg.Validate()
}

// Validate checks the required options, matching §6: "build_namespace:
// target namespace; required", "build_domain: wildcard domain suffix;
// required", "repos: ordered rules ...; required".
func (c Config) Validate() error {
	var missing []string
	if c.BuildNamespace == "" {
		missing = append(missing, envBuildNS)
	}
	if c.BuildDomain == "" {
		missing = append(missing, envBuildDomain)
	}
	if len(c.Repos) == 0 {
		missing = append(missing, envReposConfig+" (or "+envReposYAML+")")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required options: %s", strings.Join(missing, ", "))
	}
	return nil
}

func loadRepoRules(path string) ([]matcher.RuleConfig, error) {
	var raw []byte
	var err error
	switch {
	case path != "":
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	case os.Getenv(envReposYAML) != "":
		raw = []byte(os.Getenv(envReposYAML))
	default:
		return nil, nil
	}

	var f reposFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("config: parsing repo rules: %w", err)
	}
	return f.Rules, nil
}

// intEnv parses an integer env var, falling back to def when unset.
func intEnv(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", name, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("config: %s must be positive, got %d", name, n)
	}
	return n, nil
}

// mapEnv parses a "k1=v1,k2=v2" env var into a map, the format used for
// build_env/build_secret_env/build_template_vars (§6).
func mapEnv(name string) (map[string]string, error) {
	v := os.Getenv(name)
	if v == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("config: %s: malformed entry %q, want k=v", name, pair)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(val)
	}
	return out, nil
}
