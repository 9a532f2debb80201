// Command runboatd is the runboat controller process: it wires together
// configuration, the Cluster Gateway, the Build Index, the Controller
// Loop, the Command Surface, and the REST/webhook transports, then serves
// until signaled to shut down (§6's exit-code contract).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/sbidoul/runboat/internal/api"
	"github.com/sbidoul/runboat/internal/command"
	"github.com/sbidoul/runboat/internal/config"
	"github.com/sbidoul/runboat/internal/controllerloop"
	"github.com/sbidoul/runboat/internal/logging"
	"github.com/sbidoul/runboat/internal/metrics"
	"github.com/sbidoul/runboat/pkg/buildindex"
	"github.com/sbidoul/runboat/pkg/eventbus"
	"github.com/sbidoul/runboat/pkg/gateway"
	"github.com/sbidoul/runboat/pkg/matcher"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "runboatd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log, err := logging.New(parseLogConfig(cfg.LogConfig))
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	log = log.WithName("runboatd")

	if cfg.GitHubWebhookSecret == "" {
		log.Info("github_webhook_secret is unset: the webhook endpoint is open, accepting unauthenticated deploy requests")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	restCfg, err := clusterConfig()
	if err != nil {
		return fmt.Errorf("building cluster config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return fmt.Errorf("building kubernetes clientset: %w", err)
	}
	dynClient, err := dynamic.NewForConfig(restCfg)
	if err != nil {
		return fmt.Errorf("building dynamic client: %w", err)
	}

	reg := prometheus.NewRegistry()
	metricsReg := metrics.New(reg)

	gw := gateway.New(clientset, dynClient, cfg.BuildNamespace, log, gateway.Options{Metrics: metricsReg})

	bus := eventbus.New(0)
	index := buildindex.New(bus)

	m, err := matcher.New(cfg.Repos)
	if err != nil {
		return fmt.Errorf("compiling repo rules: %w", err)
	}
	if cfg.ReposConfigPath != "" {
		if err := config.WatchRepoRules(ctx, cfg.ReposConfigPath, m, log); err != nil {
			return fmt.Errorf("watching repo rules: %w", err)
		}
	}

	loop := controllerloop.New(gw, index, bus, metricsReg, log, controllerloop.Options{
		BuildNamespace:    cfg.BuildNamespace,
		BuildDomain:       cfg.BuildDomain,
		KubefilesBaseDir:  cfg.DefaultKubefilesPath,
		BuildEnv:          cfg.BuildEnv,
		BuildSecretEnv:    cfg.BuildSecretEnv,
		BuildTemplateVars: cfg.BuildTemplateVars,
		MaxInitializing:   cfg.MaxInitializing,
		MaxStarted:        cfg.MaxStarted,
		MaxDeployed:       cfg.MaxDeployed,
	})

	cmd := command.New(m, index, gw, log, command.Options{
		KubefilesBaseDir:  cfg.DefaultKubefilesPath,
		BuildDomain:       cfg.BuildDomain,
		BuildEnv:          cfg.BuildEnv,
		BuildSecretEnv:    cfg.BuildSecretEnv,
		BuildTemplateVars: cfg.BuildTemplateVars,
	})

	router := api.New(ctx, cmd, gw, bus, log, api.Options{
		AdminUser:           cfg.APIAdminUser,
		AdminPassword:       cfg.APIAdminPassword,
		GitHubWebhookSecret: cfg.GitHubWebhookSecret,
	})
	srv := &http.Server{
		Addr:    ":8080",
		Handler: router,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("starting REST/webhook server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("REST server: %w", err)
		}
	}()
	go func() {
		log.Info("starting controller loop")
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("controller loop: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error(err, "fatal component failure")
		stop()
		return err
	}

	shutdownTimeout := time.Duration(cfg.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// clusterConfig resolves the REST config for the Kubernetes API server:
// in-cluster when running as a pod, falling back to the local kubeconfig
// for development.
func clusterConfig() (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("no in-cluster config and no KUBECONFIG: %w", err)
		}
		kubeconfig = home + "/.kube/config"
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

// parseLogConfig turns the presentation-only log_config option (§6) into a
// logging.Config. Accepted forms: "json", "console", "json:debug",
// "console:debug".
func parseLogConfig(raw string) logging.Config {
	encoding, level, _ := strings.Cut(raw, ":")
	if encoding == "" {
		encoding = "json"
	}
	return logging.Config{Encoding: encoding, Level: level}
}
