package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/francisco-agent/francisco/pkg/agent"
	"github.com/francisco-agent/francisco/pkg/audit"
	"github.com/francisco-agent/francisco/pkg/config"
	"github.com/francisco-agent/francisco/pkg/runtime"
	"github.com/francisco-agent/francisco/pkg/telemetry"
)

const (
	version     = "0.1.0"
	serviceName = "francisco"
)

// app holds global flag values and the process-wide resources set up
// before a command runs.
type app struct {
	stdout io.Writer
	stderr io.Writer
	lookup func(string) (string, bool)
	extra  []agent.Option

	configPath   string
	apiKey       string
	logLevel     string
	logFormat    string
	telemetry    string
	otlpEndpoint string
	auditDB      string

	logger   *slog.Logger
	metrics  *telemetry.InvocationMetrics
	store    *audit.SQLiteStore
	shutdown telemetry.ShutdownFunc

	cfg    *config.AgentConfig
	cfgErr error
}

// newApp returns an app writing to stdout and stderr. extra is appended to
// the options of every agent the commands build.
func newApp(stdout, stderr io.Writer, lookup func(string) (string, bool), extra ...agent.Option) *app {
	return &app{stdout: stdout, stderr: stderr, lookup: lookup, extra: extra}
}

// execute runs the command line args and releases the resources opened by
// setup, whether or not the command succeeded.
func (a *app) execute(ctx context.Context, args []string) error {
	root := a.rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if terr := a.teardown(ctx); terr != nil {
		if err == nil {
			return terr
		}
		if a.logger != nil {
			a.logger.WarnContext(ctx, "cli.teardown_failed", slog.String("error", terr.Error()))
		}
	}
	return err
}

// rootCmd builds the command tree.
func (a *app) rootCmd() *cobra.Command {
	env := func(key, def string) string {
		if v, ok := a.lookup(key); ok && strings.TrimSpace(v) != "" {
			return v
		}
		return def
	}

	root := &cobra.Command{
		Use:           "francisco",
		Short:         "Francisco - MCP server with agentic AI for self-replication",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", env("FRANCISCO_CONFIG_PATH", ""), "path to Francisco configuration file")
	flags.StringVarP(&a.apiKey, "api-key", "k", "", "API key for the model provider")
	flags.StringVarP(&a.logLevel, "log-level", "l", env("FRANCISCO_LOG_LEVEL", "INFO"), "log level (DEBUG, INFO, WARNING, ERROR, CRITICAL)")
	flags.StringVar(&a.logFormat, "log-format", env("FRANCISCO_LOG_FORMAT", "text"), "log format (text or json)")
	flags.StringVar(&a.telemetry, "telemetry", env("FRANCISCO_TELEMETRY", telemetry.ExporterNone), "telemetry exporter (none, stdout, otlp)")
	flags.StringVar(&a.otlpEndpoint, "otlp-endpoint", env("FRANCISCO_OTLP_ENDPOINT", ""), "OTLP gRPC endpoint")
	flags.StringVar(&a.auditDB, "audit-db", env("FRANCISCO_AUDIT_DB", ""), "SQLite file recording every invocation")

	root.AddCommand(
		a.versionCmd(),
		a.configCmd(),
		a.testAgentCmd(),
		a.serveCmd(),
		a.callCmd(),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	a.logger = telemetry.ConfigureSlog(a.stderr, a.logLevel, a.logFormat).
		With(slog.String("component", "cli"))

	if a.apiKey == "" {
		name := a.credentialEnv()
		if v, ok := a.lookup(name); !ok || strings.TrimSpace(v) == "" {
			fmt.Fprintf(a.stderr, "Warning: %s not found in environment\n", name)
			fmt.Fprintf(a.stderr, "Set %s environment variable or use --api-key option\n", name)
		}
	}

	shutdown, err := telemetry.InitWithConfig(serviceName, version, telemetry.Config{
		Exporter:     a.telemetry,
		OTLPEndpoint: a.otlpEndpoint,
		OTLPInsecure: true,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	a.shutdown = shutdown
	if a.telemetry != "" && a.telemetry != telemetry.ExporterNone {
		m, err := telemetry.NewInvocationMetrics(nil)
		if err != nil {
			return fmt.Errorf("telemetry metrics: %w", err)
		}
		a.metrics = m
	}

	if a.auditDB != "" {
		store, err := audit.OpenSQLite(a.auditDB)
		if err != nil {
			return fmt.Errorf("audit store: %w", err)
		}
		a.store = store
		a.logger.DebugContext(ctx, "audit.opened", slog.String("path", a.auditDB))
	}
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	var firstErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = err
		}
		a.store = nil
	}
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		a.shutdown = nil
	}
	return firstErr
}

// loadConfig loads the configuration named by --config once per run.
func (a *app) loadConfig() (*config.AgentConfig, error) {
	if a.cfg == nil && a.cfgErr == nil {
		a.cfg, a.cfgErr = config.Load(a.configPath)
	}
	return a.cfg, a.cfgErr
}

// credentialEnv names the variable holding the key for the configured
// model. It falls back to OPENAI_API_KEY when the configuration cannot be
// loaded; the command that needs it reports that error.
func (a *app) credentialEnv() string {
	cfg, err := a.loadConfig()
	if err != nil {
		return runtime.OpenAIKeyEnv
	}
	return runtime.CredentialEnv(cfg.Model)
}

// agentOptions returns the options every command builds its agent with.
func (a *app) agentOptions() []agent.Option {
	opts := []agent.Option{
		agent.WithLogger(a.logger),
		agent.WithEnv(a.lookup),
		agent.WithMetrics(a.metrics),
	}
	if a.apiKey != "" {
		opts = append(opts, agent.WithAPIKey(a.apiKey))
	}
	if a.store != nil {
		opts = append(opts, agent.WithAuditStore(a.store))
	}
	return append(opts, a.extra...)
}

func (a *app) newAgent() (*agent.Agent, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	return agent.New(cfg, a.agentOptions()...)
}
