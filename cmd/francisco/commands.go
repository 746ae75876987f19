package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/francisco-agent/francisco/pkg/agent"
	"github.com/francisco-agent/francisco/pkg/config"
	"github.com/francisco-agent/francisco/pkg/mcp"
	"github.com/francisco-agent/francisco/pkg/runtime"
)

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show Francisco version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(a.stdout, "Francisco v%s\n", version)
			fmt.Fprintln(a.stdout, "MCP server with agentic AI for self-replication")
			return nil
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show Francisco agent configuration and status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ag, err := a.newAgent()
			if err != nil {
				return err
			}
			switch strings.ToLower(format) {
			case "", "text":
				fmt.Fprintln(a.stdout, "Francisco Agent Configuration")
				fmt.Fprintln(a.stdout)
				fmt.Fprintln(a.stdout, ag.Prompt())
			case "yaml":
				out, err := yaml.Marshal(map[string]*config.AgentConfig{"agent": ag.Config()})
				if err != nil {
					return fmt.Errorf("encode configuration: %w", err)
				}
				_, err = a.stdout.Write(out)
				return err
			default:
				return fmt.Errorf("unknown format %q (use text or yaml)", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format (text or yaml)")
	return cmd
}

func (a *app) testAgentCmd() *cobra.Command {
	var pairs []string
	cmd := &cobra.Command{
		Use:   "test-agent <input>",
		Short: "Test Francisco agent with input text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			extra, err := parseContext(pairs)
			if err != nil {
				return err
			}
			ag, err := a.newAgent()
			if err != nil {
				return err
			}
			input := args[0]
			fmt.Fprintln(a.stdout, "Testing Francisco Agent")
			fmt.Fprintf(a.stdout, "Input: %s\n\n", input)

			response := ag.Invoke(cmd.Context(), input, extra)

			fmt.Fprintln(a.stdout, "Francisco Agent Response")
			fmt.Fprintln(a.stdout)
			fmt.Fprintln(a.stdout, response)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&pairs, "context", nil, "additional context as key=value (repeatable)")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	var transport, addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Francisco MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			// Configuration and template faults stop startup; only the
			// credential is checked per call.
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if _, err := cfg.Render(); err != nil {
				return err
			}
			a.logger.DebugContext(ctx, "serve.config_loaded",
				slog.String("source", cfg.Source()),
				slog.String("model", cfg.Model))

			lazy := agent.NewLazy(a.newAgent)
			srv := mcp.NewServer(version, lazy,
				mcp.WithCredentialEnv(runtime.CredentialEnv(cfg.Model)),
				mcp.WithServerAPIKey(a.apiKey),
				mcp.WithServerEnv(a.lookup),
				mcp.WithServerLogger(a.logger),
			)
			fmt.Fprintln(a.stderr, "Starting Francisco MCP Server")
			err = srv.Serve(ctx, transport, addr)
			fmt.Fprintln(a.stderr, "Francisco MCP Server stopped")
			return err
		},
	}
	cmd.Flags().StringVar(&transport, "transport", mcp.TransportStdio, "transport (stdio or streamable-http)")
	cmd.Flags().StringVar(&addr, "addr", mcp.DefaultAddr, "listen address for streamable-http")
	return cmd
}

func (a *app) callCmd() *cobra.Command {
	var (
		serverURL string
		execLine  string
		pairs     []string
		timeout   time.Duration
		retries   int
	)
	cmd := &cobra.Command{
		Use:   "call <input>",
		Short: "Invoke a Francisco MCP server",
		Long:  "Invoke a Francisco MCP server over streamable HTTP, or over the stdio of a command started with --exec.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			extra, err := parseContext(pairs)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			opts := []mcp.ClientOption{mcp.WithTimeout(timeout), mcp.WithRetry(retries, 0)}
			target := serverURL
			var client *mcp.Client
			if fields := strings.Fields(execLine); len(fields) > 0 {
				target = execLine
				client, err = mcp.NewClientWithStdio(ctx, fields[0], nil, fields[1:], opts...)
			} else {
				client, err = mcp.NewClientWithStreamableHTTP(ctx, serverURL, opts...)
			}
			if err != nil {
				return fmt.Errorf("connect to %s: %w", target, err)
			}
			defer client.Close()

			a.logger.DebugContext(ctx, "call.invoke", slog.String("server", target))
			response, err := client.Invoke(ctx, args[0], extra)
			if err != nil {
				return fmt.Errorf("invoke on %s: %w", target, err)
			}
			fmt.Fprintln(a.stdout, response)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost"+mcp.DefaultAddr+"/mcp", "streamable HTTP endpoint of the server")
	cmd.Flags().StringVar(&execLine, "exec", "", "command serving MCP on its stdio; overrides --server")
	cmd.Flags().StringArrayVar(&pairs, "context", nil, "additional context as key=value (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "per-request timeout")
	cmd.Flags().IntVar(&retries, "retries", 1, "retries on transport failures")
	return cmd
}

// parseContext turns key=value pairs into a context map. Values are read
// as YAML scalars, so 3 is an int and true a bool.
func parseContext(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --context %q (want key=value)", pair)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		if _, isMap := value.(map[string]any); isMap {
			value = raw
		}
		out[key] = value
	}
	return out, nil
}
