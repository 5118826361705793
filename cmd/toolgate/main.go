package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"toolgate/internal/audit"
	"toolgate/internal/config"
	"toolgate/internal/dispatch"
	"toolgate/internal/events"
	"toolgate/internal/isolate"
	"toolgate/internal/logging"
	"toolgate/internal/permission"
	"toolgate/internal/ratelimit"
	"toolgate/internal/security"
	"toolgate/internal/session"
	"toolgate/internal/tools"
	"toolgate/internal/tools/core"
	"toolgate/internal/tools/shell"
	"toolgate/internal/tools/web"
)

var (
	// Global flags
	verbose     bool
	policyPath  string
	projectRoot string
	sessionID   string
	grantedTier string
	consented   []string
	parallel    bool
	timeout     time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "toolgate - secure tool-execution pipeline for AI agents",
	Long: `toolgate is the trust boundary between an AI agent and the machine it
runs on. Tool-call requests are parsed, validated against a registry,
rate-limited, permission-checked, executed in isolation, sanitized, and
audited before any result is returned.

Feed it a tool-call payload (OpenAI tool_calls shape, a wrapped object,
or a direct array) and it returns one result per call, in input order.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapConfig := zap.NewProductionConfig()
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(projectRoot); err != nil {
			logger.Warn("category logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd executes one payload and exits.
var runCmd = &cobra.Command{
	Use:   "run [payload-file]",
	Short: "Execute a tool-call payload and print the results",
	Long: `Reads a tool-call payload from the given file (or stdin when omitted),
runs every call through the security pipeline, and prints the results as
JSON, one result per call in input order.

Example:
  toolgate run calls.json --root . --tier write
  echo '[{"id":"c1","name":"list_dir","arguments":{}}]' | toolgate run`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPayload,
}

// serveCmd processes payloads line by line with policy hot reload.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Process newline-delimited payloads from stdin",
	Long: `Reads one JSON payload per line from stdin and writes one JSON result
array per line to stdout. The policy file is watched for changes and
reloaded live; edits apply to subsequent payloads without a restart.`,
	RunE: servePayloads,
}

// toolsCmd lists the registry.
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List registered tools and their required tiers",
	RunE:  listTools,
}

// auditCmd queries the persistent audit trail.
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the persistent audit trail",
	Long: `Prints audit entries from the SQLite sink configured in the policy
(audit.database_path). Arguments are never stored; each entry carries a
one-way fingerprint instead.`,
	RunE: queryAudit,
}

var auditLimit int

// policyCmd manages the policy file.
var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage the security policy file",
}

var policyInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default policy file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(policyPath); err == nil {
			return fmt.Errorf("refusing to overwrite existing %s", policyPath)
		}
		if err := config.DefaultPolicy().Save(policyPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", policyPath)
		return nil
	},
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, err := config.Load(policyPath)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(policy, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

// pipeline bundles everything a dispatch run needs.
type pipeline struct {
	dispatcher *dispatch.Dispatcher
	registry   *tools.Registry
	resolver   *permission.Resolver
	gate       *security.Gate
	auditLog   *audit.Log
	sink       *audit.SQLiteSink
	policy     *config.Policy
}

// buildPipeline wires the components from the policy file.
func buildPipeline() (*pipeline, error) {
	policy, err := config.Load(policyPath)
	if err != nil {
		return nil, err
	}

	resolver, err := policy.BuildResolver()
	if err != nil {
		return nil, err
	}
	sanitizer := policy.BuildSanitizer()
	shell.SetValidator(policy.BuildCommandValidator())

	registry := tools.NewRegistry()
	if err := core.RegisterAll(registry); err != nil {
		return nil, err
	}
	if err := shell.RegisterAll(registry); err != nil {
		return nil, err
	}
	if err := web.RegisterAll(registry); err != nil {
		return nil, err
	}

	auditLog := audit.NewLog(policy.Audit.Capacity)
	var sink *audit.SQLiteSink
	if policy.Audit.DatabasePath != "" {
		sink, err = audit.NewSQLiteSink(policy.Audit.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("audit sink: %w", err)
		}
		auditLog.SetSink(sink)
	}

	gate := security.NewGate(ratelimit.NewLimiter(), resolver)
	executor := isolate.NewExecutor(sanitizer, policy.Execution.MaxOutputBytes)
	sessions := session.NewStaticProvider(map[string]string{sessionID: projectRoot})

	dispatcher := dispatch.NewDispatcher(registry, gate, executor, sanitizer, auditLog, events.NopSink{}, sessions)
	dispatcher.SetDefaultTimeout(policy.DefaultTimeout())

	return &pipeline{
		dispatcher: dispatcher,
		registry:   registry,
		resolver:   resolver,
		gate:       gate,
		auditLog:   auditLog,
		sink:       sink,
		policy:     policy,
	}, nil
}

func (p *pipeline) close() {
	if p.sink != nil {
		_ = p.sink.Close()
	}
}

// executionContext builds the per-batch context from the global flags.
func executionContext(p *pipeline) (tools.ExecutionContext, error) {
	tier, err := permission.ParseTier(grantedTier)
	if err != nil {
		return tools.ExecutionContext{}, err
	}

	consentSet := make(map[string]bool, len(consented))
	for _, name := range consented {
		consentSet[strings.TrimSpace(name)] = true
	}

	return tools.ExecutionContext{
		SessionID:      sessionID,
		ProjectRoot:    projectRoot,
		Timeout:        timeout,
		GrantedTier:    tier,
		ConsentedTools: consentSet,
	}, nil
}

func runPayload(cmd *cobra.Command, args []string) error {
	var raw []byte
	var err error
	if len(args) == 1 && args[0] != "-" {
		raw, err = os.ReadFile(args[0])
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.close()

	ec, err := executionContext(p)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := p.dispatcher.Dispatch(ctx, raw, ec,
		dispatch.Options{Parallel: parallel, MaxParallel: p.policy.Execution.MaxParallel})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func servePayloads(cmd *cobra.Command, args []string) error {
	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.close()

	ec, err := executionContext(p)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Swap the dispatcher atomically when the policy file changes.
	var mu sync.Mutex
	current := p
	watcher, err := config.NewWatcher(policyPath, func(*config.Policy) {
		rebuilt, err := buildPipeline()
		if err != nil {
			logger.Warn("policy reload failed, keeping previous pipeline", zap.Error(err))
			return
		}
		mu.Lock()
		old := current
		current = rebuilt
		mu.Unlock()
		old.close()
		logger.Info("policy reloaded", zap.String("path", policyPath))
	})
	if err == nil {
		if startErr := watcher.Start(ctx); startErr != nil {
			logger.Warn("policy watch unavailable", zap.Error(startErr))
		} else {
			defer watcher.Stop()
		}
	}

	// Periodic sweep keeps abandoned (session, tool) windows from
	// accumulating in a long-lived process.
	go func() {
		ticker := time.NewTicker(p.policy.SweepInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				active := current
				mu.Unlock()
				if removed := active.gate.Sweep(time.Hour); removed > 0 {
					logger.Debug("swept stale rate-limit keys", zap.Int("removed", removed))
				}
			}
		}
	}()

	encoder := json.NewEncoder(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		mu.Lock()
		active := current
		mu.Unlock()

		results, err := active.dispatcher.Dispatch(ctx, []byte(line), ec,
			dispatch.Options{Parallel: parallel, MaxParallel: active.policy.Execution.MaxParallel})
		if err != nil {
			encoder.Encode(map[string]string{"error": err.Error()})
			continue
		}
		encoder.Encode(results)
	}
	return scanner.Err()
}

func listTools(cmd *cobra.Command, args []string) error {
	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.close()

	fmt.Printf("%-14s %-12s %-10s %s\n", "TOOL", "TIER", "LIMIT", "DESCRIPTION")
	for _, name := range p.registry.Names() {
		tool := p.registry.Get(name)
		tier := p.resolver.RequiredTier(name)
		limit := p.resolver.LimitFor(name)
		fmt.Printf("%-14s %-12s %3d/%-6s %s\n",
			name, tier, limit.Limit, limit.Window, tool.Description)
	}
	return nil
}

func queryAudit(cmd *cobra.Command, args []string) error {
	policy, err := config.Load(policyPath)
	if err != nil {
		return err
	}
	if policy.Audit.DatabasePath == "" {
		return fmt.Errorf("no audit.database_path configured in %s", policyPath)
	}

	sink, err := audit.NewSQLiteSink(policy.Audit.DatabasePath)
	if err != nil {
		return err
	}
	defer sink.Close()

	entries, err := sink.QuerySession(sessionID, auditLimit)
	if err != nil {
		return err
	}

	byStatus := make(map[audit.Status]int)
	var total time.Duration
	for _, e := range entries {
		fmt.Printf("%s %-10s %-14s session=%s fingerprint=%s %dms\n",
			e.Timestamp.Format(time.RFC3339), e.Status, e.ToolName,
			e.SessionID, e.ArgsFingerprint, e.Duration.Milliseconds())
		byStatus[e.Status]++
		total += e.Duration
	}

	fmt.Printf("%d entries", len(entries))
	for _, status := range []audit.Status{audit.StatusOk, audit.StatusError,
		audit.StatusDenied, audit.StatusTimeout, audit.StatusCrashed, audit.StatusRejected} {
		if n := byStatus[status]; n > 0 {
			fmt.Printf("  %s=%d", status, n)
		}
	}
	if len(entries) > 0 {
		fmt.Printf("  mean=%dms", (total / time.Duration(len(entries))).Milliseconds())
	}
	fmt.Println()
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", ".toolgate/policy.yaml", "Security policy file")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "Project root tools are confined to")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "cli", "Session identifier")
	rootCmd.PersistentFlags().StringVar(&grantedTier, "tier", "read_only", "Granted access tier (read_only, write, execute, privileged)")
	rootCmd.PersistentFlags().StringSliceVar(&consented, "consent", nil, "Tool names explicitly consented to")
	rootCmd.PersistentFlags().BoolVar(&parallel, "parallel", false, "Execute batch calls concurrently")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Per-call timeout (default from policy)")

	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum entries to print")

	policyCmd.AddCommand(policyInitCmd, policyShowCmd)
	rootCmd.AddCommand(runCmd, serveCmd, toolsCmd, auditCmd, policyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
