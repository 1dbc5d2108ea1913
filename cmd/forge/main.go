package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"codeforge/internal/approval"
	"codeforge/internal/budget"
	"codeforge/internal/config"
	"codeforge/internal/embedding"
	"codeforge/internal/executor"
	"codeforge/internal/llm"
	"codeforge/internal/logging"
	"codeforge/internal/memory"
	"codeforge/internal/orchestrator"
	"codeforge/internal/planner"
	"codeforge/internal/session"
	"codeforge/internal/store"
	"codeforge/internal/tools"
	"codeforge/internal/tools/core"
	"codeforge/internal/tools/web"
	"codeforge/internal/types"
)

var (
	// Global flags
	workspace      string
	mode           string
	approvalMode   string
	prompt         string
	nonInteractive bool
	verbose        bool
	reindex        bool

	// Command-level logger
	logger *zap.Logger
)

// Exit codes: 0 success, 1 turn failure, 2 configuration error, 130
// interrupted.
const (
	exitOK        = 0
	exitFailure   = 1
	exitConfig    = 2
	exitInterrupt = 130
)

// recoveryTimeout bounds the startup recovery work: git context refresh
// and workspace re-indexing.
const recoveryTimeout = 60 * time.Second

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "codeforge - local-first CLI coding assistant",
	Long: `codeforge is an interactive coding assistant for the terminal.

It plans each request into tool tasks, executes them under an approval
gate, and remembers the project across sessions: conversation turns,
indexed source chunks, durable knowledge and recent git history all
feed the prompt, bounded by a strict token budget.

Run without arguments for the interactive prompt, or pass -p for a
single turn.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runForge,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workspace state and store statistics",
	RunE:  showStatus,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index the workspace for semantic retrieval",
	RunE:  runIndex,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Run a single prompt and exit")
	rootCmd.Flags().StringVarP(&mode, "mode", "m", "", "Operating mode: direct | concise | deep")
	rootCmd.Flags().StringVar(&approvalMode, "approval-mode", "", "Approval mode: default | autoEdit | yolo")
	rootCmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Never prompt; deny anything needing approval")

	indexCmd.Flags().BoolVar(&reindex, "force", false, "Reindex everything from scratch")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(indexCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch types.KindOf(err) {
	case types.KindConfig:
		return exitConfig
	case types.KindCancelled:
		return exitInterrupt
	}
	if errors.Is(err, context.Canceled) {
		return exitInterrupt
	}
	return exitFailure
}

// app holds the wired component graph for one invocation.
type app struct {
	cfg     config.Config
	lock    *session.Lock
	st      *store.LocalStore
	mem     *memory.Manager
	sm      *session.Manager
	orch    *orchestrator.Orchestrator
	monitor *orchestrator.Monitor
	indexer *memory.Indexer
}

// bootstrap builds the full component graph for the workspace.
func bootstrap(prompter approval.Prompter) (*app, error) {
	ws := workspace
	if ws == "" {
		ws, _ = os.Getwd()
	}

	cfg, err := config.Load(ws)
	if err != nil {
		return nil, err
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if approvalMode != "" {
		cfg.Approval.Mode = approvalMode
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logging.Initialize(cfg.StateDir(), cfg.Debug); err != nil {
		return nil, err
	}
	logging.Boot("forge starting (workspace=%s mode=%s)", cfg.Workspace, cfg.Mode)

	lock, err := session.AcquireLock(cfg.LockPath())
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		lock.Release()
		return nil, err
	}

	project, err := st.EnsureProject(cfg.Workspace)
	if err != nil {
		lock.Release()
		st.Close()
		return nil, err
	}

	primary, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		logger.Warn("embedding engine unavailable, using hash fallback", zap.Error(err))
		primary = embedding.NewHashEngine(cfg.Embedding.Dimensions)
	}
	engine := embedding.NewResilientEngine(primary)

	mem := memory.NewManager(st, engine, project.ID, cfg.Workspace, cfg.Memory)

	sm, err := session.Open(st, mem, project, types.Mode(cfg.Mode), cfg.Memory.SnapshotRetain)
	if err != nil {
		lock.Release()
		st.Close()
		return nil, err
	}
	if sm.Resumed() {
		fmt.Println("Resumed previous session.")
	}

	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		lock.Release()
		st.Close()
		return nil, types.NewAgentError(types.KindConfig, "main", "llm client", err)
	}

	registry := tools.NewRegistry()
	if err := core.RegisterAll(registry, cfg.Workspace, st, project.ID); err != nil {
		lock.Release()
		st.Close()
		return nil, err
	}
	registry.MustRegister(web.FetchTool())

	gate := approval.NewGate(cfg.Approval,
		approval.NewClassifier(registry, cfg.Approval.SensitivityOverrides),
		prompter, sm.Session().ID)

	a := &app{
		cfg:     cfg,
		lock:    lock,
		st:      st,
		mem:     mem,
		sm:      sm,
		indexer: memory.NewIndexer(st, engine, project.ID, cfg.Workspace),
	}

	a.orch = orchestrator.New(orchestrator.Deps{
		Client:    client,
		Memory:    mem,
		Planner:   planner.New(client, registry),
		Executor:  executor.New(registry, gate),
		Store:     st,
		Mode:      types.Mode(cfg.Mode),
		SessionID: sm.Session().ID,
		ProjectID: project.ID,
		WorkDir:   cfg.Workspace,
		Snapshot:  sm.Snapshot,
		Limits: budget.Limits{
			Ephemeral:    cfg.Memory.EphemeralTarget,
			Retrieved:    cfg.Memory.RetrievedTarget,
			Knowledge:    cfg.Memory.KnowledgeTarget,
			Query:        cfg.Memory.QueryTarget,
			Buffer:       cfg.Memory.BufferReserve,
			InputCeiling: cfg.Memory.InputCeiling,
			TotalCeiling: cfg.Memory.TotalCeiling,
		},
		SnapshotEvery: cfg.Memory.SnapshotEveryOps,
	})
	a.orch.RestoreCounters(sm.Session().TurnCount, sm.Session().TokensUsed)

	if cfg.Monitor.Enabled {
		a.monitor = orchestrator.NewMonitor(cfg.Monitor)
		a.orch.Events().Subscribe(a.monitor.Observer())
	}

	return a, nil
}

func (a *app) close() {
	if err := a.sm.Close(); err != nil {
		logger.Warn("session close failed", zap.Error(err))
	}
	if a.monitor != nil {
		a.monitor.Flush()
	}
	a.st.Close()
	a.lock.Release()
	logging.CloseAudit()
	logging.Close()
}

func runForge(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ninterrupted")
		cancel()
	}()

	if nonInteractive && prompt == "" {
		return types.NewAgentError(types.KindConfig, "main", "--non-interactive requires --prompt", nil)
	}

	var prompter approval.Prompter = &terminalPrompter{in: bufio.NewReader(os.Stdin)}
	if nonInteractive {
		prompter = approval.AutoDeny{}
	}

	a, err := bootstrap(prompter)
	if err != nil {
		return err
	}
	defer a.close()

	// Refresh git context and the index once per invocation; both are
	// best effort and bounded by the recovery deadline so a huge or
	// wedged workspace cannot stall startup.
	recoveryCtx, recoveryDone := context.WithTimeout(ctx, recoveryTimeout)
	a.mem.Git().Refresh(recoveryCtx)
	if n, err := a.indexer.IndexProject(recoveryCtx); err == nil && n > 0 {
		logger.Debug("workspace indexed", zap.Int("chunks", n))
	}
	recoveryDone()

	if prompt != "" {
		result := a.orch.HandleTurn(ctx, prompt)
		fmt.Println(result.Response)
		if !result.Success {
			return result.Err
		}
		return nil
	}

	return runREPL(ctx, a)
}

// runREPL is the interactive loop. A file watcher keeps the index
// current while the user types.
func runREPL(ctx context.Context, a *app) error {
	if w, err := memory.NewWatcher(a.indexer); err == nil {
		go w.Run(ctx)
		defer w.Close()
	}

	fmt.Printf("codeforge %s mode. Type 'exit' to quit.\n", a.cfg.Mode)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("forge> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			return types.NewAgentError(types.KindCancelled, "main", "interrupted", ctx.Err())
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		result := a.orch.HandleTurn(ctx, line)
		if result.Response != "" {
			fmt.Println(result.Response)
		}
		if result.Err != nil {
			if types.IsKind(result.Err, types.KindCancelled) {
				return result.Err
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", result.Err)
		}
	}
	return nil
}

// terminalPrompter asks the user on stdin. Approval prompts never time
// out.
type terminalPrompter struct {
	in *bufio.Reader
}

func (p *terminalPrompter) Prompt(ctx context.Context, req approval.Request) (approval.Decision, error) {
	fmt.Printf("\nTool %q (%s sensitivity) wants to run with args:\n", req.Tool, req.Sensitivity)
	for k, v := range req.Args {
		fmt.Printf("  %s: %v\n", k, v)
	}
	fmt.Print("[y]es / [a]lways / [n]o / [d]eny always? ")

	answerCh := make(chan string, 1)
	go func() {
		line, _ := p.in.ReadString('\n')
		answerCh <- strings.ToLower(strings.TrimSpace(line))
	}()

	select {
	case <-ctx.Done():
		return approval.DenyOnce, ctx.Err()
	case answer := <-answerCh:
		switch answer {
		case "y", "yes":
			return approval.ApproveOnce, nil
		case "a", "always":
			return approval.ApproveRemember, nil
		case "d":
			return approval.DenyRemember, nil
		default:
			return approval.DenyOnce, nil
		}
	}
}

func showStatus(cmd *cobra.Command, args []string) error {
	ws := workspace
	if ws == "" {
		ws, _ = os.Getwd()
	}
	cfg, err := config.Load(ws)
	if err != nil {
		return err
	}

	fmt.Println("codeforge status")
	fmt.Println("================")
	fmt.Printf("Workspace: %s\n", cfg.Workspace)
	fmt.Printf("Mode:      %s\n", cfg.Mode)
	fmt.Printf("Provider:  %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	if cfg.LLM.APIKey != "" {
		fmt.Println("API key:   configured")
	} else {
		fmt.Println("API key:   not configured (set FORGE_API_KEY)")
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats()
	if err != nil {
		return err
	}
	fmt.Println("\nStore:")
	for _, table := range []string{"projects", "sessions", "session_snapshots", "chunks", "knowledge", "git_commits", "execution_log"} {
		fmt.Printf("  %-18s %d\n", table, stats[table])
	}
	return nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ws := workspace
	if ws == "" {
		ws, _ = os.Getwd()
	}
	cfg, err := config.Load(ws)
	if err != nil {
		return err
	}
	if err := logging.Initialize(cfg.StateDir(), cfg.Debug); err != nil {
		return err
	}
	defer logging.Close()

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()

	project, err := st.EnsureProject(cfg.Workspace)
	if err != nil {
		return err
	}

	primary, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		logger.Warn("embedding engine unavailable, using hash fallback", zap.Error(err))
		primary = embedding.NewHashEngine(cfg.Embedding.Dimensions)
	}
	engine := embedding.NewResilientEngine(primary)

	indexer := memory.NewIndexer(st, engine, project.ID, cfg.Workspace)
	n, err := indexer.IndexProject(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d chunks.\n", n)

	if reindex {
		re, err := indexer.ReembedDegraded(ctx, 0)
		if err == nil && re > 0 {
			fmt.Printf("Recomputed %d degraded embeddings.\n", re)
		}
	}
	return nil
}
