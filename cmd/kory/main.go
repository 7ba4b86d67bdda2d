// Command kory runs the orchestration server for the agent workbench.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"kory/internal/bus"
	"kory/internal/config"
	"kory/internal/ledger"
	"kory/internal/llm"
	"kory/internal/logging"
	"kory/internal/manager"
	"kory/internal/server"
	"kory/internal/snapshot"
	"kory/internal/store"
	"kory/internal/tools"
	"kory/internal/tools/builtin"
	"kory/internal/trace"
	"kory/internal/vcs"
)

var (
	flagPort    int
	flagHost    string
	flagWorkdir string
	flagYolo    bool
)

func main() {
	root := &cobra.Command{
		Use:   "kory",
		Short: "Kory orchestration server",
		Long: "Kory coordinates LLM-driven coding sessions over a local workspace:\n" +
			"it manages sessions, streams model output, sandboxes tool execution\n" +
			"and tracks every file change for review.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	root.Flags().IntVar(&flagPort, "port", 0, "HTTP port (overrides config)")
	root.Flags().StringVar(&flagHost, "host", "", "bind address (overrides config)")
	root.Flags().StringVar(&flagWorkdir, "workdir", "", "workspace directory (default: current directory)")
	root.Flags().BoolVar(&flagYolo, "yolo", false, "skip confirmation prompts for destructive commands")
	root.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var version = "dev"

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kory version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("kory", version)
		},
	}
}

func run(ctx context.Context) error {
	logger := logging.NewComponentLogger("main")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flagPort != 0 {
		cfg.Server.Port = flagPort
	}
	if flagHost != "" {
		cfg.Server.Host = flagHost
	}

	workdir := flagWorkdir
	if workdir == "" {
		if workdir, err = os.Getwd(); err != nil {
			return fmt.Errorf("resolve workdir: %w", err)
		}
	}
	if workdir, err = filepath.Abs(workdir); err != nil {
		return fmt.Errorf("resolve workdir: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDirectory, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDirectory, "kory.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	eventBus := bus.New()
	defer eventBus.Close()

	toolRegistry := tools.NewRegistry()
	if err := builtin.RegisterAll(toolRegistry, builtin.Config{
		TavilyAPIKey:     os.Getenv("KORY_TAVILY_API_KEY"),
		MaxFileSizeBytes: cfg.Safety.MaxFileSizeBytes,
	}); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	traceSink := trace.NewSink(cfg.DataDirectory)
	defer func() { _ = traceSink.Close() }()

	mgr := manager.New(manager.Options{
		Config:    cfg,
		Store:     st,
		Bus:       eventBus,
		Ledger:    ledger.New(),
		Snapshots: snapshot.New(filepath.Join(cfg.DataDirectory, "snapshots")),
		Git:       vcs.New(workdir),
		Tools:     toolRegistry,
		LLM:       llm.NewRegistry(cfg),
		Trace:     traceSink,
		Workdir:   workdir,
	})
	mgr.SetYoloMode(flagYolo)

	srv := server.New(cfg, mgr, st, server.NewHub(eventBus))

	logger.Info("workspace %s, data %s", workdir, cfg.DataDirectory)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		mgr.Cancel()
		return nil
	})
	return g.Wait()
}
