// Package main provides the waypost CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xzahalko/waypost/pkg/config"
	"github.com/xzahalko/waypost/pkg/registry"
	"github.com/xzahalko/waypost/pkg/waypost"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

var (
	flagConfig  string
	flagDataDir string
	flagDebug   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "waypost",
		Short: "Waypost - crash-safe registry of travel destinations",
		Long: `Waypost maintains a registry of named destination records backed by
one canonical JSON document.

Features:
  • Atomic document writes with a single reusable backup
  • Post-write verification with automatic rollback
  • One-time migration of the flat legacy visited-flag format
  • Visited reconciliation with fuzzy save-state matching
  • Badger-backed mutation journal`,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Waypost v%s (%s)\n", version, commit)
		},
	})

	// Init command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Initialize a data directory with the default destinations",
		RunE:  runInit,
	})

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all destination records",
		RunE:  runList,
	}
	rootCmd.AddCommand(listCmd)

	// Mark command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "mark [city]",
		Short: "Flag a destination as visited",
		Args:  cobra.ExactArgs(1),
		RunE:  runMark,
	})

	// Visited command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "visited [city]",
		Short: "Resolve the visited state of one destination",
		Args:  cobra.ExactArgs(1),
		RunE:  runVisited,
	})

	// Set command
	setCmd := &cobra.Command{
		Use:   "set [city]",
		Short: "Patch fields of an existing destination",
		Args:  cobra.ExactArgs(1),
		RunE:  runSet,
	}
	setCmd.Flags().Int("price", -1, "New travel price")
	setCmd.Flags().String("scene", "", "New scene name")
	setCmd.Flags().String("desc", "", "New description")
	setCmd.Flags().Bool("disable", false, "Disable the destination")
	rootCmd.AddCommand(setCmd)

	// Migrate command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate [file]",
		Short: "Import visited flags from a legacy flat config file",
		Args:  cobra.ExactArgs(1),
		RunE:  runMigrate,
	})

	// Journal command
	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent mutation journal entries",
		RunE:  runJournal,
	}
	journalCmd.Flags().Int("limit", 20, "Maximum entries to show")
	rootCmd.AddCommand(journalCmd)

	// Watch command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Watch the canonical document and reconcile external edits",
		RunE:  runWatch,
	})

	// Stats command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		RunE:  runStats,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(flagConfig)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagDebug {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}
	return cfg, nil
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Logging.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	zcfg.Level = level
	return zcfg.Build()
}

func openStore() (*waypost.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := buildLogger(cfg)
	if err != nil {
		return nil, err
	}
	return waypost.Open("", cfg, logger)
}

func runInit(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Flush(ctx); err != nil {
		return fmt.Errorf("writing document: %w", err)
	}

	cities, err := store.List(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("✅ Initialized with %d destinations\n", len(cities))
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	cities, err := store.List(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%-16s %-24s %7s  %-8s %s\n", "NAME", "SCENE", "PRICE", "ENABLED", "VISITED")
	for _, c := range cities {
		mark := ""
		if c.Visited {
			mark = "✓"
		}
		fmt.Printf("%-16s %-24s %7d  %-8v %s\n", c.Name, c.SceneName, c.Price, c.Enabled, mark)
	}
	return nil
}

func runMark(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	if err := store.MarkVisited(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("✅ Marked %s as visited\n", args[0])
	return nil
}

func runVisited(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	ok, err := store.IsVisited(context.Background(), args[0])
	if err != nil {
		return err
	}
	if ok {
		fmt.Printf("%s: visited\n", args[0])
	} else {
		fmt.Printf("%s: not visited\n", args[0])
	}
	return nil
}

func runSet(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	var patch registry.Patch
	if price, _ := cmd.Flags().GetInt("price"); price >= 0 {
		patch.Price = &price
	}
	if scene, _ := cmd.Flags().GetString("scene"); scene != "" {
		patch.SceneName = &scene
	}
	if desc, _ := cmd.Flags().GetString("desc"); desc != "" {
		patch.Desc = &desc
	}
	if disable, _ := cmd.Flags().GetBool("disable"); disable {
		enabled := false
		patch.Enabled = &enabled
	}

	if err := store.MergeFields(context.Background(), args[0], patch); err != nil {
		return err
	}
	fmt.Printf("✅ Updated %s\n", args[0])
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading legacy file: %w", err)
	}

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	report, err := store.MigrateLegacy(context.Background(), string(data))
	if err != nil {
		return err
	}

	if report.Skipped {
		fmt.Println("⏭  Migration skipped: registry already carries visited flags")
		return nil
	}
	fmt.Printf("✅ Migration complete\n")
	fmt.Printf("   Applied:   %d %v\n", len(report.Applied), report.Applied)
	if len(report.Unmatched) > 0 {
		fmt.Printf("   Unmatched: %d %v\n", len(report.Unmatched), report.Unmatched)
	}
	if len(report.IgnoredFalse) > 0 {
		fmt.Printf("   Ignored:   %d (visited=false has no effect)\n", len(report.IgnoredFalse))
	}
	for _, e := range report.Errors {
		fmt.Printf("   ⚠️  %v\n", e)
	}
	return nil
}

func runJournal(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	jnl := store.Journal()
	if jnl == nil {
		fmt.Println("Journal is disabled")
		return nil
	}

	entries, err := jnl.Entries(limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No journal entries")
		return nil
	}

	fmt.Printf("%-6s %-20s %-10s %-16s %s\n", "SEQ", "TIME", "OP", "SUBJECT", "DIGEST")
	for _, e := range entries {
		digest := e.Digest
		if len(digest) > 12 {
			digest = digest[:12] + "…"
		}
		fmt.Printf("%-6d %-20s %-10s %-16s %s\n",
			e.Sequence, e.Timestamp.Format(time.RFC3339), e.Op, e.Subject, digest)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.StartWatcher(ctx); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	fmt.Println("👀 Watching canonical document, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\n🛑 Stopping watcher...")
	st := store.WatcherStats()
	fmt.Printf("   Events: %d  Self-writes: %d  Reconciles: %d\n", st.Events, st.SelfWrites, st.Fired)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	st, err := store.Stats(context.Background())
	if err != nil {
		return err
	}

	fmt.Println("📊 Store Statistics:")
	fmt.Printf("   Destinations:   %d\n", st.Cities)
	fmt.Printf("   Visited:        %d\n", st.Visited)
	fmt.Printf("   Cache hits:     %d\n", st.Resolver.CacheHits)
	fmt.Printf("   Cache misses:   %d\n", st.Resolver.CacheMisses)
	fmt.Printf("   Journal seq:    %d\n", st.Journal)
	return nil
}
