package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/compose-network/builder-gate/builder-gate-app/config"
	"github.com/compose-network/builder-gate/log"
	"github.com/compose-network/builder-gate/x/perms"
)

// Set via -ldflags at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const defaultConfigPath = "builder-gate-app/configs/config.yaml"

var cfgFile string

func main() {
	if err := execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	cobra.OnInitialize(initConfig)
	return newRootCmd().Execute()
}

// newRootCmd builds the command tree with fresh flag sets.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "builder-gate",
		Short: "Builder Gate",
		Long: "Builder Gate restricts write access to a rotating set of builders, " +
			"one builder per host chain slot, in round-robin order.",
		RunE:         runApp,
		SilenceUsage: true,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   runVersion,
	}

	slotCmd := &cobra.Command{
		Use:   "slot",
		Short: "Print the slot, point in slot and assigned builder at a time",
		RunE:  runSlot,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE:  runConfig,
	}

	// Add subcommands
	rootCmd.AddCommand(versionCmd, slotCmd, configCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "enable pretty logging")

	// Server flags
	rootCmd.PersistentFlags().String("listen-addr", "", "API listen address")

	// Chain and roster flags
	rootCmd.PersistentFlags().String("chain", "", "slot preset name (mainnet, holesky, pecorino)")
	rootCmd.PersistentFlags().String("builders", "", "comma-separated builder roster")
	rootCmd.PersistentFlags().String("upstream", "", "upstream URL for permitted builder requests")

	// Metrics flags
	rootCmd.PersistentFlags().Bool("metrics", false, "enable metrics")

	slotCmd.Flags().String("at", "", "RFC3339 time or unix seconds (default now)")

	return rootCmd
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = defaultConfigPath
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Read(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func runApp(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := log.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("go_version", runtime.Version()).
		Msg("Build information")

	log.Info().
		Str("config_file", cfgFile).
		Str("listen_addr", cfg.API.ListenAddr).
		Bool("metrics_enabled", cfg.Metrics.Enabled).
		Str("log_level", cfg.Log.Level).
		Int("builders", len(cfg.Perms.Builders)).
		Bool("upstream", cfg.Upstream.URL != "").
		Msg("Configuration loaded")

	application, err := NewApp(cmd.Context(), cfg, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(cmd.Context())
}

func runVersion(cmd *cobra.Command, _ []string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Builder Gate\n")
	fmt.Fprintf(out, "Version:    %s\n", Version)
	fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
	fmt.Fprintf(out, "Go Version: %s\n", runtime.Version())
	fmt.Fprintf(out, "OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func runSlot(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	at := time.Now()
	if s, _ := cmd.Flags().GetString("at"); s != "" {
		if at, err = parseTime(s); err != nil {
			return err
		}
	}

	win, err := cfg.WindowConfig()
	if err != nil {
		return err
	}
	builders, err := perms.NewBuilders(cfg.Perms.Builders, win)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	d := perms.NewAuthorizer(builders).Snapshot(at)
	fmt.Fprintf(out, "Time:          %s (%d)\n", at.UTC().Format(time.RFC3339), at.Unix())
	fmt.Fprintf(out, "Calculator:    %s\n", win.Calc())
	if !d.SlotKnown {
		fmt.Fprintf(out, "Slot:          before chain start\n")
		return nil
	}
	w, _ := win.Calc().SlotWindow(d.Slot)
	fmt.Fprintf(out, "Slot:          %d [%d, %d)\n", d.Slot, w.Start, w.End)
	fmt.Fprintf(out, "Point in slot: %d\n", d.Point)
	fmt.Fprintf(out, "Window:        [%d, %d] accepting=%t\n",
		win.BlockQueryStart(), win.BlockQueryCutoff(), win.Allows(d.Point))
	fmt.Fprintf(out, "Builder:       %s\n", d.Assigned)
	fmt.Fprintf(out, "Next builder:  %s\n", builders.BuilderForSlot(d.Slot+1).Sub)
	return nil
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	unix, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: want RFC3339 or unix seconds", s)
	}
	return time.Unix(unix, 0), nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flag("log-level").Changed {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flag("log-pretty").Changed {
		cfg.Log.Pretty, _ = cmd.Flags().GetBool("log-pretty")
	}

	if cmd.Flag("listen-addr").Changed {
		cfg.API.ListenAddr, _ = cmd.Flags().GetString("listen-addr")
	}

	if cmd.Flag("chain").Changed {
		cfg.Chain.Preset, _ = cmd.Flags().GetString("chain")
	}
	if cmd.Flag("builders").Changed {
		s, _ := cmd.Flags().GetString("builders")
		cfg.Perms.Builders = perms.ParseBuilders(s)
	}
	if cmd.Flag("upstream").Changed {
		cfg.Upstream.URL, _ = cmd.Flags().GetString("upstream")
	}

	if cmd.Flag("metrics").Changed {
		cfg.Metrics.Enabled, _ = cmd.Flags().GetBool("metrics")
	}
}
