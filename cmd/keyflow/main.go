// Package main provides the CLI entrypoint for keyflow.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/keyflow/keyflow/internal/compute"
	"github.com/keyflow/keyflow/internal/config"
	"github.com/keyflow/keyflow/internal/engine"
	"github.com/keyflow/keyflow/internal/feed"
	"github.com/keyflow/keyflow/internal/memmon"
	"github.com/keyflow/keyflow/internal/model"
	"github.com/keyflow/keyflow/internal/stats"
	"github.com/keyflow/keyflow/internal/store"
	"github.com/keyflow/keyflow/internal/tui"
)

const (
	defaultFeedWPM       = 60
	defaultFeedErrorRate = 0.04
	defaultHighPct       = 80.0
	defaultCriticalPct   = 92.0
	defaultIntervalSec   = 30
	defaultBackoffSec    = 30
	defaultQueueCap      = 50
	defaultCadenceKeys   = 20
	defaultCadenceSec    = 10
	defaultIdleSec       = 30
	defaultCurveWindow   = 10
)

var (
	runFeedWPM     int
	runErrorRate   float64
	runWordList    string
	runMode        string
	runAccel       bool
	runHighPct     float64
	runCriticalPct float64
	runIntervalSec int
	runBackoffSec  int
	runQueueCap    int
	runCadenceKeys int
	runCadenceSec  int
	runIdleSec     int
	runNoSave      bool

	statsSince       string
	statsLast        int
	statsCurveWindow int
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "keyflow",
		Short:         "Typing activity tracker with an adaptive computation engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runTrackCmd,
	}

	rootCmd.Flags().IntVar(&runFeedWPM, "wpm", defaultFeedWPM, "synthetic feed typing speed")
	rootCmd.Flags().Float64Var(&runErrorRate, "error-rate", defaultFeedErrorRate, "synthetic feed error probability (0-1)")
	rootCmd.Flags().StringVar(&runWordList, "word-list", "", "path to a custom word list")
	rootCmd.Flags().StringVar(&runMode, "mode", "auto", "processing mode pin (auto, normal, lite, cpu-intensive, accelerated-sim)")
	rootCmd.Flags().BoolVar(&runAccel, "accel", false, "enable the acceleration capability")
	rootCmd.Flags().Float64Var(&runHighPct, "high-percent", defaultHighPct, "high memory-pressure threshold (percent used)")
	rootCmd.Flags().Float64Var(&runCriticalPct, "critical-percent", defaultCriticalPct, "critical memory-pressure threshold (percent used)")
	rootCmd.Flags().IntVar(&runIntervalSec, "interval", defaultIntervalSec, "memory monitor interval in seconds")
	rootCmd.Flags().IntVar(&runBackoffSec, "backoff", defaultBackoffSec, "worker restart backoff in seconds")
	rootCmd.Flags().IntVar(&runQueueCap, "queue", defaultQueueCap, "pending task queue capacity")
	rootCmd.Flags().IntVar(&runCadenceKeys, "cadence-keys", defaultCadenceKeys, "keystrokes between computations")
	rootCmd.Flags().IntVar(&runCadenceSec, "cadence-interval", defaultCadenceSec, "seconds between timed computations")
	rootCmd.Flags().IntVar(&runIdleSec, "idle-timeout", defaultIdleSec, "idle gap in seconds that starts a new sub-session")
	rootCmd.Flags().BoolVar(&runNoSave, "no-save", false, "do not persist the session on exit")

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newStatsCmd())

	return rootCmd
}

func runTrackCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyIntConfig(cmd, "wpm", &runFeedWPM, fileCfg.Feed.WPM)
	applyFloatConfig(cmd, "error-rate", &runErrorRate, fileCfg.Feed.ErrorRate)
	applyStringConfig(cmd, "word-list", &runWordList, fileCfg.Feed.WordList)
	applyStringConfig(cmd, "mode", &runMode, fileCfg.Session.Mode)
	applyBoolConfig(cmd, "accel", &runAccel, fileCfg.Session.Acceleration)
	applyFloatConfig(cmd, "high-percent", &runHighPct, fileCfg.Memory.HighPercent)
	applyFloatConfig(cmd, "critical-percent", &runCriticalPct, fileCfg.Memory.CriticalPercent)
	applyIntConfig(cmd, "interval", &runIntervalSec, fileCfg.Memory.IntervalSeconds)
	applyIntConfig(cmd, "backoff", &runBackoffSec, fileCfg.Worker.BackoffSeconds)
	applyIntConfig(cmd, "queue", &runQueueCap, fileCfg.Worker.QueueCapacity)
	applyIntConfig(cmd, "cadence-keys", &runCadenceKeys, fileCfg.Compute.CadenceKeys)
	applyIntConfig(cmd, "cadence-interval", &runCadenceSec, fileCfg.Compute.CadenceSeconds)
	applyIntConfig(cmd, "idle-timeout", &runIdleSec, fileCfg.Compute.IdleTimeoutSeconds)

	if err := validateRunFlags(); err != nil {
		return err
	}

	params := computeParams(fileCfg.Compute)
	thresholds := memmon.DefaultThresholds()
	thresholds.HighPercent = runHighPct
	thresholds.CriticalPercent = runCriticalPct

	opts := engine.Options{
		Thresholds:      thresholds,
		MonitorInterval: time.Duration(runIntervalSec) * time.Second,
		Backoff:         time.Duration(runBackoffSec) * time.Second,
		QueueCapacity:   runQueueCap,
		Params:          params,
		CadenceKeys:     runCadenceKeys,
		CadenceInterval: time.Duration(runCadenceSec) * time.Second,
		IdleTimeout:     time.Duration(runIdleSec) * time.Second,
		Acceleration:    runAccel,
		Logf:            logErrf,
	}
	if runMode != "" && runMode != "auto" {
		pinned, ok := model.ParseProcessingMode(runMode)
		if !ok {
			return fmt.Errorf("unknown mode %q", runMode)
		}
		opts.PinnedMode = &pinned
	}

	words := feed.DefaultWords()
	if runWordList == "" {
		// A word list dropped next to the config file is picked up without
		// a flag.
		if _, err := os.Stat(config.DefaultWordListPath()); err == nil {
			runWordList = config.DefaultWordListPath()
		}
	}
	if runWordList != "" {
		words, err = feed.LoadWords(runWordList)
		if err != nil {
			return fmt.Errorf("failed to load word list: %w", err)
		}
	}
	src := feed.New(words, runFeedWPM, runErrorRate)

	eng := engine.New(opts)
	eng.StartSession()
	defer eng.StopSession()

	uiModel := tui.NewModel(eng, src)
	program := tea.NewProgram(uiModel, tea.WithAltScreen())
	eng.OnStatsUpdated(func(s model.StatsState) {
		program.Send(tui.StatsMsg(s))
	})
	eng.OnPressureWarning(func(sample model.MemorySample) {
		program.Send(tui.PressureMsg(sample))
	})

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	eng.StopSession()

	if runNoSave {
		return nil
	}
	snap := eng.Finalize()
	if snap.KeyCount == 0 {
		return nil
	}
	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()
	if _, err := st.InsertSnapshot(context.Background(), snap); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	logErrf("saved session: %d keys, %d wpm, %d%% accuracy\n", snap.KeyCount, snap.WPM, snap.Accuracy)
	return nil
}

func computeParams(cfg config.ComputeConfig) compute.Params {
	params := compute.DefaultParams()
	if cfg.CharsPerPage != nil && *cfg.CharsPerPage > 0 {
		params.CharsPerPage = *cfg.CharsPerPage
	}
	if cfg.DiversityWeight != nil {
		params.DiversityWeight = *cfg.DiversityWeight
	}
	if cfg.WordLengthWeight != nil {
		params.WordLengthWeight = *cfg.WordLengthWeight
	}
	if cfg.LongWordWeight != nil {
		params.LongWordWeight = *cfg.LongWordWeight
	}
	return params
}

func validateRunFlags() error {
	if runFeedWPM <= 0 {
		return fmt.Errorf("--wpm must be > 0")
	}
	if runErrorRate < 0 || runErrorRate > 1 {
		return fmt.Errorf("--error-rate must be between 0 and 1")
	}
	if runHighPct <= 0 || runHighPct >= 100 {
		return fmt.Errorf("--high-percent must be between 0 and 100")
	}
	if runCriticalPct <= runHighPct || runCriticalPct > 100 {
		return fmt.Errorf("--critical-percent must be above --high-percent and at most 100")
	}
	if runIntervalSec <= 0 {
		return fmt.Errorf("--interval must be > 0")
	}
	if runBackoffSec <= 0 {
		return fmt.Errorf("--backoff must be > 0")
	}
	if runQueueCap <= 0 {
		return fmt.Errorf("--queue must be > 0")
	}
	if runCadenceKeys <= 0 {
		return fmt.Errorf("--cadence-keys must be > 0")
	}
	if runCadenceSec <= 0 {
		return fmt.Errorf("--cadence-interval must be > 0")
	}
	if runIdleSec <= 0 {
		return fmt.Errorf("--idle-timeout must be > 0")
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show saved session stats",
		RunE:  runStatsCmd,
	}
	cmd.Flags().StringVar(&statsSince, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&statsLast, "last", 0, "limit to last N sessions")
	cmd.Flags().IntVar(&statsCurveWindow, "curve-window", defaultCurveWindow, "moving average window")
	return cmd
}

func runStatsCmd(cmd *cobra.Command, _ []string) error {
	var sinceTime *time.Time
	if statsSince != "" {
		parsed, err := time.ParseInLocation("2006-01-02", statsSince, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --since value: %w", err)
		}
		sinceTime = &parsed
	}

	cfg := model.StatsConfig{
		Since:       sinceTime,
		Last:        statsLast,
		CurveWindow: statsCurveWindow,
	}

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	report, err := stats.BuildReport(context.Background(), st, cfg)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}
	out := cmd.OutOrStdout()
	if err := stats.RenderSummary(out, report.Sessions); err != nil {
		return fmt.Errorf("failed to render summary: %w", err)
	}
	if err := stats.RenderSessions(out, report.Sessions); err != nil {
		return fmt.Errorf("failed to render sessions: %w", err)
	}
	if err := stats.RenderCurves(out, report.Sessions, cfg.CurveWindow); err != nil {
		return fmt.Errorf("failed to render curves: %w", err)
	}
	return nil
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyFloatConfig(cmd *cobra.Command, name string, target, value *float64) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target, value *bool) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# keyflow configuration
# Uncomment a value to enable it. CLI flags override config values.

[memory]
# high-percent = %.0f       # High pressure threshold (percent used)
# critical-percent = %.0f   # Critical pressure threshold (percent used)
# interval-seconds = %d     # Monitor sampling interval

[worker]
# backoff-seconds = %d      # Restart delay after a worker crash
# queue-capacity = %d       # Pending task bound (oldest evicted beyond it)

[compute]
# cadence-keys = %d         # Keystrokes between computations
# cadence-seconds = %d      # Seconds between timed computations
# idle-timeout-seconds = %d # Gap that starts a new sub-session
# chars-per-page = 1800     # Page size convention
# diversity-weight = 50     # Complexity: lexical diversity weight
# word-length-weight = 25   # Complexity: average word length weight
# long-word-weight = 25     # Complexity: long word ratio weight

[session]
# mode = "auto"             # auto, normal, lite, cpu-intensive, accelerated-sim
# acceleration = false      # Enable the acceleration capability

[feed]
# wpm = %d                  # Synthetic feed speed
# error-rate = %.2f         # Synthetic feed error probability
# word-list = ""            # Custom word list path
`,
		defaultHighPct,
		defaultCriticalPct,
		defaultIntervalSec,
		defaultBackoffSec,
		defaultQueueCap,
		defaultCadenceKeys,
		defaultCadenceSec,
		defaultIdleSec,
		defaultFeedWPM,
		defaultFeedErrorRate,
	)
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
