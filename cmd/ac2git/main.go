// cmd/ac2git/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/NavicoOS/ac2git/internal/config"
	"github.com/NavicoOS/ac2git/internal/convert"
	"github.com/NavicoOS/ac2git/internal/xerrors"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ac2git",
	Short: "ac2git converts an AccuRev depot's history into a git repository",
	Long: `ac2git walks an AccuRev depot's transaction history and replays it onto a
set of git branches, one per tracked stream, preserving promote/merge
topology instead of flattening it into a single linear import.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the JSON configuration file")
	rootCmd.MarkPersistentFlagRequired("config")

	var runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run (or resume) a conversion pass over the configured streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConversion()
		},
	}

	var resumeCmd = &cobra.Command{
		Use:   "resume",
		Short: "Resume a previously interrupted conversion (alias for run)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConversion()
		},
	}

	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show each tracked stream's recorded high-water-mark and visible tip",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus()
		},
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func runConversion() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return convert.Run(ctx, cfg)
}

func printStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	statuses, err := convert.Status(context.Background(), cfg)
	if err != nil {
		return err
	}

	if len(statuses) == 0 {
		fmt.Println("No tracked streams have been converted yet.")
		return nil
	}

	green := color.New(color.FgGreen).SprintFunc()
	blue := color.New(color.FgBlue).SprintFunc()

	fmt.Printf("\nConversion status for depot %s:\n\n", cfg.Depot)
	for _, s := range statuses {
		fmt.Printf("  %s %s (id=%d)  hwm=%s  tip=%s\n",
			green("*"), blue(s.Name), s.ID, green(fmt.Sprintf("%d", s.HWM)), s.VisibleTip)
	}
	fmt.Println()
	return nil
}

// exitCode maps a Run/Status failure to spec §6's exit code contract:
// 0 success, 1 configuration/external-client error, 2 interrupted
// (restartable), 3 internal invariant violation.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return 2
	}
	if xe, ok := xerrors.As(err); ok && xe.Kind == xerrors.KindInvariant {
		return 3
	}
	return 1
}

func main() {
	var runErr error
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	for _, c := range rootCmd.Commands() {
		c.SilenceUsage = true
	}

	if err := rootCmd.Execute(); err != nil {
		runErr = err
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(runErr))
}
