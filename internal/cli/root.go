// Package cli wires configuration, storage and the pipeline into the
// fieldforce command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/macleangm-debug/FieldForce/internal/config"
	"github.com/macleangm-debug/FieldForce/internal/gelf"
	"github.com/spf13/cobra"
)

const serviceName = "fieldforce"

var (
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
	gelfWriter *gelf.Writer
	rootCmd    *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:   serviceName,
		Short: "FieldForce submission ingest and quality pipeline",
		Long: `fieldforce accepts form submissions from field devices, scores them against
their form schema and runs the background pipeline: geofence checks, media
validation, webhooks and analytics rollups.`,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		SilenceUsage:       true,
		SilenceErrors:      true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file merged over the environment")
}

// Execute runs the command tree until it finishes or the process is
// interrupted.
func Execute() error {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(loadgenCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err = newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

func teardown(*cobra.Command, []string) error {
	if gelfWriter != nil {
		return gelfWriter.Close()
	}
	return nil
}

// newLogger builds the process logger. With a GELF address set, records are
// JSON so the GELF writer can forward them field by field.
func newLogger(c *config.Config, out io.Writer) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: logLevel(c.LogLevel)}
	if c.GelfAddr != "" {
		w, err := gelf.New(c.GelfAddr, serviceName)
		if err != nil {
			return nil, fmt.Errorf("gelf: %w", err)
		}
		gelfWriter = w
		return slog.New(slog.NewJSONHandler(io.MultiWriter(out, w), opts)), nil
	}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(out, opts)), nil
	}
	return slog.New(slog.NewTextHandler(out, opts)), nil
}

func logLevel(level string) slog.Leveler {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	lv := new(slog.LevelVar)
	lv.Set(lvl)
	return lv
}
