package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/macleangm-debug/FieldForce/internal/analytics"
	"github.com/spf13/cobra"
)

var aggregateCmd = &cobra.Command{
	Use:       "aggregate hourly|daily|retention",
	Short:     "Run one rollup or retention pass and print its result",
	Long:      "Without --at, hourly and daily roll up the previous complete UTC hour or day and retention sweeps relative to now.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"hourly", "daily", "retention"},
	RunE:      runAggregate,
}

func init() {
	aggregateCmd.Flags().String("at", "", "RFC3339 instant selecting the window (default: previous complete period)")
}

// aggregateAt resolves the instant a one-shot pass runs against.
func aggregateAt(kind, at string, now time.Time) (time.Time, error) {
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return time.Time{}, fmt.Errorf("--at must be RFC3339: %w", err)
		}
		return t.UTC(), nil
	}
	switch kind {
	case "hourly":
		return analytics.PreviousHour(now), nil
	case "daily":
		return analytics.PreviousDay(now), nil
	}
	return now, nil
}

func runAggregate(cmd *cobra.Command, args []string) error {
	kind := args[0]
	atFlag, _ := cmd.Flags().GetString("at")
	at, err := aggregateAt(kind, atFlag, time.Now().UTC())
	if err != nil {
		return err
	}

	a, err := bootstrap(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()
	agg := a.aggregator()

	var res any
	switch kind {
	case "hourly":
		res, err = agg.RunHourly(cmd.Context(), at)
	case "daily":
		res, err = agg.RunDaily(cmd.Context(), at)
	case "retention":
		res, err = agg.Retention(cmd.Context(), at)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
