package cli

import (
	"fmt"

	"github.com/macleangm-debug/FieldForce/internal/analytics"
	"github.com/macleangm-debug/FieldForce/internal/config"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume pipeline jobs from the durable queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.QueueMode != config.QueueMongo {
			return fmt.Errorf("worker needs queue_mode=mongo, got %q", cfg.QueueMode)
		}
		a, err := bootstrap(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()
		return a.worker(a.mongoQueue()).Run(cmd.Context())
	},
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run hourly and daily rollups and the retention sweep on their schedules",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := bootstrap(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()
		s, err := analytics.NewScheduler(a.aggregator(), a.schedules(), logger)
		if err != nil {
			return err
		}
		return s.Run(cmd.Context())
	},
}
