package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/macleangm-debug/FieldForce/internal/analytics"
	"github.com/macleangm-debug/FieldForce/internal/handler"
	"github.com/macleangm-debug/FieldForce/internal/router"
	"github.com/macleangm-debug/FieldForce/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 20 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Bool("with-worker", false, "also consume jobs in this process (queue_mode=mongo)")
	serveCmd.Flags().Bool("with-scheduler", false, "also run the analytics schedules in this process")
}

func runServe(cmd *cobra.Command, _ []string) error {
	withWorker, _ := cmd.Flags().GetBool("with-worker")
	withScheduler, _ := cmd.Flags().GetBool("with-scheduler")
	ctx := cmd.Context()

	a, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	d, err := a.dispatch()
	if err != nil {
		return err
	}
	if withWorker && d.inspector == nil {
		return fmt.Errorf("--with-worker needs queue_mode=mongo, got %q", cfg.QueueMode)
	}

	indexCtx, cancelIndexes := context.WithCancel(context.Background())
	defer cancelIndexes()
	go a.ensureIndexes(indexCtx)

	guard := a.guard()
	agg := a.aggregator()
	subSvc := service.NewSubmissionService(a.submissions, a.forms, guard, d.dispatcher, a.events, logger)
	var inspector service.JobInspector
	if d.inspector != nil {
		inspector = d.inspector
	}
	adminSvc := service.NewAdminService(inspector, a.submissions, agg, a.analytics, guard)

	r := router.New(cfg.JWTSecret, router.Handlers{
		Submissions: handler.NewSubmissionHandler(subSvc, logger),
		Media:       handler.NewMediaHandler(subSvc, a.thumbs, logger),
		Admin:       handler.NewAdminHandler(adminSvc, logger),
		Health:      handler.Health(a.store),
	}, logger)

	var sched *analytics.Scheduler
	if withScheduler {
		if sched, err = analytics.NewScheduler(agg, a.schedules(), logger); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("fieldforce server starting", "addr", cfg.HTTPAddr, "queue_mode", cfg.QueueMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		if d.inline != nil {
			if err := d.inline.Close(shutdownCtx); err != nil {
				logger.Warn("inline jobs abandoned at shutdown", "err", err)
			}
		}
		return nil
	})
	if withWorker {
		w := a.worker(d.inspector)
		g.Go(func() error { return w.Run(gctx) })
	}
	if sched != nil {
		g.Go(func() error { return sched.Run(gctx) })
	}
	return g.Wait()
}
