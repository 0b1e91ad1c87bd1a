package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"bouquet-visualizer/modules/worker"
)

func newWorkerCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued visualization jobs from Redis",
		Long: `Watches the visualizations:queue Redis list and runs each job through the
visualization pipeline, recording job status under visualization:job:<id>.
Requires REDIS_HOST.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if a.queue == nil {
				return errors.New("worker needs Redis: set REDIS_HOST")
			}
			if concurrency <= 0 {
				concurrency = a.cfg.WorkerConcurrency
			}

			w := worker.New(worker.Options{
				Queue:       a.queue,
				Service:     a.service,
				Concurrency: concurrency,
				Clock:       a.clock,
				Logger:      a.logger.With("component", "worker"),
			})
			return w.Run(ctx)
		},
	}

	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "Jobs in flight (default $WORKER_CONCURRENCY)")

	return cmd
}
