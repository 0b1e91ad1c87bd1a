package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"bouquet-visualizer/modules/visualization"
	"bouquet-visualizer/modules/worker"
)

func newServeCmd() *cobra.Command {
	var (
		port       string
		withWorker bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the visualization HTTP server",
		Long: `Starts the HTTP API: synchronous visualization, latest-result lookup, model status,
image serving for the local store, websocket progress and, when Redis is configured,
the asynchronous job queue.`,
		Example: `  # Start server on the PORT from the environment (default 8080)
  bouquet-visualizer serve

  # Start server with an in-process queue worker
  bouquet-visualizer serve --port 3000 --with-worker`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{withHub: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if port == "" {
				port = a.cfg.Port
			}

			r := mux.NewRouter()
			r.Use(enableCORS)

			visualization.NewHandler(visualization.HandlerOptions{
				Service: a.service,
				Lookup:  a.lookup,
				History: a.history,
				Status:  a.provider,
				Images:  a.images,
				Logger:  a.logger.With("component", "http"),
			}).RegisterRoutes(r)
			a.hub.RegisterRoutes(r)

			workerDone := make(chan struct{})
			close(workerDone)
			if a.queue != nil {
				worker.NewHandler(a.queue, a.clock, a.logger.With("component", "jobs")).RegisterRoutes(r)
				if withWorker {
					workerDone = make(chan struct{})
					w := worker.New(worker.Options{
						Queue:       a.queue,
						Service:     a.service,
						Concurrency: a.cfg.WorkerConcurrency,
						Clock:       a.clock,
						Logger:      a.logger.With("component", "worker"),
					})
					go func() {
						defer close(workerDone)
						w.Run(ctx)
					}()
				}
			} else {
				a.logger.Info("redis not configured, job queue routes disabled")
			}

			addr := ":" + port
			server := &http.Server{
				Addr:              addr,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
			}

			serverErr := make(chan error, 1)
			go func() {
				a.logger.Info("visualizer listening", "addr", addr, "url", "http://localhost"+addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			select {
			case <-ctx.Done():
				a.logger.Info("shutting down server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					a.logger.Error("server shutdown failed", "err", err)
					return err
				}
				<-workerDone
				a.logger.Info("server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (default $PORT or 8080)")
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "Also run a queue worker in this process")

	return cmd
}

// enableCORS - permissive CORS for the browser front end
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
