package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"bouquet-visualizer/modules/common/model"
	"bouquet-visualizer/modules/orderfile"
)

// batchSummary is printed on stdout when a batch finishes.
type batchSummary struct {
	Total       int                         `json:"total"`
	Generated   int                         `json:"generated"`
	Placeholder int                         `json:"placeholder"`
	Failed      int                         `json:"failed"`
	Elapsed     string                      `json:"elapsed"`
	Results     []model.VisualizationResult `json:"results"`
	Errors      map[string]string           `json:"errors,omitempty"`
}

type visualizeFunc func(ctx context.Context, order model.Order) (*model.VisualizationResult, error)

func newBatchCmd() *cobra.Command {
	var (
		ordersPath   string
		concurrency  int
		fallbackOnly bool
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Visualize every order in a file",
		Example: `  # Four orders at a time
  bouquet-visualizer batch --orders orders.parquet --concurrency 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, err := orderfile.Load(ordersPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{fallbackOnly: fallbackOnly, logToStderr: true})
			if err != nil {
				return err
			}
			defer a.Close()

			a.logger.Info("batch starting", "orders", len(orders), "concurrency", concurrency)
			summary := runBatch(ctx, a.service.Visualize, orders, concurrency, a.logger.Info)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return err
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d orders failed", summary.Failed, summary.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ordersPath, "orders", "", "Order file (.json, .jsonl, .yaml, .parquet)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 2, "Orders processed at once")
	cmd.Flags().BoolVar(&fallbackOnly, "fallback-only", false, "Skip the model and store placeholder images")
	_ = cmd.MarkFlagRequired("orders")

	return cmd
}

// runBatch visualizes orders with at most concurrency in flight. One failing order
// does not stop the others.
func runBatch(ctx context.Context, visualize visualizeFunc, orders []model.Order, concurrency int, logf func(msg string, args ...any)) batchSummary {
	if concurrency < 1 {
		concurrency = 1
	}
	start := time.Now()

	results := make([]*model.VisualizationResult, len(orders))
	errs := make([]error, len(orders))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, order := range orders {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			res, err := visualize(ctx, order)
			results[i], errs[i] = res, err
			if err != nil {
				logf("order failed", "order_id", order.ID, "err", err)
			} else {
				logf("order done", "order_id", order.ID, "ref", res.ImageRef, "placeholder", res.IsPlaceholder)
			}
			return nil
		})
	}
	g.Wait()

	s := batchSummary{Total: len(orders), Results: []model.VisualizationResult{}}
	for i, res := range results {
		if errs[i] != nil {
			if s.Errors == nil {
				s.Errors = make(map[string]string)
			}
			s.Errors[orders[i].ID] = errs[i].Error()
			s.Failed++
			continue
		}
		if res.IsPlaceholder {
			s.Placeholder++
		} else {
			s.Generated++
		}
		s.Results = append(s.Results, *res)
	}
	s.Elapsed = time.Since(start).Round(time.Millisecond).String()
	return s
}
