package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bouquet-visualizer/modules/common/model"
	"bouquet-visualizer/modules/orderfile"
)

func newVisualizeCmd() *cobra.Command {
	var (
		orderPath    string
		orderID      string
		fallbackOnly bool
	)

	cmd := &cobra.Command{
		Use:   "visualize",
		Short: "Visualize a single order and print the result",
		Example: `  # Render the order in order.json
  bouquet-visualizer visualize --order order.json

  # Pick one order out of a file and skip the model
  bouquet-visualizer visualize --order orders.yaml --id ORD-42 --fallback-only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, err := orderfile.Load(orderPath)
			if err != nil {
				return err
			}
			order, err := pickOrder(orders, orderID)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{fallbackOnly: fallbackOnly, logToStderr: true})
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.service.Visualize(ctx, order)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVarP(&orderPath, "order", "o", "", "Order file (.json, .jsonl, .yaml, .parquet)")
	cmd.Flags().StringVar(&orderID, "id", "", "Order id to pick when the file holds several orders")
	cmd.Flags().BoolVar(&fallbackOnly, "fallback-only", false, "Skip the model and store the placeholder image")
	_ = cmd.MarkFlagRequired("order")

	return cmd
}

func pickOrder(orders []model.Order, id string) (model.Order, error) {
	if id == "" {
		switch len(orders) {
		case 0:
			return model.Order{}, errors.New("order file is empty")
		case 1:
			return orders[0], nil
		default:
			return model.Order{}, fmt.Errorf("order file holds %d orders, pick one with --id", len(orders))
		}
	}
	for _, o := range orders {
		if o.ID == id {
			return o, nil
		}
	}
	return model.Order{}, fmt.Errorf("order %q not found in file", id)
}
