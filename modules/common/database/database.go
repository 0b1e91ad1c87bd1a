package database

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/supabase-community/supabase-go"

	"bouquet-visualizer/modules/common/model"
)

// Client writes visualization history rows to Supabase (PostgREST).
type Client struct {
	supabase *supabase.Client
	table    string
	logger   *slog.Logger
}

// VisualizationRow - one row of the history table
type VisualizationRow struct {
	OrderID       string    `json:"order_id"`
	ImageRef      string    `json:"image_ref"`
	ImageURL      string    `json:"image_url,omitempty"`
	ContentType   string    `json:"content_type"`
	IsPlaceholder bool      `json:"is_placeholder"`
	Prompt        string    `json:"prompt"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewClient - Supabase client for the given history table
func NewClient(url, serviceKey, table string, logger *slog.Logger) (*Client, error) {
	supabaseClient, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{supabase: supabaseClient, table: table, logger: logger}, nil
}

func rowFromResult(r model.VisualizationResult) VisualizationRow {
	return VisualizationRow{
		OrderID:       r.OrderID,
		ImageRef:      r.ImageRef,
		ImageURL:      r.ImageURL,
		ContentType:   r.ContentType,
		IsPlaceholder: r.IsPlaceholder,
		Prompt:        r.Prompt,
		CreatedAt:     r.CreatedAt,
	}
}

func (row VisualizationRow) result() model.VisualizationResult {
	return model.VisualizationResult{
		OrderID:       row.OrderID,
		ImageRef:      row.ImageRef,
		ImageURL:      row.ImageURL,
		ContentType:   row.ContentType,
		IsPlaceholder: row.IsPlaceholder,
		Prompt:        row.Prompt,
		CreatedAt:     row.CreatedAt,
	}
}

// Record - insert a history row
func (c *Client) Record(ctx context.Context, result model.VisualizationResult) error {
	_, _, err := c.supabase.From(c.table).
		Insert(rowFromResult(result), false, "", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to insert visualization row: %w", err)
	}
	c.logger.Debug("visualization row inserted", "order_id", result.OrderID, "table", c.table)
	return nil
}

// History - every recorded visualization for an order, oldest first
func (c *Client) History(ctx context.Context, orderID string) ([]model.VisualizationResult, error) {
	data, _, err := c.supabase.From(c.table).
		Select("*", "exact", false).
		Eq("order_id", orderID).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query Supabase: %w", err)
	}

	var rows []VisualizationRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	out := make([]model.VisualizationResult, len(rows))
	for i, row := range rows {
		out[i] = row.result()
	}
	sortByCreatedAt(out)
	return out, nil
}

// Latest - most recent visualization for an order
func (c *Client) Latest(ctx context.Context, orderID string) (model.VisualizationResult, error) {
	history, err := c.History(ctx, orderID)
	if err != nil {
		return model.VisualizationResult{}, err
	}
	if len(history) == 0 {
		return model.VisualizationResult{}, model.ErrNotFound
	}
	return history[len(history)-1], nil
}

func sortByCreatedAt(rs []model.VisualizationResult) {
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].CreatedAt.Before(rs[j].CreatedAt)
	})
}
