// Package orderfile reads orders from files for the visualize and batch commands.
package orderfile

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"

	"bouquet-visualizer/modules/common/model"
)

// ErrUnsupportedFormat - unknown file extension
var ErrUnsupportedFormat = errors.New("unsupported order file format")

// ItemRow is one line item in the flat Parquet layout.
type ItemRow struct {
	OrderID  string `parquet:"order_id"`
	Category string `parquet:"category"`
	Name     string `parquet:"name"`
	Quantity int64  `parquet:"quantity"`
	Color    string `parquet:"color,optional"`
	Variety  string `parquet:"variety,optional"`
}

// Load reads every order in path. The format follows the extension:
// .json (one order or an array), .jsonl, .yaml/.yml (a list or {orders: [...]}) and .parquet.
func Load(path string) ([]model.Order, error) {
	ext := strings.ToLower(filepath.Ext(path))
	slog.Debug("loading orders", "path", path, "format", ext)

	var (
		orders []model.Order
		err    error
	)
	switch ext {
	case ".json":
		orders, err = loadJSON(path)
	case ".jsonl", ".ndjson":
		orders, err = loadJSONL(path)
	case ".yaml", ".yml":
		orders, err = loadYAML(path)
	case ".parquet":
		orders, err = loadParquet(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	slog.Debug("loaded orders", "path", path, "orders", len(orders))
	return orders, nil
}

func loadJSON(path string) ([]model.Order, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var orders []model.Order
		if err := json.Unmarshal(data, &orders); err != nil {
			return nil, fmt.Errorf("decode order list: %w", err)
		}
		return orders, nil
	}
	var order model.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return []model.Order{order}, nil
}

func loadJSONL(path string) ([]model.Order, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var orders []model.Order
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var order model.Order
		if err := json.Unmarshal(line, &order); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		orders = append(orders, order)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func loadYAML(path string) ([]model.Order, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]

	switch root.Kind {
	case yaml.SequenceNode:
		var orders []model.Order
		if err := root.Decode(&orders); err != nil {
			return nil, fmt.Errorf("decode order list: %w", err)
		}
		return orders, nil
	case yaml.MappingNode:
		var doc struct {
			Orders []model.Order `yaml:"orders"`
		}
		if err := root.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode orders: %w", err)
		}
		if doc.Orders != nil {
			return doc.Orders, nil
		}
		var order model.Order
		if err := root.Decode(&order); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		return []model.Order{order}, nil
	default:
		return nil, fmt.Errorf("unexpected yaml document kind %d", root.Kind)
	}
}

func loadParquet(path string) ([]model.Order, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}
	slog.Debug("parquet file opened", "num_rows", pf.NumRows(), "num_row_groups", len(pf.RowGroups()))

	reader := parquet.NewGenericReader[ItemRow](pf)
	defer reader.Close()

	var all []ItemRow
	rows := make([]ItemRow, 128)
	for {
		n, err := reader.Read(rows)
		all = append(all, rows[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read parquet rows: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return groupRows(all)
}

// groupRows folds item rows into orders, keeping first-seen order of both.
func groupRows(rows []ItemRow) ([]model.Order, error) {
	var orders []model.Order
	index := make(map[string]int)
	for i, row := range rows {
		cat, err := model.ParseCategory(row.Category)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		item := model.OrderItem{Category: cat, Name: row.Name, Quantity: int(row.Quantity)}
		if row.Color != "" || row.Variety != "" {
			item.Attributes = make(map[string]string, 2)
			if row.Color != "" {
				item.Attributes["color"] = row.Color
			}
			if row.Variety != "" {
				item.Attributes["variety"] = row.Variety
			}
		}

		pos, ok := index[row.OrderID]
		if !ok {
			pos = len(orders)
			index[row.OrderID] = pos
			orders = append(orders, model.Order{ID: row.OrderID})
		}
		orders[pos].Items = append(orders[pos].Items, item)
	}
	return orders, nil
}

// WriteParquet writes orders in the flat row layout Load reads back.
func WriteParquet(path string, orders []model.Order) error {
	var rows []ItemRow
	for _, o := range orders {
		for _, it := range o.Items {
			rows = append(rows, ItemRow{
				OrderID:  o.ID,
				Category: it.Category.String(),
				Name:     it.Name,
				Quantity: int64(it.Quantity),
				Color:    it.Attributes["color"],
				Variety:  it.Attributes["variety"],
			})
		}
	}
	return parquet.WriteFile(path, rows)
}
