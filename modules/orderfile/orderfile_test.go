package orderfile

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"bouquet-visualizer/modules/common/model"
)

func sampleOrders() []model.Order {
	return []model.Order{
		{
			ID: "o1",
			Items: []model.OrderItem{
				{Category: model.CategoryFlower, Name: "rose", Quantity: 12, Attributes: map[string]string{"color": "red"}},
				{Category: model.CategoryRibbon, Name: "satin", Quantity: 1},
			},
		},
		{
			ID: "o2",
			Items: []model.OrderItem{
				{Category: model.CategoryFlower, Name: "tulip", Quantity: 5, Attributes: map[string]string{"color": "yellow", "variety": "parrot"}},
				{Category: model.CategoryFoliage, Name: "eucalyptus", Quantity: 3},
				{Category: model.CategoryPaper, Name: "kraft", Quantity: 1},
			},
		},
	}
}

func write(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

const ordersJSON = `[
  {"id":"o1","items":[{"category":"flower","name":"rose","quantity":12,"attributes":{"color":"red"}},{"category":"ribbon","name":"satin","quantity":1}]},
  {"id":"o2","items":[{"category":"flower","name":"tulip","quantity":5,"attributes":{"color":"yellow","variety":"parrot"}},{"category":"foliage","name":"eucalyptus","quantity":3},{"category":"paper","name":"kraft","quantity":1}]}
]`

const ordersJSONL = `{"id":"o1","items":[{"category":"flower","name":"rose","quantity":12,"attributes":{"color":"red"}},{"category":"ribbon","name":"satin","quantity":1}]}

{"id":"o2","items":[{"category":"flower","name":"tulip","quantity":5,"attributes":{"color":"yellow","variety":"parrot"}},{"category":"foliage","name":"eucalyptus","quantity":3},{"category":"paper","name":"kraft","quantity":1}]}
`

const ordersYAMLList = `- id: o1
  items:
    - {category: flower, name: rose, quantity: 12, attributes: {color: red}}
    - {category: ribbon, name: satin, quantity: 1}
- id: o2
  items:
    - category: flower
      name: tulip
      quantity: 5
      attributes:
        color: yellow
        variety: parrot
    - {category: foliage, name: eucalyptus, quantity: 3}
    - {category: paper, name: kraft, quantity: 1}
`

func TestLoadFormats(t *testing.T) {
	parquetPath := filepath.Join(t.TempDir(), "orders.parquet")
	if err := WriteParquet(parquetPath, sampleOrders()); err != nil {
		t.Fatalf("WriteParquet: %v", err)
	}

	paths := map[string]string{
		"json":    write(t, "orders.json", ordersJSON),
		"jsonl":   write(t, "orders.jsonl", ordersJSONL),
		"yaml":    write(t, "orders.yaml", ordersYAMLList),
		"wrapped": write(t, "orders.yml", "orders:\n"+indent(ordersYAMLList)),
		"parquet": parquetPath,
	}
	for name, p := range paths {
		t.Run(name, func(t *testing.T) {
			got, err := Load(p)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !reflect.DeepEqual(got, sampleOrders()) {
				t.Errorf("Load() =\n%+v\nwant\n%+v", got, sampleOrders())
			}
		})
	}
}

func indent(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		b.WriteString("  " + line + "\n")
	}
	return b.String()
}

func TestLoadSingleObject(t *testing.T) {
	for name, content := range map[string]string{
		"order.json": `{"id":"o9","items":[{"category":"flower","name":"peony","quantity":7}]}`,
		"order.yaml": "id: o9\nitems:\n  - {category: flower, name: peony, quantity: 7}\n",
	} {
		got, err := Load(write(t, name, content))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(got) != 1 || got[0].ID != "o9" || got[0].Items[0].Quantity != 7 {
			t.Errorf("%s: got %+v", name, got)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(write(t, "orders.csv", "id\n")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("csv: %v", err)
	}
	if _, err := Load(write(t, "bad.jsonl", "{\"id\":\"o1\"}\n{oops\n")); err == nil {
		t.Error("expected error for malformed line")
	}
	if _, err := Load(write(t, "bad.json", `{"id":"o1","items":[{"category":"vase","name":"x","quantity":1}]}`)); err == nil {
		t.Error("expected error for unknown category")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestGroupRowsKeepsFirstSeenOrder(t *testing.T) {
	rows := []ItemRow{
		{OrderID: "b", Category: "flower", Name: "rose", Quantity: 1},
		{OrderID: "a", Category: "paper", Name: "kraft", Quantity: 1},
		{OrderID: "b", Category: "ribbon", Name: "satin", Quantity: 2, Color: "red"},
	}
	got, err := groupRows(rows)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" || len(got[0].Items) != 2 {
		t.Fatalf("got %+v", got)
	}
	if got[0].Items[1].Attributes["color"] != "red" {
		t.Errorf("attributes = %v", got[0].Items[1].Attributes)
	}

	if _, err := groupRows([]ItemRow{{OrderID: "x", Category: "vase"}}); err == nil {
		t.Error("expected error for unknown category")
	}
}
