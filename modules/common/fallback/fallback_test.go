package fallback

import (
	"bytes"
	"image/png"
	"math"
	"testing"

	"bouquet-visualizer/modules/common/model"
)

func TestRenderProducesValidPNG(t *testing.T) {
	order := model.Order{ID: "o1", Items: []model.OrderItem{
		{Category: model.CategoryFlower, Name: "rose", Quantity: 12, Attributes: map[string]string{"color": "Red"}},
		{Category: model.CategoryRibbon, Name: "satin", Quantity: 1},
	}}

	data := NewRenderer().Render(order)
	if len(data) == 0 {
		t.Fatal("placeholder must not be empty")
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("placeholder is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != Width || b.Dy() != Height {
		t.Errorf("bounds = %v", b)
	}

	// top band is the red flower line, not the default flower colour
	r, g, b, _ := img.At(Width/2, frame+1).RGBA()
	if r>>8 != 0xc6 || g>>8 != 0x28 || b>>8 != 0x28 {
		t.Errorf("flower band colour = %02x%02x%02x", r>>8, g>>8, b>>8)
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	items := []model.OrderItem{
		{Category: model.CategoryPaper, Name: "kraft", Quantity: 1},
		{Category: model.CategoryFlower, Name: "tulip", Quantity: 5, Attributes: map[string]string{"color": "yellow"}},
		{Category: model.CategoryFlower, Name: "rose", Quantity: 3, Attributes: map[string]string{"color": "pink"}},
	}
	reversed := []model.OrderItem{items[2], items[1], items[0]}

	r := NewRenderer()
	a := r.Render(model.Order{ID: "o", Items: items})
	b := r.Render(model.Order{ID: "o", Items: reversed})
	if !bytes.Equal(a, b) {
		t.Error("item order changed the placeholder")
	}
	if !bytes.Equal(a, r.Render(model.Order{ID: "o", Items: items})) {
		t.Error("repeated render differs")
	}
}

func TestRenderSaturatesMergedQuantities(t *testing.T) {
	kraft := model.OrderItem{Category: model.CategoryPaper, Name: "kraft", Quantity: 1}
	huge := model.OrderItem{Category: model.CategoryFlower, Name: "rose", Quantity: math.MaxInt}
	capped := model.OrderItem{Category: model.CategoryFlower, Name: "rose", Quantity: 24}

	r := NewRenderer()
	got := r.Render(model.Order{ID: "o", Items: []model.OrderItem{huge, huge, kraft}})
	want := r.Render(model.Order{ID: "o", Items: []model.OrderItem{capped, kraft}})
	if !bytes.Equal(got, want) {
		t.Error("summed flower quantity should keep the largest band weight")
	}
}

func TestRenderNeverFails(t *testing.T) {
	orders := []model.Order{
		{},
		{ID: "empty"},
		{ID: "bad", Items: []model.OrderItem{{Name: "x", Quantity: -1}}},
		{ID: "huge", Items: []model.OrderItem{{Category: model.CategoryFoliage, Name: "fern", Quantity: 1 << 30}}},
	}
	for _, o := range orders {
		data := NewRenderer().Render(o)
		if _, err := png.Decode(bytes.NewReader(data)); err != nil {
			t.Errorf("order %q: invalid PNG: %v", o.ID, err)
		}
	}
}

func TestPlaceholderBytesIsCopy(t *testing.T) {
	a := PlaceholderBytes()
	if len(a) == 0 {
		t.Fatal("embedded pixel missing")
	}
	a[0] = 0
	if PlaceholderBytes()[0] == 0 {
		t.Error("PlaceholderBytes must return a copy")
	}
}
