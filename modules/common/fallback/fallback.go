package fallback

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"

	"bouquet-visualizer/modules/common/model"
)

// Placeholder canvas size
const (
	Width  = 256
	Height = 256
	frame  = 8
)

// last resort when encoding somehow fails
const transparentPixelBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mP8/x8AAwMB/6X+ZQAAAABJRU5ErkJggg=="

var transparentPixelBytes, _ = base64.StdEncoding.DecodeString(transparentPixelBase64)

var (
	background = color.RGBA{R: 0xfa, G: 0xf6, B: 0xef, A: 0xff}
	frameColor = color.RGBA{R: 0x5b, G: 0x4a, B: 0x3f, A: 0xff}

	categoryColors = [model.NumCategories]color.RGBA{
		{R: 0xd9, G: 0x4f, B: 0x70, A: 0xff}, // flower
		{R: 0x4f, G: 0x8a, B: 0x5b, A: 0xff}, // foliage
		{R: 0xc8, G: 0xa9, B: 0x7e, A: 0xff}, // paper
		{R: 0x8e, G: 0x5b, B: 0xc2, A: 0xff}, // ribbon
	}

	namedColors = map[string]color.RGBA{
		"red":      {R: 0xc6, G: 0x28, B: 0x28, A: 0xff},
		"pink":     {R: 0xf4, G: 0x8f, B: 0xb1, A: 0xff},
		"white":    {R: 0xf5, G: 0xf5, B: 0xf5, A: 0xff},
		"yellow":   {R: 0xfb, G: 0xd3, B: 0x4d, A: 0xff},
		"orange":   {R: 0xf5, G: 0x8a, B: 0x1f, A: 0xff},
		"purple":   {R: 0x7b, G: 0x3f, B: 0xa0, A: 0xff},
		"lilac":    {R: 0xc8, G: 0xa2, B: 0xc8, A: 0xff},
		"blue":     {R: 0x3b, G: 0x6e, B: 0xc4, A: 0xff},
		"green":    {R: 0x3f, G: 0x8f, B: 0x4f, A: 0xff},
		"gold":     {R: 0xd4, G: 0xaf, B: 0x37, A: 0xff},
		"silver":   {R: 0xb8, G: 0xb8, B: 0xb8, A: 0xff},
		"black":    {R: 0x22, G: 0x22, B: 0x22, A: 0xff},
		"cream":    {R: 0xf3, G: 0xe5, B: 0xc0, A: 0xff},
		"burgundy": {R: 0x80, G: 0x1f, B: 0x2e, A: 0xff},
		"peach":    {R: 0xf7, G: 0xb9, B: 0x8f, A: 0xff},
		"brown":    {R: 0x8b, G: 0x5a, B: 0x2b, A: 0xff},
	}
)

// Renderer draws deterministic placeholder images. The zero value is ready to use.
type Renderer struct{}

// NewRenderer - placeholder renderer
func NewRenderer() Renderer {
	return Renderer{}
}

// band - one horizontal stripe of the placeholder
type band struct {
	weight int
	color  color.RGBA
}

// Render - PNG summarising the order as colour bands, one per category present
// Never fails and never returns empty bytes; the same order always yields the same image.
func (Renderer) Render(order model.Order) []byte {
	img := image.NewPaletted(image.Rect(0, 0, Width, Height), nil)
	img.Palette = color.Palette{background, frameColor}

	bands := bandsFor(order)
	for _, b := range bands {
		img.Palette = append(img.Palette, b.color)
	}

	fillRect(img, img.Bounds(), 1)
	inner := image.Rect(frame, frame, Width-frame, Height-frame)
	fillRect(img, inner, 0)

	total := 0
	for _, b := range bands {
		total += b.weight
	}
	if total > 0 {
		y := inner.Min.Y
		h := inner.Dy()
		for i, b := range bands {
			bh := h * b.weight / total
			if i == len(bands)-1 {
				bh = inner.Max.Y - y
			}
			fillRect(img, image.Rect(inner.Min.X, y, inner.Max.X, y+bh), uint8(i+2))
			y += bh
		}
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil || buf.Len() == 0 {
		return PlaceholderBytes()
	}
	return buf.Bytes()
}

// bandsFor walks categories in canonical order so the layout never depends on item order.
func bandsFor(order model.Order) []band {
	var qty [model.NumCategories]int
	var tint [model.NumCategories]string

	for _, item := range order.Items {
		if !item.Category.Valid() || item.Quantity <= 0 {
			continue
		}
		i := item.Category.Index()
		qty[i] = model.AddQuantities(qty[i], item.Quantity)
		if c := colorName(item.Attributes); c != "" {
			if _, known := namedColors[c]; known && (tint[i] == "" || c < tint[i]) {
				tint[i] = c
			}
		}
	}

	var bands []band
	for i := range model.Categories {
		if qty[i] == 0 {
			continue
		}
		c := categoryColors[i]
		if named, ok := namedColors[tint[i]]; ok {
			c = named
		}
		bands = append(bands, band{weight: weightFor(qty[i]), color: c})
	}
	return bands
}

// weightFor keeps a single large line from swallowing the other bands.
func weightFor(qty int) int {
	switch {
	case qty > 24:
		return 24
	case qty < 1:
		return 1
	default:
		return qty
	}
}

func colorName(attrs map[string]string) string {
	for _, key := range []string{"color", "Color", "colour", "Colour"} {
		if v, ok := attrs[key]; ok {
			return normaliseColor(v)
		}
	}
	return ""
}

func normaliseColor(v string) string {
	b := []byte(v)
	out := b[:0]
	for _, c := range b {
		switch {
		case c >= 'A' && c <= 'Z':
			out = append(out, c+'a'-'A')
		case c >= 'a' && c <= 'z':
			out = append(out, c)
		}
	}
	return string(out)
}

func fillRect(img *image.Paletted, r image.Rectangle, idx uint8) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := img.Pix[y*img.Stride+r.Min.X : y*img.Stride+r.Max.X]
		for x := range row {
			row[x] = idx
		}
	}
}

// PlaceholderBytes returns a copy of the embedded 1x1 PNG.
func PlaceholderBytes() []byte {
	out := make([]byte, len(transparentPixelBytes))
	copy(out, transparentPixelBytes)
	return out
}
