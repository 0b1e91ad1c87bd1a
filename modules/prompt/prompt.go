package prompt

import (
	"sort"
	"strconv"
	"strings"
	"unicode"

	"bouquet-visualizer/modules/common/model"
)

// DefaultSuffix - photographic style appended to every prompt
const DefaultSuffix = "High quality, photorealistic, studio lighting, white background, elegant composition."

// Builder turns an order into a text-to-image prompt. It holds no state beyond
// its configuration, so one value may be shared by any number of goroutines.
type Builder struct {
	Suffix string
}

// NewBuilder - builder with the default style suffix
func NewBuilder() Builder {
	return Builder{Suffix: DefaultSuffix}
}

// clause renders the sentence for one category. An empty list yields "".
type clause func(items []string) string

// One renderer per category, indexed by Category.Index(). The array length
// ties this table to the category set.
var clauses = [model.NumCategories]clause{
	func(items []string) string {
		if len(items) == 0 {
			return "As a wonderful florist, create a bouquet."
		}
		return "As a wonderful florist, create a bouquet containing exactly " + strings.Join(items, ", ") + "."
	},
	sentence("Accented with"),
	sentence("Wrapped in"),
	sentence("Decorated with"),
}

func sentence(lead string) clause {
	return func(items []string) string {
		if len(items) == 0 {
			return ""
		}
		return lead + " " + strings.Join(items, ", ") + "."
	}
}

// Build - deterministic prompt for the order's item multiset
// Item order inside the order does not matter; identical multisets give identical prompts.
func (b Builder) Build(order model.Order) string {
	var groups [model.NumCategories][]string
	for i, items := range groupItems(order.Items) {
		for _, it := range items {
			groups[i] = append(groups[i], it.describe())
		}
		sort.Strings(groups[i])
	}

	parts := make([]string, 0, model.NumCategories+1)
	for i, render := range clauses {
		if s := render(groups[i]); s != "" {
			parts = append(parts, s)
		}
	}
	if b.Suffix != "" {
		parts = append(parts, b.Suffix)
	}
	return strings.Join(parts, " ")
}

// item - normalised order item, merged across duplicate lines
type item struct {
	category model.Category
	name     string
	attrs    [][2]string // sorted, color excluded
	color    string
	quantity int
}

func (it item) key() string {
	var sb strings.Builder
	sb.WriteString(it.name)
	sb.WriteByte(0)
	sb.WriteString(it.color)
	for _, kv := range it.attrs {
		sb.WriteByte(0)
		sb.WriteString(kv[0])
		sb.WriteByte('=')
		sb.WriteString(kv[1])
	}
	return sb.String()
}

// describe - "12 red rose (variety: avalanche)"
func (it item) describe() string {
	var words []string
	if it.quantity > 1 || it.category == model.CategoryFlower || it.category == model.CategoryFoliage {
		words = append(words, strconv.Itoa(it.quantity))
	}
	if it.color != "" {
		words = append(words, it.color)
	}
	words = append(words, it.name)
	out := strings.Join(words, " ")

	if len(it.attrs) > 0 {
		details := make([]string, len(it.attrs))
		for i, kv := range it.attrs {
			details[i] = kv[0] + ": " + kv[1]
		}
		out += " (" + strings.Join(details, ", ") + ")"
	}
	return out
}

// groupItems normalises, merges and buckets items by category.
func groupItems(items []model.OrderItem) [model.NumCategories][]item {
	var groups [model.NumCategories][]item
	index := map[string]int{}

	for _, raw := range items {
		if !raw.Category.Valid() || raw.Quantity <= 0 {
			continue
		}
		it := normalise(raw)
		c := it.category.Index()
		k := it.category.String() + "\x00" + it.key()
		if pos, ok := index[k]; ok {
			groups[c][pos].quantity = model.AddQuantities(groups[c][pos].quantity, it.quantity)
			continue
		}
		index[k] = len(groups[c])
		groups[c] = append(groups[c], it)
	}
	return groups
}

func normalise(raw model.OrderItem) item {
	it := item{
		category: raw.Category,
		name:     clean(raw.Name),
		quantity: raw.Quantity,
	}

	attrs := make([][2]string, 0, len(raw.Attributes))
	for k, v := range raw.Attributes {
		k, v = clean(k), clean(v)
		if k != "" && v != "" {
			attrs = append(attrs, [2]string{k, v})
		}
	}
	// Full sort first so keys that collide after cleaning resolve the same way every time.
	sort.Slice(attrs, func(i, j int) bool {
		if attrs[i][0] != attrs[j][0] {
			return attrs[i][0] < attrs[j][0]
		}
		return attrs[i][1] < attrs[j][1]
	})

	var colour string
	seen := map[string]bool{}
	for _, kv := range attrs {
		if seen[kv[0]] {
			continue
		}
		seen[kv[0]] = true
		switch kv[0] {
		case "color":
			it.color = kv[1]
		case "colour":
			colour = kv[1]
		case "variety":
			it.attrs = append([][2]string{kv}, it.attrs...)
		default:
			it.attrs = append(it.attrs, kv)
		}
	}
	if it.color == "" {
		it.color = colour
	}
	return it
}

// clean lower-cases, drops control characters and collapses whitespace.
func clean(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
