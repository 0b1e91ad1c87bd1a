package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Category - closed set of bouquet item kinds. The zero value is not a valid category.
type Category uint8

const (
	CategoryFlower Category = iota + 1
	CategoryFoliage
	CategoryPaper
	CategoryRibbon
)

// NumCategories is the size of the category set.
const NumCategories = int(CategoryRibbon)

// Categories lists every category in canonical prompt order.
var Categories = [NumCategories]Category{CategoryFlower, CategoryFoliage, CategoryPaper, CategoryRibbon}

var categoryNames = [NumCategories]string{"flower", "foliage", "paper", "ribbon"}

func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("category(%d)", uint8(c))
	}
	return categoryNames[c.Index()]
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	return c >= CategoryFlower && c <= CategoryRibbon
}

// Index is the position of c in Categories. Only meaningful for valid categories.
func (c Category) Index() int {
	return int(c) - 1
}

// ParseCategory - "flower" / "foliage" / "paper" / "ribbon" (case-insensitive)
func ParseCategory(s string) (Category, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range categoryNames {
		if n == name {
			return Category(i + 1), nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown category %d", uint8(c))
	}
	return []byte(categoryNames[c.Index()]), nil
}

func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// OrderItem - one line of a bouquet order
type OrderItem struct {
	Category   Category          `json:"category" yaml:"category"`
	Name       string            `json:"name" yaml:"name"`
	Quantity   int               `json:"quantity" yaml:"quantity"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// MaxQuantity - largest quantity accepted on one order line
const MaxQuantity = 10000

// AddQuantities sums two positive quantities, saturating at math.MaxInt.
func AddQuantities(a, b int) int {
	if a > math.MaxInt-b {
		return math.MaxInt
	}
	return a + b
}

// Order - the record a visualization is produced for
type Order struct {
	ID          string      `json:"id" yaml:"id"`
	OrderNumber string      `json:"orderNumber,omitempty" yaml:"orderNumber,omitempty"`
	Items       []OrderItem `json:"items" yaml:"items"`
	CreatedAt   time.Time   `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
}

// Validate checks the invariants every order must hold before any model work starts.
func (o Order) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if len(o.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "order has no items"}
	}
	for i, item := range o.Items {
		if !item.Category.Valid() {
			return &ValidationError{Field: fmt.Sprintf("items[%d].category", i), Reason: "unknown category"}
		}
		if strings.TrimSpace(item.Name) == "" {
			return &ValidationError{Field: fmt.Sprintf("items[%d].name", i), Reason: "must not be empty"}
		}
		if item.Quantity <= 0 {
			return &ValidationError{
				Field:  fmt.Sprintf("items[%d].quantity", i),
				Reason: fmt.Sprintf("must be positive, got %d", item.Quantity),
			}
		}
		if item.Quantity > MaxQuantity {
			return &ValidationError{
				Field:  fmt.Sprintf("items[%d].quantity", i),
				Reason: fmt.Sprintf("must be at most %d, got %d", MaxQuantity, item.Quantity),
			}
		}
	}
	return nil
}

// StoredImage - what an image store hands back after a successful save
type StoredImage struct {
	Ref         string `json:"ref"`
	URL         string `json:"url,omitempty"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

// VisualizationResult - outcome of one visualization request
type VisualizationResult struct {
	OrderID       string    `json:"orderId"`
	ImageRef      string    `json:"imageRef"`
	ImageURL      string    `json:"imageUrl,omitempty"`
	ContentType   string    `json:"contentType"`
	Prompt        string    `json:"prompt"`
	IsPlaceholder bool      `json:"isPlaceholder"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Job status values used by the queue worker
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// JobFinished - no further status changes will happen
func JobFinished(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// Job - queued visualization request
type Job struct {
	JobID      string    `json:"job_id"`
	Order      Order     `json:"order"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// JobState - status record kept for a queued job
type JobState struct {
	JobID     string               `json:"job_id"`
	OrderID   string               `json:"order_id"`
	Status    string               `json:"status"`
	Result    *VisualizationResult `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
}
