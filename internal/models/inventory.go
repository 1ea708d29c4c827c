package models

import (
	"strings"
	"time"
)

// ItemCategory groups inventory items.
type ItemCategory string

const (
	ItemCategoryCostume   ItemCategory = "costume"
	ItemCategoryEquipment ItemCategory = "equipment"
)

// Valid reports whether the category is known.
func (c ItemCategory) Valid() bool {
	return c == ItemCategoryCostume || c == ItemCategoryEquipment
}

// ItemCondition describes the physical state of an item. The first three are
// the base tiers; the remaining values are finer display refinements.
type ItemCondition string

const (
	ConditionGood      ItemCondition = "good"
	ConditionWornOut   ItemCondition = "worn-out"
	ConditionBad       ItemCondition = "bad"
	ConditionExcellent ItemCondition = "excellent"
	ConditionFair      ItemCondition = "fair"
	ConditionPoor      ItemCondition = "poor"
	ConditionDamaged   ItemCondition = "damaged"
)

// conditionSeverity orders conditions from best (0) to worst.
var conditionSeverity = map[ItemCondition]int{
	ConditionExcellent: 0,
	ConditionGood:      1,
	ConditionFair:      2,
	ConditionWornOut:   3,
	ConditionPoor:      4,
	ConditionBad:       5,
	ConditionDamaged:   6,
}

// ParseItemCondition normalises raw input into a known condition.
func ParseItemCondition(raw string) (ItemCondition, bool) {
	c := ItemCondition(strings.ToLower(strings.TrimSpace(raw)))
	if c == "worn_out" || c == "worn out" {
		c = ConditionWornOut
	}
	_, ok := conditionSeverity[c]
	return c, ok
}

// Severity returns the rank of the condition, -1 when unknown.
func (c ItemCondition) Severity() int {
	if s, ok := conditionSeverity[c]; ok {
		return s
	}
	return -1
}

// WorseThan reports whether c is strictly worse than other.
func (c ItemCondition) WorseThan(other ItemCondition) bool {
	return c.Severity() > other.Severity()
}

// ItemStatus captures the availability of an item.
type ItemStatus string

const (
	ItemStatusAvailable   ItemStatus = "available"
	ItemStatusBorrowed    ItemStatus = "borrowed"
	ItemStatusMaintenance ItemStatus = "maintenance"
	ItemStatusReserved    ItemStatus = "reserved"
	ItemStatusRetired     ItemStatus = "retired"
)

// Valid reports whether the status is known.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusAvailable, ItemStatusBorrowed, ItemStatusMaintenance, ItemStatusReserved, ItemStatusRetired:
		return true
	}
	return false
}

// InventoryItem is a physical costume or piece of equipment.
type InventoryItem struct {
	ID          string        `db:"id" json:"id"`
	Name        string        `db:"name" json:"name"`
	Category    ItemCategory  `db:"category" json:"category"`
	Quantity    int           `db:"quantity" json:"quantity"`
	Condition   ItemCondition `db:"condition" json:"condition"`
	Status      ItemStatus    `db:"status" json:"status"`
	Description string        `db:"description" json:"description"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// ItemFilter constrains catalog listings.
type ItemFilter struct {
	Status   *ItemStatus
	Category ItemCategory
	Search   string
	Page     int
	PageSize int
}

// BorrowBinding records that an item is out with a student for an approved request.
type BorrowBinding struct {
	ID              string     `db:"id" json:"id"`
	ItemID          string     `db:"item_id" json:"item_id"`
	BorrowRequestID string     `db:"borrow_request_id" json:"borrow_request_id"`
	StudentID       string     `db:"student_id" json:"student_id"`
	BorrowDate      time.Time  `db:"borrow_date" json:"borrow_date"`
	Active          bool       `db:"active" json:"active"`
	ReturnedAt      *time.Time `db:"returned_at" json:"returned_at,omitempty"`
}

// BindingDetail is an active binding joined with item and request data for display.
type BindingDetail struct {
	BorrowBinding
	ItemName     string       `db:"item_name" json:"item_name"`
	ItemCategory ItemCategory `db:"item_category" json:"item_category"`
	StartDate    time.Time    `db:"start_date" json:"start_date"`
	EndDate      time.Time    `db:"end_date" json:"end_date"`
}

// BindingFilter constrains binding listings.
type BindingFilter struct {
	StudentID string
	ItemID    string
	Limit     int
	Offset    int
}
