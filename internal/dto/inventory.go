package dto

// ItemQuery mirrors catalog listing filters.
type ItemQuery struct {
	Category string
	Search   string
	Status   string
	Page     int
	PageSize int
}

// CreateItemRequest registers a new costume or piece of equipment.
type CreateItemRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Category    string `json:"category" validate:"required,oneof=costume equipment"`
	Quantity    int    `json:"quantity" validate:"gte=0"`
	Condition   string `json:"condition" validate:"required"`
	Description string `json:"description" validate:"max=2000"`
}

// UpdateConditionRequest is an administrative condition edit.
type UpdateConditionRequest struct {
	Condition string `json:"condition" validate:"required"`
}

// UpdateItemStatusRequest moves an item in or out of service. Borrowed is
// never accepted here; only allocation and return change it.
type UpdateItemStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=available maintenance reserved retired"`
}

// BindingQuery filters active bindings.
type BindingQuery struct {
	StudentID string
	ItemID    string
	Page      int
	PageSize  int
}

// ReportQuery selects the borrowed-items report format.
type ReportQuery struct {
	Format string `form:"format"`
}
