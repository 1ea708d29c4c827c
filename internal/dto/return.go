package dto

// SubmitReturnRequest announces that a bound item is being returned.
type SubmitReturnRequest struct {
	BindingID      string `json:"binding_id" validate:"required"`
	ConditionNotes string `json:"condition_notes" validate:"max=1000"`
}

// ConfirmReturnRequest lets staff record an assessed condition; when empty
// the configured condition policy decides.
type ConfirmReturnRequest struct {
	Condition string `json:"condition"`
}

// ReturnRequestQuery mirrors supported listing filters.
type ReturnRequestQuery struct {
	Status   string
	Search   string
	Page     int
	PageSize int
}
