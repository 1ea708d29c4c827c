package models

import "time"

// ReturnRequestStatus captures the return request lifecycle.
type ReturnRequestStatus string

const (
	ReturnRequestPending   ReturnRequestStatus = "pending"
	ReturnRequestCompleted ReturnRequestStatus = "completed"
)

// Terminal reports whether no further transition is permitted.
func (s ReturnRequestStatus) Terminal() bool {
	return s == ReturnRequestCompleted
}

// Valid reports whether the status is known.
func (s ReturnRequestStatus) Valid() bool {
	return s == ReturnRequestPending || s == ReturnRequestCompleted
}

// ReturnRequest is a student's notice that a bound item is coming back.
type ReturnRequest struct {
	ID                string              `db:"id" json:"id"`
	BindingID         string              `db:"binding_id" json:"binding_id"`
	ItemID            string              `db:"item_id" json:"item_id"`
	StudentID         string              `db:"student_id" json:"student_id"`
	ConditionNotes    string              `db:"condition_notes" json:"condition_notes"`
	Status            ReturnRequestStatus `db:"status" json:"status"`
	RequestedAt       time.Time           `db:"requested_at" json:"requested_at"`
	CompletedBy       *string             `db:"completed_by" json:"completed_by,omitempty"`
	CompletedAt       *time.Time          `db:"completed_at" json:"completed_at,omitempty"`
	ReturnedCondition *ItemCondition      `db:"returned_condition" json:"returned_condition,omitempty"`
}

// ReturnRequestFilter constrains listing queries.
type ReturnRequestFilter struct {
	Status    *ReturnRequestStatus
	StudentID string
	Search    string
	Page      int
	PageSize  int
}
