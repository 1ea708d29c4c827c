package models

import "time"

// BorrowRequestStatus captures the borrow request lifecycle.
type BorrowRequestStatus string

const (
	BorrowRequestPending  BorrowRequestStatus = "pending"
	BorrowRequestApproved BorrowRequestStatus = "approved"
	BorrowRequestRejected BorrowRequestStatus = "rejected"
)

// Terminal reports whether no further transition is permitted.
func (s BorrowRequestStatus) Terminal() bool {
	return s == BorrowRequestApproved || s == BorrowRequestRejected
}

// Valid reports whether the status is known.
func (s BorrowRequestStatus) Valid() bool {
	return s == BorrowRequestPending || s.Terminal()
}

// BorrowRequest is a student's free-form request to borrow items. Concrete
// items are only bound when staff approve it.
type BorrowRequest struct {
	ID          string              `db:"id" json:"id"`
	StudentID   string              `db:"student_id" json:"student_id"`
	Description string              `db:"description" json:"description"`
	Purpose     string              `db:"purpose" json:"purpose"`
	StartDate   time.Time           `db:"start_date" json:"start_date"`
	EndDate     time.Time           `db:"end_date" json:"end_date"`
	Status      BorrowRequestStatus `db:"status" json:"status"`
	ReviewedBy  *string             `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time          `db:"reviewed_at" json:"reviewed_at,omitempty"`
	Note        *string             `db:"note" json:"note,omitempty"`
	CreatedAt   time.Time           `db:"created_at" json:"created_at"`
}

// BorrowRequestFilter constrains listing queries.
type BorrowRequestFilter struct {
	Status    *BorrowRequestStatus
	StudentID string
	Search    string
	Page      int
	PageSize  int
}
