package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EquipmentList is the normalised form of the requested-equipment field.
// Clients send either a single string (optionally newline separated) or a
// list of strings; both decode into trimmed, de-duplicated entries.
type EquipmentList []string

// UnmarshalJSON accepts a string, an array of strings, or null.
func (e *EquipmentList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = nil
		return nil
	}
	var raw []string
	switch data[0] {
	case '"':
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		raw = strings.Split(single, "\n")
	case '[':
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("equipment must be a list of strings: %w", err)
		}
	default:
		return fmt.Errorf("equipment must be a string or a list of strings")
	}
	*e = normaliseEquipment(raw)
	return nil
}

// Description renders the list in its stored form.
func (e EquipmentList) Description() string {
	return strings.Join(e, "\n")
}

func normaliseEquipment(raw []string) EquipmentList {
	seen := make(map[string]struct{}, len(raw))
	out := make(EquipmentList, 0, len(raw))
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key := strings.ToLower(entry)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, entry)
	}
	return out
}

// Date decodes either a calendar date (2006-01-02) or an RFC3339 timestamp.
type Date struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("invalid date %q", raw)
	}
	d.Time = t.UTC()
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.Format("2006-01-02"))
}

// SubmitBorrowRequest is the student-facing borrow submission.
type SubmitBorrowRequest struct {
	// StudentID is only honoured for staff submitting on a student's behalf.
	StudentID string        `json:"student_id"`
	Equipment EquipmentList `json:"equipment" validate:"required,min=1,max=50"`
	Purpose   string        `json:"purpose" validate:"max=500"`
	StartDate Date          `json:"start_date"`
	EndDate   Date          `json:"end_date"`
}

// BorrowRequestQuery mirrors supported listing filters.
type BorrowRequestQuery struct {
	Status   string
	Search   string
	Page     int
	PageSize int
}

// ApproveBorrowRequest carries the concrete items staff selected.
type ApproveBorrowRequest struct {
	ItemIDs []string `json:"item_ids" validate:"required,min=1,dive,required"`
	Note    string   `json:"note" validate:"max=500"`
}

// RejectBorrowRequest carries an optional reviewer note.
type RejectBorrowRequest struct {
	Note string `json:"note" validate:"max=500"`
}
