package dto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEquipmentListAcceptsStringAndList(t *testing.T) {
	var fromString SubmitBorrowRequest
	require.NoError(t, json.Unmarshal([]byte(`{"equipment":"Barong Tagalog\n  \nSalakot"}`), &fromString))
	assert.Equal(t, EquipmentList{"Barong Tagalog", "Salakot"}, fromString.Equipment)

	var fromList SubmitBorrowRequest
	require.NoError(t, json.Unmarshal([]byte(`{"equipment":["Kulintang"," kulintang ","Gong",""]}`), &fromList))
	assert.Equal(t, EquipmentList{"Kulintang", "Gong"}, fromList.Equipment)
	assert.Equal(t, "Kulintang\nGong", fromList.Equipment.Description())
}

func TestEquipmentListRejectsOtherShapes(t *testing.T) {
	var req SubmitBorrowRequest
	require.Error(t, json.Unmarshal([]byte(`{"equipment":42}`), &req))
	require.Error(t, json.Unmarshal([]byte(`{"equipment":[1,2]}`), &req))
}

func TestDateParsesCalendarAndTimestamp(t *testing.T) {
	var req SubmitBorrowRequest
	require.NoError(t, json.Unmarshal([]byte(`{"start_date":"2026-03-01","end_date":"2026-03-02T10:00:00+08:00"}`), &req))
	assert.True(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Equal(req.StartDate.Time))
	assert.True(t, time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC).Equal(req.EndDate.Time))

	require.Error(t, json.Unmarshal([]byte(`{"start_date":"03/01/2026"}`), &req))
}
