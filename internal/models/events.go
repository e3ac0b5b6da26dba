package models

import "time"

// ChangeEntity names what changed in the store.
type ChangeEntity string

const (
	EntityBooking ChangeEntity = "booking"
	EntityLock    ChangeEntity = "lock"
)

// ChangeOp is the kind of write.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// ChangeEvent describes a committed write that affects availability.
type ChangeEvent struct {
	ID          string        `json:"id"`
	MerchantID  string        `json:"merchant_id"`
	StaffID     string        `json:"staff_id"`
	Date        string        `json:"date"`
	StartMinute int           `json:"start_minute"`
	Duration    int           `json:"duration_minutes"`
	Entity      ChangeEntity  `json:"entity"`
	Op          ChangeOp      `json:"op"`
	BookingID   string        `json:"booking_id,omitempty"`
	Status      BookingStatus `json:"status,omitempty"`
	OccurredAt  time.Time     `json:"occurred_at"`
}
