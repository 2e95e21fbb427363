package model

import "time"

// WriteKind names a remote mutation that can be queued while offline.
type WriteKind string

const (
	WriteCreateOrder     WriteKind = "create_order"
	WriteUpdateStatus    WriteKind = "update_status"
	WriteFireCourse      WriteKind = "fire_course"
	WriteHoldCourse      WriteKind = "hold_course"
	WriteAssignCourse    WriteKind = "assign_course"
	WriteAddCourse       WriteKind = "add_course"
	WriteRemoveCourse    WriteKind = "remove_course"
	WriteFireItemNow     WriteKind = "fire_item_now"
	WriteBulkStatus      WriteKind = "bulk_status"
	WriteAddNote         WriteKind = "add_note"
	WriteHoldThrottle    WriteKind = "hold_throttle"
	WriteReleaseThrottle WriteKind = "release_throttle"
)

// QueuedWrite is a mutation waiting for connectivity.
//
// LocalID is client-generated and globally unique. RetryCount only grows
// and stops counting at the queue's cap.
type QueuedWrite struct {
	LocalID    string         `json:"local_id"`
	Kind       WriteKind      `json:"kind"`
	OrderID    string         `json:"order_id,omitempty"`
	Payload    map[string]any `json:"payload"`
	QueuedAt   time.Time      `json:"queued_at"`
	RetryCount int            `json:"retry_count"`
	LastError  string         `json:"last_error,omitempty"`
}
