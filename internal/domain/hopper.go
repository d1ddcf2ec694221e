package domain

import "time"

// HopperStatus enumerates lifecycle stages of a hopper entry.
type HopperStatus string

const (
	HopperStatusPending             HopperStatus = "PENDING_INITIAL_CALL"
	HopperStatusProcessing          HopperStatus = "PROCESSING_INITIAL_CALL"
	HopperStatusErrorLeadNotFound   HopperStatus = "ERROR_PROCESSING_LEAD_NOT_FOUND"
	HopperStatusErrorInitiatingCall HopperStatus = "ERROR_INITIATING_CALL"
	HopperStatusErrorUnhandled      HopperStatus = "ERROR_PROCESSING_UNHANDLED"
	HopperStatusErrorStale          HopperStatus = "ERROR_PROCESSING_STALE"
)

// IsError reports whether the status is one of the terminal error statuses.
func (s HopperStatus) IsError() bool {
	switch s {
	case HopperStatusErrorLeadNotFound, HopperStatusErrorInitiatingCall, HopperStatusErrorUnhandled, HopperStatusErrorStale:
		return true
	}
	return false
}

// HopperEntry is one pending or in-flight unit of dialing work.
type HopperEntry struct {
	ID           int64
	LeadID       string
	Status       HopperStatus
	EnqueuedAt   time.Time
	Priority     *int
	TrackingID   *string
	RequeueCount int
	UpdatedAt    time.Time
}

// Lead is the contact record referenced by a hopper entry.
type Lead struct {
	ID          string
	PhoneNumber string
	FirstName   *string
	LastName    *string
}
