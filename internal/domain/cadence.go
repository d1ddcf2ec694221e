package domain

import "time"

// CadenceStatus is the scheduling status of a contact. Rules may define
// additional exhaustion statuses beyond the constants below.
type CadenceStatus string

const (
	CadenceStatusPending          CadenceStatus = "PENDING"
	CadenceStatusActive           CadenceStatus = "ACTIVE"
	CadenceStatusPaused           CadenceStatus = "PAUSED"
	CadenceStatusCompletedSuccess CadenceStatus = "COMPLETED_SUCCESS"
)

// ContactCadenceState is the per-phone-number retry schedule.
// NextCallAt is set if and only if Status is ACTIVE.
type ContactCadenceState struct {
	PhoneNumber         string
	AttemptCount        int
	Status              CadenceStatus
	LastCallSID         string
	LastCallDisposition string
	LastAttemptAt       *time.Time
	NextCallAt          *time.Time
	HopperPriority      *int
	Metadata            map[string]any
	LeadID              *string
	Version             int64
	UpdatedAt           time.Time
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (s ContactCadenceState) Clone() ContactCadenceState {
	out := s
	if s.LastAttemptAt != nil {
		t := *s.LastAttemptAt
		out.LastAttemptAt = &t
	}
	if s.NextCallAt != nil {
		t := *s.NextCallAt
		out.NextCallAt = &t
	}
	if s.HopperPriority != nil {
		p := *s.HopperPriority
		out.HopperPriority = &p
	}
	if s.LeadID != nil {
		id := *s.LeadID
		out.LeadID = &id
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// CallOutcome is the report of how a call ended.
type CallOutcome struct {
	CallSID           string
	AgentCallID       string
	PhoneNumber       string
	Disposition       string
	EndedAt           time.Time
	Transcript        string
	TranscriptSummary string
	RecordingURL      string
	Metadata          map[string]any
}
