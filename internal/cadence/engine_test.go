package cadence

import (
	"testing"
	"time"

	"github.com/acme/outbound-dialer/internal/domain"
)

var handoffCodes = []string{"CALL_COMPLETED_HUMAN_HANDOFF", "CALL_TRANSFERRED"}

func newTestEngine(t *testing.T, rules Rules) *Engine {
	t.Helper()
	engine, err := NewEngine(rules, []string{"APPOINTMENT_SCHEDULED_AI"}, handoffCodes)
	if err != nil {
		t.Fatalf("unexpected error building engine: %v", err)
	}
	return engine
}

func defaultOnlyRules() Rules {
	return Rules{
		DefaultRuleKey: {
			DefaultPriority: 5,
			Segments: []Segment{
				{Min: 1, Max: 1, Delay: Delay{Hours: 4}},
				{Min: 2, Max: 3, Delay: Delay{Days: 1, Minutes: 30}, PriorityOverride: intPtr(2)},
			},
			ExhaustionStatus: StatusExhausted,
		},
	}
}

func TestComputeNewContactFirstSegment(t *testing.T) {
	engine := newTestEngine(t, defaultOnlyRules())
	now := time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC)

	decision := engine.Compute(nil, domain.CallOutcome{
		CallSID:     "CA123",
		PhoneNumber: "+15551234567",
		Disposition: "CALL_COMPLETED_NO_ANSWER",
		EndedAt:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}, now)

	state := decision.State
	if state.AttemptCount != 1 {
		t.Fatalf("expected attempt count 1, got %d", state.AttemptCount)
	}
	if state.Status != domain.CadenceStatusActive {
		t.Fatalf("expected ACTIVE, got %s", state.Status)
	}
	if state.NextCallAt == nil || !state.NextCallAt.Equal(now.Add(4*time.Hour)) {
		t.Fatalf("expected next call at %v, got %v", now.Add(4*time.Hour), state.NextCallAt)
	}
	if state.HopperPriority == nil || *state.HopperPriority != 5 {
		t.Fatalf("expected rule default priority 5, got %v", state.HopperPriority)
	}
	if decision.RuleKey != DefaultRuleKey {
		t.Fatalf("expected DEFAULT rule, got %s", decision.RuleKey)
	}
	if state.PhoneNumber != "+15551234567" || state.LastCallSID != "CA123" {
		t.Fatalf("unexpected identity fields: %+v", state)
	}
}

func TestComputeHandoffPausesRegardlessOfAttempts(t *testing.T) {
	engine := newTestEngine(t, defaultOnlyRules())
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	priors := []*domain.ContactCadenceState{
		nil,
		{PhoneNumber: "+15550000001", AttemptCount: 1, Status: domain.CadenceStatusActive, NextCallAt: &future},
		{PhoneNumber: "+15550000001", AttemptCount: 40, Status: StatusExhausted},
	}

	for _, code := range handoffCodes {
		for _, prior := range priors {
			decision := engine.Compute(prior, domain.CallOutcome{PhoneNumber: "+15550000001", Disposition: code}, now)
			if decision.State.Status != domain.CadenceStatusPaused {
				t.Fatalf("%s: expected PAUSED, got %s", code, decision.State.Status)
			}
			if decision.State.NextCallAt != nil {
				t.Fatalf("%s: expected no next call, got %v", code, decision.State.NextCallAt)
			}
			if !decision.Handoff {
				t.Fatalf("%s: expected handoff signal", code)
			}
		}
	}
}

func TestComputeExhaustion(t *testing.T) {
	engine := newTestEngine(t, defaultOnlyRules())
	prior := &domain.ContactCadenceState{
		PhoneNumber:    "+15550000002",
		AttemptCount:   3,
		Status:         domain.CadenceStatusActive,
		HopperPriority: intPtr(2),
	}

	decision := engine.Compute(prior, domain.CallOutcome{PhoneNumber: prior.PhoneNumber, Disposition: "UNKNOWN"}, time.Now())
	if decision.State.AttemptCount != 4 {
		t.Fatalf("expected attempt count 4, got %d", decision.State.AttemptCount)
	}
	if decision.State.Status != StatusExhausted {
		t.Fatalf("expected %s, got %s", StatusExhausted, decision.State.Status)
	}
	if decision.State.NextCallAt != nil || decision.State.HopperPriority != nil {
		t.Fatalf("expected next call and priority cleared, got %v / %v", decision.State.NextCallAt, decision.State.HopperPriority)
	}
	if decision.Segment != nil {
		t.Fatalf("expected no matched segment")
	}
}

func TestComputeSuccess(t *testing.T) {
	rules := defaultOnlyRules()
	rules["BOOKED"] = Rule{ExhaustionStatus: domain.CadenceStatusCompletedSuccess}
	engine := newTestEngine(t, rules)
	next := time.Now().Add(time.Hour)
	prior := &domain.ContactCadenceState{PhoneNumber: "+1555", AttemptCount: 1, Status: domain.CadenceStatusActive, NextCallAt: &next, HopperPriority: intPtr(3)}

	cases := []string{"APPOINTMENT_SCHEDULED_AI", "BOOKED"}
	for _, code := range cases {
		decision := engine.Compute(prior, domain.CallOutcome{PhoneNumber: "+1555", Disposition: code}, time.Now())
		if decision.State.Status != domain.CadenceStatusCompletedSuccess {
			t.Errorf("%s: expected COMPLETED_SUCCESS, got %s", code, decision.State.Status)
		}
		if decision.State.NextCallAt != nil || decision.State.HopperPriority != nil {
			t.Errorf("%s: expected schedule cleared", code)
		}
		if decision.Handoff {
			t.Errorf("%s: unexpected handoff", code)
		}
	}
}

func TestComputePriorityPrecedence(t *testing.T) {
	engine := newTestEngine(t, defaultOnlyRules())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// attempt 1 keeps the prior priority when the segment has no override
	kept := engine.Compute(&domain.ContactCadenceState{PhoneNumber: "+1", HopperPriority: intPtr(9)}, domain.CallOutcome{Disposition: "X"}, now)
	if kept.State.HopperPriority == nil || *kept.State.HopperPriority != 9 {
		t.Fatalf("expected prior priority 9, got %v", kept.State.HopperPriority)
	}

	// attempt 2 uses the segment override and the compound delay
	overridden := engine.Compute(&domain.ContactCadenceState{PhoneNumber: "+1", AttemptCount: 1, HopperPriority: intPtr(9)}, domain.CallOutcome{Disposition: "X"}, now)
	if overridden.State.HopperPriority == nil || *overridden.State.HopperPriority != 2 {
		t.Fatalf("expected override priority 2, got %v", overridden.State.HopperPriority)
	}
	want := time.Date(2024, 1, 2, 0, 30, 0, 0, time.UTC)
	if overridden.State.NextCallAt == nil || !overridden.State.NextCallAt.Equal(want) {
		t.Fatalf("expected next call %v, got %v", want, overridden.State.NextCallAt)
	}
}

func TestComputeMergesMetadataWithoutMutatingPrior(t *testing.T) {
	engine := newTestEngine(t, defaultOnlyRules())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prior := &domain.ContactCadenceState{
		PhoneNumber: "+1",
		Metadata:    map[string]any{"customer_name": "Ada", MetadataAgentCallID: "old"},
	}

	decision := engine.Compute(prior, domain.CallOutcome{Disposition: "X", AgentCallID: "new"}, now)
	md := decision.State.Metadata
	if md["customer_name"] != "Ada" {
		t.Fatalf("expected existing key preserved, got %v", md["customer_name"])
	}
	if md[MetadataAgentCallID] != "new" {
		t.Fatalf("expected agent call id overwritten, got %v", md[MetadataAgentCallID])
	}
	if md[MetadataProcessedAt] != "2024-01-01T00:00:00Z" {
		t.Fatalf("unexpected processed timestamp %v", md[MetadataProcessedAt])
	}
	if prior.Metadata[MetadataAgentCallID] != "old" || prior.AttemptCount != 0 {
		t.Fatalf("prior state was mutated: %+v", prior)
	}
}

func TestNextCallSetOnlyWhenActive(t *testing.T) {
	engine := newTestEngine(t, DefaultRules())
	now := time.Now()
	dispositions := []string{"CALL_COMPLETED_NO_ANSWER", "CALL_FAILED_VOICEMAIL_DETECTED", "DO_NOT_CALL", "APPOINTMENT_SCHEDULED_AI", "CALL_TRANSFERRED", "SOMETHING_ELSE"}

	for _, code := range dispositions {
		var prior *domain.ContactCadenceState
		for i := 0; i < 8; i++ {
			decision := engine.Compute(prior, domain.CallOutcome{PhoneNumber: "+1", Disposition: code}, now)
			active := decision.State.Status == domain.CadenceStatusActive
			if active != (decision.State.NextCallAt != nil) {
				t.Fatalf("%s attempt %d: status %s with next call %v", code, decision.State.AttemptCount, decision.State.Status, decision.State.NextCallAt)
			}
			if prior != nil && decision.State.AttemptCount != prior.AttemptCount+1 {
				t.Fatalf("%s: attempt count did not increase by one", code)
			}
			state := decision.State
			prior = &state
		}
	}
}

func TestRulesValidate(t *testing.T) {
	if _, err := NewEngine(Rules{"X": {ExhaustionStatus: StatusExhausted}}, nil, nil); err == nil {
		t.Fatalf("expected error for missing DEFAULT rule")
	}
	bad := Rules{DefaultRuleKey: {ExhaustionStatus: StatusExhausted, Segments: []Segment{{Min: 3, Max: 1}}}}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for inverted segment range")
	}
	if err := DefaultRules().Validate(); err != nil {
		t.Fatalf("default rules should validate: %v", err)
	}
}

func TestDelayApplyOrder(t *testing.T) {
	start := time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)
	got := Delay{Days: 1, Hours: 2, Minutes: 3, Seconds: 4}.Apply(start)
	want := time.Date(2024, 2, 2, 1, 3, 4, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
