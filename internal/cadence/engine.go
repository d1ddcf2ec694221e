// Package cadence decides, after each call outcome, whether and when a contact
// is dialed again. Everything here is free of I/O.
package cadence

import (
	"strings"
	"time"

	"github.com/acme/outbound-dialer/internal/domain"
)

const (
	// MetadataAgentCallID holds the AI platform's identifier for the last call.
	MetadataAgentCallID = "agent_call_id"
	// MetadataProcessedAt holds the processing time of the last outcome.
	MetadataProcessedAt = "last_outcome_processed_at"
)

// Decision is the result of applying the rules to one outcome.
type Decision struct {
	State   domain.ContactCadenceState
	RuleKey string
	// Segment is the matched segment, nil unless State.Status is ACTIVE.
	Segment *Segment
	// Handoff is set when a human-handoff notification should fire.
	Handoff bool
}

// Engine maps (prior state, outcome) to the next contact state.
type Engine struct {
	rules   Rules
	success map[string]struct{}
	handoff map[string]struct{}
}

// NewEngine validates the rule table and builds an engine.
func NewEngine(rules Rules, successDispositions, handoffDispositions []string) (*Engine, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		rules:   rules,
		success: toSet(successDispositions),
		handoff: toSet(handoffDispositions),
	}, nil
}

// IsHandoff reports whether the disposition belongs to the handoff set.
func (e *Engine) IsHandoff(disposition string) bool {
	_, ok := e.handoff[disposition]
	return ok
}

// Rule resolves the rule for a disposition, falling back to DEFAULT.
func (e *Engine) Rule(disposition string) (string, Rule) {
	if rule, ok := e.rules[disposition]; ok {
		return disposition, rule
	}
	return DefaultRuleKey, e.rules[DefaultRuleKey]
}

// Compute applies the cadence rules. prior is nil for a contact never seen before.
func (e *Engine) Compute(prior *domain.ContactCadenceState, outcome domain.CallOutcome, now time.Time) Decision {
	var state domain.ContactCadenceState
	if prior != nil {
		state = prior.Clone()
		state.AttemptCount++
	} else {
		state = domain.ContactCadenceState{
			PhoneNumber:  outcome.PhoneNumber,
			AttemptCount: 1,
			Status:       domain.CadenceStatusPending,
		}
	}

	state.LastCallSID = outcome.CallSID
	state.LastCallDisposition = outcome.Disposition
	if !outcome.EndedAt.IsZero() {
		ended := outcome.EndedAt
		state.LastAttemptAt = &ended
	}
	state.Metadata = mergeMetadata(state.Metadata, outcome, now)

	key, rule := e.Rule(outcome.Disposition)
	decision := Decision{RuleKey: key}

	priority := state.HopperPriority
	if priority == nil {
		priority = intPtr(rule.DefaultPriority)
	}

	_, explicitSuccess := e.success[outcome.Disposition]
	switch {
	// TODO: confirm with product whether a success-exhaustion rule should
	// short-circuit independently of the explicit success codes.
	case explicitSuccess || rule.ExhaustionStatus == domain.CadenceStatusCompletedSuccess:
		state.Status = domain.CadenceStatusCompletedSuccess
		state.NextCallAt = nil
		state.HopperPriority = nil
	case e.IsHandoff(outcome.Disposition):
		state.Status = domain.CadenceStatusPaused
		state.NextCallAt = nil
		state.HopperPriority = priority
		decision.Handoff = true
	default:
		seg, ok := matchSegment(rule.Segments, state.AttemptCount)
		if !ok {
			state.Status = rule.ExhaustionStatus
			state.NextCallAt = nil
			state.HopperPriority = nil
			break
		}
		next := seg.Delay.Apply(now)
		state.Status = domain.CadenceStatusActive
		state.NextCallAt = &next
		if seg.PriorityOverride != nil {
			priority = intPtr(*seg.PriorityOverride)
		}
		state.HopperPriority = priority
		decision.Segment = &seg
	}

	decision.State = state
	return decision
}

func matchSegment(segments []Segment, attempts int) (Segment, bool) {
	for _, seg := range segments {
		if seg.Contains(attempts) {
			return seg, true
		}
	}
	return Segment{}, false
}

func mergeMetadata(existing map[string]any, outcome domain.CallOutcome, now time.Time) map[string]any {
	merged := make(map[string]any, len(existing)+2)
	for k, v := range existing {
		merged[k] = v
	}
	if outcome.AgentCallID != "" {
		merged[MetadataAgentCallID] = outcome.AgentCallID
	}
	merged[MetadataProcessedAt] = now.UTC().Format(time.RFC3339)
	return merged
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

func normalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
