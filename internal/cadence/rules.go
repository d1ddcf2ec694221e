package cadence

import (
	"fmt"
	"time"

	"github.com/acme/outbound-dialer/internal/config"
	"github.com/acme/outbound-dialer/internal/domain"
)

// DefaultRuleKey is the fallback rule for unrecognized dispositions.
const DefaultRuleKey = "DEFAULT"

// StatusExhausted is the exhaustion status used by the built-in rule table.
const StatusExhausted domain.CadenceStatus = "EXHAUSTED"

// Delay is added to the processing time in days, hours, minutes, seconds order.
type Delay struct {
	Days    int
	Hours   int
	Minutes int
	Seconds int
}

// Apply returns t shifted by the delay.
func (d Delay) Apply(t time.Time) time.Time {
	t = t.AddDate(0, 0, d.Days)
	t = t.Add(time.Duration(d.Hours) * time.Hour)
	t = t.Add(time.Duration(d.Minutes) * time.Minute)
	return t.Add(time.Duration(d.Seconds) * time.Second)
}

// Segment covers the inclusive attempt-count range [Min, Max].
type Segment struct {
	Min              int
	Max              int
	Delay            Delay
	PriorityOverride *int
}

// Contains reports whether attempts falls inside the segment.
func (s Segment) Contains(attempts int) bool {
	return attempts >= s.Min && attempts <= s.Max
}

// Rule is the cadence configuration for one disposition code.
type Rule struct {
	DefaultPriority  int
	Segments         []Segment
	ExhaustionStatus domain.CadenceStatus
}

// Rules maps disposition codes to rules.
type Rules map[string]Rule

// Validate checks the table is usable by the engine.
func (r Rules) Validate() error {
	if _, ok := r[DefaultRuleKey]; !ok {
		return fmt.Errorf("cadence: rule table has no %s rule", DefaultRuleKey)
	}
	for key, rule := range r {
		if rule.ExhaustionStatus == "" {
			return fmt.Errorf("cadence: rule %s has no exhaustion status", key)
		}
		for i, seg := range rule.Segments {
			if seg.Min < 0 || seg.Max < seg.Min {
				return fmt.Errorf("cadence: rule %s segment %d has invalid range [%d,%d]", key, i, seg.Min, seg.Max)
			}
		}
	}
	return nil
}

// DefaultRules is the built-in table used when configuration supplies none.
func DefaultRules() Rules {
	return Rules{
		DefaultRuleKey: {
			DefaultPriority: 5,
			Segments: []Segment{
				{Min: 1, Max: 1, Delay: Delay{Hours: 4}},
				{Min: 2, Max: 3, Delay: Delay{Days: 1}},
				{Min: 4, Max: 5, Delay: Delay{Days: 2}},
			},
			ExhaustionStatus: StatusExhausted,
		},
		"CALL_COMPLETED_NO_ANSWER": {
			DefaultPriority: 5,
			Segments: []Segment{
				{Min: 1, Max: 1, Delay: Delay{Hours: 4}},
				{Min: 2, Max: 4, Delay: Delay{Days: 1}, PriorityOverride: intPtr(6)},
			},
			ExhaustionStatus: "EXHAUSTED_NO_ANSWER",
		},
		"CALL_FAILED_VOICEMAIL_DETECTED": {
			DefaultPriority: 6,
			Segments: []Segment{
				{Min: 1, Max: 2, Delay: Delay{Days: 1}},
				{Min: 3, Max: 3, Delay: Delay{Days: 3}},
			},
			ExhaustionStatus: "EXHAUSTED_VOICEMAIL",
		},
		"CALL_BACK_REQUESTED": {
			DefaultPriority: 1,
			Segments: []Segment{
				{Min: 1, Max: 6, Delay: Delay{Hours: 1}, PriorityOverride: intPtr(1)},
			},
			ExhaustionStatus: StatusExhausted,
		},
		"APPOINTMENT_SCHEDULED_AI": {
			DefaultPriority:  0,
			ExhaustionStatus: domain.CadenceStatusCompletedSuccess,
		},
		"DO_NOT_CALL": {
			DefaultPriority:  0,
			ExhaustionStatus: "OPTED_OUT",
		},
	}
}

// RulesFromConfig converts configured rules, falling back to DefaultRules when none are set.
func RulesFromConfig(cfg config.CadenceConfig) (Rules, error) {
	if len(cfg.Rules) == 0 {
		return DefaultRules(), nil
	}

	rules := make(Rules, len(cfg.Rules))
	for key, rc := range cfg.Rules {
		rule := Rule{
			DefaultPriority:  rc.DefaultPriority,
			ExhaustionStatus: domain.CadenceStatus(rc.ExhaustionStatus),
		}
		for _, sc := range rc.Segments {
			rule.Segments = append(rule.Segments, Segment{
				Min: sc.Min,
				Max: sc.Max,
				Delay: Delay{
					Days:    sc.Days,
					Hours:   sc.Hours,
					Minutes: sc.Minutes,
					Seconds: sc.Seconds,
				},
				PriorityOverride: sc.PriorityOverride,
			})
		}
		rules[normalizeKey(key)] = rule
	}

	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

func intPtr(v int) *int {
	return &v
}
