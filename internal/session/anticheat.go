package session

import (
	"sync"

	"github.com/stemsi/exstem-engine/internal/model"
)

const (
	DefaultDemotionThreshold = 5
	DefaultMaxViolations     = 10
)

// DefaultPolicy returns the thresholds used when an exam sets none.
func DefaultPolicy() model.Policy {
	return model.Policy{
		DemotionThreshold: DefaultDemotionThreshold,
		MaxViolations:     DefaultMaxViolations,
	}
}

// ResolvePolicy merges a per-exam policy over fallback. Zero fields fall back.
func ResolvePolicy(exam *model.Policy, fallback model.Policy) model.Policy {
	p := fallback
	if exam == nil {
		return p
	}
	if exam.DemotionThreshold > 0 {
		p.DemotionThreshold = exam.DemotionThreshold
	}
	if exam.MaxViolations > 0 {
		p.MaxViolations = exam.MaxViolations
	}
	return p
}

// ViolationOutcome is the result of recording one violation.
type ViolationOutcome struct {
	Type  model.ViolationType `json:"type"`
	Count int                 `json:"count"`
	// Demoted is true only for the violation that removed ranking eligibility.
	Demoted     bool `json:"demoted"`
	IsRanked    bool `json:"is_ranked"`
	ForceSubmit bool `json:"force_submit"`
}

// ViolationTracker counts focus/visibility violations of one session.
type ViolationTracker struct {
	mu     sync.Mutex
	policy model.Policy
	count  int
	ranked bool
}

// NewViolationTracker starts from an existing count, as stored on resume.
func NewViolationTracker(policy model.Policy, count int, ranked bool) *ViolationTracker {
	if count < 0 {
		count = 0
	}
	return &ViolationTracker{policy: policy, count: count, ranked: ranked}
}

// Record increments the counter and applies the policy.
func (t *ViolationTracker) Record(v model.ViolationType) ViolationOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.count++
	out := ViolationOutcome{Type: v, Count: t.count}

	if t.ranked && t.policy.DemotionThreshold > 0 && t.count >= t.policy.DemotionThreshold {
		t.ranked = false
		out.Demoted = true
	}
	if t.policy.MaxViolations > 0 && t.count >= t.policy.MaxViolations {
		out.ForceSubmit = true
	}
	out.IsRanked = t.ranked
	return out
}

// Count returns the number of violations recorded so far.
func (t *ViolationTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Ranked reports whether the session is still ranked.
func (t *ViolationTracker) Ranked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ranked
}
