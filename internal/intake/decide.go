package intake

import "intake-agent/internal/domain"

// Mode is the controller state for a single invocation.
type Mode string

const (
	ModeAsk      Mode = "ask"
	ModeConclude Mode = "conclude"
)

// Decision is the outcome of the next-action policy.
type Decision struct {
	Mode Mode
	// Next is the topic to ask about; nil in conclude mode.
	Next *domain.Topic
	// Covered lists effectively covered topics in plan order.
	Covered []domain.Topic
}

// Decide picks the next action for a conversation. A concluded state is
// terminal and always yields ModeConclude.
func (p *Policy) Decide(state domain.IntakeState, patientText string) Decision {
	covered := p.EffectiveCovered(state, patientText)

	d := Decision{Covered: make([]domain.Topic, 0, len(covered))}
	var next *domain.Topic
	for _, topic := range p.plan {
		if covered[topic] {
			d.Covered = append(d.Covered, topic)
			continue
		}
		if next == nil {
			t := topic
			next = &t
		}
	}
	// Asked topics outside the current plan still count towards coverage.
	for _, t := range state.DomainsAsked {
		if !p.inPlan(t) {
			d.Covered = append(d.Covered, t)
		}
	}

	if state.Concluded || len(covered) >= p.conclusionThreshold || next == nil {
		d.Mode = ModeConclude
		return d
	}
	d.Mode = ModeAsk
	d.Next = next
	return d
}

func (p *Policy) inPlan(topic domain.Topic) bool {
	_, ok := p.keywords[topic]
	return ok
}

// Apply commits a decision to state after a usable provider response.
func Apply(state *domain.IntakeState, d Decision) {
	if d.Mode == ModeConclude {
		state.Conclude()
		return
	}
	state.RecordAsk(d.Next)
}
