package intake

import (
	"strings"

	"intake-agent/internal/domain"
)

// PatientText joins the text of every patient turn in order.
func PatientText(turns []domain.Turn) string {
	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		if t.Role == domain.RolePatient {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// LatestPatientText returns the most recent patient message, or "".
func LatestPatientText(turns []domain.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == domain.RolePatient {
			return turns[i].Text
		}
	}
	return ""
}

// InferCoveredDomains returns the topics whose keyword list has at least one
// substring match in text. Matching is case-insensitive.
func (p *Policy) InferCoveredDomains(text string) map[domain.Topic]bool {
	low := strings.ToLower(text)
	out := make(map[domain.Topic]bool)
	for _, topic := range p.plan {
		for _, kw := range p.keywords[topic] {
			if strings.Contains(low, kw) {
				out[topic] = true
				break
			}
		}
	}
	return out
}

// EffectiveCovered is the union of explicitly asked and inferred topics.
func (p *Policy) EffectiveCovered(state domain.IntakeState, patientText string) map[domain.Topic]bool {
	covered := p.InferCoveredDomains(patientText)
	for _, t := range state.DomainsAsked {
		covered[t] = true
	}
	return covered
}
