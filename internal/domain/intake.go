package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Topic is one clinical-intake category tracked by the controller.
type Topic string

const (
	TopicChiefConcern    Topic = "chief_concern"
	TopicOnsetDuration   Topic = "onset_duration"
	TopicSeverity        Topic = "severity"
	TopicProgression     Topic = "progression"
	TopicModifiers       Topic = "modifiers"
	TopicRedFlags        Topic = "red_flags"
	TopicMedications     Topic = "medications"
	TopicAllergies       Topic = "allergies"
	TopicRelevantHistory Topic = "relevant_history"
)

// IntakeState is the per-conversation controller state. It is mutated only by
// RecordAsk and Conclude.
type IntakeState struct {
	DomainsAsked  []Topic `json:"domains_asked"`
	CoverageScore int     `json:"coverage_score"`
	Concluded     bool    `json:"concluded"`
	TurnsHandled  int     `json:"turns_handled"`
	LastDomain    *Topic  `json:"last_domain"`
}

// Asked reports whether topic was explicitly asked.
func (s IntakeState) Asked(topic Topic) bool {
	for _, t := range s.DomainsAsked {
		if t == topic {
			return true
		}
	}
	return false
}

// RecordAsk registers that topic was targeted by a question. A nil topic
// means no domain was left to target.
func (s *IntakeState) RecordAsk(topic *Topic) {
	if topic != nil && !s.Asked(*topic) {
		s.DomainsAsked = append(s.DomainsAsked, *topic)
	}
	s.CoverageScore = len(s.DomainsAsked)
	s.TurnsHandled++
	if topic != nil {
		t := *topic
		s.LastDomain = &t
	} else {
		s.LastDomain = nil
	}
}

// Conclude marks the intake as finished. Once set, Concluded never reverts.
func (s *IntakeState) Conclude() {
	s.Concluded = true
	s.TurnsHandled++
}

// Clone returns a deep copy so callers can stage changes before committing.
func (s IntakeState) Clone() IntakeState {
	out := s
	out.DomainsAsked = append([]Topic(nil), s.DomainsAsked...)
	if s.LastDomain != nil {
		t := *s.LastDomain
		out.LastDomain = &t
	}
	return out
}

// Validate checks the stored invariants.
func (s IntakeState) Validate() error {
	seen := make(map[Topic]bool, len(s.DomainsAsked))
	for _, t := range s.DomainsAsked {
		if strings.TrimSpace(string(t)) == "" {
			return errors.New("domain: intake state has an empty topic")
		}
		if seen[t] {
			return fmt.Errorf("domain: intake state lists %q twice", t)
		}
		seen[t] = true
	}
	if s.CoverageScore != len(s.DomainsAsked) {
		return fmt.Errorf("domain: coverage score %d does not match %d asked domains", s.CoverageScore, len(s.DomainsAsked))
	}
	if s.TurnsHandled < 0 {
		return errors.New("domain: turns handled must not be negative")
	}
	return nil
}

// EncodeIntakeState serialises a validated state for storage.
func EncodeIntakeState(s IntakeState) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	if s.DomainsAsked == nil {
		s.DomainsAsked = []Topic{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("domain: encode intake state: %w", err)
	}
	return string(b), nil
}

// DecodeIntakeState parses and validates a stored state. Empty input yields
// the initial state.
func DecodeIntakeState(raw string) (IntakeState, error) {
	if strings.TrimSpace(raw) == "" {
		return IntakeState{}, nil
	}
	var s IntakeState
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return IntakeState{}, fmt.Errorf("domain: decode intake state: %w", err)
	}
	if err := s.Validate(); err != nil {
		return IntakeState{}, err
	}
	return s, nil
}
