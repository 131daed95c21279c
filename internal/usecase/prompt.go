package usecase

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"intake-agent/internal/domain"
	"intake-agent/internal/intake"
	"intake-agent/internal/provider"
)

const conclusionPrefix = "Conclusion: "

// conclusionLead matches a model-written lead such as "CONCLUSION -" or
// "Conclusions:" so it can be replaced with the canonical prefix.
var conclusionLead = regexp.MustCompile(`(?i)^conclusions?\b[\s:\-–—]*`)

var topicLabels = map[domain.Topic]string{
	domain.TopicChiefConcern:    "the chief concern (what brings the patient in)",
	domain.TopicOnsetDuration:   "onset and duration (when it started, how long it has lasted)",
	domain.TopicSeverity:        "severity (how bad it is, for example on a 1-10 scale)",
	domain.TopicProgression:     "progression (whether it is getting better, worse or staying the same)",
	domain.TopicModifiers:       "modifying factors (what makes it better or worse)",
	domain.TopicRedFlags:        "red flags (fever, fainting, chest pain, shortness of breath, bleeding)",
	domain.TopicMedications:     "current medications, including over-the-counter remedies",
	domain.TopicAllergies:       "allergies to medications or other substances",
	domain.TopicRelevantHistory: "relevant medical, surgical or family history",
}

func topicLabel(t domain.Topic) string {
	if l, ok := topicLabels[t]; ok {
		return l
	}
	return strings.ReplaceAll(string(t), "_", " ")
}

func topicNames(topics []domain.Topic) string {
	if len(topics) == 0 {
		return "none"
	}
	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// buildPrompt turns the decision and stored turns into a provider request:
// a system instruction, one context-priming patient turn, then the history.
func buildPrompt(d intake.Decision, state domain.IntakeState, turns []domain.Turn) provider.Request {
	var system string
	if d.Mode == intake.ModeConclude {
		system = buildConclusionInstruction()
	} else {
		system = buildAskInstruction(*d.Next, d.Covered)
	}

	messages := make([]domain.ChatMessage, 0, len(turns)+1)
	messages = append(messages, domain.ChatMessage{
		Role:    domain.ChatRoleUser,
		Content: buildContextTurn(d, state, intake.LatestPatientText(turns)),
	})
	for _, t := range turns {
		messages = append(messages, domain.ChatMessage{Role: t.Role.ChatRole(), Content: t.Text})
	}
	return provider.Request{System: system, Messages: messages}
}

func buildAskInstruction(next domain.Topic, covered []domain.Topic) string {
	return strings.Join([]string{
		"Role:",
		"You are a clinical intake assistant talking with a patient before their visit.",
		"",
		"Task:",
		"Ask exactly one concise, empathetic follow-up question about " + topicLabel(next) + ".",
		"",
		"Rules:",
		"1) Ask one question only, in 28 words or fewer.",
		"2) Do not ask again about topics already covered: " + topicNames(covered) + ".",
		"3) Do not give a diagnosis or medical advice.",
		"4) End the question with '?'.",
	}, "\n")
}

func buildConclusionInstruction() string {
	return strings.Join([]string{
		"Role:",
		"You are a clinical intake assistant closing the intake interview.",
		"",
		"Task:",
		"Write a neutral, factual paragraph of 2 to 4 sentences summarising what the patient reported.",
		"",
		"Rules:",
		"1) Begin with the literal prefix \"Conclusion:\".",
		"2) Do not ask any questions.",
		"3) Do not give a diagnosis or medical advice.",
	}, "\n")
}

func buildContextTurn(d intake.Decision, state domain.IntakeState, latest string) string {
	latest = strings.TrimSpace(latest)
	if latest == "" {
		latest = "(no patient message yet)"
	}
	if d.Mode == intake.ModeConclude {
		return fmt.Sprintf("Latest patient message: %s", latest)
	}
	return fmt.Sprintf("Latest patient message: %s\nDomains already asked: %s", latest, topicNames(state.DomainsAsked))
}

// postProcess enforces the output contract: questions end with '?' and fit
// maxLen runes; conclusions start with exactly "Conclusion: ".
func postProcess(mode intake.Mode, raw string, maxLen int) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	if mode == intake.ModeConclude {
		body := conclusionLead.ReplaceAllString(text, "")
		return strings.TrimSpace(conclusionPrefix + body)
	}

	if !strings.HasSuffix(text, "?") {
		text += "?"
	}
	if maxLen > 1 && utf8.RuneCountInString(text) > maxLen {
		runes := []rune(text)
		text = strings.TrimRight(string(runes[:maxLen-1]), " ") + "?"
	}
	return text
}
