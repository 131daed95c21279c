package provider

import (
	"context"
	"hash/fnv"
	"strings"

	"intake-agent/internal/domain"
)

type mockCategory struct {
	keywords []string
	variants []string
}

// Checked in order; the first category with a matching keyword wins.
var mockCategories = []mockCategory{
	{
		keywords: []string{"pain", "ache", "hurt"},
		variants: []string{
			"On a scale from 1-10, how severe is your pain, and when did it start?",
			"Where exactly do you feel the pain, and does it spread anywhere?",
			"Is the pain constant or does it come and go?",
		},
	},
	{
		keywords: []string{"fever", "temperature"},
		variants: []string{
			"What is your current temperature and how long have you had a fever?",
			"Have you had chills or night sweats along with the fever?",
		},
	},
	{
		keywords: []string{"cough"},
		variants: []string{
			"Is your cough dry or productive, and are there any triggers or times it worsens?",
			"How long have you had the cough, and are you short of breath?",
		},
	},
}

var mockGeneral = []string{
	"Could you tell me more about your symptoms, their duration, severity, and any medications you are taking?",
	"When did this first start, and has it changed since then?",
	"Is there anything that makes it better or worse?",
}

var mockConclusions = []string{
	"Conclusion: The patient has described their main concern with onset, severity and course. Relevant medications and history were reviewed during intake. A clinician will review this summary.",
	"Conclusion: Intake is complete for the reported symptoms. The key details on timing, severity and modifying factors have been recorded for clinician review.",
}

// Mock is the offline substitute. It never calls the network and always
// returns the same reply for the same latest patient message.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (*Mock) Name() string { return string(KindMock) }

func (*Mock) Complete(_ context.Context, req Request) (string, error) {
	last := lastUserMessage(req.Messages)
	if strings.Contains(req.System, "Conclusion:") {
		return mockConclusions[stableIndex(last, len(mockConclusions))], nil
	}

	low := strings.ToLower(last)
	for _, c := range mockCategories {
		for _, kw := range c.keywords {
			if strings.Contains(low, kw) {
				return c.variants[stableIndex(last, len(c.variants))], nil
			}
		}
	}
	return mockGeneral[stableIndex(last, len(mockGeneral))], nil
}

func lastUserMessage(msgs []domain.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.ChatRoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// stableIndex is FNV-1a of s reduced modulo n.
func stableIndex(s string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(n))
}
