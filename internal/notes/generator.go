// Package notes turns a conversation into a plain-text clinical note and
// writes notes to a local directory.
package notes

import (
	"fmt"
	"strings"
	"time"

	"intake-agent/internal/domain"
)

// Note is a generated clinical note.
type Note struct {
	Title string
	Text  string
}

var (
	symptomKeywords    = []string{"pain", "fever", "cough", "nausea", "headache", "dizzy", "rash", "fatigue", "sore"}
	durationKeywords   = []string{"week", "day", "month"}
	severityKeywords   = []string{"mild", "moderate", "severe", "worse", "improving"}
	medicationKeywords = []string{"med", "medicine", "drug", "pill", "ibuprofen", "acetaminophen", "paracetamol", "antibiotic"}
	allergyKeywords    = []string{"allerg"}
	concernKeywords    = []string{"concern", "worried", "afraid"}
)

// recentPrompts is how many assistant turns are quoted for context.
const recentPrompts = 3

// Generator builds notes with keyword heuristics. The output is deterministic
// for a given conversation apart from the generation timestamp.
type Generator struct {
	now func() time.Time
}

func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// Generate composes the note. An empty title defaults to
// "Disease Note for Patient <patient id>".
func (g *Generator) Generate(conv domain.Conversation, turns []domain.Turn, title string) Note {
	var (
		symptoms, meds, allergies, concerns []string
		duration, severity                  string
		assistant                           []string
	)

	for _, t := range turns {
		line := strings.TrimSpace(t.Text)
		if line == "" {
			continue
		}
		if t.Role == domain.RoleAssistant {
			assistant = append(assistant, line)
			continue
		}
		low := strings.ToLower(line)
		if containsAny(low, symptomKeywords) {
			symptoms = append(symptoms, line)
		}
		if duration == "" && containsAny(low, durationKeywords) {
			duration = line
		}
		if severity == "" && containsAny(low, severityKeywords) {
			severity = line
		}
		if containsAny(low, medicationKeywords) {
			meds = append(meds, line)
		}
		if containsAny(low, allergyKeywords) {
			allergies = append(allergies, line)
		}
		if containsAny(low, concernKeywords) {
			concerns = append(concerns, line)
		}
	}
	if len(assistant) > recentPrompts {
		assistant = assistant[len(assistant)-recentPrompts:]
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = "Disease Note for Patient " + conv.PatientID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", title)
	fmt.Fprintf(&b, "Conversation ID: %s\n", conv.ID)
	fmt.Fprintf(&b, "Patient ID: %s\n", conv.PatientID)
	fmt.Fprintf(&b, "Created: %s\n", conv.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Updated: %s\n", conv.UpdatedAt.UTC().Format(time.RFC3339))
	section(&b, "Chief Concerns", concerns, "Not specified")
	section(&b, "Reported Symptoms", symptoms, "Not specified")
	section(&b, "Duration", single(duration), "Not specified")
	section(&b, "Severity", single(severity), "Not specified")
	section(&b, "Medications", meds, "Not specified")
	section(&b, "Allergies", allergies, "Not specified")
	section(&b, "Context (last assistant prompts)", assistant, "Not available")
	section(&b, "Generated At", []string{g.now().UTC().Format(time.RFC3339)}, "")

	return Note{Title: title, Text: strings.TrimSuffix(b.String(), "\n")}
}

func single(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func section(b *strings.Builder, heading string, items []string, empty string) {
	fmt.Fprintf(b, "\n%s:\n", heading)
	if len(items) == 0 {
		items = []string{empty}
	}
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}
