package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"intake-agent/internal/domain"
	"intake-agent/internal/notes"
	"intake-agent/internal/usecase"
)

const notFoundHint = "Provide a valid existing conversation_id or include patient_id to create a new conversation automatically."

type errorResponse struct {
	Error   string   `json:"error"`
	Reason  string   `json:"reason,omitempty"`
	Message string   `json:"message,omitempty"`
	Hints   []string `json:"hints,omitempty"`
}

type conversationResponse struct {
	ConversationID string    `json:"conversation_id"`
	PatientID      string    `json:"patient_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type statusResponse struct {
	conversationResponse
	MessageCount int                `json:"message_count"`
	IntakeState  domain.IntakeState `json:"intake_state"`
}

type followUpPayload struct {
	Question   string `json:"question"`
	Saved      bool   `json:"saved"`
	Conclusion bool   `json:"conclusion"`
	Topic      string `json:"topic,omitempty"`
}

type aiErrorPayload struct {
	Code    string   `json:"code,omitempty"`
	Message string   `json:"message"`
	Hints   []string `json:"hints"`
}

type sendResponse struct {
	ConversationID string           `json:"conversation_id"`
	Appended       int              `json:"appended"`
	CreatedNew     bool             `json:"created_new_conversation"`
	AIFollowUp     *followUpPayload `json:"ai_follow_up,omitempty"`
	AIError        *aiErrorPayload  `json:"ai_error,omitempty"`
}

type continueResponse struct {
	ConversationID string `json:"conversation_id"`
	Appended       int    `json:"appended"`
	MessageCount   int    `json:"message_count"`
}

type nextFollowUpResponse struct {
	ConversationID string `json:"conversation_id"`
	followUpPayload
	AIError *aiErrorPayload `json:"ai_error,omitempty"`
}

type noteResponse struct {
	ConversationID string `json:"conversation_id"`
	NoteTitle      string `json:"note_title"`
	NoteText       string `json:"note_text"`
}

type saveResponse struct {
	SaveResult notes.SaveResult `json:"save_result"`
}

type summaryResponse struct {
	ConversationID string           `json:"conversation_id"`
	NoteTitle      string           `json:"note_title"`
	SaveResult     notes.SaveResult `json:"save_result"`
}

type helpResponse struct {
	Endpoints map[string]string `json:"endpoints"`
	Env       map[string]string `json:"env"`
}

type diagnosticsResponse struct {
	Provider    string   `json:"provider"`
	Model       string   `json:"model,omitempty"`
	APIBase     string   `json:"api_base,omitempty"`
	ConfigValid bool     `json:"config_valid"`
	Probed      bool     `json:"probed"`
	ProbeOK     bool     `json:"probe_ok"`
	Error       string   `json:"error,omitempty"`
	Hints       []string `json:"hints,omitempty"`
}

func errorBody(code usecase.ErrorCode, reason, message string, hints []string) errorResponse {
	return errorResponse{Error: string(code), Reason: reason, Message: message, Hints: hints}
}

func toConversationResponse(c domain.Conversation) conversationResponse {
	return conversationResponse{
		ConversationID: c.ID,
		PatientID:      c.PatientID,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func toFollowUpPayload(fu usecase.FollowUp) followUpPayload {
	p := followUpPayload{Question: fu.Text, Saved: fu.Saved, Conclusion: fu.Concluded}
	if fu.Topic != nil {
		p.Topic = string(*fu.Topic)
	}
	return p
}

// emptyFollowUpError describes a follow-up the provider left blank.
func emptyFollowUpError(fu usecase.FollowUp) *aiErrorPayload {
	if fu.Text != "" {
		return nil
	}
	return &aiErrorPayload{Message: "AI returned an empty response.", Hints: fu.Hints}
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorConflict:
		return http.StatusConflict
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	case usecase.ErrorProviderConfig, usecase.ErrorUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fromError maps a use case error onto a status code and body. Internal
// details are logged, not returned.
func fromError(err error) (int, any) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		slog.Error("unexpected error", "err", err)
		return http.StatusInternalServerError, errorBody(usecase.ErrorInternal, "unexpected_error", "", nil)
	}

	status := statusFor(ue.Code)
	body := errorBody(ue.Code, ue.Reason, "", ue.Hints())
	switch ue.Code {
	case usecase.ErrorNotFound:
		body.Message = "Conversation not found"
		body.Hints = []string{notFoundHint}
	case usecase.ErrorInvalidInput, usecase.ErrorProviderConfig, usecase.ErrorUpstream:
		if ue.Err != nil {
			body.Message = ue.Err.Error()
		}
	}
	if status >= 500 {
		slog.Error("request failed", "code", string(ue.Code), "reason", ue.Reason, "err", ue.Err)
	}
	return status, body
}
