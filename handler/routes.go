package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"intake-agent/internal/integrations/azure"
	"intake-agent/internal/usecase"
)

type startRequest struct {
	PatientID string         `json:"patient_id"`
	Metadata  map[string]any `json:"metadata"`
}

type messageRequest struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type sendRequest struct {
	ConversationID string `json:"conversation_id"`
	PatientID      string `json:"patient_id"`
	messageRequest
}

type continueRequest struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []messageRequest `json:"messages"`
}

type conversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

type generateNoteRequest struct {
	ConversationID string `json:"conversation_id"`
	NoteTitle      string `json:"note_title"`
}

type saveNoteRequest struct {
	Filename string `json:"filename"`
	NoteText string `json:"note_text"`
}

type summaryRequest struct {
	ConversationID string `json:"conversation_id"`
	NoteTitle      string `json:"note_title"`
	Filename       string `json:"filename"`
}

func (h *Handler) health(context.Context, events.APIGatewayProxyRequest) (int, any) {
	return http.StatusOK, map[string]string{"status": "ok"}
}

// aiHelp describes the AI endpoints and the settings that select a provider.
func (h *Handler) aiHelp(context.Context, events.APIGatewayProxyRequest) (int, any) {
	return http.StatusOK, helpResponse{
		Endpoints: map[string]string{
			"diagnostics":               "GET /api/ai/diagnostics?probe=true",
			"next_follow_up":            "POST /api/ai/next-follow-up",
			"generate_note":             "POST /api/notes/generate",
			"save_note":                 "POST /api/notes/save-local",
			"generate_and_save_summary": "POST /api/ai/generate-and-save-summary",
		},
		Env: map[string]string{
			"AI_PROVIDER":              "mock|openai|azure_openai|litellm",
			"AI_API_KEY":               "set when using a non-mock provider",
			"AI_API_KEY_PARAM":         "SSM parameter holding {\"token\": \"...\"}, used when AI_API_KEY is unset",
			"AI_MODEL":                 "model or Azure deployment name",
			"AI_API_BASE":              "base URL override (required for Azure OpenAI and LiteLLM)",
			"AZURE_OPENAI_API_VERSION": "default " + azure.DefaultAPIVersion,
			"AI_TIMEOUT_SECONDS":       "provider timeout, default 60",
			"NOTES_DIR":                "local directory for .txt notes (ONEDRIVE_SAVE_DIR also accepted)",
		},
	}
}

func (h *Handler) aiDiagnostics(ctx context.Context, req events.APIGatewayProxyRequest) (int, any) {
	probe := false
	if raw := req.QueryStringParameters["probe"]; raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return http.StatusBadRequest, errorBody(usecase.ErrorInvalidInput, "invalid_probe", "probe must be a boolean", nil)
		}
		probe = v
	}
	r := h.diagnostics.Run(ctx, probe)
	return http.StatusOK, diagnosticsResponse{
		Provider:    r.Provider,
		Model:       r.Model,
		APIBase:     r.APIBase,
		ConfigValid: r.ConfigValid,
		Probed:      r.Probed,
		ProbeOK:     r.ProbeOK,
		Error:       r.Error,
		Hints:       r.Hints,
	}
}

func (h *Handler) startConversation(ctx context.Context, req events.APIGatewayProxyRequest) (int, any) {
	var in startRequest
	if err := decodeBody(req, &in); err != nil {
		return invalidBody(err)
	}
	conv, err := h.conversations.Start(ctx, usecase.StartInput{PatientID: in.PatientID, Metadata: in.Metadata})
	if err != nil {
		return fromError(err)
	}
	return http.StatusCreated, toConversationResponse(conv)
}

func (h *Handler) sendMessage(ctx context.Context, req events.APIGatewayProxyRequest) (int, any) {
	var in sendRequest
	if err := decodeBody(req, &in); err != nil {
		return invalidBody(err)
	}
	out, err := h.conversations.Send(ctx, usecase.SendInput{
		ConversationID: in.ConversationID,
		Sender:         in.Sender,
		Text:           in.Text,
		PatientID:      in.PatientID,
	})
	if err != nil {
		return fromError(err)
	}

	resp := sendResponse{ConversationID: out.ConversationID, Appended: 1, CreatedNew: out.Created}
	if out.FollowUp != nil {
		p := toFollowUpPayload(*out.FollowUp)
		resp.AIFollowUp = &p
		resp.AIError = emptyFollowUpError(*out.FollowUp)
	}
	if out.FollowUpErr != nil {
		resp.AIError = &aiErrorPayload{
			Code:    string(out.FollowUpErr.Code),
			Message: followUpErrorMessage(out.FollowUpErr),
			Hints:   out.FollowUpErr.Hints(),
		}
	}

	status := http.StatusOK
	if out.Created {
		status = http.StatusCreated
	}
	return status, resp
}

func followUpErrorMessage(e *usecase.Error) string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Reason
}

func (h *Handler) continueConversation(ctx context.Context, req events.APIGatewayProxyRequest) (int, any) {
	var in continueRequest
	if err := decodeBody(req, &in); err != nil {
		return invalidBody(err)
	}
	msgs := make([]usecase.MessageInput, len(in.Messages))
	for i, m := range in.Messages {
		msgs[i] = usecase.MessageInput{Sender: m.Sender, Text: m.Text}
	}
	written, err := h.conversations.Continue(ctx, usecase.ContinueInput{ConversationID: in.ConversationID, Messages: msgs})
	if err != nil {
		return fromError(err)
	}
	resp := continueResponse{ConversationID: strings.TrimSpace(in.ConversationID), Appended: len(written)}
	if len(written) > 0 {
		resp.MessageCount = written[len(written)-1].Seq
	}
	return http.StatusOK, resp
}

func (h *Handler) conversationStatus(ctx context.Context, req events.APIGatewayProxyRequest) (int, any) {
	conv, err := h.conversations.Status(ctx, req.QueryStringParameters["conversation_id"])
	if err != nil {
		return fromError(err)
	}
	return http.StatusOK, statusResponse{
		conversationResponse: toConversationResponse(conv),
		MessageCount:         conv.TurnCount,
		IntakeState:          conv.Intake,
	}
}

func (h *Handler) nextFollowUp(ctx context.Context, req events.APIGatewayProxyRequest) (int, any) {
	var in conversationRequest
	if err := decodeBody(req, &in); err != nil {
		return invalidBody(err)
	}
	fu, err := h.followUps.NextFollowUp(ctx, in.ConversationID)
	if err != nil {
		return fromError(err)
	}
	return http.StatusOK, nextFollowUpResponse{
		ConversationID:  strings.TrimSpace(in.ConversationID),
		followUpPayload: toFollowUpPayload(fu),
		AIError:         emptyFollowUpError(fu),
	}
}

func (h *Handler) generateNote(ctx context.Context, req events.APIGatewayProxyRequest) (int, any) {
	var in generateNoteRequest
	if err := decodeBody(req, &in); err != nil {
		return invalidBody(err)
	}
	note, err := h.notes.Generate(ctx, in.ConversationID, in.NoteTitle)
	if err != nil {
		return fromError(err)
	}
	return http.StatusOK, noteResponse{
		ConversationID: strings.TrimSpace(in.ConversationID),
		NoteTitle:      note.Title,
		NoteText:       note.Text,
	}
}

func (h *Handler) saveNote(_ context.Context, req events.APIGatewayProxyRequest) (int, any) {
	var in saveNoteRequest
	if err := decodeBody(req, &in); err != nil {
		return invalidBody(err)
	}
	res, err := h.notes.Save(in.Filename, in.NoteText)
	if err != nil {
		return fromError(err)
	}
	return http.StatusOK, saveResponse{SaveResult: res}
}

func (h *Handler) generateAndSaveSummary(ctx context.Context, req events.APIGatewayProxyRequest) (int, any) {
	var in summaryRequest
	if err := decodeBody(req, &in); err != nil {
		return invalidBody(err)
	}
	note, res, err := h.notes.GenerateAndSave(ctx, in.ConversationID, in.NoteTitle, in.Filename)
	if err != nil {
		return fromError(err)
	}
	return http.StatusOK, summaryResponse{
		ConversationID: strings.TrimSpace(in.ConversationID),
		NoteTitle:      note.Title,
		SaveResult:     res,
	}
}
