package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"intake-agent/internal/domain"
	"intake-agent/internal/repository"
)

const (
	defaultMaxMessageLen = 4000
	maxContinueMessages  = 50
)

// FollowUpper produces the assistant reply after a patient turn.
type FollowUpper interface {
	NextFollowUp(ctx context.Context, conversationID string) (FollowUp, error)
}

// ConversationService stores conversations and turns and triggers the intake
// controller after each patient message.
type ConversationService struct {
	store         ConversationStore
	followUps     FollowUpper
	maxMessageLen int
}

func NewConversationService(store ConversationStore, followUps FollowUpper, maxMessageLen int) (*ConversationService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if followUps == nil {
		return nil, errors.New("usecase: follow-up generator must not be nil")
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessageLen
	}
	return &ConversationService{store: store, followUps: followUps, maxMessageLen: maxMessageLen}, nil
}

type StartInput struct {
	PatientID string
	Metadata  map[string]any
}

func (s *ConversationService) Start(ctx context.Context, in StartInput) (domain.Conversation, error) {
	patientID := strings.TrimSpace(in.PatientID)
	if patientID == "" {
		return domain.Conversation{}, newError(ErrorInvalidInput, "missing_patient_id", nil)
	}
	conv, err := s.store.CreateConversation(ctx, domain.Conversation{PatientID: patientID, Metadata: in.Metadata})
	if err != nil {
		return domain.Conversation{}, newError(ErrorStorage, "create_conversation_error", err)
	}
	return conv, nil
}

type MessageInput struct {
	Sender string
	Text   string
}

type SendInput struct {
	ConversationID string
	Sender         string
	Text           string
	// PatientID allows an unknown conversation to be created on the fly.
	PatientID string
}

type SendOutput struct {
	ConversationID string
	Created        bool
	Turn           domain.Turn
	// FollowUp is nil when the sender was not the patient.
	FollowUp *FollowUp
	// FollowUpErr is set when generating the follow-up failed. The patient
	// turn is stored regardless.
	FollowUpErr *Error
}

func (s *ConversationService) validateMessage(m MessageInput) (domain.NewTurn, error) {
	role, err := domain.ParseRole(m.Sender)
	if err != nil {
		return domain.NewTurn{}, newError(ErrorInvalidInput, "invalid_sender", err)
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return domain.NewTurn{}, newError(ErrorInvalidInput, "empty_text", nil)
	}
	if utf8.RuneCountInString(text) > s.maxMessageLen {
		return domain.NewTurn{}, newError(ErrorInvalidInput, "text_too_long", nil)
	}
	return domain.NewTurn{Role: role, Text: text}, nil
}

// Send appends one message. When the sender is the patient the intake
// controller runs next; its failure is reported in the output, not as an
// error.
func (s *ConversationService) Send(ctx context.Context, in SendInput) (SendOutput, error) {
	turn, err := s.validateMessage(MessageInput{Sender: in.Sender, Text: in.Text})
	if err != nil {
		return SendOutput{}, err
	}
	convID := strings.TrimSpace(in.ConversationID)
	patientID := strings.TrimSpace(in.PatientID)
	if convID == "" && patientID == "" {
		return SendOutput{}, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}

	created := false
	if convID == "" {
		conv, err := s.store.CreateConversation(ctx, domain.Conversation{PatientID: patientID})
		if err != nil {
			return SendOutput{}, newError(ErrorStorage, "create_conversation_error", err)
		}
		convID, created = conv.ID, true
	} else if _, err := s.store.GetConversation(ctx, convID); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return SendOutput{}, storeError("load_conversation_error", err)
		}
		if patientID == "" {
			return SendOutput{}, newError(ErrorNotFound, "conversation_not_found", err)
		}
		if _, err := s.store.CreateConversation(ctx, domain.Conversation{ID: convID, PatientID: patientID}); err != nil {
			return SendOutput{}, newError(ErrorStorage, "create_conversation_error", err)
		}
		created = true
	}

	written, err := s.store.AppendTurns(ctx, convID, []domain.NewTurn{turn})
	if err != nil {
		return SendOutput{}, storeError("append_turn_error", err)
	}
	out := SendOutput{ConversationID: convID, Created: created, Turn: written[0]}
	if turn.Role != domain.RolePatient {
		return out, nil
	}

	fu, err := s.followUps.NextFollowUp(ctx, convID)
	if err != nil {
		var ue *Error
		if !errors.As(err, &ue) {
			ue = newError(ErrorInternal, "follow_up_error", err)
		}
		slog.Error("follow-up generation failed", "conversation_id", convID, "code", string(ue.Code), "err", err)
		out.FollowUp = &FollowUp{}
		out.FollowUpErr = ue
		return out, nil
	}
	out.FollowUp = &fu
	return out, nil
}

type ContinueInput struct {
	ConversationID string
	Messages       []MessageInput
}

// Continue appends several messages in order without running the controller.
func (s *ConversationService) Continue(ctx context.Context, in ContinueInput) ([]domain.Turn, error) {
	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		return nil, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	if len(in.Messages) == 0 {
		return nil, newError(ErrorInvalidInput, "empty_messages", nil)
	}
	if len(in.Messages) > maxContinueMessages {
		return nil, newError(ErrorInvalidInput, "too_many_messages", nil)
	}
	turns := make([]domain.NewTurn, 0, len(in.Messages))
	for _, m := range in.Messages {
		t, err := s.validateMessage(m)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}

	written, err := s.store.AppendTurns(ctx, convID, turns)
	if err != nil {
		return nil, storeError("append_turns_error", err)
	}
	return written, nil
}

// Status returns the stored conversation including its intake state.
func (s *ConversationService) Status(ctx context.Context, conversationID string) (domain.Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return domain.Conversation{}, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, storeError("load_conversation_error", err)
	}
	return conv, nil
}
