package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"intake-agent/internal/domain"
	"intake-agent/internal/intake"
	"intake-agent/internal/provider"
)

// ConversationStore is the storage contract consumed by the use cases.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv domain.Conversation) (domain.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
	AppendTurns(ctx context.Context, conversationID string, turns []domain.NewTurn) ([]domain.Turn, error)
	ListTurns(ctx context.Context, conversationID string) ([]domain.Turn, error)
	CommitFollowUp(ctx context.Context, conversationID string, loadedTurnCount int, state domain.IntakeState, turn domain.NewTurn) (domain.Turn, error)
}

// FollowUp is the controller result. Text is empty when the provider
// answered without usable content; Hints then explain what to check.
type FollowUp struct {
	Text      string
	Concluded bool
	Topic     *domain.Topic
	Saved     bool
	Hints     []string
}

// IntakeController decides the next intake step for a conversation and asks
// the provider to phrase it.
type IntakeController struct {
	store    ConversationStore
	policy   *intake.Policy
	provider provider.Provider
}

func NewIntakeController(store ConversationStore, policy *intake.Policy, p provider.Provider) (*IntakeController, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if policy == nil {
		return nil, errors.New("usecase: intake policy must not be nil")
	}
	if p == nil {
		return nil, errors.New("usecase: provider must not be nil")
	}
	return &IntakeController{store: store, policy: policy, provider: p}, nil
}

// NextFollowUp produces the next question or the closing conclusion. The
// intake state and the assistant turn are committed together, and only
// after the provider returned usable text.
func (c *IntakeController) NextFollowUp(ctx context.Context, conversationID string) (FollowUp, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return FollowUp{}, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}

	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return FollowUp{}, storeError("load_conversation_error", err)
	}
	turns, err := c.store.ListTurns(ctx, conversationID)
	if err != nil {
		return FollowUp{}, storeError("load_turns_error", err)
	}

	state := conv.Intake.Clone()
	decision := c.policy.Decide(state, intake.PatientText(turns))

	raw, err := c.provider.Complete(ctx, buildPrompt(decision, state, turns))
	if err != nil {
		return FollowUp{}, providerError(err)
	}

	text := postProcess(decision.Mode, raw, c.policy.MaxQuestionLength())
	if text == "" {
		slog.Warn("provider returned empty follow-up",
			"conversation_id", conversationID,
			"provider", c.provider.Name(),
			"mode", string(decision.Mode),
		)
		return FollowUp{Hints: provider.EmptyResponseHints()}, nil
	}

	intake.Apply(&state, decision)
	if _, err := c.store.CommitFollowUp(ctx, conversationID, conv.TurnCount, state, domain.NewTurn{Role: domain.RoleAssistant, Text: text}); err != nil {
		return FollowUp{}, storeError("commit_follow_up_error", err)
	}

	return FollowUp{
		Text:      text,
		Concluded: decision.Mode == intake.ModeConclude,
		Topic:     decision.Next,
		Saved:     true,
	}, nil
}
