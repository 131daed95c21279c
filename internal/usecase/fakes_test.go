package usecase

import (
	"context"
	"errors"
	"time"

	"intake-agent/internal/domain"
	"intake-agent/internal/provider"
	"intake-agent/internal/repository"
)

type fakeStore struct {
	convs      map[string]*domain.Conversation
	turns      map[string][]domain.Turn
	nextID     int
	getErr     error
	listErr    error
	appendErr  error
	commitErr  error
	commits    int
	createErr  error
	lastCommit domain.IntakeState
}

func newFakeStore() *fakeStore {
	return &fakeStore{convs: map[string]*domain.Conversation{}, turns: map[string][]domain.Turn{}}
}

func (f *fakeStore) seed(id string, state domain.IntakeState, turns ...domain.NewTurn) {
	f.convs[id] = &domain.Conversation{ID: id, PatientID: "patient-1", Intake: state, CreatedAt: time.Unix(0, 0).UTC()}
	_, _ = f.AppendTurns(context.Background(), id, turns)
}

func (f *fakeStore) CreateConversation(_ context.Context, conv domain.Conversation) (domain.Conversation, error) {
	if f.createErr != nil {
		return domain.Conversation{}, f.createErr
	}
	if conv.ID == "" {
		f.nextID++
		conv.ID = "generated-" + string(rune('0'+f.nextID))
	}
	if _, ok := f.convs[conv.ID]; ok {
		return domain.Conversation{}, errors.New("duplicate id")
	}
	c := conv
	f.convs[conv.ID] = &c
	return c, nil
}

func (f *fakeStore) GetConversation(_ context.Context, id string) (domain.Conversation, error) {
	if f.getErr != nil {
		return domain.Conversation{}, f.getErr
	}
	c, ok := f.convs[id]
	if !ok {
		return domain.Conversation{}, repository.ErrNotFound
	}
	out := *c
	out.Intake = c.Intake.Clone()
	return out, nil
}

func (f *fakeStore) AppendTurns(_ context.Context, id string, turns []domain.NewTurn) ([]domain.Turn, error) {
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	c, ok := f.convs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	var out []domain.Turn
	for _, nt := range turns {
		c.TurnCount++
		t := domain.Turn{ConversationID: id, Seq: c.TurnCount, Role: nt.Role, Text: nt.Text}
		f.turns[id] = append(f.turns[id], t)
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) ListTurns(_ context.Context, id string) ([]domain.Turn, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.Turn(nil), f.turns[id]...), nil
}

func (f *fakeStore) CommitFollowUp(ctx context.Context, id string, loadedTurnCount int, state domain.IntakeState, turn domain.NewTurn) (domain.Turn, error) {
	if f.commitErr != nil {
		return domain.Turn{}, f.commitErr
	}
	if c, ok := f.convs[id]; ok && c.TurnCount != loadedTurnCount {
		return domain.Turn{}, repository.ErrConflict
	}
	out, err := f.AppendTurns(ctx, id, []domain.NewTurn{turn})
	if err != nil {
		return domain.Turn{}, err
	}
	f.commits++
	f.lastCommit = state.Clone()
	f.convs[id].Intake = state.Clone()
	return out[0], nil
}

// scriptedProvider returns a fixed reply and records the last request.
type scriptedProvider struct {
	reply  string
	err    error
	calls  int
	last   provider.Request
	during func()
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, req provider.Request) (string, error) {
	p.calls++
	p.last = req
	if p.during != nil {
		p.during()
	}
	return p.reply, p.err
}

type fakeFollowUpper struct {
	out   FollowUp
	err   error
	calls int
}

func (f *fakeFollowUpper) NextFollowUp(_ context.Context, _ string) (FollowUp, error) {
	f.calls++
	return f.out, f.err
}
