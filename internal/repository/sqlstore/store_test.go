package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake-agent/internal/domain"
	"intake-agent/internal/repository"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	s, err := Open(ctx, DialectSQLite, filepath.Join(t.TempDir(), "intake.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	s.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestMigrate_IsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestOpenAndNew_Validation(t *testing.T) {
	_, err := Open(context.Background(), DialectSQLite, " ")
	require.ErrorContains(t, err, "dsn")

	_, err = New(nil, DialectSQLite)
	require.ErrorContains(t, err, "db must not be nil")

	s := setupTestStore(t)
	_, err = New(s.db, "mysql")
	require.ErrorContains(t, err, "unsupported dialect")
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: DialectPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &Store{dialect: DialectSQLite}
	assert.Equal(t, "SELECT ? ", lite.rebind("SELECT ? "))
}

func TestCreateAndGetConversation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	created, err := s.CreateConversation(ctx, domain.Conversation{
		PatientID: "patient-1",
		Metadata:  map[string]any{"clinic": "north"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := s.GetConversation(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "patient-1", got.PatientID)
	assert.Equal(t, "north", got.Metadata["clinic"])
	assert.Equal(t, 0, got.TurnCount)
	assert.True(t, got.CreatedAt.Equal(created.CreatedAt))
	assert.False(t, got.Intake.Concluded)
	assert.Empty(t, got.Intake.DomainsAsked)
}

func TestCreateConversation_Errors(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.CreateConversation(ctx, domain.Conversation{})
	require.ErrorContains(t, err, "patient id is required")

	_, err = s.CreateConversation(ctx, domain.Conversation{ID: "conv-1", PatientID: "p"})
	require.NoError(t, err)
	_, err = s.CreateConversation(ctx, domain.Conversation{ID: "conv-1", PatientID: "p"})
	require.Error(t, err)
}

func TestGetConversation_NotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.GetConversation(context.Background(), "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAppendAndListTurns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	_, err := s.CreateConversation(ctx, domain.Conversation{ID: "conv-1", PatientID: "p"})
	require.NoError(t, err)

	first, err := s.AppendTurns(ctx, "conv-1", []domain.NewTurn{{Role: domain.RolePatient, Text: "I have a headache"}})
	require.NoError(t, err)
	require.Equal(t, 1, first[0].Seq)

	more, err := s.AppendTurns(ctx, "conv-1", []domain.NewTurn{
		{Role: domain.RoleAssistant, Text: "When did it start?"},
		{Role: domain.RolePatient, Text: "Yesterday"},
	})
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, []int{more[0].Seq, more[1].Seq})

	turns, err := s.ListTurns(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "I have a headache", turns[0].Text)
	assert.Equal(t, domain.RoleAssistant, turns[1].Role)
	assert.Equal(t, "Yesterday", turns[2].Text)

	conv, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 3, conv.TurnCount)
}

func TestAppendTurns_UnknownConversation(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.AppendTurns(context.Background(), "nope", []domain.NewTurn{{Role: domain.RolePatient, Text: "hi"}})
	require.ErrorIs(t, err, repository.ErrNotFound)

	turns, err := s.ListTurns(context.Background(), "nope")
	require.NoError(t, err)
	require.Empty(t, turns)
}

func TestCommitFollowUp(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	_, err := s.CreateConversation(ctx, domain.Conversation{ID: "conv-1", PatientID: "p"})
	require.NoError(t, err)
	_, err = s.AppendTurns(ctx, "conv-1", []domain.NewTurn{{Role: domain.RolePatient, Text: "headache"}})
	require.NoError(t, err)

	var state domain.IntakeState
	topic := domain.TopicProgression
	state.RecordAsk(&topic)

	turn, err := s.CommitFollowUp(ctx, "conv-1", 1, state, domain.NewTurn{Role: domain.RoleAssistant, Text: "Is it getting worse?"})
	require.NoError(t, err)
	assert.Equal(t, 2, turn.Seq)

	conv, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.Topic{domain.TopicProgression}, conv.Intake.DomainsAsked)
	require.NotNil(t, conv.Intake.LastDomain)
	assert.Equal(t, domain.TopicProgression, *conv.Intake.LastDomain)
	assert.Equal(t, 1, conv.Intake.TurnsHandled)
}

func TestCommitFollowUp_InvalidStateWritesNothing(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	_, err := s.CreateConversation(ctx, domain.Conversation{ID: "conv-1", PatientID: "p"})
	require.NoError(t, err)

	bad := domain.IntakeState{CoverageScore: 2}
	_, err = s.CommitFollowUp(ctx, "conv-1", 0, bad, domain.NewTurn{Role: domain.RoleAssistant, Text: "?"})
	require.Error(t, err)

	turns, err := s.ListTurns(ctx, "conv-1")
	require.NoError(t, err)
	require.Empty(t, turns)
}

func TestCommitFollowUp_StaleSnapshotConflicts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	_, err := s.CreateConversation(ctx, domain.Conversation{ID: "conv-1", PatientID: "p"})
	require.NoError(t, err)
	_, err = s.AppendTurns(ctx, "conv-1", []domain.NewTurn{{Role: domain.RolePatient, Text: "headache"}})
	require.NoError(t, err)

	// Both follow-ups were computed from the one-turn snapshot.
	var asking domain.IntakeState
	topic := domain.TopicProgression
	asking.RecordAsk(&topic)
	var concluded domain.IntakeState
	concluded.Conclude()

	_, err = s.AppendTurns(ctx, "conv-1", []domain.NewTurn{{Role: domain.RolePatient, Text: "worse today"}})
	require.NoError(t, err)
	_, err = s.CommitFollowUp(ctx, "conv-1", 2, concluded, domain.NewTurn{Role: domain.RoleAssistant, Text: "Conclusion: headache, worsening."})
	require.NoError(t, err)

	_, err = s.CommitFollowUp(ctx, "conv-1", 1, asking, domain.NewTurn{Role: domain.RoleAssistant, Text: "How has it changed?"})
	require.ErrorIs(t, err, repository.ErrConflict)

	conv, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, conv.Intake.Concluded)
	assert.Empty(t, conv.Intake.DomainsAsked)
	assert.Equal(t, 3, conv.TurnCount)

	turns, err := s.ListTurns(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "Conclusion: headache, worsening.", turns[2].Text)
}
