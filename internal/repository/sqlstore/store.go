// Package sqlstore keeps conversations in a SQL database. SQLite serves
// local development and tests; PostgreSQL serves shared deployments.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"intake-agent/internal/domain"
	"intake-agent/internal/repository"
)

//go:embed schema.sql
var schemaSQL string

// Dialect selects the driver and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store implements repository.ReadWriter on database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ repository.ReadWriter = (*Store)(nil)

// Open connects with the driver matching dialect and verifies the connection.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlstore: dsn must not be empty")
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", dialect, err)
	}
	return New(db, dialect)
}

// New wraps an already opened database.
func New(db *sql.DB, dialect Dialect) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: db must not be nil")
	}
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("sqlstore: unsupported dialect %q", dialect)
	}
	return &Store{db: db, dialect: dialect, now: time.Now}, nil
}

// Migrate applies schema.sql. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func (s *Store) CreateConversation(ctx context.Context, conv domain.Conversation) (domain.Conversation, error) {
	if strings.TrimSpace(conv.PatientID) == "" {
		return domain.Conversation{}, errors.New("sqlstore: CreateConversation: patient id is required")
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := s.now().UTC()
	conv.CreatedAt, conv.UpdatedAt = now, now
	conv.TurnCount = 0

	metadata := conv.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("sqlstore: CreateConversation: encode metadata: %w", err)
	}
	stateJSON, err := domain.EncodeIntakeState(conv.Intake)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("sqlstore: CreateConversation: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO conversations (id, patient_id, metadata, intake_state, turn_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`),
		conv.ID, conv.PatientID, string(metaJSON), stateJSON, formatTime(now), formatTime(now))
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("sqlstore: CreateConversation: %w", err)
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, patient_id, metadata, intake_state, turn_count, created_at, updated_at
		FROM conversations WHERE id = ?`), conversationID)

	var (
		conv                 domain.Conversation
		metaJSON, stateJSON  string
		createdAt, updatedAt string
	)
	err := row.Scan(&conv.ID, &conv.PatientID, &metaJSON, &stateJSON, &conv.TurnCount, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Conversation{}, repository.ErrNotFound
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("sqlstore: GetConversation: %w", err)
	}

	conv.Metadata = map[string]any{}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &conv.Metadata); err != nil {
			return domain.Conversation{}, fmt.Errorf("sqlstore: GetConversation: decode metadata: %w", err)
		}
	}
	if conv.Intake, err = domain.DecodeIntakeState(stateJSON); err != nil {
		return domain.Conversation{}, fmt.Errorf("sqlstore: GetConversation: %w", err)
	}
	if conv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return domain.Conversation{}, fmt.Errorf("sqlstore: GetConversation: parse created_at: %w", err)
	}
	if conv.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return domain.Conversation{}, fmt.Errorf("sqlstore: GetConversation: parse updated_at: %w", err)
	}
	return conv, nil
}

func (s *Store) ListTurns(ctx context.Context, conversationID string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT conversation_id, seq, role, text, created_at
		FROM turns WHERE conversation_id = ? ORDER BY seq ASC`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: ListTurns: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var (
			t         domain.Turn
			role      string
			createdAt string
		)
		if err := rows.Scan(&t.ConversationID, &t.Seq, &role, &t.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlstore: ListTurns scan: %w", err)
		}
		if t.Role, err = domain.ParseRole(role); err != nil {
			return nil, fmt.Errorf("sqlstore: ListTurns: %w", err)
		}
		if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("sqlstore: ListTurns: parse created_at: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: ListTurns: %w", err)
	}
	return turns, nil
}

func (s *Store) AppendTurns(ctx context.Context, conversationID string, turns []domain.NewTurn) ([]domain.Turn, error) {
	out, err := s.append(ctx, conversationID, turns, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: AppendTurns: %w", err)
	}
	return out, nil
}

// CommitFollowUp stores the assistant turn and the intake state together,
// provided the conversation still has loadedTurnCount turns. Otherwise it
// returns repository.ErrConflict and writes nothing.
func (s *Store) CommitFollowUp(ctx context.Context, conversationID string, loadedTurnCount int, state domain.IntakeState, turn domain.NewTurn) (domain.Turn, error) {
	out, err := s.append(ctx, conversationID, []domain.NewTurn{turn}, &followUpCommit{state: state, turnCount: loadedTurnCount})
	if err != nil {
		return domain.Turn{}, fmt.Errorf("sqlstore: CommitFollowUp: %w", err)
	}
	return out[0], nil
}

type followUpCommit struct {
	state     domain.IntakeState
	turnCount int
}

func (s *Store) append(ctx context.Context, conversationID string, turns []domain.NewTurn, commit *followUpCommit) (_ []domain.Turn, err error) {
	if len(turns) == 0 {
		return nil, errors.New("no turns to append")
	}
	var stateJSON string
	if commit != nil {
		if stateJSON, err = domain.EncodeIntakeState(commit.state); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var count int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT turn_count FROM conversations WHERE id = ?`), conversationID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read turn count: %w", err)
	}
	if commit != nil && count != commit.turnCount {
		err = fmt.Errorf("%w: turn count is %d, follow-up was computed at %d", repository.ErrConflict, count, commit.turnCount)
		return nil, err
	}

	now := s.now().UTC()
	insert := s.rebind(`INSERT INTO turns (conversation_id, seq, role, text, created_at) VALUES (?, ?, ?, ?, ?)`)
	written := make([]domain.Turn, 0, len(turns))
	for i, nt := range turns {
		t := domain.Turn{
			ConversationID: conversationID,
			Seq:            count + i + 1,
			Role:           nt.Role,
			Text:           nt.Text,
			CreatedAt:      now,
		}
		if _, err = tx.ExecContext(ctx, insert, t.ConversationID, t.Seq, string(t.Role), t.Text, formatTime(now)); err != nil {
			return nil, fmt.Errorf("insert turn %d: %w", t.Seq, err)
		}
		written = append(written, t)
	}

	update := `UPDATE conversations SET turn_count = ?, updated_at = ?`
	args := []any{count + len(turns), formatTime(now)}
	if commit != nil {
		update += `, intake_state = ?`
		args = append(args, stateJSON)
	}
	update += ` WHERE id = ? AND turn_count = ?`
	args = append(args, conversationID, count)

	res, err := tx.ExecContext(ctx, s.rebind(update), args...)
	if err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	if n, raErr := res.RowsAffected(); raErr == nil && n != 1 {
		err = repository.ErrConflict
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}
