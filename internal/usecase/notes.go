package usecase

import (
	"context"
	"errors"
	"strings"

	"intake-agent/internal/domain"
	"intake-agent/internal/notes"
)

type NoteGenerator interface {
	Generate(conv domain.Conversation, turns []domain.Turn, title string) notes.Note
}

type NoteStorage interface {
	Save(filename, content string) (notes.SaveResult, error)
}

// NoteService builds clinical notes from stored conversations and writes
// them to local storage.
type NoteService struct {
	store     ConversationStore
	generator NoteGenerator
	storage   NoteStorage
}

func NewNoteService(store ConversationStore, generator NoteGenerator, storage NoteStorage) (*NoteService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if generator == nil {
		return nil, errors.New("usecase: note generator must not be nil")
	}
	if storage == nil {
		return nil, errors.New("usecase: note storage must not be nil")
	}
	return &NoteService{store: store, generator: generator, storage: storage}, nil
}

func (s *NoteService) Generate(ctx context.Context, conversationID, title string) (notes.Note, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return notes.Note{}, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return notes.Note{}, storeError("load_conversation_error", err)
	}
	turns, err := s.store.ListTurns(ctx, conversationID)
	if err != nil {
		return notes.Note{}, storeError("load_turns_error", err)
	}
	return s.generator.Generate(conv, turns, title), nil
}

func (s *NoteService) Save(filename, text string) (notes.SaveResult, error) {
	if strings.TrimSpace(filename) == "" {
		return notes.SaveResult{}, newError(ErrorInvalidInput, "missing_filename", nil)
	}
	if strings.TrimSpace(text) == "" {
		return notes.SaveResult{}, newError(ErrorInvalidInput, "empty_note_text", nil)
	}
	res, err := s.storage.Save(filename, text)
	if err != nil {
		var se *notes.StorageError
		if errors.As(err, &se) {
			return notes.SaveResult{}, newError(ErrorInvalidInput, "local_save_error", err)
		}
		return notes.SaveResult{}, newError(ErrorInternal, "local_save_error", err)
	}
	return res, nil
}

// GenerateAndSave generates the note for a conversation and writes it.
func (s *NoteService) GenerateAndSave(ctx context.Context, conversationID, title, filename string) (notes.Note, notes.SaveResult, error) {
	if strings.TrimSpace(filename) == "" {
		return notes.Note{}, notes.SaveResult{}, newError(ErrorInvalidInput, "missing_filename", nil)
	}
	note, err := s.Generate(ctx, conversationID, title)
	if err != nil {
		return notes.Note{}, notes.SaveResult{}, err
	}
	res, err := s.Save(filename, note.Text)
	if err != nil {
		return note, notes.SaveResult{}, err
	}
	return note, res, nil
}
