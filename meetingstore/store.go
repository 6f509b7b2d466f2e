// Package meetingstore persists meetings and their extracted tasks in a
// relational database and enforces the meeting status machine with guarded
// updates: a transition commits only when the row is still in one of the
// statuses the state machine allows as a source.
package meetingstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/meetscribe/meetscribe/schemas"
)

// ErrAlreadyFinalized is returned by FinalizeTranscript when the meeting has
// already moved to transcribed or beyond. The merger treats it as a no-op,
// which is what makes the merge barrier idempotent.
var ErrAlreadyFinalized = errors.New("meeting already finalized")

// Store wraps the shared gorm handle. Each call opens its own short-lived
// session via WithContext.
type Store struct {
	db     *gorm.DB
	logger schemas.Logger
}

// New connects to PostgreSQL with the given DSN.
func New(dsn string, logger schemas.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("meetingstore: open database: %w", err)
	}
	return NewWithDB(db, logger), nil
}

// NewWithDB wraps an existing gorm handle. Tests use it with sqlite.
func NewWithDB(db *gorm.DB, logger schemas.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// AutoMigrate creates the meetings and tasks tables plus the status enum on
// PostgreSQL. Production schemas are owned by migrations; this serves tests
// and the meetingctl migrate command.
func (s *Store) AutoMigrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if db.Dialector.Name() == "postgres" {
		stmt := `DO $$ BEGIN
			CREATE TYPE meeting_status AS ENUM (
				'processing', 'transcribing', 'transcribed',
				'summarizing', 'summarized', 'completed',
				'transcribe_failed', 'summarize_failed');
		EXCEPTION WHEN duplicate_object THEN NULL; END $$;`
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("meetingstore: create status enum: %w", err)
		}
	}
	if err := db.AutoMigrate(&Meeting{}, &Task{}); err != nil {
		return fmt.Errorf("meetingstore: migrate: %w", err)
	}
	return nil
}

// CreateMeeting inserts a meeting row.
func (s *Store) CreateMeeting(ctx context.Context, m *Meeting) error {
	return s.db.WithContext(ctx).Create(m).Error
}

// GetMeeting loads one meeting by id.
func (s *Store) GetMeeting(ctx context.Context, id uuid.UUID) (*Meeting, error) {
	var m Meeting
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, schemas.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// DeleteMeeting removes a meeting; its tasks cascade.
func (s *Store) DeleteMeeting(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Meeting{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return schemas.ErrNotFound
	}
	return nil
}

// transition commits a guarded status change. updates are applied in the
// same statement. When the guard matches no row, idempotentAt statuses make
// the call a silent no-op; anything else is ErrNotFound or
// ErrInvalidTransition.
func (s *Store) transition(ctx context.Context, id uuid.UUID, to schemas.MeetingStatus, updates map[string]any, idempotentAt ...schemas.MeetingStatus) error {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to

	res := s.db.WithContext(ctx).Model(&Meeting{}).
		Where("id = ? AND status IN ?", id, schemas.TransitionSources(to)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	m, err := s.GetMeeting(ctx, id)
	if err != nil {
		return err
	}
	for _, st := range idempotentAt {
		if m.Status == st {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", schemas.ErrInvalidTransition, m.Status, to)
}

// BeginTranscribing moves a meeting into transcribing. Allowed from
// processing and from transcribe_failed (administrative re-dispatch).
func (s *Store) BeginTranscribing(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, schemas.StatusTranscribing, map[string]any{
		"error_message": nil,
	})
}

// SetTranscribeTotal records the announced chunk count and resets progress.
func (s *Store) SetTranscribeTotal(ctx context.Context, id uuid.UUID, total int) error {
	res := s.db.WithContext(ctx).Model(&Meeting{}).Where("id = ?", id).
		Updates(map[string]any{"transcribe_total": total, "transcribe_done": 0})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return schemas.ErrNotFound
	}
	return nil
}

// AdvanceTranscribeDone raises the completed-chunk counter to done. The
// monotonic guard keeps racing workers from moving it backwards, preserving
// transcribe_done <= transcribe_total at every commit.
func (s *Store) AdvanceTranscribeDone(ctx context.Context, id uuid.UUID, done int) error {
	return s.db.WithContext(ctx).Model(&Meeting{}).
		Where("id = ? AND transcribe_done < ?", id, done).
		Update("transcribe_done", done).Error
}

// FinalizeTranscript persists the merged transcript and moves the meeting to
// transcribed in one guarded commit. Returns ErrAlreadyFinalized when
// another merger got there first.
func (s *Store) FinalizeTranscript(ctx context.Context, id uuid.UUID, text string, segments []schemas.Segment) error {
	if segments == nil {
		segments = []schemas.Segment{}
	}
	// JSON columns are written pre-marshaled: the serializer tag only
	// covers struct-based writes, not map updates.
	segJSON, err := schemas.MarshalString(segments)
	if err != nil {
		return fmt.Errorf("meetingstore: marshal segments: %w", err)
	}
	res := s.db.WithContext(ctx).Model(&Meeting{}).
		Where("id = ? AND status = ?", id, schemas.StatusTranscribing).
		Updates(map[string]any{
			"status":              schemas.StatusTranscribed,
			"transcribe_text":     text,
			"transcribe_segments": segJSON,
			"transcribe_done":     gorm.Expr("transcribe_total"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	m, err := s.GetMeeting(ctx, id)
	if err != nil {
		return err
	}
	switch m.Status {
	case schemas.StatusTranscribed, schemas.StatusSummarizing, schemas.StatusSummarized, schemas.StatusCompleted:
		return ErrAlreadyFinalized
	default:
		return fmt.Errorf("%w: %s -> %s", schemas.ErrInvalidTransition, m.Status, schemas.StatusTranscribed)
	}
}

// MarkTranscribeFailed moves a transcribing meeting to its terminal failed
// status with the failure message. Re-marking an already failed meeting is a
// no-op so retried tasks do not error here.
func (s *Store) MarkTranscribeFailed(ctx context.Context, id uuid.UUID, message string) error {
	return s.transition(ctx, id, schemas.StatusTranscribeFailed, map[string]any{
		"error_message": message,
	}, schemas.StatusTranscribeFailed)
}

// BeginSummarizing moves a transcribed meeting into summarizing.
func (s *Store) BeginSummarizing(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, schemas.StatusSummarizing, nil)
}

// SetSummarizeProgress records map-reduce progress for API polling.
func (s *Store) SetSummarizeProgress(ctx context.Context, id uuid.UUID, total, done int) error {
	return s.db.WithContext(ctx).Model(&Meeting{}).Where("id = ?", id).
		Updates(map[string]any{"summarize_total": total, "summarize_done": done}).Error
}

// CompleteSummary persists the summary text and moves the meeting to
// summarized.
func (s *Store) CompleteSummary(ctx context.Context, id uuid.UUID, summary string) error {
	return s.transition(ctx, id, schemas.StatusSummarized, map[string]any{
		"summarize": summary,
	})
}

// MarkSummarizeFailed moves a summarizing meeting to its terminal failed
// status with the failure message.
func (s *Store) MarkSummarizeFailed(ctx context.Context, id uuid.UUID, message string) error {
	return s.transition(ctx, id, schemas.StatusSummarizeFailed, map[string]any{
		"error_message": message,
	}, schemas.StatusSummarizeFailed)
}

// UpdateKeyNotes replaces the meeting's key-note list. The status is not
// touched: key notes land while the meeting sits at summarized.
func (s *Store) UpdateKeyNotes(ctx context.Context, id uuid.UUID, notes []schemas.KeyNote) error {
	if notes == nil {
		notes = []schemas.KeyNote{}
	}
	notesJSON, err := schemas.MarshalString(notes)
	if err != nil {
		return fmt.Errorf("meetingstore: marshal key notes: %w", err)
	}
	res := s.db.WithContext(ctx).Model(&Meeting{}).Where("id = ?", id).
		Update("key_notes", notesJSON)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return schemas.ErrNotFound
	}
	return nil
}

// CompleteMeeting moves a summarized meeting to completed once both
// downstream extractions have landed. Already-completed meetings are a
// no-op so the racing fan-in writers can both call it safely.
func (s *Store) CompleteMeeting(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, schemas.StatusCompleted, nil, schemas.StatusCompleted)
}

// CreateTasks batch-inserts extracted action items in one statement.
func (s *Store) CreateTasks(ctx context.Context, tasks []*Task) error {
	if len(tasks) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(tasks).Error
}

// ListTasks returns a meeting's tasks ordered by creation.
func (s *Store) ListTasks(ctx context.Context, meetingID uuid.UUID) ([]Task, error) {
	var tasks []Task
	if err := s.db.WithContext(ctx).
		Where("meeting_id = ?", meetingID).
		Order("created_at").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}
