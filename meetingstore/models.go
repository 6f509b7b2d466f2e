package meetingstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meetscribe/meetscribe/schemas"
)

// Meeting is the relational record behind one uploaded recording. It is the
// single source of truth for the status machine; the API polls it for
// progress while the pipeline advances it.
type Meeting struct {
	ID                 uuid.UUID             `gorm:"type:uuid;primaryKey" json:"id"`
	UserID             *uuid.UUID            `gorm:"type:uuid;index" json:"user_id,omitempty"`
	Title              string                `gorm:"type:varchar(255);not null" json:"title"`
	Description        *string               `gorm:"type:text" json:"description,omitempty"`
	AudioURL           *string               `gorm:"type:text" json:"audio_url,omitempty"`
	Duration           *float64              `json:"duration,omitempty"`
	Status             schemas.MeetingStatus `gorm:"type:meeting_status;not null;default:processing;index" json:"status"`
	TranscribeText     *string               `gorm:"type:text" json:"transcribe_text,omitempty"`
	TranscribeSegments []schemas.Segment     `gorm:"type:text;serializer:json" json:"transcribe_segments"`
	Summarize          *string               `gorm:"type:text" json:"summarize,omitempty"`
	KeyNotes           []schemas.KeyNote     `gorm:"type:text;serializer:json" json:"key_notes"`
	ErrorMessage       *string               `gorm:"type:text" json:"error_message,omitempty"`
	TranscribeTotal    int                   `gorm:"not null;default:0" json:"transcribe_total"`
	TranscribeDone     int                   `gorm:"not null;default:0" json:"transcribe_done"`
	SummarizeTotal     int                   `gorm:"not null;default:0" json:"summarize_total"`
	SummarizeDone      int                   `gorm:"not null;default:0" json:"summarize_done"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`

	Tasks []Task `gorm:"foreignKey:MeetingID;constraint:OnDelete:CASCADE" json:"tasks,omitempty"`
}

// TableName sets the table name for meetings.
func (Meeting) TableName() string {
	return "meetings"
}

// BeforeCreate assigns an id when the caller did not.
func (m *Meeting) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// Transcript returns the transcript text or an empty string.
func (m *Meeting) Transcript() string {
	if m.TranscribeText == nil {
		return ""
	}
	return *m.TranscribeText
}

// Task is one extracted action item. Rows are deleted with their meeting.
type Task struct {
	ID          uuid.UUID            `gorm:"type:uuid;primaryKey" json:"id"`
	MeetingID   uuid.UUID            `gorm:"type:uuid;not null;index" json:"meeting_id"`
	Title       string               `gorm:"type:varchar(255);not null" json:"title"`
	Description *string              `gorm:"type:text" json:"description,omitempty"`
	Assignee    *string              `gorm:"type:varchar(255)" json:"assignee,omitempty"`
	DueDate     *time.Time           `json:"due_date,omitempty"`
	Priority    schemas.TaskPriority `gorm:"type:varchar(16);not null;default:medium" json:"priority"`
	Status      schemas.TaskStatus   `gorm:"type:varchar(16);not null;default:pending" json:"status"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// TableName sets the table name for tasks.
func (Task) TableName() string {
	return "tasks"
}

// BeforeCreate assigns an id when the caller did not.
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
