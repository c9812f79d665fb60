package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ExportJob represents one clip export
type ExportJob struct {
	ID                string           `json:"id" db:"id"`
	Status            string           `json:"status" db:"status"`
	ProgressPct       float64          `json:"progress_pct" db:"progress_pct"`
	UsedCaptionBurnIn bool             `json:"used_caption_burn_in" db:"used_caption_burn_in"`
	ErrorMsg          string           `json:"error_msg,omitempty" db:"error_msg"`
	WorkerID          string           `json:"worker_id,omitempty" db:"worker_id"`
	OutputKey         string           `json:"output_key,omitempty" db:"output_key"`
	OutputFilename    string           `json:"output_filename,omitempty" db:"output_filename"`
	Notes             Notes            `json:"notes,omitempty" db:"notes"`
	StartedAt         *time.Time       `json:"started_at,omitempty" db:"started_at"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
	Request           ExportJobRequest `json:"request" db:"request"`
}

// ExportJobRequest is everything the worker needs to render a clip.
// The source media is referenced by its object storage key.
type ExportJobRequest struct {
	SourceKey        string          `json:"source_key"`
	SourceFilename   string          `json:"source_filename"`
	Clip             ClipWindow      `json:"clip"`
	Plan             ExportPlan      `json:"plan"`
	SubtitleChunks   []SubtitleChunk `json:"subtitle_chunks,omitempty"`
	Editor           EditorState     `json:"editor"`
	SourceVideoSize  *Size           `json:"source_video_size,omitempty"`
	PreviewViewport  *Size           `json:"preview_viewport,omitempty"`
	PreviewVideoRect *Rect           `json:"preview_video_rect,omitempty"`
}

// Value implements driver.Valuer for database storage
func (r ExportJobRequest) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for database retrieval
func (r *ExportJobRequest) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	return json.Unmarshal(jsonBytes(value), r)
}

// Notes are free-text provenance lines attached to a finished export
type Notes []string

// Value implements driver.Valuer for database storage
func (n Notes) Value() (driver.Value, error) {
	if n == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal([]string(n))
}

// Scan implements sql.Scanner for database retrieval
func (n *Notes) Scan(value interface{}) error {
	if value == nil {
		*n = nil
		return nil
	}

	return json.Unmarshal(jsonBytes(value), (*[]string)(n))
}

func jsonBytes(value interface{}) []byte {
	switch v := value.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return []byte("null")
	}
}

// Terminal reports whether the job has finished, successfully or not
func (j *ExportJob) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

// JobStatus constants
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)
