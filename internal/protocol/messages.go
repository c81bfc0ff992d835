package protocol

import "time"

// RecordingState announces a recorder state transition on the bus.
type RecordingState struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Previous  string    `json:"previous"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptionResult carries the final text for a completed session.
type TranscriptionResult struct {
	SessionID   string    `json:"session_id"`
	Text        string    `json:"text"`
	Language    string    `json:"language,omitempty"`
	Provider    string    `json:"provider"`
	DurationSec float64   `json:"duration_sec"`
	ElapsedMS   int64     `json:"elapsed_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// TranscriptionError reports a failed session.
type TranscriptionError struct {
	SessionID string    `json:"session_id"`
	Error     string    `json:"error"`
	Provider  string    `json:"provider,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DownloadProgress reports bytes received for an in-flight model download.
type DownloadProgress struct {
	ModelID   string    `json:"model_id"`
	Received  int64     `json:"received"`
	Total     int64     `json:"total"`
	Percent   float64   `json:"percent"`
	Timestamp time.Time `json:"timestamp"`
}

// DownloadDone reports a finished download, successful or not.
type DownloadDone struct {
	ModelID   string    `json:"model_id"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Path      string    `json:"path,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectRecordingState   = "recording.state"
	SubjectTranscriptResult = "transcription.result"
	SubjectTranscriptError  = "transcription.error"
	SubjectDownloadProgress = "model.download.progress"
	SubjectDownloadDone     = "model.download.done"
)
