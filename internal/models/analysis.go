package models

import "time"

// RunState tracks one workflow run.
type RunState string

const (
	StateIdle       RunState = "idle"
	StateUploading  RunState = "uploading"
	StateRegistered RunState = "registered"
	StateAnalyzing  RunState = "analyzing"
	StateSucceeded  RunState = "succeeded"
	StateFailed     RunState = "failed"
)

// Terminal reports whether the run has finished.
func (s RunState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// AgentReply is what the agent returns for one prompt.
type AgentReply struct {
	Content string `json:"content"`
}

// AnalysisResult is the markdown answer shown to the user.
type AnalysisResult struct {
	Content string `json:"content"`
}

// AnalysisRecord is the persisted summary of a finished run.
type AnalysisRecord struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	FileName     string    `json:"file_name"`
	Extension    string    `json:"extension"`
	Size         int64     `json:"size"`
	Query        string    `json:"query"`
	State        RunState  `json:"state"`
	Result       string    `json:"result,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	RemoteName   string    `json:"remote_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	FinishedAt   time.Time `json:"finished_at"`
}
