package session

import (
	"biograph/internal/conversation"
	"biograph/internal/types"
)

type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseScanning       Phase = "scanning"
	PhaseCompleteSingle Phase = "complete_single"
	PhaseCompleteBatch  Phase = "complete_batch"
	PhaseFailed         Phase = "failed"
)

// State is a read-only snapshot of the session. At most one of Result and
// Batch is set, and neither while idle, scanning or failed.
type State struct {
	Mode         types.Mode          `json:"mode"`
	TargetID     string              `json:"targetId"`
	SmilesInput  string              `json:"smilesInput"`
	SelectedFile string              `json:"selectedFile,omitempty"`
	Phase        Phase               `json:"phase"`
	Polling      bool                `json:"polling"`
	Progress     float64             `json:"progress"`
	Result       *types.ScanResult   `json:"currentResult,omitempty"`
	Batch        *types.Batch        `json:"currentBatch,omitempty"`
	SelectedName string              `json:"selectedName,omitempty"`
	Conversation []conversation.Turn `json:"conversation"`
	LastError    string              `json:"lastError,omitempty"`
	Epoch        uint64              `json:"epoch"`
}

type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a one-shot user-facing message.
type Notice struct {
	Level NoticeLevel `json:"level"`
	Text  string      `json:"text"`
}

type EventKind string

const (
	EventState  EventKind = "state"
	EventNotice EventKind = "notice"
)

type Event struct {
	Kind   EventKind `json:"kind"`
	State  *State    `json:"state,omitempty"`
	Notice *Notice   `json:"notice,omitempty"`
}
