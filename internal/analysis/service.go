// Package analysis is the client side of the remote inference service.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"biograph/internal/types"
)

// Service is the remote collaborator behind a scan. Every failure is
// returned as a ServiceError, TransportError or AssistantError.
type Service interface {
	SubmitScan(ctx context.Context, req types.ScanRequest) (Response, error)
	PollProgress(ctx context.Context) (Progress, error)
	AskAssistant(ctx context.Context, question string, rc ResultContext) (Answer, error)
}

// Response holds exactly one of Single or Batch.
type Response struct {
	Single *types.Candidate
	Batch  *types.Batch
}

func (r Response) IsBatch() bool { return r.Batch != nil }

type Progress struct {
	Percent float64 `json:"progress"`
	Status  string  `json:"status,omitempty"`
	Current int     `json:"current,omitempty"`
	Total   int     `json:"total,omitempty"`
}

// ResultContext is what the assistant sees about the displayed result.
type ResultContext struct {
	Name        string             `json:"name"`
	Smiles      string             `json:"smiles"`
	Score       float64            `json:"score"`
	Admet       map[string]float64 `json:"admet,omitempty"`
	ActiveSites json.RawMessage    `json:"active_sites,omitempty"`
}

func ContextFor(r types.ScanResult) ResultContext {
	c := r.Candidate.Clone()
	return ResultContext{
		Name:        c.Name,
		Smiles:      c.Smiles,
		Score:       c.Score,
		Admet:       c.Admet,
		ActiveSites: c.ActiveSites,
	}
}

type Answer struct {
	Text string `json:"answer"`
}

// decodeScan maps a scan response body onto Response. A non-empty "error"
// member becomes a ServiceError, a "results" member a batch.
func decodeScan(op string, body []byte) (Response, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Response{}, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if raw, ok := envelope["error"]; ok && !falsy(raw) {
		return Response{}, &ServiceError{Message: errorText(raw)}
	}
	if raw, ok := envelope["results"]; ok && string(raw) != "null" {
		var b types.Batch
		if err := json.Unmarshal(body, &b); err != nil {
			return Response{}, &TransportError{Op: op, Err: fmt.Errorf("decode batch: %w", err)}
		}
		if b.Entries == nil {
			b.Entries = []types.BatchEntry{}
		}
		return Response{Batch: &b}, nil
	}
	var c types.Candidate
	if err := json.Unmarshal(body, &c); err != nil {
		return Response{}, &TransportError{Op: op, Err: fmt.Errorf("decode result: %w", err)}
	}
	return Response{Single: &c}, nil
}

// falsy reports an "error" member that carries no error: null, false, 0 or
// a blank string.
func falsy(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "false", "0":
		return true
	}
	var s string
	return json.Unmarshal(raw, &s) == nil && strings.TrimSpace(s) == ""
}

func errorText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

func decodeProgress(body []byte) (Progress, error) {
	var p Progress
	if err := json.Unmarshal(body, &p); err != nil {
		return Progress{}, err
	}
	if p.Percent == 0 && p.Total > 0 {
		p.Percent = float64(p.Current) * 100 / float64(p.Total)
	}
	if p.Percent < 0 {
		p.Percent = 0
	}
	if p.Percent > 100 {
		p.Percent = 100
	}
	return p, nil
}

var errEmptyQuestion = errors.New("question is empty")
