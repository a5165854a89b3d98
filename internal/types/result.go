package types

import (
	"encoding/json"
	"strconv"
	"strings"

	"biograph/internal/classify"
)

// ConfidenceUnknown is shown when the service sends no confidence.
const ConfidenceUnknown = "N/A"

// Confidence is a display string. The service sends it either as a number
// or as a string.
type Confidence string

func (c *Confidence) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		*c = ConfidenceUnknown
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			s = ConfidenceUnknown
		}
		*c = Confidence(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if f, err := n.Float64(); err == nil {
		*c = Confidence(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
	*c = Confidence(n.String())
	return nil
}

// OrUnknown returns c, or "N/A" when c is empty.
func (c Confidence) OrUnknown() Confidence {
	if c == "" {
		return ConfidenceUnknown
	}
	return c
}

// Candidate is an unclassified molecule as reported by the analysis service.
type Candidate struct {
	Name        string             `json:"name"`
	Smiles      string             `json:"smiles"`
	Score       float64            `json:"score"`
	Confidence  Confidence         `json:"confidence,omitempty"`
	Admet       map[string]float64 `json:"admet,omitempty"`
	ActiveSites json.RawMessage    `json:"active_sites,omitempty"`
	Explanation json.RawMessage    `json:"ai_explanation,omitempty"`
}

// ScanResult is a finalized single-molecule result. Status and Color are
// derived by Finalize and never set by callers.
type ScanResult struct {
	Candidate
	TargetID string         `json:"target_id,omitempty"`
	Status   classify.Label `json:"status"`
	Color    string         `json:"color"`
}

// Active reports whether the result was classified Active.
func (r ScanResult) Active() bool { return r.Status == classify.Active }

// Finalize classifies c against threshold and freezes it into a ScanResult.
func Finalize(c Candidate, targetID string, threshold float64) ScanResult {
	cls := classify.Classify(c.Score, threshold)
	out := ScanResult{
		Candidate: c.Clone(),
		TargetID:  targetID,
		Status:    cls.Label,
		Color:     cls.Accent,
	}
	out.Confidence = out.Confidence.OrUnknown()
	return out
}

// Clone returns a deep copy of c.
func (c Candidate) Clone() Candidate {
	out := c
	if c.Admet != nil {
		out.Admet = make(map[string]float64, len(c.Admet))
		for k, v := range c.Admet {
			out.Admet[k] = v
		}
	}
	out.ActiveSites = cloneRaw(c.ActiveSites)
	out.Explanation = cloneRaw(c.Explanation)
	return out
}

// Clone returns a deep copy of r.
func (r ScanResult) Clone() ScanResult {
	out := r
	out.Candidate = r.Candidate.Clone()
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// BatchEntry is one row of a multi-candidate scan.
type BatchEntry = Candidate

// Batch is the ordered candidate list of an auto or upload scan.
type Batch struct {
	Entries  []BatchEntry `json:"results"`
	ScanTime float64      `json:"scan_time,omitempty"`
}

// Clone returns a deep copy of b.
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	out := &Batch{ScanTime: b.ScanTime, Entries: make([]BatchEntry, len(b.Entries))}
	for i, e := range b.Entries {
		out.Entries[i] = e.Clone()
	}
	return out
}

// BatchRow is a batch entry classified for display.
type BatchRow struct {
	Index      int            `json:"index"`
	Name       string         `json:"name"`
	Smiles     string         `json:"smiles"`
	Score      float64        `json:"score"`
	Confidence Confidence     `json:"confidence"`
	Status     classify.Label `json:"status"`
	Color      string         `json:"color"`
}

// BatchView classifies each entry with threshold. Rows are derived per call
// and never stored.
func BatchView(entries []BatchEntry, threshold float64) []BatchRow {
	rows := make([]BatchRow, 0, len(entries))
	for i, e := range entries {
		cls := classify.Classify(e.Score, threshold)
		rows = append(rows, BatchRow{
			Index:      i,
			Name:       e.Name,
			Smiles:     e.Smiles,
			Score:      e.Score,
			Confidence: e.Confidence.OrUnknown(),
			Status:     cls.Label,
			Color:      cls.Accent,
		})
	}
	return rows
}
