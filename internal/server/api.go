package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"biograph/internal/history"
	"biograph/internal/logging"
	"biograph/internal/session"
	"biograph/internal/settings"
	"biograph/internal/types"
)

const maxUploadBytes = 32 << 20

// API routes HTTP requests to one session and its stores.
type API struct {
	session  *session.Orchestrator
	history  *history.Cache
	settings *settings.Provider
	log      *zap.Logger
}

func NewAPI(s *session.Orchestrator, h *history.Cache, p *settings.Provider, log *zap.Logger) *API {
	return &API{session: s, history: h, settings: p, log: logging.OrNop(log).Named("api")}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", a.handleState)
	mux.HandleFunc("PUT /api/mode", a.handleMode)
	mux.HandleFunc("PUT /api/inputs", a.handleInputs)
	mux.HandleFunc("POST /api/file", a.handleFile)
	mux.HandleFunc("DELETE /api/file", a.handleClearFile)
	mux.HandleFunc("POST /api/scan", a.handleScan)
	mux.HandleFunc("GET /api/batch", a.handleBatch)
	mux.HandleFunc("POST /api/select", a.handleSelect)
	mux.HandleFunc("GET /api/history", a.handleHistory)
	mux.HandleFunc("DELETE /api/history", a.handleClearHistory)
	mux.HandleFunc("POST /api/history/load", a.handleLoadHistory)
	mux.HandleFunc("POST /api/chat", a.handleChat)
	mux.HandleFunc("GET /api/settings", a.handleSettings)
	mux.HandleFunc("PUT /api/settings", a.handleUpdateSettings)
	mux.HandleFunc("GET /ws", a.handleWS)
	return mux
}

func (a *API) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.session.State())
}

func (a *API) handleMode(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Mode types.Mode `json:"mode"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if err := a.session.ChangeMode(in.Mode); err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.session.State())
}

func (a *API) handleInputs(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TargetID *string `json:"targetId"`
		Smiles   *string `json:"smiles"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if in.TargetID != nil {
		a.session.SetTargetID(*in.TargetID)
	}
	if in.Smiles != nil {
		a.session.SetSmiles(*in.Smiles)
	}
	writeJSON(w, http.StatusOK, a.session.State())
}

func (a *API) handleFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read file: "+err.Error())
		return
	}
	a.session.SetFile(&types.Upload{Name: hdr.Filename, Content: content})
	writeJSON(w, http.StatusOK, a.session.State())
}

func (a *API) handleClearFile(w http.ResponseWriter, _ *http.Request) {
	a.session.SetFile(nil)
	writeJSON(w, http.StatusOK, a.session.State())
}

// handleScan starts a scan. With ?wait=true the response is held until the
// scan settles or the client goes away.
func (a *API) handleScan(w http.ResponseWriter, r *http.Request) {
	done, err := a.session.StartScan(r.Context())
	if err != nil {
		a.writeErr(w, err)
		return
	}
	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, a.session.State())
		return
	}
	select {
	case <-done:
	case <-r.Context().Done():
		return
	}
	writeJSON(w, http.StatusOK, a.session.State())
}

type batchView struct {
	Threshold float64          `json:"threshold"`
	Rows      []types.BatchRow `json:"rows"`
}

func (a *API) handleBatch(w http.ResponseWriter, _ *http.Request) {
	threshold := a.session.Threshold()
	writeJSON(w, http.StatusOK, batchView{
		Threshold: threshold,
		Rows:      types.BatchView(a.session.Candidates(), threshold),
	})
}

// handleSelect accepts either an index into the last batch or a full entry.
func (a *API) handleSelect(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Index *int              `json:"index"`
		Entry *types.BatchEntry `json:"entry"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	var entry types.BatchEntry
	switch {
	case in.Entry != nil:
		entry = *in.Entry
	case in.Index != nil:
		candidates := a.session.Candidates()
		if *in.Index < 0 || *in.Index >= len(candidates) {
			writeError(w, http.StatusBadRequest, "index out of range")
			return
		}
		entry = candidates[*in.Index]
	default:
		writeError(w, http.StatusBadRequest, "index or entry is required")
		return
	}
	if _, err := a.session.SelectBatchItem(entry); err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.session.State())
}

func (a *API) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.history.Entries())
}

func (a *API) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := a.session.ClearHistory(r.Context()); err != nil {
		a.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLoadHistory(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ID string `json:"id"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	entry, ok := a.history.Find(strings.TrimSpace(in.ID))
	if !ok {
		writeError(w, http.StatusNotFound, "history entry not found")
		return
	}
	if err := a.session.LoadFromHistory(entry); err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.session.State())
}

func (a *API) handleChat(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Question string `json:"question"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if err := a.session.Ask(r.Context(), in.Question); err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.session.State().Conversation)
}

func (a *API) handleSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.settings.Current())
}

// handleUpdateSettings merges the body over the current settings.
func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	next := a.settings.Current()
	if !decodeBody(w, r, &next) {
		return
	}
	applied, err := a.settings.Update(r.Context(), next)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, applied)
}

func (a *API) writeErr(w http.ResponseWriter, err error) {
	var ve *types.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Message)
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		a.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
