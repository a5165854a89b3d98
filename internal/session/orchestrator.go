// Package session drives one interactive analysis session: scans, progress
// polling, batch selection, history loads and the result conversation.
//
// Every transition that changes the result on screen starts a new epoch.
// Work started in an older epoch (scan settlements, poll ticks, assistant
// answers) is discarded when it comes back.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"biograph/internal/analysis"
	"biograph/internal/conversation"
	"biograph/internal/events"
	"biograph/internal/history"
	"biograph/internal/logging"
	"biograph/internal/settings"
	"biograph/internal/types"
)

const DefaultPollInterval = 500 * time.Millisecond

var ErrClosed = errors.New("session: closed")

type Options struct {
	Service      analysis.Service
	Settings     settings.Reader
	History      *history.Cache
	Log          *zap.Logger
	PollInterval time.Duration
}

type Orchestrator struct {
	svc          analysis.Service
	settings     settings.Reader
	history      *history.Cache
	convo        *conversation.Log
	log          *zap.Logger
	pollInterval time.Duration
	events       *events.Broker[Event]

	wg sync.WaitGroup

	mu           sync.Mutex
	closed       bool
	epoch        uint64
	cancel       context.CancelFunc
	mode         types.Mode
	targetID     string
	smiles       string
	file         *types.Upload
	phase        Phase
	polling      bool
	progress     float64
	result       *types.ScanResult
	batch        *types.Batch
	candidates   []types.BatchEntry
	selectedName string
	lastErr      error
	asking       bool
	askSeq       uint64
}

func New(opts Options) *Orchestrator {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	reader := opts.Settings
	if reader == nil {
		reader = settings.Static(settings.Defaults())
	}
	return &Orchestrator{
		svc:          opts.Service,
		settings:     reader,
		history:      opts.History,
		convo:        conversation.New(),
		log:          logging.OrNop(opts.Log).Named("session"),
		pollInterval: interval,
		events:       events.NewBroker[Event](),
		mode:         types.ModeManual,
		phase:        PhaseIdle,
	}
}

// Subscribe returns state and notice events. The cancel func must be called
// when the subscriber goes away.
func (o *Orchestrator) Subscribe(size int) (<-chan Event, func()) {
	return o.events.Subscribe(size)
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() State {
	st := State{
		Mode:         o.mode,
		TargetID:     o.targetID,
		SmilesInput:  o.smiles,
		Phase:        o.phase,
		Polling:      o.polling,
		Progress:     o.progress,
		Batch:        o.batch.Clone(),
		SelectedName: o.selectedName,
		Conversation: o.convo.Turns(),
		Epoch:        o.epoch,
	}
	if o.file != nil {
		st.SelectedFile = o.file.Name
	}
	if o.result != nil {
		r := o.result.Clone()
		st.Result = &r
	}
	if o.lastErr != nil {
		st.LastError = analysis.UserMessage(o.lastErr)
	}
	return st
}

// Candidates returns the rows of the last batch scan. The list outlives
// SelectBatchItem so the presentation can keep rendering it, and is dropped
// by StartScan, ChangeMode and LoadFromHistory.
func (o *Orchestrator) Candidates() []types.BatchEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.BatchEntry, len(o.candidates))
	for i, c := range o.candidates {
		out[i] = c.Clone()
	}
	return out
}

// Threshold is the live classification threshold.
func (o *Orchestrator) Threshold() float64 {
	return o.settings.Current().Threshold
}

func (o *Orchestrator) publishStateLocked() {
	st := o.snapshotLocked()
	o.events.Publish(Event{Kind: EventState, State: &st})
}

func (o *Orchestrator) notify(level NoticeLevel, text string) {
	o.events.Publish(Event{Kind: EventNotice, Notice: &Notice{Level: level, Text: text}})
}

func (o *Orchestrator) SetTargetID(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.targetID = id
	o.publishStateLocked()
}

func (o *Orchestrator) SetSmiles(smiles string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.smiles = smiles
	o.publishStateLocked()
}

// SetFile selects the upload file. nil clears the selection.
func (o *Orchestrator) SetFile(f *types.Upload) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if f != nil {
		cp := *f
		cp.Content = append([]byte(nil), f.Content...)
		f = &cp
	}
	o.file = f
	o.publishStateLocked()
}

// newEpochLocked cancels any in-flight scan and resets the conversation.
func (o *Orchestrator) newEpochLocked() uint64 {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.epoch = uint64(o.convo.Reset())
	o.asking = false
	return o.epoch
}

// StartScan validates the current inputs and starts a scan. The returned
// channel closes once the scan's goroutines are done, whether its outcome
// was applied or discarded. ctx supplies values only; the scan runs until
// it settles, is superseded or the orchestrator closes.
func (o *Orchestrator) StartScan(ctx context.Context) (<-chan struct{}, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	req, err := types.NewScanRequest(o.mode, o.targetID, o.smiles, o.file)
	if err != nil {
		o.mu.Unlock()
		var ve *types.ValidationError
		if errors.As(err, &ve) {
			o.notify(NoticeError, ve.Message)
		}
		return nil, err
	}

	epoch := o.newEpochLocked()
	o.phase = PhaseScanning
	o.progress = 0
	o.polling = req.Mode == types.ModeAuto
	o.result = nil
	o.batch = nil
	o.candidates = nil
	o.selectedName = ""
	o.lastErr = nil

	scanCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancel = cancel
	done := make(chan struct{})
	o.wg.Add(1)
	o.publishStateLocked()
	o.mu.Unlock()

	o.log.Info("scan started",
		zap.Uint64("epoch", epoch),
		zap.String("mode", string(req.Mode)),
		zap.String("target", req.TargetID))
	go o.runScan(scanCtx, cancel, epoch, req, done)
	return done, nil
}

func (o *Orchestrator) runScan(ctx context.Context, cancel context.CancelFunc, epoch uint64, req types.ScanRequest, done chan struct{}) {
	defer o.wg.Done()
	defer close(done)
	defer cancel()

	var pollWG sync.WaitGroup
	pollCtx, stopPoll := context.WithCancel(ctx)
	if req.Mode == types.ModeAuto {
		pollWG.Add(1)
		go func() {
			defer pollWG.Done()
			o.pollLoop(pollCtx, epoch)
		}()
	}

	resp, err := o.svc.SubmitScan(ctx, req)
	stopPoll()
	pollWG.Wait()

	o.settle(epoch, req, resp, err)
}

func (o *Orchestrator) pollLoop(ctx context.Context, epoch uint64) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		p, err := o.svc.PollProgress(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.log.Warn("progress poll failed", zap.Uint64("epoch", epoch), zap.Error(err))
			continue
		}
		o.applyProgress(epoch, p.Percent)
	}
}

func (o *Orchestrator) applyProgress(epoch uint64, percent float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if epoch != o.epoch || o.phase != PhaseScanning {
		o.log.Debug("stale progress discarded", zap.Uint64("epoch", epoch))
		return
	}
	o.progress = percent
	o.publishStateLocked()
}

func (o *Orchestrator) settle(epoch uint64, req types.ScanRequest, resp analysis.Response, err error) {
	o.mu.Lock()
	if o.closed || epoch != o.epoch || o.phase != PhaseScanning {
		o.mu.Unlock()
		o.log.Debug("stale scan result discarded", zap.Uint64("epoch", epoch))
		return
	}
	o.cancel = nil
	o.progress = 100
	o.polling = false

	if err == nil && resp.Single == nil && resp.Batch == nil {
		err = &analysis.TransportError{Op: "analyze", Err: errors.New("empty response")}
	}
	if err != nil {
		o.phase = PhaseFailed
		o.lastErr = err
		o.publishStateLocked()
		o.mu.Unlock()
		o.log.Warn("scan failed", zap.Uint64("epoch", epoch), zap.Error(err))
		o.notify(NoticeError, analysis.UserMessage(err))
		return
	}

	var notice string
	if resp.Batch != nil {
		o.batch = resp.Batch.Clone()
		o.candidates = o.batch.Clone().Entries
		o.phase = PhaseCompleteBatch
		notice = fmt.Sprintf("Found %d candidates", len(o.batch.Entries))
	} else {
		r := types.Finalize(*resp.Single, req.TargetID, o.settings.Current().Threshold)
		o.recordLocked(r)
		o.result = &r
		o.phase = PhaseCompleteSingle
		notice = "Analysis Complete"
	}
	o.publishStateLocked()
	o.mu.Unlock()

	o.log.Info("scan complete", zap.Uint64("epoch", epoch), zap.String("notice", notice))
	o.notify(NoticeSuccess, notice)
}

func (o *Orchestrator) recordLocked(r types.ScanResult) {
	if o.history == nil {
		return
	}
	o.history.Append(context.Background(), r)
}

// SelectBatchItem finalizes one candidate of the displayed batch (or
// replaces the displayed result) and records it in history.
func (o *Orchestrator) SelectBatchItem(entry types.BatchEntry) (types.ScanResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return types.ScanResult{}, ErrClosed
	}
	if o.phase == PhaseScanning || (o.batch == nil && o.result == nil && len(o.candidates) == 0) {
		return types.ScanResult{}, &types.ValidationError{Field: "entry", Message: "No candidates to select"}
	}

	o.newEpochLocked()
	c := entry.Clone()
	if strings.TrimSpace(c.Smiles) == "" {
		c.Smiles = o.smiles
	} else {
		o.smiles = c.Smiles
	}
	r := types.Finalize(c, strings.TrimSpace(o.targetID), o.settings.Current().Threshold)
	o.recordLocked(r)
	o.result = &r
	o.batch = nil
	o.selectedName = c.Name
	o.phase = PhaseCompleteSingle
	o.lastErr = nil
	o.publishStateLocked()
	return r.Clone(), nil
}

// LoadFromHistory displays a stored entry as-is. It is not reclassified and
// not appended again.
func (o *Orchestrator) LoadFromHistory(entry history.Entry) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.newEpochLocked()
	r := entry.ScanResult.Clone()
	o.result = &r
	o.batch = nil
	o.candidates = nil
	o.selectedName = ""
	o.phase = PhaseCompleteSingle
	o.polling = false
	o.lastErr = nil
	o.publishStateLocked()
	o.mu.Unlock()

	o.notify(NoticeSuccess, "History Loaded: "+entry.Name)
	return nil
}

// ChangeMode switches the analysis mode and clears whatever is displayed.
// Inputs are kept.
func (o *Orchestrator) ChangeMode(mode types.Mode) error {
	if !mode.Valid() {
		return &types.ValidationError{Field: "mode", Message: "Unknown analysis mode!"}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	o.newEpochLocked()
	o.mode = mode
	o.phase = PhaseIdle
	o.progress = 0
	o.polling = false
	o.result = nil
	o.batch = nil
	o.candidates = nil
	o.selectedName = ""
	o.lastErr = nil
	o.publishStateLocked()
	return nil
}

// Ask records question and one assistant turn about the displayed result.
// An assistant failure becomes the fallback turn, not an error. The answer
// is dropped if the displayed result changed while waiting. Only one
// question is outstanding per epoch.
func (o *Orchestrator) Ask(ctx context.Context, question string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return &types.ValidationError{Field: "question", Message: "Enter a question!"}
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.result == nil {
		o.mu.Unlock()
		return &types.ValidationError{Field: "question", Message: "No result to discuss"}
	}
	if o.asking {
		o.mu.Unlock()
		return &types.ValidationError{Field: "question", Message: "Wait for the current answer"}
	}
	o.asking = true
	o.askSeq++
	token := o.askSeq
	rc := analysis.ContextFor(*o.result)
	epoch := o.convo.AppendUser(question)
	o.publishStateLocked()
	o.mu.Unlock()

	ans, err := o.svc.AskAssistant(ctx, question, rc)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.askSeq == token {
		o.asking = false
	}
	var appended bool
	if err != nil {
		o.log.Warn("assistant query failed", zap.Uint64("epoch", uint64(epoch)), zap.Error(err))
		appended = o.convo.AppendAssistantError(epoch, conversation.FallbackError)
	} else {
		appended = o.convo.AppendAssistant(epoch, ans.Text)
	}
	if !appended {
		o.log.Debug("stale assistant answer discarded", zap.Uint64("epoch", uint64(epoch)))
		return nil
	}
	o.publishStateLocked()
	return nil
}

// ClearHistory removes every stored history entry. The displayed result and
// conversation are left alone.
func (o *Orchestrator) ClearHistory(ctx context.Context) error {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if o.history == nil {
		return nil
	}
	o.history.ClearAll(ctx)
	o.log.Info("history cleared")
	return nil
}

// Close cancels any running scan, waits for its goroutines and closes all
// subscriptions.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.mu.Unlock()
	o.wg.Wait()
	o.events.Close()
}
