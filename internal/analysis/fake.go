package analysis

import (
	"context"
	"errors"
	"sync"

	"biograph/internal/types"
)

// ScanStep scripts one SubmitScan call on a Fake.
type ScanStep struct {
	Response Response
	Err      error
	// Release, when set, holds the call until it is closed.
	Release <-chan struct{}
	// IgnoreCancel keeps the call waiting on Release even after its context
	// is cancelled, so the settlement arrives late.
	IgnoreCancel bool
}

// Fake is a scripted Service. Scan steps are consumed in order.
type Fake struct {
	mu        sync.Mutex
	steps     []ScanStep
	submitted []types.ScanRequest
	questions []string
	polls     int

	ProgressFunc func(ctx context.Context, n int) (Progress, error)
	AnswerFunc   func(ctx context.Context, question string, rc ResultContext) (Answer, error)
}

func NewFake(steps ...ScanStep) *Fake {
	return &Fake{steps: steps}
}

func (f *Fake) Queue(steps ...ScanStep) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, steps...)
}

// SingleResult scripts a single-molecule response.
func SingleResult(c types.Candidate) ScanStep {
	return ScanStep{Response: Response{Single: &c}}
}

// BatchResult scripts a batch response.
func BatchResult(entries ...types.BatchEntry) ScanStep {
	return ScanStep{Response: Response{Batch: &types.Batch{Entries: entries}}}
}

func (f *Fake) SubmitScan(ctx context.Context, req types.ScanRequest) (Response, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, req)
	if len(f.steps) == 0 {
		f.mu.Unlock()
		return Response{}, &TransportError{Op: "analyze", Err: errors.New("no scripted response")}
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	f.mu.Unlock()

	if step.Release != nil {
		if step.IgnoreCancel {
			<-step.Release
		} else {
			select {
			case <-step.Release:
			case <-ctx.Done():
				return Response{}, &TransportError{Op: "analyze", Err: ctx.Err()}
			}
		}
	}
	if step.Err != nil {
		return Response{}, step.Err
	}
	return step.Response, nil
}

func (f *Fake) PollProgress(ctx context.Context) (Progress, error) {
	f.mu.Lock()
	f.polls++
	n := f.polls
	fn := f.ProgressFunc
	f.mu.Unlock()
	if fn == nil {
		return Progress{}, nil
	}
	return fn(ctx, n)
}

func (f *Fake) AskAssistant(ctx context.Context, question string, rc ResultContext) (Answer, error) {
	f.mu.Lock()
	f.questions = append(f.questions, question)
	fn := f.AnswerFunc
	f.mu.Unlock()
	if fn == nil {
		return Answer{}, &AssistantError{Err: errors.New("no scripted answer")}
	}
	return fn(ctx, question, rc)
}

func (f *Fake) Submitted() []types.ScanRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.ScanRequest(nil), f.submitted...)
}

func (f *Fake) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *Fake) Questions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.questions...)
}
