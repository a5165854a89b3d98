package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"biograph/internal/analysis"
	"biograph/internal/classify"
	"biograph/internal/conversation"
	"biograph/internal/history"
	"biograph/internal/kvstore"
	"biograph/internal/settings"
	"biograph/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type liveSettings struct {
	mu sync.Mutex
	s  settings.Settings
}

func (l *liveSettings) Current() settings.Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s
}

func (l *liveSettings) setThreshold(v float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.s.Threshold = v
}

type harness struct {
	o        *Orchestrator
	fake     *analysis.Fake
	history  *history.Cache
	settings *liveSettings
	events   <-chan Event
}

func newHarness(t *testing.T, steps ...analysis.ScanStep) *harness {
	t.Helper()
	live := &liveSettings{s: settings.Defaults()}
	hist := history.New(context.Background(), kvstore.NewMemoryStore(), live, nil)
	fake := analysis.NewFake(steps...)
	o := New(Options{
		Service:      fake,
		Settings:     live,
		History:      hist,
		PollInterval: 5 * time.Millisecond,
	})
	ch, cancel := o.Subscribe(256)
	t.Cleanup(func() {
		cancel()
		o.Close()
		hist.Close()
	})
	return &harness{o: o, fake: fake, history: hist, settings: live, events: ch}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("scan did not finish")
	}
}

func (h *harness) waitNotice(t *testing.T, text string) Notice {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-h.events:
			if !ok {
				t.Fatalf("event stream closed before notice %q", text)
			}
			if ev.Kind == EventNotice && ev.Notice.Text == text {
				return *ev.Notice
			}
		case <-deadline:
			t.Fatalf("notice %q not published", text)
		}
	}
}

func (h *harness) manualScan(t *testing.T, target, smiles string) <-chan struct{} {
	t.Helper()
	h.o.SetTargetID(target)
	h.o.SetSmiles(smiles)
	done, err := h.o.StartScan(context.Background())
	require.NoError(t, err)
	return done
}

func TestScenarioActiveResult(t *testing.T) {
	h := newHarness(t, analysis.SingleResult(types.Candidate{Name: "Ethanol", Smiles: "CCO", Score: 8.2}))
	waitDone(t, h.manualScan(t, "6LU7", "CCO"))

	st := h.o.State()
	require.NotNil(t, st.Result)
	assert.Equal(t, PhaseCompleteSingle, st.Phase)
	assert.Equal(t, classify.Active, st.Result.Status)
	assert.Equal(t, classify.AccentActive, st.Result.Color)
	assert.Equal(t, "6LU7", st.Result.TargetID)
	assert.Equal(t, types.Confidence("N/A"), st.Result.Confidence)
	assert.Nil(t, st.Batch)
	assert.Equal(t, 100.0, st.Progress)
	assert.Empty(t, st.Conversation)
	require.Len(t, h.history.Entries(), 1)
	h.waitNotice(t, "Analysis Complete")

	sub := h.fake.Submitted()
	require.Len(t, sub, 1)
	assert.Equal(t, types.ScanRequest{Mode: types.ModeManual, TargetID: "6LU7", Smiles: "CCO"}, sub[0])
}

func TestScenarioInactiveResult(t *testing.T) {
	h := newHarness(t, analysis.SingleResult(types.Candidate{Name: "Ethanol", Smiles: "CCO", Score: 5.0}))
	waitDone(t, h.manualScan(t, "6LU7", "CCO"))

	st := h.o.State()
	require.NotNil(t, st.Result)
	assert.Equal(t, classify.Inactive, st.Result.Status)
	entries := h.history.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, classify.AccentInactive, entries[0].Color)
}

// Only the second of two overlapping scans may ever be observed.
func TestScenarioSupersededScanIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	first := analysis.SingleResult(types.Candidate{Name: "Mol-9", Smiles: "C9", Score: 9.0})
	first.Release = release
	first.IgnoreCancel = true
	second := analysis.SingleResult(types.Candidate{Name: "Mol-3", Smiles: "C3", Score: 3.0})
	h := newHarness(t, first, second)

	done1 := h.manualScan(t, "6LU7", "CCO")
	require.Eventually(t, func() bool { return len(h.fake.Submitted()) == 1 }, time.Second, time.Millisecond)
	done2, err := h.o.StartScan(context.Background())
	require.NoError(t, err)
	waitDone(t, done2)

	close(release)
	waitDone(t, done1)

	st := h.o.State()
	require.NotNil(t, st.Result)
	assert.Equal(t, 3.0, st.Result.Score)
	entries := h.history.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "Mol-3", entries[0].Name)
}

func TestSupersessionStopsPolling(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	blocked := analysis.SingleResult(types.Candidate{Name: "A", Smiles: "C", Score: 8})
	blocked.Release = release
	h := newHarness(t, blocked, analysis.SingleResult(types.Candidate{Name: "B", Smiles: "CC", Score: 8}))
	h.fake.ProgressFunc = func(context.Context, int) (analysis.Progress, error) {
		return analysis.Progress{Percent: 10}, nil
	}

	require.NoError(t, h.o.ChangeMode(types.ModeAuto))
	h.o.SetTargetID("6LU7")
	done1, err := h.o.StartScan(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.fake.Polls() > 0 }, time.Second, time.Millisecond)

	require.NoError(t, h.o.ChangeMode(types.ModeManual))
	h.o.SetSmiles("CC")
	done2, err := h.o.StartScan(context.Background())
	require.NoError(t, err)

	waitDone(t, done1)
	waitDone(t, done2)
	polls := h.fake.Polls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, polls, h.fake.Polls())
	assert.Equal(t, "B", h.o.State().Result.Name)
}

func TestStartScanValidation(t *testing.T) {
	tests := []struct {
		name   string
		mode   types.Mode
		target string
		smiles string
		want   string
	}{
		{"missing target", types.ModeManual, "  ", "CCO", "Enter Target Protein ID!"},
		{"missing smiles", types.ModeManual, "6LU7", "", "Enter SMILES!"},
		{"missing file", types.ModeUpload, "6LU7", "", "Select a file!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, h.o.ChangeMode(tt.mode))
			h.o.SetTargetID(tt.target)
			h.o.SetSmiles(tt.smiles)
			before := h.o.State()

			done, err := h.o.StartScan(context.Background())
			assert.Nil(t, done)
			var ve *types.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.want, ve.Message)
			assert.Equal(t, before, h.o.State())
			assert.Empty(t, h.fake.Submitted())
			h.waitNotice(t, tt.want)
		})
	}
}

func TestScanFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"service error", &analysis.ServiceError{Message: "Invalid Target ID 'XYZ'"}, "Invalid Target ID 'XYZ'"},
		{"transport error", &analysis.TransportError{Op: "analyze", Err: errors.New("connection refused")}, "Server Error or Network Issue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, analysis.ScanStep{Err: tt.err})
			waitDone(t, h.manualScan(t, "XYZ", "CCO"))

			st := h.o.State()
			assert.Equal(t, PhaseFailed, st.Phase)
			assert.Equal(t, tt.want, st.LastError)
			assert.Nil(t, st.Result)
			assert.Nil(t, st.Batch)
			assert.Equal(t, 100.0, st.Progress)
			assert.Empty(t, h.history.Entries())
			h.waitNotice(t, tt.want)
		})
	}
}

func TestBatchScanAndSelection(t *testing.T) {
	h := newHarness(t, analysis.BatchResult(
		types.BatchEntry{Name: "Alpha", Smiles: "CCN", Score: 9.1},
		types.BatchEntry{Name: "Beta", Score: 6.0},
	))
	require.NoError(t, h.o.ChangeMode(types.ModeAuto))
	h.o.SetTargetID("6LU7")
	h.o.SetSmiles("CCO")
	done, err := h.o.StartScan(context.Background())
	require.NoError(t, err)
	waitDone(t, done)

	st := h.o.State()
	assert.Equal(t, PhaseCompleteBatch, st.Phase)
	require.NotNil(t, st.Batch)
	assert.Nil(t, st.Result)
	assert.Len(t, st.Batch.Entries, 2)
	assert.Empty(t, h.history.Entries())
	h.waitNotice(t, "Found 2 candidates")

	r, err := h.o.SelectBatchItem(st.Batch.Entries[0])
	require.NoError(t, err)
	assert.Equal(t, classify.Active, r.Status)
	st = h.o.State()
	assert.Equal(t, PhaseCompleteSingle, st.Phase)
	assert.Nil(t, st.Batch)
	assert.Equal(t, "Alpha", st.SelectedName)
	assert.Equal(t, "CCN", st.SmilesInput)
	assert.Len(t, h.o.Candidates(), 2)

	r, err = h.o.SelectBatchItem(h.o.Candidates()[1])
	require.NoError(t, err)
	assert.Equal(t, "CCN", r.Smiles, "entry without smiles falls back to the input")
	assert.Equal(t, classify.Inactive, r.Status)
	assert.Equal(t, []string{"Alpha"}, historyNames(h.history.Entries()), "same smiles is a duplicate")
}

func historyNames(entries []history.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestSelectBatchItemRequiresDisplay(t *testing.T) {
	h := newHarness(t)
	_, err := h.o.SelectBatchItem(types.BatchEntry{Name: "A", Score: 9})
	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Empty(t, h.history.Entries())
}

func TestThresholdReadAtSettle(t *testing.T) {
	release := make(chan struct{})
	step := analysis.SingleResult(types.Candidate{Name: "A", Smiles: "C", Score: 8.2})
	step.Release = release
	h := newHarness(t, step)

	done := h.manualScan(t, "6LU7", "CCO")
	h.settings.setThreshold(9.0)
	close(release)
	waitDone(t, done)

	assert.Equal(t, classify.Inactive, h.o.State().Result.Status)
}

func TestAutoScanPollsProgress(t *testing.T) {
	release := make(chan struct{})
	step := analysis.BatchResult(types.BatchEntry{Name: "A", Smiles: "C", Score: 8})
	step.Release = release
	h := newHarness(t, step)
	h.fake.ProgressFunc = func(_ context.Context, n int) (analysis.Progress, error) {
		return analysis.Progress{Percent: float64(n * 10)}, nil
	}
	require.NoError(t, h.o.ChangeMode(types.ModeAuto))
	h.o.SetTargetID("6LU7")
	done, err := h.o.StartScan(context.Background())
	require.NoError(t, err)
	assert.True(t, h.o.State().Polling)

	require.Eventually(t, func() bool {
		st := h.o.State()
		return st.Progress > 0 && st.Progress < 100
	}, time.Second, time.Millisecond)

	close(release)
	waitDone(t, done)
	st := h.o.State()
	assert.Equal(t, 100.0, st.Progress)
	assert.False(t, st.Polling)

	polls := h.fake.Polls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, polls, h.fake.Polls(), "poll loop kept running after settle")
}

func TestManualScanDoesNotPoll(t *testing.T) {
	h := newHarness(t, analysis.SingleResult(types.Candidate{Name: "A", Smiles: "C", Score: 8}))
	waitDone(t, h.manualScan(t, "6LU7", "CCO"))
	assert.Zero(t, h.fake.Polls())
}

func TestPollFailuresDoNotAbortScan(t *testing.T) {
	release := make(chan struct{})
	step := analysis.SingleResult(types.Candidate{Name: "A", Smiles: "C", Score: 8})
	step.Release = release
	h := newHarness(t, step)
	h.fake.ProgressFunc = func(context.Context, int) (analysis.Progress, error) {
		return analysis.Progress{}, &analysis.TransportError{Op: "progress", Err: errors.New("timeout")}
	}
	require.NoError(t, h.o.ChangeMode(types.ModeAuto))
	h.o.SetTargetID("6LU7")
	done, err := h.o.StartScan(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.fake.Polls() >= 2 }, time.Second, time.Millisecond)

	close(release)
	waitDone(t, done)
	st := h.o.State()
	assert.Equal(t, PhaseCompleteSingle, st.Phase)
	require.NotNil(t, st.Result)
}

func TestLateProgressIsDiscarded(t *testing.T) {
	h := newHarness(t, analysis.SingleResult(types.Candidate{Name: "A", Smiles: "C", Score: 8}))
	waitDone(t, h.manualScan(t, "6LU7", "CCO"))
	st := h.o.State()

	h.o.applyProgress(st.Epoch, 40)
	h.o.applyProgress(st.Epoch-1, 40)
	assert.Equal(t, 100.0, h.o.State().Progress)
}

func TestLoadFromHistoryKeepsClassification(t *testing.T) {
	h := newHarness(t, analysis.SingleResult(types.Candidate{Name: "Aspirin", Smiles: "CC(=O)O", Score: 7.5}))
	waitDone(t, h.manualScan(t, "6LU7", "CC(=O)O"))
	entry := h.history.Entries()[0]
	require.Equal(t, classify.Active, entry.Status)

	h.settings.setThreshold(9.5)
	require.NoError(t, h.o.ChangeMode(types.ModeAuto))
	require.NoError(t, h.o.LoadFromHistory(entry))

	st := h.o.State()
	require.NotNil(t, st.Result)
	assert.Equal(t, classify.Active, st.Result.Status)
	assert.Equal(t, PhaseCompleteSingle, st.Phase)
	assert.Len(t, h.history.Entries(), 1)
	h.waitNotice(t, "History Loaded: Aspirin")
}

func TestChangeModeClearsDisplayKeepsInputs(t *testing.T) {
	h := newHarness(t, analysis.SingleResult(types.Candidate{Name: "A", Smiles: "C", Score: 8}))
	h.o.SetFile(&types.Upload{Name: "mols.csv", Content: []byte("smiles\nC\n")})
	waitDone(t, h.manualScan(t, "6LU7", "CCO"))

	require.NoError(t, h.o.ChangeMode(types.ModeUpload))
	st := h.o.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Nil(t, st.Result)
	assert.Equal(t, "6LU7", st.TargetID)
	assert.Equal(t, "CCO", st.SmilesInput)
	assert.Equal(t, "mols.csv", st.SelectedFile)

	var ve *types.ValidationError
	assert.ErrorAs(t, h.o.ChangeMode("batch"), &ve)
}

func answering(text string) func(context.Context, string, analysis.ResultContext) (analysis.Answer, error) {
	return func(context.Context, string, analysis.ResultContext) (analysis.Answer, error) {
		return analysis.Answer{Text: text}, nil
	}
}

func TestAskAppendsUserAndAssistantTurns(t *testing.T) {
	h := newHarness(t, analysis.SingleResult(types.Candidate{Name: "Ethanol", Smiles: "CCO", Score: 8.2, Admet: map[string]float64{"toxicity": 0.3}}))
	var seen analysis.ResultContext
	h.fake.AnswerFunc = func(_ context.Context, _ string, rc analysis.ResultContext) (analysis.Answer, error) {
		seen = rc
		return analysis.Answer{Text: "It binds strongly."}, nil
	}
	waitDone(t, h.manualScan(t, "6LU7", "CCO"))

	require.NoError(t, h.o.Ask(context.Background(), "  Why active?  "))
	turns := h.o.State().Conversation
	require.Len(t, turns, 2)
	assert.Equal(t, conversation.Turn{Speaker: conversation.User, Text: "Why active?"}, turns[0])
	assert.Equal(t, conversation.Turn{Speaker: conversation.Assistant, Text: "It binds strongly."}, turns[1])
	assert.Equal(t, "Ethanol", seen.Name)
	assert.Equal(t, 0.3, seen.Admet["toxicity"])
}

func TestAskFailureAppendsFallback(t *testing.T) {
	h := newHarness(t, analysis.SingleResult(types.Candidate{Name: "A", Smiles: "C", Score: 8}))
	h.fake.AnswerFunc = func(context.Context, string, analysis.ResultContext) (analysis.Answer, error) {
		return analysis.Answer{}, &analysis.AssistantError{Err: errors.New("down")}
	}
	waitDone(t, h.manualScan(t, "6LU7", "CCO"))

	require.NoError(t, h.o.Ask(context.Background(), "q"))
	turns := h.o.State().Conversation
	require.Len(t, turns, 2)
	assert.Equal(t, conversation.User, turns[0].Speaker)
	assert.Equal(t, conversation.Turn{Speaker: conversation.Assistant, Text: "Error connecting to AI server."}, turns[1])
}

func TestAskEmptyAnswerUsesFallback(t *testing.T) {
	h := newHarness(t, analysis.SingleResult(types.Candidate{Name: "A", Smiles: "C", Score: 8}))
	h.fake.AnswerFunc = answering("")
	waitDone(t, h.manualScan(t, "6LU7", "CCO"))

	require.NoError(t, h.o.Ask(context.Background(), "q"))
	assert.Equal(t, conversation.FallbackEmpty, h.o.State().Conversation[1].Text)
}

func TestAskRequiresResultAndQuestion(t *testing.T) {
	h := newHarness(t)
	var ve *types.ValidationError
	assert.ErrorAs(t, h.o.Ask(context.Background(), "q"), &ve)
	assert.ErrorAs(t, h.o.Ask(context.Background(), "   "), &ve)
	assert.Empty(t, h.fake.Questions())
}

func TestStaleAnswerIsDropped(t *testing.T) {
	h := newHarness(t, analysis.SingleResult(types.Candidate{Name: "A", Smiles: "C", Score: 8}))
	release := make(chan struct{})
	h.fake.AnswerFunc = func(context.Context, string, analysis.ResultContext) (analysis.Answer, error) {
		<-release
		return analysis.Answer{Text: "about A"}, nil
	}
	waitDone(t, h.manualScan(t, "6LU7", "CCO"))

	asked := make(chan error, 1)
	go func() { asked <- h.o.Ask(context.Background(), "tell me about A") }()
	require.Eventually(t, func() bool { return len(h.fake.Questions()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.o.ChangeMode(types.ModeAuto))
	close(release)
	require.NoError(t, <-asked)
	assert.Empty(t, h.o.State().Conversation)
}

func TestSecondQuestionWaitsForAnswer(t *testing.T) {
	h := newHarness(t, analysis.SingleResult(types.Candidate{Name: "A", Smiles: "C", Score: 8}))
	release := make(chan struct{})
	h.fake.AnswerFunc = func(_ context.Context, q string, _ analysis.ResultContext) (analysis.Answer, error) {
		if q == "q1" {
			<-release
		}
		return analysis.Answer{Text: "ans-" + q}, nil
	}
	waitDone(t, h.manualScan(t, "6LU7", "CCO"))

	asked := make(chan error, 1)
	go func() { asked <- h.o.Ask(context.Background(), "q1") }()
	require.Eventually(t, func() bool { return len(h.fake.Questions()) == 1 }, time.Second, time.Millisecond)

	var ve *types.ValidationError
	require.ErrorAs(t, h.o.Ask(context.Background(), "q2"), &ve)
	assert.Equal(t, "Wait for the current answer", ve.Message)

	close(release)
	require.NoError(t, <-asked)
	assert.Equal(t, []conversation.Turn{
		{Speaker: conversation.User, Text: "q1"},
		{Speaker: conversation.Assistant, Text: "ans-q1"},
	}, h.o.State().Conversation)

	require.NoError(t, h.o.Ask(context.Background(), "q2"))
	assert.Len(t, h.o.State().Conversation, 4)
}

func TestTransitionReleasesPendingQuestion(t *testing.T) {
	h := newHarness(t, analysis.SingleResult(types.Candidate{Name: "A", Smiles: "C", Score: 8}))
	release := make(chan struct{})
	h.fake.AnswerFunc = func(_ context.Context, q string, _ analysis.ResultContext) (analysis.Answer, error) {
		if q == "old" {
			<-release
		}
		return analysis.Answer{Text: "ans-" + q}, nil
	}
	waitDone(t, h.manualScan(t, "6LU7", "CCO"))

	asked := make(chan error, 1)
	go func() { asked <- h.o.Ask(context.Background(), "old") }()
	require.Eventually(t, func() bool { return len(h.fake.Questions()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.o.LoadFromHistory(h.history.Entries()[0]))
	require.NoError(t, h.o.Ask(context.Background(), "new"))

	close(release)
	require.NoError(t, <-asked)
	assert.Equal(t, []conversation.Turn{
		{Speaker: conversation.User, Text: "new"},
		{Speaker: conversation.Assistant, Text: "ans-new"},
	}, h.o.State().Conversation)
}

func TestClearHistoryKeepsDisplay(t *testing.T) {
	h := newHarness(t, analysis.SingleResult(types.Candidate{Name: "A", Smiles: "C", Score: 8}))
	waitDone(t, h.manualScan(t, "6LU7", "CCO"))
	require.Len(t, h.history.Entries(), 1)

	require.NoError(t, h.o.ClearHistory(context.Background()))
	assert.Empty(t, h.history.Entries())
	require.NotNil(t, h.o.State().Result)
	assert.Equal(t, "A", h.o.State().Result.Name)

	h.o.Close()
	assert.ErrorIs(t, h.o.ClearHistory(context.Background()), ErrClosed)
}

// The conversation is empty right after each of the four context-changing
// transitions.
func TestConversationResetOnTransitions(t *testing.T) {
	tests := []struct {
		name       string
		transition func(t *testing.T, h *harness)
	}{
		{"start scan", func(t *testing.T, h *harness) {
			h.fake.Queue(analysis.SingleResult(types.Candidate{Name: "B", Smiles: "CC", Score: 6}))
			done, err := h.o.StartScan(context.Background())
			require.NoError(t, err)
			assert.Empty(t, h.o.State().Conversation)
			waitDone(t, done)
		}},
		{"select batch item", func(t *testing.T, h *harness) {
			_, err := h.o.SelectBatchItem(types.BatchEntry{Name: "B", Smiles: "CC", Score: 9})
			require.NoError(t, err)
		}},
		{"load from history", func(t *testing.T, h *harness) {
			require.NoError(t, h.o.LoadFromHistory(h.history.Entries()[0]))
		}},
		{"change mode", func(t *testing.T, h *harness) {
			require.NoError(t, h.o.ChangeMode(types.ModeAuto))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, analysis.SingleResult(types.Candidate{Name: "A", Smiles: "C", Score: 8}))
			h.fake.AnswerFunc = answering("answer")
			waitDone(t, h.manualScan(t, "6LU7", "CCO"))
			require.NoError(t, h.o.Ask(context.Background(), "q1"))
			require.NoError(t, h.o.Ask(context.Background(), "q2"))
			require.Len(t, h.o.State().Conversation, 4)
			before := h.o.State().Epoch

			tt.transition(t, h)

			st := h.o.State()
			assert.Empty(t, st.Conversation)
			assert.Greater(t, st.Epoch, before)
		})
	}
}

func TestInputSettersKeepConversation(t *testing.T) {
	h := newHarness(t, analysis.SingleResult(types.Candidate{Name: "A", Smiles: "C", Score: 8}))
	h.fake.AnswerFunc = answering("answer")
	waitDone(t, h.manualScan(t, "6LU7", "CCO"))
	require.NoError(t, h.o.Ask(context.Background(), "q"))

	h.o.SetTargetID("1ABC")
	h.o.SetSmiles("CCN")
	h.o.SetFile(nil)
	assert.Len(t, h.o.State().Conversation, 2)
}

func TestCloseCancelsInFlightScan(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	step := analysis.SingleResult(types.Candidate{Name: "A", Smiles: "C", Score: 8})
	step.Release = release
	h := newHarness(t, step)
	h.fake.ProgressFunc = func(context.Context, int) (analysis.Progress, error) {
		return analysis.Progress{Percent: 5}, nil
	}
	require.NoError(t, h.o.ChangeMode(types.ModeAuto))
	h.o.SetTargetID("6LU7")
	done, err := h.o.StartScan(context.Background())
	require.NoError(t, err)

	h.o.Close()
	waitDone(t, done)
	_, err = h.o.StartScan(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStateSnapshotIsIsolated(t *testing.T) {
	h := newHarness(t, analysis.SingleResult(types.Candidate{Name: "A", Smiles: "C", Score: 8, Admet: map[string]float64{"x": 1}}))
	waitDone(t, h.manualScan(t, "6LU7", "CCO"))

	st := h.o.State()
	st.Result.Admet["x"] = 99
	st.Result.Name = "changed"
	again := h.o.State()
	assert.Equal(t, "A", again.Result.Name)
	assert.Equal(t, 1.0, again.Result.Admet["x"])
}
