// Package conversation holds the chat turns about the result on screen.
//
// The log belongs to exactly one result context. Every reset starts a new
// epoch, and assistant replies carrying an older epoch are dropped.
package conversation

import "sync"

type Speaker string

const (
	User      Speaker = "user"
	Assistant Speaker = "assistant"
)

// Fallback texts shown in place of an assistant answer.
const (
	FallbackError = "Error connecting to AI server."
	FallbackEmpty = "Sorry, I couldn't analyze that."
)

type Turn struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Epoch identifies one result context.
type Epoch uint64

type Log struct {
	mu    sync.Mutex
	epoch Epoch
	turns []Turn
}

func New() *Log { return &Log{} }

// AppendUser records a question and returns the epoch the answer must carry.
func (l *Log) AppendUser(text string) Epoch {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, Turn{Speaker: User, Text: text})
	return l.epoch
}

// AppendAssistant records an answer. An empty answer becomes FallbackEmpty.
// It reports false when epoch is stale.
func (l *Log) AppendAssistant(epoch Epoch, text string) bool {
	if text == "" {
		text = FallbackEmpty
	}
	return l.appendAssistant(epoch, text)
}

// AppendAssistantError records fallback as the answer to a failed query.
func (l *Log) AppendAssistantError(epoch Epoch, fallback string) bool {
	if fallback == "" {
		fallback = FallbackError
	}
	return l.appendAssistant(epoch, fallback)
}

func (l *Log) appendAssistant(epoch Epoch, text string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if epoch != l.epoch {
		return false
	}
	l.turns = append(l.turns, Turn{Speaker: Assistant, Text: text})
	return true
}

// Reset empties the log and starts a new epoch.
func (l *Log) Reset() Epoch {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = nil
	l.epoch++
	return l.epoch
}

func (l *Log) Epoch() Epoch {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epoch
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// Turns returns a copy of the log in append order.
func (l *Log) Turns() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}
