// Package assistant answers questions about a scan result with Gemini.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	genai "google.golang.org/genai"

	"biograph/internal/analysis"
	"biograph/internal/logging"
)

const temperature = 0.7

// DefaultModels is the fallback order tried after the last working model.
var DefaultModels = []string{
	"gemini-2.5-flash",
	"gemini-2.5-pro",
	"gemini-2.0-flash",
	"gemini-2.0-flash-exp",
	"gemini-flash-latest",
}

type Options struct {
	APIKey  string
	Model   string
	Models  []string
	RPS     float64
	Retries int
	Backoff time.Duration
	Log     *zap.Logger
}

// Gemini walks a list of candidate models and remembers the one that
// answered last.
type Gemini struct {
	gen    Generator
	models []string
	log    *zap.Logger

	mu     sync.Mutex
	active string
}

// NewGemini builds an assistant backed by the Gemini API.
func NewGemini(ctx context.Context, opts Options) (*Gemini, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return New(&genaiGenerator{cli: cli}, opts), nil
}

// New wraps gen with rate limiting and retries.
func New(gen Generator, opts Options) *Gemini {
	models := opts.Models
	if len(models) == 0 {
		models = DefaultModels
	}
	active := strings.TrimSpace(opts.Model)
	if active == "" {
		active = models[0]
	}
	retries := opts.Retries
	if retries <= 0 {
		retries = 2
	}
	return &Gemini{
		gen:    Chain(gen, RateLimit(opts.RPS, 1), Retry(retries, opts.Backoff)),
		models: models,
		log:    logging.OrNop(opts.Log).Named("assistant"),
		active: active,
	}
}

// ActiveModel returns the model that will be tried first.
func (g *Gemini) ActiveModel() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

func (g *Gemini) candidates() []string {
	g.mu.Lock()
	first := g.active
	g.mu.Unlock()
	seen := map[string]bool{}
	out := make([]string, 0, len(g.models)+1)
	for _, m := range append([]string{first}, g.models...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// Ask implements analysis.Assistant.
func (g *Gemini) Ask(ctx context.Context, question string, rc analysis.ResultContext) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", &analysis.AssistantError{Err: errors.New("question is empty")}
	}
	prompt := chatPrompt(question, rc)

	var errs []error
	for _, model := range g.candidates() {
		text, err := g.gen.Generate(ctx, model, prompt)
		if err == nil {
			g.mu.Lock()
			if g.active != model {
				g.log.Info("switched assistant model", zap.String("from", g.active), zap.String("to", model))
				g.active = model
			}
			g.mu.Unlock()
			return text, nil
		}
		if ctx.Err() != nil {
			return "", &analysis.AssistantError{Err: ctx.Err()}
		}
		g.log.Warn("model failed", zap.String("model", model), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", model, err))
	}
	return "", &analysis.AssistantError{Err: errors.Join(errs...)}
}

func chatPrompt(question string, rc analysis.ResultContext) string {
	admet := "{}"
	if len(rc.Admet) > 0 {
		if raw, err := json.Marshal(rc.Admet); err == nil {
			admet = string(raw)
		}
	}
	sites := "[]"
	if len(rc.ActiveSites) > 0 {
		sites = string(rc.ActiveSites)
	}
	var b strings.Builder
	b.WriteString("You are 'BioGraph AI', an intelligent research companion.\n")
	b.WriteString("- If the user uses Roman Urdu, reply in Roman Urdu.\n")
	b.WriteString("- Be professional but conversational.\n\n")
	b.WriteString("DRUG CONTEXT:\n")
	fmt.Fprintf(&b, "Name: %s\n", rc.Name)
	fmt.Fprintf(&b, "SMILES: %s\n", rc.Smiles)
	fmt.Fprintf(&b, "Score: %g\n", rc.Score)
	fmt.Fprintf(&b, "ADMET: %s\n", admet)
	fmt.Fprintf(&b, "Active sites: %s\n\n", sites)
	fmt.Fprintf(&b, "USER QUESTION: %q\n", question)
	return b.String()
}

type genaiGenerator struct {
	cli *genai.Client
}

func (g *genaiGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	temp := float32(temperature)
	resp, err := g.cli.Models.GenerateContent(ctx, model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		&genai.GenerateContentConfig{Temperature: &temp},
	)
	if err != nil {
		if modelMissing(err) {
			return "", &PermanentError{Err: err}
		}
		return "", err
	}
	return completionText(resp), nil
}

// completionText joins the text parts of the first candidate. An empty
// completion is a successful call with no answer.
func completionText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return ""
	}
	var out strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			out.WriteString(p.Text)
		}
	}
	return out.String()
}

func modelMissing(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "404") || strings.Contains(msg, "not found")
}
