// Package settings owns the user-tunable analysis settings.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"biograph/internal/events"
	"biograph/internal/kvstore"
	"biograph/internal/logging"
	"biograph/internal/types"
)

// Key is the store key holding the settings payload.
const Key = "biograph_settings"

type View string

const (
	ViewSurface View = "surface"
	ViewCartoon View = "cartoon"
	ViewLigand  View = "ligand"
)

type Quality string

const (
	QualityLow  Quality = "low"
	QualityHigh Quality = "high"
)

type Settings struct {
	Threshold     float64 `json:"threshold" validate:"gte=5,lte=10"`
	HistoryLimit  int     `json:"historyLimit" validate:"gte=1,lte=50"`
	DefaultView   View    `json:"defaultView" validate:"oneof=surface cartoon ligand"`
	RenderQuality Quality `json:"graphicsQuality" validate:"oneof=low high"`
}

func Defaults() Settings {
	return Settings{
		Threshold:     7.0,
		HistoryLimit:  15,
		DefaultView:   ViewSurface,
		RenderQuality: QualityHigh,
	}
}

var fieldMessages = map[string]string{
	"Threshold":     "threshold must be between 5 and 10",
	"HistoryLimit":  "history limit must be between 1 and 50",
	"DefaultView":   "default view must be surface, cartoon or ligand",
	"RenderQuality": "render quality must be low or high",
}

// Validate reports the first out-of-range field as a ValidationError.
func Validate(s Settings) error {
	err := types.Validator().Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		f := fieldErrs[0].Field()
		return &types.ValidationError{Field: f, Message: fieldMessages[f]}
	}
	return &types.ValidationError{Message: err.Error()}
}

// Reader exposes the live settings. Consumers read it at the moment they
// need a value and never cache the result.
type Reader interface {
	Current() Settings
}

type static Settings

func (s static) Current() Settings { return Settings(s) }

// Static returns a Reader that always reports s.
func Static(s Settings) Reader { return static(s) }

// Provider loads settings from a Store and broadcasts changes.
type Provider struct {
	mu      sync.RWMutex
	store   kvstore.Store
	log     *zap.Logger
	current Settings
	changes *events.Broker[Settings]
}

// NewProvider loads the stored settings. A missing, unreadable or invalid
// payload falls back to Defaults.
func NewProvider(ctx context.Context, store kvstore.Store, log *zap.Logger) *Provider {
	p := &Provider{
		store:   store,
		log:     logging.OrNop(log).Named("settings"),
		changes: events.NewBroker[Settings](),
	}
	p.current = p.load(ctx)
	return p
}

func (p *Provider) load(ctx context.Context) Settings {
	raw, ok, err := kvstore.Load(ctx, p.store, Key)
	if err != nil {
		p.log.Warn("settings unreadable, using defaults", zap.Error(err))
		return Defaults()
	}
	if !ok {
		return Defaults()
	}
	s := Defaults()
	if err := json.Unmarshal(raw, &s); err != nil {
		p.log.Warn("settings payload malformed, using defaults", zap.Error(err))
		return Defaults()
	}
	if err := Validate(s); err != nil {
		p.log.Warn("stored settings out of range, using defaults", zap.Error(err))
		return Defaults()
	}
	return s
}

func (p *Provider) Current() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Update validates s, persists it and notifies subscribers. A write failure
// is logged; the new settings still apply for this process.
func (p *Provider) Update(ctx context.Context, s Settings) (Settings, error) {
	if err := Validate(s); err != nil {
		return p.Current(), err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return p.Current(), fmt.Errorf("encode settings: %w", err)
	}
	p.mu.Lock()
	changed := p.current != s
	p.current = s
	if err := kvstore.Save(ctx, p.store, Key, raw); err != nil {
		p.log.Error("persist settings", zap.Error(err))
	}
	p.mu.Unlock()
	if changed {
		p.changes.Publish(s)
	}
	return s, nil
}

// Reload re-reads the store and publishes when the value differs.
func (p *Provider) Reload(ctx context.Context) (Settings, bool) {
	next := p.load(ctx)
	p.mu.Lock()
	changed := p.current != next
	p.current = next
	p.mu.Unlock()
	if changed {
		p.log.Info("settings reloaded",
			zap.Float64("threshold", next.Threshold),
			zap.Int("history_limit", next.HistoryLimit))
		p.changes.Publish(next)
	}
	return next, changed
}

// Subscribe returns a channel receiving every applied change.
func (p *Provider) Subscribe(size int) (<-chan Settings, func()) {
	return p.changes.Subscribe(size)
}

// Store returns the backing store.
func (p *Provider) Store() kvstore.Store { return p.store }

func (p *Provider) Close() { p.changes.Close() }
