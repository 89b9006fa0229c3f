// Package uistate holds the process-wide UI preferences shared by every
// view: theme and language. State lives behind one accessor with a defined
// init (load persisted values) and mutation API; nothing writes the globals
// directly. Values persist across sessions in a small bbolt bucket.
package uistate

import (
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const prefsBucket = "ui_prefs"

const (
	keyTheme    = "theme"
	keyLanguage = "language"
)

// Theme is the UI color scheme.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// DefaultLanguage follows the original product's primary locale.
const DefaultLanguage = "es"

// Prefs is the process-wide preference context.
type Prefs struct {
	db     *bbolt.DB
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	theme    Theme
	language string
}

// Open loads persisted preferences from path, falling back to defaults for
// anything missing.
func Open(path string, logger *zap.SugaredLogger) (*Prefs, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open preferences store: %w", err)
	}

	p := &Prefs{
		db:       db,
		logger:   logger,
		theme:    ThemeDark,
		language: DefaultLanguage,
	}

	err = db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(prefsBucket))
		if bucket == nil {
			return nil
		}
		if v := bucket.Get([]byte(keyTheme)); len(v) > 0 {
			p.theme = Theme(v)
		}
		if v := bucket.Get([]byte(keyLanguage)); len(v) > 0 {
			p.language = string(v)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}
	return p, nil
}

// Close releases the underlying store.
func (p *Prefs) Close() error {
	return p.db.Close()
}

// Theme returns the active color scheme.
func (p *Prefs) Theme() Theme {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.theme
}

// Language returns the active locale code.
func (p *Prefs) Language() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.language
}

// SetTheme switches the color scheme and persists it synchronously.
func (p *Prefs) SetTheme(theme Theme) error {
	if theme != ThemeDark && theme != ThemeLight {
		return fmt.Errorf("unknown theme %q", theme)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.persist(keyTheme, string(theme)); err != nil {
		return err
	}
	p.theme = theme
	return nil
}

// SetLanguage switches the locale and persists it synchronously.
func (p *Prefs) SetLanguage(lang string) error {
	if lang == "" {
		return fmt.Errorf("language must not be empty")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.persist(keyLanguage, lang); err != nil {
		return err
	}
	p.language = lang
	return nil
}

func (p *Prefs) persist(key, value string) error {
	err := p.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(prefsBucket))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return nil
}
