// Package dialog serializes user-facing blocking decisions. The UI has no
// native modal dialogs, so confirm/alert become awaitable calls backed by one
// globally rendered decision surface: at most one request is open at any
// instant, and each call resolves exactly once.
package dialog

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Xardimods/ainomaly/internal/metrics"
)

// Kind distinguishes the two request shapes.
type Kind string

const (
	KindConfirm Kind = "confirm"
	KindAlert   Kind = "alert"
)

// Variant controls presentation only, never control flow.
type Variant string

const (
	VariantDefault Variant = "default"
	VariantDanger  Variant = "danger"
	VariantWarning Variant = "warning"
	VariantSuccess Variant = "success"
)

// ErrDialogOpen is returned when a second request arrives while one is open.
// Rejecting keeps single-flight honest: the first caller's resolution is
// never silently lost.
var ErrDialogOpen = errors.New("a dialog is already open")

// Options customizes a request's presentation.
type Options struct {
	Title       string
	ConfirmText string
	CancelText  string
	Variant     Variant
}

// Request is one open decision surface.
type Request struct {
	ID          string
	Kind        Kind
	Title       string
	Message     string
	ConfirmText string
	CancelText  string
	Variant     Variant
}

type pending struct {
	request Request
	result  chan bool
}

// Manager holds the single open-request slot. Only the open/resolve pair
// mutates it, always under the lock.
type Manager struct {
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	mu        sync.Mutex
	open      *pending
	requestCh chan Request
}

// NewManager creates an idle manager. It is handed to consumers by injection
// so tests can drive resolution deterministically.
func NewManager(logger *zap.SugaredLogger, m *metrics.Metrics) *Manager {
	return &Manager{
		logger:    logger,
		metrics:   m,
		requestCh: make(chan Request, 1),
	}
}

// Requests delivers each newly opened request to the rendering layer.
func (m *Manager) Requests() <-chan Request { return m.requestCh }

// Open returns the currently visible request, or nil.
func (m *Manager) Open() *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open == nil {
		return nil
	}
	r := m.open.request
	return &r
}

// Confirm displays a confirmation and suspends the caller until the user
// decides. True on affirmative action, false on cancel/dismiss or context
// cancellation. A user declining is a normal result, not an error.
func (m *Manager) Confirm(ctx context.Context, message string, opts Options) (bool, error) {
	return m.ask(ctx, KindConfirm, message, opts)
}

// Alert displays an acknowledgement-only dialog. Resolves true once the user
// acknowledges it.
func (m *Manager) Alert(ctx context.Context, message string, opts Options) (bool, error) {
	ok, err := m.ask(ctx, KindAlert, message, opts)
	if err != nil {
		return ok, err
	}
	return true, nil
}

func (m *Manager) ask(ctx context.Context, kind Kind, message string, opts Options) (bool, error) {
	req := buildRequest(kind, message, opts)
	p := &pending{request: req, result: make(chan bool, 1)}

	m.mu.Lock()
	if m.open != nil {
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.DialogRequests.WithLabelValues(string(kind), "rejected").Inc()
		}
		return false, ErrDialogOpen
	}
	m.open = p
	m.mu.Unlock()

	// A stale, never-rendered request may still sit in the channel (its
	// caller abandoned or was resolved blind); displace it.
	select {
	case m.requestCh <- req:
	default:
		select {
		case <-m.requestCh:
		default:
		}
		m.requestCh <- req
	}

	select {
	case result := <-p.result:
		if m.metrics != nil {
			m.metrics.DialogRequests.WithLabelValues(string(kind), outcome(result)).Inc()
		}
		return result, nil
	case <-ctx.Done():
		m.abandon(p)
		if m.metrics != nil {
			m.metrics.DialogRequests.WithLabelValues(string(kind), "cancelled").Inc()
		}
		return false, ctx.Err()
	}
}

// Resolve settles the open request. Clearing the slot and firing the retained
// resolver happen under one lock acquisition, so a resolver can never be
// invoked twice.
func (m *Manager) Resolve(id string, result bool) error {
	m.mu.Lock()
	p := m.open
	if p == nil || p.request.ID != id {
		m.mu.Unlock()
		return errors.New("no open dialog with that id")
	}
	m.open = nil
	m.mu.Unlock()

	p.result <- result
	return nil
}

// abandon clears the slot when a caller's context ends first. A concurrent
// Resolve may have already taken the slot; then there is nothing to do and
// the buffered result is simply never read.
func (m *Manager) abandon(p *pending) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open == p {
		m.open = nil
		m.logger.Debugw("Dialog abandoned by caller", "id", p.request.ID)
	}
}

func buildRequest(kind Kind, message string, opts Options) Request {
	req := Request{
		ID:          uuid.NewString(),
		Kind:        kind,
		Title:       opts.Title,
		Message:     message,
		ConfirmText: opts.ConfirmText,
		CancelText:  opts.CancelText,
		Variant:     opts.Variant,
	}
	if req.Variant == "" {
		req.Variant = VariantDefault
	}
	if req.Title == "" {
		if kind == KindAlert {
			req.Title = "Alert"
		} else {
			req.Title = "Confirm"
		}
	}
	if req.ConfirmText == "" {
		req.ConfirmText = "OK"
	}
	if kind == KindConfirm && req.CancelText == "" {
		req.CancelText = "Cancel"
	}
	return req
}

func outcome(result bool) string {
	if result {
		return "confirmed"
	}
	return "declined"
}
