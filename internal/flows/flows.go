// Package flows implements the user-initiated operations that mutate backend
// state. Destructive or risky actions ask the dialog manager first; every
// successful mutation is followed by reconciliation, never by trusting the
// local mirror.
package flows

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Xardimods/ainomaly/internal/backend"
	"github.com/Xardimods/ainomaly/internal/dialog"
	"github.com/Xardimods/ainomaly/internal/poll"
)

// Confirmer is the decision surface flows suspend on. Satisfied by
// *dialog.Manager; tests substitute a deterministic resolver.
type Confirmer interface {
	Confirm(ctx context.Context, message string, opts dialog.Options) (bool, error)
	Alert(ctx context.Context, message string, opts dialog.Options) (bool, error)
}

// Flows bundles the interactive operations behind one injection point.
type Flows struct {
	dialogs Confirmer
	client  *backend.Client
	cameras *poll.CameraActions
	history *poll.HistoryActions
	media   *poll.MediaActions
	logger  *zap.SugaredLogger
}

// New wires the interactive flows.
func New(dialogs Confirmer, client *backend.Client, cameras *poll.CameraActions, history *poll.HistoryActions, media *poll.MediaActions, logger *zap.SugaredLogger) *Flows {
	return &Flows{
		dialogs: dialogs,
		client:  client,
		cameras: cameras,
		history: history,
		media:   media,
		logger:  logger,
	}
}

// DeleteCamera confirms, then removes the camera. A declined confirmation is
// a normal outcome: no error, nothing deleted.
func (f *Flows) DeleteCamera(ctx context.Context, id int, name string) (bool, error) {
	ok, err := f.dialogs.Confirm(ctx, fmt.Sprintf("Delete camera %q? This cannot be undone.", name), dialog.Options{
		Title:   "Delete camera",
		Variant: dialog.VariantDanger,
	})
	if err != nil || !ok {
		return false, err
	}
	if err := f.cameras.Delete(ctx, id); err != nil {
		return false, fmt.Errorf("failed to delete camera: %w", err)
	}
	return true, nil
}

// DeleteHistoryEntry confirms, then removes one alert record. The local list
// changes only after the backend acknowledges; on failure the entry stays and
// the error surfaces to the caller for a notice.
func (f *Flows) DeleteHistoryEntry(ctx context.Context, id int) (bool, error) {
	ok, err := f.dialogs.Confirm(ctx, "Delete this alert from the history?", dialog.Options{
		Title:   "Delete alert",
		Variant: dialog.VariantDanger,
	})
	if err != nil || !ok {
		return false, err
	}
	if err := f.history.Delete(ctx, id); err != nil {
		return false, fmt.Errorf("failed to delete alert: %w", err)
	}
	return true, nil
}

// DeleteMedia confirms, then removes one stored snapshot or recording. The
// file is gone for good once the backend acknowledges, so the dialog uses
// the danger variant like the other destructive flows.
func (f *Flows) DeleteMedia(ctx context.Context, kind backend.MediaKind, name string) (bool, error) {
	ok, err := f.dialogs.Confirm(ctx, fmt.Sprintf("Delete %q? The file cannot be recovered.", name), dialog.Options{
		Title:   "Delete media",
		Variant: dialog.VariantDanger,
	})
	if err != nil || !ok {
		return false, err
	}
	if err := f.media.Delete(ctx, kind, name); err != nil {
		return false, fmt.Errorf("failed to delete media file: %w", err)
	}
	return true, nil
}

// SaveAlertSettings persists alert delivery settings. Saving with alerts
// enabled but no bot token configured is almost certainly a mistake, so it
// asks first.
func (f *Flows) SaveAlertSettings(ctx context.Context, s backend.AlertSettings) (bool, error) {
	s.Normalize()
	if s.Enabled && s.TelegramToken == "" {
		ok, err := f.dialogs.Confirm(ctx, "Alerts are enabled but no Telegram token is set. Save anyway?", dialog.Options{
			Title:   "Incomplete settings",
			Variant: dialog.VariantWarning,
		})
		if err != nil || !ok {
			return false, err
		}
	}
	if err := f.client.SaveAlertSettings(ctx, s); err != nil {
		return false, fmt.Errorf("failed to save alert settings: %w", err)
	}
	return true, nil
}

// TestTelegram sends a test message. When the backend resolved a chat id on
// its own, it is added to the recipient set (deduplicated) and the updated
// settings are returned for the caller to persist.
func (f *Flows) TestTelegram(ctx context.Context, s backend.AlertSettings) (backend.AlertSettings, backend.TestResult, error) {
	chatID := ""
	if len(s.ChatIDs) > 0 {
		chatID = s.ChatIDs[0]
	}
	res, err := f.client.TestAlert(ctx, s.TelegramToken, chatID)
	if err != nil {
		return s, res, err
	}
	if res.Success && res.ChatID != "" {
		if s.AddChatID(res.ChatID) {
			f.logger.Infow("Recipient auto-filled from test", "chat_id", res.ChatID)
		}
	}
	return s, res, nil
}

// DiscoverRecipients scans the bot's recent conversations for candidate
// chats. The caller presents the list; nothing is added until the user picks.
func (f *Flows) DiscoverRecipients(ctx context.Context, token string) ([]backend.Recipient, error) {
	if token == "" {
		return nil, fmt.Errorf("a Telegram token is required for discovery")
	}
	return f.client.DiscoverRecipients(ctx, token)
}

// AddDiscoveredRecipients merges scan results into the recipient set.
// Recipients already present are skipped, so re-running discovery never
// produces duplicates.
func (f *Flows) AddDiscoveredRecipients(s backend.AlertSettings, picked []backend.Recipient) backend.AlertSettings {
	for _, r := range picked {
		s.AddChatID(r.ID)
	}
	return s
}

// RunFullTest confirms, then triggers the end-to-end detection/delivery dry
// run. The result is surfaced through an acknowledgement dialog.
func (f *Flows) RunFullTest(ctx context.Context) (backend.TestResult, error) {
	ok, err := f.dialogs.Confirm(ctx, "Run a full pipeline test? This sends a real Telegram message.", dialog.Options{
		Title:   "Full test",
		Variant: dialog.VariantWarning,
	})
	if err != nil {
		return backend.TestResult{}, err
	}
	if !ok {
		return backend.TestResult{Success: false, Message: "cancelled"}, nil
	}

	res, err := f.client.TestFullPipeline(ctx)
	if err != nil {
		_, alertErr := f.dialogs.Alert(ctx, "Full test failed: backend unreachable.", dialog.Options{
			Title:   "Full test",
			Variant: dialog.VariantDanger,
		})
		if alertErr != nil {
			f.logger.Debugw("Result dialog suppressed", "error", alertErr)
		}
		return res, err
	}

	variant := dialog.VariantSuccess
	message := "Full test passed."
	if !res.Success {
		variant = dialog.VariantDanger
		message = "Full test failed: " + res.Message
	}
	if _, alertErr := f.dialogs.Alert(ctx, message, dialog.Options{Title: "Full test", Variant: variant}); alertErr != nil {
		f.logger.Debugw("Result dialog suppressed", "error", alertErr)
	}
	return res, nil
}
