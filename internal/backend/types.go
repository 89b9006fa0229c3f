package backend

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Status is the snapshot returned by GET /status. On a failed poll only
// Connected and CameraStatus are rewritten by the owning loop; the numeric
// fields keep their last known values.
type Status struct {
	Connected    bool    `json:"connected"`
	CameraStatus string  `json:"camera_status"`
	System       System  `json:"system"`
	Storage      Storage `json:"storage"`
}

type System struct {
	CPU float64 `json:"cpu"`
	RAM float64 `json:"ram"`
}

type Storage struct {
	Percent float64 `json:"percent"`
	FreeGB  float64 `json:"free_gb"`
}

// SourceType discriminates camera connection parameters on the wire.
type SourceType string

const (
	SourceWebcam SourceType = "webcam"
	SourceRTSP   SourceType = "rtsp"
)

// Source is the tagged union behind a camera's "type" discriminant. Exactly
// one of Webcam/RTSP is set, matching Type.
type Source struct {
	Type   SourceType
	Webcam *WebcamSource
	RTSP   *RTSPSource
}

// WebcamSource addresses a local capture device by index.
type WebcamSource struct {
	Index int `json:"source"`
}

// RTSPSource addresses a network camera.
type RTSPSource struct {
	Host     string `json:"ip"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Path     string `json:"path"`
}

// URL renders the rtsp:// address the backend would dial. Credentials are
// embedded only when both user and password are present.
func (r RTSPSource) URL() string {
	auth := ""
	if r.User != "" && r.Password != "" {
		auth = r.User + ":" + r.Password + "@"
	}
	port := r.Port
	if port == "" {
		port = "554"
	}
	return fmt.Sprintf("rtsp://%s%s:%s%s", auth, r.Host, port, r.Path)
}

// Camera mirrors one backend camera record. The backend owns it; local copies
// are overwritten wholesale on every successful roster poll.
type Camera struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Source  Source `json:"-"`
}

// cameraWire is the flat JSON shape the backend speaks.
type cameraWire struct {
	ID       int             `json:"id"`
	Name     string          `json:"name"`
	Enabled  bool            `json:"enabled"`
	Type     string          `json:"type"`
	Src      json.RawMessage `json:"source,omitempty"`
	IP       string          `json:"ip,omitempty"`
	Port     string          `json:"port,omitempty"`
	User     string          `json:"user,omitempty"`
	Password string          `json:"password,omitempty"`
	Path     string          `json:"path,omitempty"`
}

func (c *Camera) UnmarshalJSON(data []byte) error {
	var w cameraWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.ID = w.ID
	c.Name = w.Name
	c.Enabled = w.Enabled

	switch SourceType(w.Type) {
	case SourceWebcam:
		idx, err := decodeWebcamIndex(w.Src)
		if err != nil {
			return fmt.Errorf("camera %q: %w", w.Name, err)
		}
		c.Source = Source{Type: SourceWebcam, Webcam: &WebcamSource{Index: idx}}
	case SourceRTSP:
		c.Source = Source{Type: SourceRTSP, RTSP: &RTSPSource{
			Host:     w.IP,
			Port:     w.Port,
			User:     w.User,
			Password: w.Password,
			Path:     w.Path,
		}}
	default:
		return fmt.Errorf("camera %q: unknown source type %q", w.Name, w.Type)
	}
	return nil
}

func (c Camera) MarshalJSON() ([]byte, error) {
	w := cameraWire{
		ID:      c.ID,
		Name:    c.Name,
		Enabled: c.Enabled,
		Type:    string(c.Source.Type),
	}
	switch c.Source.Type {
	case SourceWebcam:
		if c.Source.Webcam == nil {
			return nil, fmt.Errorf("camera %q: webcam source missing", c.Name)
		}
		w.Src = json.RawMessage(strconv.Itoa(c.Source.Webcam.Index))
	case SourceRTSP:
		if c.Source.RTSP == nil {
			return nil, fmt.Errorf("camera %q: rtsp source missing", c.Name)
		}
		w.IP = c.Source.RTSP.Host
		w.Port = c.Source.RTSP.Port
		w.User = c.Source.RTSP.User
		w.Password = c.Source.RTSP.Password
		w.Path = c.Source.RTSP.Path
	default:
		return nil, fmt.Errorf("camera %q: unknown source type %q", c.Name, c.Source.Type)
	}
	return json.Marshal(w)
}

// decodeWebcamIndex accepts both the numeric and quoted-numeric forms the
// backend has emitted over time.
func decodeWebcamIndex(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	var idx int
	if err := json.Unmarshal(raw, &idx); err == nil {
		return idx, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		idx, convErr := strconv.Atoi(strings.TrimSpace(s))
		if convErr != nil {
			return 0, fmt.Errorf("invalid webcam index %q", s)
		}
		return idx, nil
	}
	return 0, fmt.Errorf("invalid webcam source payload %s", string(raw))
}

// AlertSettings mirrors GET/POST /alerts/settings. ChatIDs is a set: the wire
// carries an ordered list, but every local mutation goes through AddChatID so
// duplicates never accumulate.
type AlertSettings struct {
	TelegramToken        string   `json:"telegram_token"`
	ChatIDs              []string `json:"telegram_chat_ids"`
	LegacyChatID         string   `json:"telegram_chat_id,omitempty"`
	Enabled              bool     `json:"enabled"`
	MinDuration          float64  `json:"min_duration"`
	Cooldown             int      `json:"cooldown"`
	AttachImage          bool     `json:"attach_image"`
	NotificationDuration int      `json:"notification_duration"`
}

// Normalize folds the legacy single telegram_chat_id into the recipient set
// and removes duplicates while preserving first-seen order.
func (s *AlertSettings) Normalize() {
	if s.LegacyChatID != "" {
		s.ChatIDs = append(s.ChatIDs, s.LegacyChatID)
		s.LegacyChatID = ""
	}
	seen := make(map[string]struct{}, len(s.ChatIDs))
	out := s.ChatIDs[:0]
	for _, id := range s.ChatIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	s.ChatIDs = out
}

// AddChatID inserts a recipient, reporting whether the set changed. All three
// entry paths (manual entry, discovery scan, test auto-fill) go through here.
func (s *AlertSettings) AddChatID(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	for _, existing := range s.ChatIDs {
		if existing == id {
			return false
		}
	}
	s.ChatIDs = append(s.ChatIDs, id)
	return true
}

// RemoveChatID drops a recipient, reporting whether it was present.
func (s *AlertSettings) RemoveChatID(id string) bool {
	for i, existing := range s.ChatIDs {
		if existing == id {
			s.ChatIDs = append(s.ChatIDs[:i], s.ChatIDs[i+1:]...)
			return true
		}
	}
	return false
}

// HistoryEntry is one immutable alert record from GET /alerts/history.
// Entries written before the backend assigned ids carry a null id.
type HistoryEntry struct {
	ID       *int   `json:"id"`
	Date     string `json:"date"`
	Camera   string `json:"camera"`
	Event    string `json:"event"`
	Status   string `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Snapshot string `json:"snapshot,omitempty"`
}

// MediaKind distinguishes the two media collections the backend stores.
type MediaKind string

const (
	MediaSnapshot  MediaKind = "snapshot"
	MediaRecording MediaKind = "recording"
)

// MediaItem is one stored snapshot or recording. Media has no numeric ids;
// items are identified by file name within their kind. URL is the
// backend-relative download path.
type MediaItem struct {
	Kind MediaKind `json:"-"`
	Name string    `json:"name"`
	Date string    `json:"date"`
	URL  string    `json:"url,omitempty"`
}

// AppSettings mirrors GET/POST /settings (general shell-facing preferences the
// backend persists).
type AppSettings struct {
	Sensitivity    int  `json:"sensitivity"`
	RecordOnEvent  bool `json:"record_on_event"`
	TelegramNotify bool `json:"telegram_notify"`
}

// EventType discriminates SSE envelopes.
type EventType string

const (
	EventAlert EventType = "alert"
)

// Event is one JSON envelope from the /events stream. Duration is seconds the
// UI should keep the banner up; zero means the default applies.
type Event struct {
	Type     EventType `json:"type"`
	Message  string    `json:"message"`
	Camera   string    `json:"camera"`
	Duration float64   `json:"duration"`
}

// TestResult is the generic {success, message} reply for test endpoints.
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
}

// Recipient is one chat surfaced by POST /alerts/discover.
type Recipient struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
