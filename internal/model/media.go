package model

import "time"

// Media cache categories used by the monitor.
const (
	MediaAvatar   = "avatar"
	MediaGiftIcon = "gift"
	MediaQRCode   = "qrcode"
)

// MediaEntry is one persisted cache record, keyed by its source URL.
type MediaEntry struct {
	URL            string    `json:"url"`
	Category       string    `json:"category"`
	ContentType    string    `json:"content_type,omitempty"`
	Data           []byte    `json:"-"`
	Size           int64     `json:"size"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}
