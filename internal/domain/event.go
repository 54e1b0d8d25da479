package domain

import "time"

// Platform identifies one side of the bridge.
type Platform string

const (
	// PlatformTelegram is the operator group side.
	PlatformTelegram Platform = "telegram"
	// PlatformWhatsApp is the end-user side.
	PlatformWhatsApp Platform = "whatsapp"
)

// ContentKind is the semantic type of a message payload.
type ContentKind string

const (
	KindText      ContentKind = "text"
	KindDocument  ContentKind = "document"
	KindAudio     ContentKind = "audio"
	KindVoice     ContentKind = "voice"
	KindImage     ContentKind = "image"
	KindVideo     ContentKind = "video"
	KindVideoNote ContentKind = "video_note"
	KindLocation  ContentKind = "location"
	KindContacts  ContentKind = "contacts"
	KindUnknown   ContentKind = "unknown"
)

// IsMedia reports whether the kind carries a binary attachment.
func (k ContentKind) IsMedia() bool {
	switch k {
	case KindDocument, KindAudio, KindVoice, KindImage, KindVideo, KindVideoNote:
		return true
	}
	return false
}

// InboundEvent is one webhook notification in platform-neutral form.
type InboundEvent struct {
	Source     Platform
	SenderID   string
	SenderName string
	ChatID     string
	Kind       ContentKind

	// Text is the message body for text events and the caption for media.
	Text     string
	Media    *MediaInfo
	Location *Location
	Contacts []Contact

	// Reply is set for Telegram messages that answer another message.
	Reply *ReplyContext

	ExternalMessageID string
}

// MediaInfo points at a remote attachment on the source platform.
type MediaInfo struct {
	Locator  string // Telegram file_id or WhatsApp media id
	MimeType string
	FileName string
}

type Location struct {
	Latitude  float64
	Longitude float64
	Title     string
	Address   string
}

type Contact struct {
	Name  string
	Phone string
}

// ReplyContext describes the message an inbound event replies to.
type ReplyContext struct {
	MessageID string
	AuthorID  string
	Text      string
}

// SendRequest is a canonical outbound message handed to an adapter.
type SendRequest struct {
	To   string
	Kind ContentKind
	// Text is the body for text messages and the caption for media.
	Text string
	// Signature is appended after Text and never split.
	Signature string
	ReplyTo   string
	Media     *UploadToken
	FileName  string
	Location  *Location
}

// MediaReference is a binary attachment in transit. Data is held only for
// the duration of one relay.
type MediaReference struct {
	Locator  string
	URL      string
	FileName string
	MimeType string
	Data     []byte
}

// UploadToken is the destination-native result of an upload. ID is set when
// the destination stores media ahead of the send; Ref is set when the bytes
// travel with the send itself.
type UploadToken struct {
	ID       string
	MimeType string
	FileName string
	Ref      *MediaReference
}

// CorrelationRecord maps an end user to the latest group message sent on
// their behalf.
type CorrelationRecord struct {
	UserID    string
	MessageID string
	UpdatedAt time.Time
}
