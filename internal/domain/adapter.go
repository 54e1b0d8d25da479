package domain

import "context"

// Adapter is the capability set every platform implements. The relay engine
// depends on this interface only.
type Adapter interface {
	Platform() Platform
	// Normalize parses a raw webhook body. It returns ErrNoop for events that
	// are not user messages.
	Normalize(raw []byte) (*InboundEvent, error)
	// Send delivers req and returns the id of the last message sent.
	Send(ctx context.Context, req SendRequest) (string, error)
	DownloadMedia(ctx context.Context, ev *InboundEvent) (*MediaReference, error)
	UploadMedia(ctx context.Context, ref *MediaReference) (*UploadToken, error)
}

// CorrelationStore persists the user -> group message mapping.
type CorrelationStore interface {
	Lookup(ctx context.Context, userID string) (messageID string, found bool, err error)
	Upsert(ctx context.Context, userID, messageID string) error
	Ping(ctx context.Context) error
	Close() error
}
