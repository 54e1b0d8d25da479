// Package relay moves messages between the Telegram operator group and
// WhatsApp end users.
package relay

import (
	"log/slog"

	"tgwabridge/internal/domain"
	"tgwabridge/internal/media"
	"tgwabridge/internal/metrics"
)

// StoreFailurePolicy decides what a failed correlation lookup does.
type StoreFailurePolicy string

const (
	// StoreFailureDegrade relays the message without threading.
	StoreFailureDegrade StoreFailurePolicy = "degrade"
	// StoreFailureAbort fails the relay with a store error.
	StoreFailureAbort StoreFailurePolicy = "abort"
)

// EmptyCaptionPolicy decides whether locations without title or address
// and contacts without a name can be relayed.
type EmptyCaptionPolicy string

const (
	EmptyCaptionOptional EmptyCaptionPolicy = "optional"
	EmptyCaptionRequired EmptyCaptionPolicy = "required"
)

type Policy struct {
	StoreFailure StoreFailurePolicy
	EmptyCaption EmptyCaptionPolicy
	// SignOperator appends the operator's name to text relayed to WhatsApp.
	SignOperator bool
}

// RelayContext is everything a relay needs. It is built once at startup and
// shared read-only by the router and the workers.
type RelayContext struct {
	Telegram domain.Adapter
	WhatsApp domain.Adapter
	Store    domain.CorrelationStore
	Media    *media.Pipeline

	// GroupChatID is the operator group; BotID is the bot's own user id.
	GroupChatID string
	BotID       string

	Policy        Policy
	Notifications Notifications
	Metrics       *metrics.Collector
	Logger        *slog.Logger
}

func (rc *RelayContext) normalize() {
	if rc.Logger == nil {
		rc.Logger = slog.Default()
	}
	if rc.Media == nil {
		rc.Media = media.NewPipeline(rc.Logger)
	}
	if rc.Policy.StoreFailure == "" {
		rc.Policy.StoreFailure = StoreFailureDegrade
	}
	if rc.Policy.EmptyCaption == "" {
		rc.Policy.EmptyCaption = EmptyCaptionOptional
	}
	rc.Notifications = rc.Notifications.withDefaults()
}
