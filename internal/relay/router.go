package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"tgwabridge/internal/domain"
	"tgwabridge/internal/media"
	"tgwabridge/internal/phone"
)

// Direction names the flow of one relay.
type Direction string

const (
	WhatsAppToTelegram Direction = "whatsapp_to_telegram"
	TelegramToWhatsApp Direction = "telegram_to_whatsapp"
)

type Status string

const (
	StatusCompleted Status = "completed"
	// StatusSkipped covers no-op events and malformed payloads.
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome is the terminal state of one relay. Err is set for failures and
// for malformed payloads; Notified reports whether the originating side was
// told about a failure.
type Outcome struct {
	RelayID   string
	Direction Direction
	Status    Status
	Kind      domain.ContentKind
	MessageID string
	Err       error
	Notified  bool
}

// Router runs relays in both directions. It is the only place that
// classifies relay errors and turns them into notifications.
type Router struct {
	rc *RelayContext
}

func NewRouter(rc *RelayContext) *Router {
	rc.normalize()
	return &Router{rc: rc}
}

// Context returns the router's relay context.
func (r *Router) Context() *RelayContext { return r.rc }

// Relay dispatches raw to the relay for direction.
func (r *Router) Relay(ctx context.Context, direction Direction, raw []byte) Outcome {
	switch direction {
	case WhatsAppToTelegram:
		return r.RelayFromWhatsApp(ctx, raw)
	case TelegramToWhatsApp:
		return r.RelayFromTelegram(ctx, raw)
	default:
		return Outcome{Direction: direction, Status: StatusSkipped, Err: fmt.Errorf("unknown direction %q", direction)}
	}
}

// RelayFromWhatsApp forwards an end user's message into the group, threaded
// under the last message relayed for that user.
func (r *Router) RelayFromWhatsApp(ctx context.Context, raw []byte) Outcome {
	// Once started, a relay runs to completion.
	ctx = context.WithoutCancel(ctx)
	out, logger, start := r.begin(WhatsAppToTelegram)
	defer func() { r.finish(&out, logger, start) }()

	ev, err := r.rc.WhatsApp.Normalize(raw)
	if err != nil {
		r.skip(&out, logger, err)
		return out
	}
	out.Kind = ev.Kind

	number := ev.SenderID
	user := phone.Canonicalize(number)
	logger = logger.With("user", user, "kind", ev.Kind)

	replyTo, err := r.lookup(ctx, user, logger)
	if err != nil {
		r.failToUser(ctx, &out, user, err, logger)
		return out
	}

	id, err := r.sendToGroup(ctx, ev, Signature(number, ev.SenderName), replyTo)
	if err != nil {
		r.failToUser(ctx, &out, user, err, logger)
		return out
	}

	out.Status, out.MessageID = StatusCompleted, id
	r.upsert(ctx, user, id, logger)
	return out
}

// RelayFromTelegram forwards an operator's reply to the end user named in
// the bot message being replied to. Anything else in the group is ignored.
func (r *Router) RelayFromTelegram(ctx context.Context, raw []byte) Outcome {
	ctx = context.WithoutCancel(ctx)
	out, logger, start := r.begin(TelegramToWhatsApp)
	defer func() { r.finish(&out, logger, start) }()

	ev, err := r.rc.Telegram.Normalize(raw)
	if err != nil {
		r.skip(&out, logger, err)
		return out
	}
	out.Kind = ev.Kind

	if ev.ChatID != r.rc.GroupChatID || ev.Reply == nil || ev.Reply.AuthorID != r.rc.BotID {
		logger.Debug("not a reply to the bot in the operator group", "chat", ev.ChatID)
		out.Status = StatusSkipped
		return out
	}
	if r.rc.Notifications.IsGroupNotification(ev.Reply.Text) {
		logger.Debug("reply to an error notification ignored")
		out.Status = StatusSkipped
		return out
	}
	logger = logger.With("kind", ev.Kind, "message_id", ev.ExternalMessageID)

	number, ok := RecoverNumber(ev.Reply.Text)
	if !ok {
		err := domain.Errorf(domain.KindMissingPhoneNumber, "recover number", "no number in replied-to message %s", ev.Reply.MessageID)
		r.failToGroup(ctx, &out, ev.ExternalMessageID, err, logger)
		return out
	}
	user := phone.Canonicalize(number)
	logger = logger.With("user", user)

	id, err := r.sendToUser(ctx, ev, user)
	if err != nil {
		r.failToGroup(ctx, &out, ev.ExternalMessageID, err, logger)
		return out
	}

	out.Status, out.MessageID = StatusCompleted, id
	r.upsert(ctx, user, ev.ExternalMessageID, logger)
	return out
}

// --- Dispatch ---

func (r *Router) sendToGroup(ctx context.Context, ev *domain.InboundEvent, signature, replyTo string) (string, error) {
	req := domain.SendRequest{
		To:        r.rc.GroupChatID,
		Kind:      ev.Kind,
		Text:      ev.Text,
		Signature: signature,
		ReplyTo:   replyTo,
	}

	switch ev.Kind {
	case domain.KindText:

	case domain.KindDocument, domain.KindAudio, domain.KindVoice, domain.KindImage, domain.KindVideo:
		token, err := r.rc.Media.Transfer(ctx, ev, r.rc.WhatsApp, r.rc.Telegram, "")
		if err != nil {
			return "", err
		}
		req.Media, req.FileName = token, ev.Media.FileName
		if ev.Kind == domain.KindVoice {
			req.Kind = domain.KindAudio
		}

	case domain.KindLocation:
		if err := r.checkLocation(ev.Location); err != nil {
			return "", err
		}
		req.Location, req.Text = ev.Location, ""

	case domain.KindContacts:
		text, err := r.contactText(ev.Contacts)
		if err != nil {
			return "", err
		}
		req.Kind, req.Text = domain.KindText, text

	default:
		return "", domain.Errorf(domain.KindUnsupportedContent, "dispatch", "%s cannot be relayed to the group", ev.Kind)
	}

	return r.rc.Telegram.Send(ctx, req)
}

func (r *Router) sendToUser(ctx context.Context, ev *domain.InboundEvent, user string) (string, error) {
	req := domain.SendRequest{To: user, Kind: ev.Kind, Text: ev.Text}

	switch ev.Kind {
	case domain.KindText:
		if r.rc.Policy.SignOperator && ev.SenderName != "" {
			req.Signature = "\n\n~" + ev.SenderName
		}
		return r.rc.WhatsApp.Send(ctx, req)

	case domain.KindDocument:
		token, err := r.rc.Media.Transfer(ctx, ev, r.rc.Telegram, r.rc.WhatsApp, "")
		if err != nil {
			return "", err
		}
		name := ev.Media.FileName
		if name == "" {
			name = token.FileName
		}
		req.Media, req.FileName, req.Text = token, name, media.StripExtension(name)
		id, err := r.rc.WhatsApp.Send(ctx, req)
		if err != nil || strings.TrimSpace(ev.Text) == "" {
			return id, err
		}
		// The document caption carries the file name; the operator's
		// caption follows as its own message.
		return r.rc.WhatsApp.Send(ctx, domain.SendRequest{To: user, Kind: domain.KindText, Text: ev.Text, ReplyTo: id})

	case domain.KindAudio, domain.KindVoice:
		override := ""
		if ev.Kind == domain.KindVoice {
			override = media.VoiceMimeType
		}
		token, err := r.rc.Media.Transfer(ctx, ev, r.rc.Telegram, r.rc.WhatsApp, override)
		if err != nil {
			return "", err
		}
		req.Kind, req.Media = domain.KindAudio, token
		return r.rc.WhatsApp.Send(ctx, req)

	case domain.KindImage, domain.KindVideo, domain.KindVideoNote:
		token, err := r.rc.Media.Transfer(ctx, ev, r.rc.Telegram, r.rc.WhatsApp, "")
		if err != nil {
			return "", err
		}
		if ev.Kind == domain.KindVideoNote {
			req.Kind = domain.KindVideo
		}
		req.Media = token
		return r.rc.WhatsApp.Send(ctx, req)

	case domain.KindLocation:
		if err := r.checkLocation(ev.Location); err != nil {
			return "", err
		}
		req.Location, req.Text = ev.Location, ""
		return r.rc.WhatsApp.Send(ctx, req)

	default:
		return "", domain.Errorf(domain.KindUnsupportedContent, "dispatch", "%s cannot be relayed to WhatsApp", ev.Kind)
	}
}

func (r *Router) checkLocation(loc *domain.Location) error {
	if loc == nil {
		return domain.Errorf(domain.KindUnsupportedContent, "dispatch", "location without coordinates")
	}
	if r.rc.Policy.EmptyCaption == EmptyCaptionRequired && (loc.Title == "" || loc.Address == "") {
		return domain.Errorf(domain.KindUnsupportedContent, "dispatch", "location without title or address")
	}
	return nil
}

// contactText renders the first shared contact that has a phone number.
func (r *Router) contactText(contacts []domain.Contact) (string, error) {
	for _, c := range contacts {
		if c.Phone == "" {
			continue
		}
		if c.Name == "" && r.rc.Policy.EmptyCaption == EmptyCaptionRequired {
			return "", domain.Errorf(domain.KindUnsupportedContent, "dispatch", "contact without a name")
		}
		return strings.TrimSpace("Contact: "+c.Name) + " +" + phone.Clean(c.Phone), nil
	}
	return "", domain.Errorf(domain.KindUnsupportedContent, "dispatch", "contact without a phone number")
}

// --- Correlation ---

func (r *Router) lookup(ctx context.Context, user string, logger *slog.Logger) (string, error) {
	id, found, err := r.rc.Store.Lookup(ctx, user)
	if err != nil {
		r.rc.Metrics.StoreError("lookup")
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			err = domain.NewError(domain.KindStoreUnavailable, "correlation lookup", err)
		}
		if r.rc.Policy.StoreFailure == StoreFailureAbort {
			return "", err
		}
		logger.Warn("correlation lookup failed, relaying without thread", "err", err)
		return "", nil
	}
	if !found {
		return "", nil
	}
	return id, nil
}

// upsert records the new thread root. A failure only costs threading of the
// next message, so it is logged and the relay still completes.
func (r *Router) upsert(ctx context.Context, user, messageID string, logger *slog.Logger) {
	if err := r.rc.Store.Upsert(ctx, user, messageID); err != nil {
		r.rc.Metrics.StoreError("upsert")
		logger.Warn("correlation upsert failed", "err", err)
	}
}

// --- Failures ---

func (r *Router) failToUser(ctx context.Context, out *Outcome, user string, err error, logger *slog.Logger) {
	out.Status, out.Err = StatusFailed, err
	kind := domain.KindOf(err)
	logger.Error("relay failed", "error_kind", kind, "err", err)

	text, ok := r.rc.Notifications.ForUser(kind)
	if !ok {
		return
	}
	_, nerr := r.rc.WhatsApp.Send(ctx, domain.SendRequest{To: user, Kind: domain.KindText, Text: text})
	r.rc.Metrics.NotificationSent(string(domain.PlatformWhatsApp), nerr)
	if nerr != nil {
		logger.Error("error notification failed", "err", nerr)
		return
	}
	out.Notified = true
}

func (r *Router) failToGroup(ctx context.Context, out *Outcome, triggerID string, err error, logger *slog.Logger) {
	out.Status, out.Err = StatusFailed, err
	kind := domain.KindOf(err)
	logger.Error("relay failed", "error_kind", kind, "err", err)

	text, ok := r.rc.Notifications.ForGroup(kind)
	if !ok {
		return
	}
	_, nerr := r.rc.Telegram.Send(ctx, domain.SendRequest{
		To:      r.rc.GroupChatID,
		Kind:    domain.KindText,
		Text:    text,
		ReplyTo: triggerID,
	})
	r.rc.Metrics.NotificationSent(string(domain.PlatformTelegram), nerr)
	if nerr != nil {
		logger.Error("error notification failed", "err", nerr)
		return
	}
	out.Notified = true
}

// --- Bookkeeping ---

func (r *Router) begin(direction Direction) (Outcome, *slog.Logger, time.Time) {
	id := uuid.NewString()
	logger := r.rc.Logger.With("relay_id", id, "direction", string(direction))
	return Outcome{RelayID: id, Direction: direction}, logger, time.Now()
}

// skip ends a relay whose payload is not a user message or cannot be parsed.
// Neither is reported to anyone.
func (r *Router) skip(out *Outcome, logger *slog.Logger, err error) {
	out.Status = StatusSkipped
	if errors.Is(err, domain.ErrNoop) {
		logger.Debug("event ignored", "reason", err)
		return
	}
	out.Err = err
	logger.Warn("dropping malformed payload", "err", err)
}

func (r *Router) finish(out *Outcome, logger *slog.Logger, start time.Time) {
	elapsed := time.Since(start)
	kind := string(out.Kind)
	if kind == "" {
		kind = "none"
	}
	r.rc.Metrics.RelayFinished(string(out.Direction), kind, string(out.Status), elapsed)
	if out.Status == StatusCompleted {
		logger.Info("relay completed", "message_id", out.MessageID, "duration_ms", elapsed.Milliseconds())
	}
}
