package channel

import (
	"context"
	"encoding/json"
	"errors"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tgwabridge/internal/domain"
	"tgwabridge/internal/media"
)

// telegramMaxUploadBytes is the Bot API limit for multipart uploads.
const telegramMaxUploadBytes = 50 << 20

// TelegramAPI is the part of *tgbotapi.BotAPI the adapter needs.
type TelegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Telegram is the group-chat side of the bridge.
type Telegram struct {
	api       TelegramAPI
	client    *http.Client
	maxBytes  int64
	placement SignaturePlacement
	logger    *slog.Logger
}

type TelegramConfig struct {
	API           TelegramAPI
	HTTPClient    *http.Client
	MaxMediaBytes int64
	Placement     SignaturePlacement
	Logger        *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(0)
	}
	if cfg.Placement == "" {
		cfg.Placement = SignatureEveryChunk
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		api:       cfg.API,
		client:    cfg.HTTPClient,
		maxBytes:  cfg.MaxMediaBytes,
		placement: cfg.Placement,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Platform() domain.Platform { return domain.PlatformTelegram }

// --- Inbound ---

// Normalize parses a Telegram update delivered to the webhook.
func (t *Telegram) Normalize(raw []byte) (*domain.InboundEvent, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, domain.NewError(domain.KindMalformedPayload, "telegram decode", err)
	}
	msg := update.Message
	if msg == nil {
		return nil, domain.ErrNoop
	}
	if msg.From == nil || msg.Chat == nil {
		return nil, domain.Errorf(domain.KindMalformedPayload, "telegram decode", "message %d has no sender or chat", msg.MessageID)
	}

	ev := &domain.InboundEvent{
		Source:            domain.PlatformTelegram,
		SenderID:          strconv.FormatInt(msg.From.ID, 10),
		SenderName:        strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
		ChatID:            strconv.FormatInt(msg.Chat.ID, 10),
		Kind:              telegramContentKind(msg),
		ExternalMessageID: strconv.Itoa(msg.MessageID),
	}

	switch ev.Kind {
	case domain.KindText:
		ev.Text = msg.Text
	case domain.KindDocument:
		ev.Text = msg.Caption
		ev.Media = &domain.MediaInfo{Locator: msg.Document.FileID, MimeType: msg.Document.MimeType, FileName: msg.Document.FileName}
	case domain.KindAudio:
		ev.Text = msg.Caption
		ev.Media = &domain.MediaInfo{Locator: msg.Audio.FileID, MimeType: msg.Audio.MimeType, FileName: msg.Audio.FileName}
	case domain.KindImage:
		ev.Text = msg.Caption
		ev.Media = &domain.MediaInfo{Locator: largestPhoto(msg.Photo).FileID}
	case domain.KindVideo:
		ev.Text = msg.Caption
		ev.Media = &domain.MediaInfo{Locator: msg.Video.FileID, MimeType: msg.Video.MimeType, FileName: msg.Video.FileName}
	case domain.KindVideoNote:
		ev.Media = &domain.MediaInfo{Locator: msg.VideoNote.FileID, MimeType: "video/mp4"}
	case domain.KindVoice:
		ev.Text = msg.Caption
		ev.Media = &domain.MediaInfo{Locator: msg.Voice.FileID, MimeType: msg.Voice.MimeType}
	case domain.KindLocation:
		loc := &domain.Location{Latitude: msg.Location.Latitude, Longitude: msg.Location.Longitude}
		if msg.Venue != nil {
			loc.Title = msg.Venue.Title
			loc.Address = msg.Venue.Address
		}
		ev.Location = loc
	}

	if r := msg.ReplyToMessage; r != nil {
		ev.Reply = &domain.ReplyContext{MessageID: strconv.Itoa(r.MessageID), Text: r.Text}
		if ev.Reply.Text == "" {
			ev.Reply.Text = r.Caption
		}
		if r.From != nil {
			ev.Reply.AuthorID = strconv.FormatInt(r.From.ID, 10)
		}
	}
	return ev, nil
}

// telegramContentKind probes payload fields in a fixed order; the first one
// present wins.
func telegramContentKind(msg *tgbotapi.Message) domain.ContentKind {
	switch {
	case msg.Text != "":
		return domain.KindText
	case msg.Document != nil:
		return domain.KindDocument
	case msg.Audio != nil:
		return domain.KindAudio
	case len(msg.Photo) > 0:
		return domain.KindImage
	case msg.Video != nil:
		return domain.KindVideo
	case msg.VideoNote != nil:
		return domain.KindVideoNote
	case msg.Voice != nil:
		return domain.KindVoice
	case msg.Location != nil:
		return domain.KindLocation
	default:
		return domain.KindUnknown
	}
}

// largestPhoto returns the last (largest) size Telegram offers.
func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	if len(sizes) == 0 {
		return tgbotapi.PhotoSize{}
	}
	return sizes[len(sizes)-1]
}

// --- Outbound ---

// Send delivers req to a Telegram chat. Long text and captions are split into
// a chain of replies; the id of the last message is returned.
func (t *Telegram) Send(ctx context.Context, req domain.SendRequest) (string, error) {
	chatID, err := strconv.ParseInt(req.To, 10, 64)
	if err != nil {
		return "", domain.Errorf(domain.KindDeliverySend, "telegram send", "invalid chat id %q", req.To)
	}
	replyTo := parseMessageID(req.ReplyTo)

	var last int
	switch req.Kind {
	case domain.KindText:
		if strings.TrimSpace(req.Text+req.Signature) == "" {
			return "", domain.Errorf(domain.KindDeliverySend, "telegram send", "empty text")
		}
		last, err = t.sendChain(chatID, replyTo, t.compose(req.Text, req.Signature, TextLimit))
	case domain.KindDocument, domain.KindAudio, domain.KindVoice, domain.KindImage, domain.KindVideo, domain.KindVideoNote:
		last, err = t.sendMedia(chatID, replyTo, req)
	case domain.KindLocation:
		last, err = t.sendLocation(chatID, replyTo, req)
	default:
		return "", domain.Errorf(domain.KindUnsupportedContent, "telegram send", "cannot send %s", req.Kind)
	}
	if err != nil {
		return "", err
	}
	return strconv.Itoa(last), nil
}

func (t *Telegram) compose(text, signature string, limit int) []string {
	return ComposeChunks(text, signature, limit, t.placement, html.EscapeString)
}

// sendChain sends pre-rendered HTML messages, each replying to the previous.
func (t *Telegram) sendChain(chatID int64, replyTo int, chunks []string) (int, error) {
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		msg.ReplyToMessageID = replyTo
		msg.AllowSendingWithoutReply = true
		sent, err := t.api.Send(msg)
		if err != nil {
			return 0, telegramSendError("send message", err)
		}
		replyTo = sent.MessageID
	}
	return replyTo, nil
}

func (t *Telegram) sendMedia(chatID int64, replyTo int, req domain.SendRequest) (int, error) {
	if req.Media == nil {
		return 0, domain.Errorf(domain.KindMediaUpload, "telegram send", "%s without media", req.Kind)
	}
	file, err := telegramFile(req)
	if err != nil {
		return 0, err
	}
	captions := t.compose(req.Text, req.Signature, CaptionLimit)
	caption := captions[0]

	var c tgbotapi.Chattable
	switch req.Kind {
	case domain.KindDocument:
		doc := tgbotapi.NewDocument(chatID, file)
		doc.Caption, doc.ParseMode = caption, tgbotapi.ModeHTML
		doc.ReplyToMessageID, doc.AllowSendingWithoutReply = replyTo, true
		c = doc
	case domain.KindAudio:
		audio := tgbotapi.NewAudio(chatID, file)
		audio.Caption, audio.ParseMode = caption, tgbotapi.ModeHTML
		audio.ReplyToMessageID, audio.AllowSendingWithoutReply = replyTo, true
		c = audio
	case domain.KindVoice:
		voice := tgbotapi.NewVoice(chatID, file)
		voice.Caption, voice.ParseMode = caption, tgbotapi.ModeHTML
		voice.ReplyToMessageID, voice.AllowSendingWithoutReply = replyTo, true
		c = voice
	case domain.KindImage:
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.Caption, photo.ParseMode = caption, tgbotapi.ModeHTML
		photo.ReplyToMessageID, photo.AllowSendingWithoutReply = replyTo, true
		c = photo
	default:
		video := tgbotapi.NewVideo(chatID, file)
		video.Caption, video.ParseMode = caption, tgbotapi.ModeHTML
		video.ReplyToMessageID, video.AllowSendingWithoutReply = replyTo, true
		c = video
	}

	sent, err := t.api.Send(c)
	if err != nil {
		return 0, telegramSendError("send "+string(req.Kind), err)
	}
	return t.sendChain(chatID, sent.MessageID, captions[1:])
}

// sendLocation sends a venue (or a bare location when title or address is
// missing), then the signature as a reply to it. Telegram locations carry no
// caption.
func (t *Telegram) sendLocation(chatID int64, replyTo int, req domain.SendRequest) (int, error) {
	if req.Location == nil {
		return 0, domain.Errorf(domain.KindUnsupportedContent, "telegram send", "location without coordinates")
	}
	loc := req.Location

	var c tgbotapi.Chattable
	if loc.Title != "" && loc.Address != "" {
		venue := tgbotapi.NewVenue(chatID, loc.Title, loc.Address, loc.Latitude, loc.Longitude)
		venue.ReplyToMessageID, venue.AllowSendingWithoutReply = replyTo, true
		c = venue
	} else {
		point := tgbotapi.NewLocation(chatID, loc.Latitude, loc.Longitude)
		point.ReplyToMessageID, point.AllowSendingWithoutReply = replyTo, true
		c = point
	}
	sent, err := t.api.Send(c)
	if err != nil {
		return 0, telegramSendError("send location", err)
	}

	signature := strings.TrimLeft(req.Signature, "\n")
	if signature == "" {
		return sent.MessageID, nil
	}
	return t.sendChain(chatID, sent.MessageID, t.compose("", signature, TextLimit))
}

func telegramFile(req domain.SendRequest) (tgbotapi.RequestFileData, error) {
	token := req.Media
	if token.Ref == nil || len(token.Ref.Data) == 0 {
		if token.ID != "" {
			return tgbotapi.FileID(token.ID), nil
		}
		return nil, domain.Errorf(domain.KindMediaUpload, "telegram send", "no staged bytes for %s", req.Kind)
	}
	name := req.FileName
	if name == "" {
		name = token.FileName
	}
	name = path.Base(name)
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	if path.Ext(name) == "" {
		name += media.ExtensionFor(token.MimeType)
	}
	return tgbotapi.FileBytes{Name: name, Bytes: token.Ref.Data}, nil
}

func telegramSendError(op string, err error) error {
	// The Bot API client returns *Error; value errors are matched as well.
	var apiPtr *tgbotapi.Error
	if errors.As(err, &apiPtr) && apiPtr != nil {
		return domain.Errorf(domain.KindDeliverySend, "telegram "+op, "api error %d: %s", apiPtr.Code, apiPtr.Message)
	}
	var apiErr tgbotapi.Error
	if errors.As(err, &apiErr) {
		return domain.Errorf(domain.KindDeliverySend, "telegram "+op, "api error %d: %s", apiErr.Code, apiErr.Message)
	}
	return domain.NewError(domain.KindDeliverySend, "telegram "+op, redactURL(err))
}

func parseMessageID(id string) int {
	n, err := strconv.Atoi(id)
	if err != nil {
		return 0
	}
	return n
}

// --- Media ---

// DownloadMedia fetches the file behind ev's file_id.
func (t *Telegram) DownloadMedia(ctx context.Context, ev *domain.InboundEvent) (*domain.MediaReference, error) {
	if ev.Media == nil || ev.Media.Locator == "" {
		return nil, domain.Errorf(domain.KindMediaFetch, "telegram download", "no file id")
	}
	fileURL, err := t.api.GetFileDirectURL(ev.Media.Locator)
	if err != nil {
		return nil, domain.NewError(domain.KindMediaFetch, "telegram get file", redactURL(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, domain.NewError(domain.KindMediaFetch, "telegram download", redactURL(err))
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, domain.NewError(domain.KindMediaFetch, "telegram download", redactURL(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, domain.Errorf(domain.KindMediaFetch, "telegram download", "status %d", resp.StatusCode)
	}
	data, err := media.ReadAllWithLimit(resp.Body, t.maxBytes)
	if err != nil {
		return nil, domain.NewError(domain.KindMediaFetch, "telegram download", err)
	}

	name := ev.Media.FileName
	if name == "" {
		name = fileNameFromURL(fileURL)
	}
	return &domain.MediaReference{
		Locator:  ev.Media.Locator,
		FileName: name,
		MimeType: ev.Media.MimeType,
		Data:     data,
	}, nil
}

// UploadMedia stages bytes for the send call; the Bot API takes uploads
// inline with sendDocument, sendPhoto and friends.
func (t *Telegram) UploadMedia(_ context.Context, ref *domain.MediaReference) (*domain.UploadToken, error) {
	if ref == nil || len(ref.Data) == 0 {
		return nil, domain.Errorf(domain.KindMediaUpload, "telegram upload", "empty media")
	}
	if len(ref.Data) > telegramMaxUploadBytes {
		return nil, domain.Errorf(domain.KindMediaUpload, "telegram upload", "%d bytes exceeds the %d byte upload limit", len(ref.Data), telegramMaxUploadBytes)
	}
	return &domain.UploadToken{MimeType: ref.MimeType, FileName: ref.FileName, Ref: ref}, nil
}

func fileNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
