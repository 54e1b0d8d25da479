package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path"
	"strings"

	"tgwabridge/internal/domain"
	"tgwabridge/internal/media"
)

// DefaultWhatsAppAPIBase is the Graph API root used when none is configured.
const DefaultWhatsAppAPIBase = "https://graph.facebook.com/v21.0"

// WhatsApp is the end-user side of the bridge, backed by the WhatsApp
// Business Cloud API.
type WhatsApp struct {
	token     string
	phoneID   string
	baseURL   string
	client    *http.Client
	maxBytes  int64
	placement SignaturePlacement
	logger    *slog.Logger
}

type WhatsAppConfig struct {
	AccessToken   string
	PhoneNumberID string
	BaseURL       string
	HTTPClient    *http.Client
	MaxMediaBytes int64
	Placement     SignaturePlacement
	Logger        *slog.Logger
}

func NewWhatsApp(cfg WhatsAppConfig) *WhatsApp {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultWhatsAppAPIBase
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(0)
	}
	if cfg.Placement == "" {
		cfg.Placement = SignatureEveryChunk
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WhatsApp{
		token:     cfg.AccessToken,
		phoneID:   cfg.PhoneNumberID,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		client:    cfg.HTTPClient,
		maxBytes:  cfg.MaxMediaBytes,
		placement: cfg.Placement,
		logger:    cfg.Logger,
	}
}

func (w *WhatsApp) Platform() domain.Platform { return domain.PlatformWhatsApp }

// --- Inbound ---

// Normalize parses a webhook notification. Only the first message of the
// first change that carries messages is relayed; status callbacks are no-ops.
func (w *WhatsApp) Normalize(raw []byte) (*domain.InboundEvent, error) {
	var payload waPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, domain.NewError(domain.KindMalformedPayload, "whatsapp decode", err)
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if len(change.Value.Messages) == 0 {
				continue
			}
			return whatsappEvent(change.Value.Messages[0], change.Value.Contacts)
		}
	}
	return nil, domain.ErrNoop
}

func whatsappEvent(msg waMessage, profiles []waProfile) (*domain.InboundEvent, error) {
	if msg.From == "" {
		return nil, domain.Errorf(domain.KindMalformedPayload, "whatsapp decode", "message %q has no sender", msg.ID)
	}

	ev := &domain.InboundEvent{
		Source:            domain.PlatformWhatsApp,
		SenderID:          msg.From,
		SenderName:        profileName(profiles, msg.From),
		ChatID:            msg.From,
		ExternalMessageID: msg.ID,
	}

	malformed := func() (*domain.InboundEvent, error) {
		return nil, domain.Errorf(domain.KindMalformedPayload, "whatsapp decode", "%s message %q without %s body", msg.Type, msg.ID, msg.Type)
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return malformed()
		}
		ev.Kind, ev.Text = domain.KindText, msg.Text.Body
	case "image":
		if msg.Image == nil {
			return malformed()
		}
		ev.Kind = domain.KindImage
		setMedia(ev, msg.Image)
	case "document":
		if msg.Document == nil {
			return malformed()
		}
		ev.Kind = domain.KindDocument
		setMedia(ev, msg.Document)
	case "audio":
		if msg.Audio == nil {
			return malformed()
		}
		ev.Kind = domain.KindAudio
		if msg.Audio.Voice {
			ev.Kind = domain.KindVoice
		}
		setMedia(ev, msg.Audio)
	case "video":
		if msg.Video == nil {
			return malformed()
		}
		ev.Kind = domain.KindVideo
		setMedia(ev, msg.Video)
	case "location":
		if msg.Location == nil {
			return malformed()
		}
		ev.Kind = domain.KindLocation
		ev.Location = &domain.Location{
			Latitude:  msg.Location.Latitude,
			Longitude: msg.Location.Longitude,
			Title:     msg.Location.Name,
			Address:   msg.Location.Address,
		}
	case "contacts":
		ev.Kind = domain.KindContacts
		for _, c := range msg.Contacts {
			contact := domain.Contact{Name: c.Name.FirstName}
			if contact.Name == "" {
				contact.Name = c.Name.FormattedName
			}
			if len(c.Phones) > 0 {
				contact.Phone = c.Phones[0].WaID
				if contact.Phone == "" {
					contact.Phone = c.Phones[0].Phone
				}
			}
			ev.Contacts = append(ev.Contacts, contact)
		}
	default:
		ev.Kind = domain.KindUnknown
	}
	return ev, nil
}

func setMedia(ev *domain.InboundEvent, m *waMedia) {
	ev.Text = m.Caption
	ev.Media = &domain.MediaInfo{Locator: m.ID, MimeType: m.MimeType, FileName: m.Filename}
}

// profileName picks the profile matching waID, else the first one.
func profileName(profiles []waProfile, waID string) string {
	for _, p := range profiles {
		if p.WaID == waID {
			return p.Profile.Name
		}
	}
	if len(profiles) > 0 {
		return profiles[0].Profile.Name
	}
	return ""
}

// --- Outbound ---

// Send delivers req to a WhatsApp user. Text longer than the limit goes out
// as several messages; captions that do not fit follow the media as text.
func (w *WhatsApp) Send(ctx context.Context, req domain.SendRequest) (string, error) {
	if req.To == "" {
		return "", domain.Errorf(domain.KindDeliverySend, "whatsapp send", "no recipient")
	}

	switch req.Kind {
	case domain.KindText:
		if strings.TrimSpace(req.Text+req.Signature) == "" {
			return "", domain.Errorf(domain.KindDeliverySend, "whatsapp send", "empty text")
		}
		return w.sendTexts(ctx, req.To, req.ReplyTo, ComposeChunks(req.Text, req.Signature, TextLimit, w.placement, nil))

	case domain.KindDocument, domain.KindImage, domain.KindVideo, domain.KindVideoNote:
		if req.Media == nil || req.Media.ID == "" {
			return "", domain.Errorf(domain.KindMediaUpload, "whatsapp send", "%s without media id", req.Kind)
		}
		captions := ComposeChunks(req.Text, req.Signature, CaptionLimit, w.placement, nil)
		obj := &waOutMedia{ID: req.Media.ID, Caption: captions[0]}
		msg := w.outbound(req.To, req.ReplyTo)
		switch req.Kind {
		case domain.KindDocument:
			obj.Filename = req.FileName
			if obj.Filename == "" {
				obj.Filename = req.Media.FileName
			}
			msg.Type, msg.Document = "document", obj
		case domain.KindImage:
			msg.Type, msg.Image = "image", obj
		default:
			msg.Type, msg.Video = "video", obj
		}
		id, err := w.postMessage(ctx, msg)
		if err != nil {
			return "", err
		}
		return w.sendTexts(ctx, req.To, id, captions[1:])

	case domain.KindAudio, domain.KindVoice:
		// Audio messages carry no caption, so any text follows as replies.
		if req.Media == nil || req.Media.ID == "" {
			return "", domain.Errorf(domain.KindMediaUpload, "whatsapp send", "%s without media id", req.Kind)
		}
		msg := w.outbound(req.To, req.ReplyTo)
		msg.Type, msg.Audio = "audio", &waOutMedia{ID: req.Media.ID}
		id, err := w.postMessage(ctx, msg)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(req.Text+req.Signature) == "" {
			return id, nil
		}
		return w.sendTexts(ctx, req.To, id, ComposeChunks(req.Text, req.Signature, TextLimit, w.placement, nil))

	case domain.KindLocation:
		if req.Location == nil {
			return "", domain.Errorf(domain.KindUnsupportedContent, "whatsapp send", "location without coordinates")
		}
		msg := w.outbound(req.To, req.ReplyTo)
		msg.Type = "location"
		msg.Location = &waOutLocation{
			Latitude:  req.Location.Latitude,
			Longitude: req.Location.Longitude,
			Name:      req.Location.Title,
			Address:   req.Location.Address,
		}
		return w.postMessage(ctx, msg)

	default:
		return "", domain.Errorf(domain.KindUnsupportedContent, "whatsapp send", "cannot send %s", req.Kind)
	}
}

func (w *WhatsApp) outbound(to, replyTo string) *waOutbound {
	msg := &waOutbound{MessagingProduct: "whatsapp", RecipientType: "individual", To: to}
	if replyTo != "" {
		msg.Context = &waOutContext{MessageID: replyTo}
	}
	return msg
}

// sendTexts sends chunks in order, each replying to the previous message.
// It returns the id of the last message sent, or replyTo if nothing was sent.
func (w *WhatsApp) sendTexts(ctx context.Context, to, replyTo string, chunks []string) (string, error) {
	last := replyTo
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		msg := w.outbound(to, last)
		msg.Type, msg.Text = "text", &waOutText{Body: chunk}
		id, err := w.postMessage(ctx, msg)
		if err != nil {
			return "", err
		}
		last = id
	}
	return last, nil
}

func (w *WhatsApp) postMessage(ctx context.Context, msg *waOutbound) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", domain.NewError(domain.KindDeliverySend, "whatsapp marshal", err)
	}

	url := fmt.Sprintf("%s/%s/messages", w.baseURL, w.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", domain.NewError(domain.KindDeliverySend, "whatsapp send", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.token)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", domain.NewError(domain.KindDeliverySend, "whatsapp send", err)
	}
	defer resp.Body.Close()

	var out waSendResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || out.Error != nil {
		return "", domain.NewError(domain.KindDeliverySend, "whatsapp send "+msg.Type, graphError(resp.StatusCode, out.Error))
	}
	if decodeErr != nil || len(out.Messages) == 0 {
		return "", domain.Errorf(domain.KindDeliverySend, "whatsapp send "+msg.Type, "response without message id")
	}

	w.logger.Debug("whatsapp message sent", "type", msg.Type, "id", out.Messages[0].ID)
	return out.Messages[0].ID, nil
}

func graphError(status int, apiErr *waAPIError) error {
	if apiErr != nil {
		return fmt.Errorf("graph api %d: %w", status, apiErr)
	}
	return fmt.Errorf("graph api status %d", status)
}

// --- Media ---

// DownloadMedia resolves the media id to a short-lived URL and fetches it.
// Both calls carry the access token.
func (w *WhatsApp) DownloadMedia(ctx context.Context, ev *domain.InboundEvent) (*domain.MediaReference, error) {
	if ev.Media == nil || ev.Media.Locator == "" {
		return nil, domain.Errorf(domain.KindMediaFetch, "whatsapp download", "no media id")
	}
	mediaID := ev.Media.Locator

	resp, err := w.get(ctx, w.baseURL+"/"+mediaID)
	if err != nil {
		return nil, domain.NewError(domain.KindMediaFetch, "whatsapp media lookup", err)
	}
	var info waMediaURL
	err = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info)
	resp.Body.Close()
	if err != nil {
		return nil, domain.NewError(domain.KindMediaFetch, "whatsapp media lookup", err)
	}
	if info.URL == "" {
		return nil, domain.Errorf(domain.KindMediaFetch, "whatsapp media lookup", "no url for media %s", mediaID)
	}

	resp, err = w.get(ctx, info.URL)
	if err != nil {
		return nil, domain.NewError(domain.KindMediaFetch, "whatsapp download", redactURL(err))
	}
	defer resp.Body.Close()
	data, err := media.ReadAllWithLimit(resp.Body, w.maxBytes)
	if err != nil {
		return nil, domain.NewError(domain.KindMediaFetch, "whatsapp download", err)
	}

	mimeType := ev.Media.MimeType
	if mimeType == "" {
		mimeType = info.MimeType
	}
	name := ev.Media.FileName
	if name == "" {
		name = mediaID
	}
	return &domain.MediaReference{
		Locator:  mediaID,
		URL:      info.URL,
		FileName: name,
		MimeType: mimeType,
		Data:     data,
	}, nil
}

func (w *WhatsApp) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+w.token)
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		var out struct {
			Error *waAPIError `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out)
		resp.Body.Close()
		return nil, graphError(resp.StatusCode, out.Error)
	}
	return resp, nil
}

// UploadMedia posts the bytes to the phone number's media endpoint and
// returns the media id to reference in the send call.
func (w *WhatsApp) UploadMedia(ctx context.Context, ref *domain.MediaReference) (*domain.UploadToken, error) {
	if ref == nil || len(ref.Data) == 0 {
		return nil, domain.Errorf(domain.KindMediaUpload, "whatsapp upload", "empty media")
	}
	mimeType := ref.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	name := path.Base(ref.FileName)
	if name == "." || name == "/" || name == "" {
		name = "file"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("messaging_product", "whatsapp")
	_ = mw.WriteField("type", mimeType)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, domain.NewError(domain.KindMediaUpload, "whatsapp upload", err)
	}
	if _, err := part.Write(ref.Data); err != nil {
		return nil, domain.NewError(domain.KindMediaUpload, "whatsapp upload", err)
	}
	if err := mw.Close(); err != nil {
		return nil, domain.NewError(domain.KindMediaUpload, "whatsapp upload", err)
	}

	url := fmt.Sprintf("%s/%s/media", w.baseURL, w.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, domain.NewError(domain.KindMediaUpload, "whatsapp upload", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+w.token)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, domain.NewError(domain.KindMediaUpload, "whatsapp upload", err)
	}
	defer resp.Body.Close()

	var out waUploadResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out)
	if resp.StatusCode != http.StatusOK || out.Error != nil {
		return nil, domain.NewError(domain.KindMediaUpload, "whatsapp upload", graphError(resp.StatusCode, out.Error))
	}
	if decodeErr != nil || out.ID == "" {
		return nil, domain.Errorf(domain.KindMediaUpload, "whatsapp upload", "response without media id")
	}

	w.logger.Debug("whatsapp media uploaded", "id", out.ID, "type", mimeType, "bytes", len(ref.Data))
	return &domain.UploadToken{ID: out.ID, MimeType: mimeType, FileName: name}, nil
}
