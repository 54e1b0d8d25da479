package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgwabridge/internal/correlation"
	"tgwabridge/internal/domain"
	"tgwabridge/internal/metrics"
)

const (
	groupID = "-100500"
	botID   = "999"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeAdapter decodes raw payloads as JSON InboundEvents and records every
// send and upload.
type fakeAdapter struct {
	platform domain.Platform

	mu          sync.Mutex
	sends       []domain.SendRequest
	uploads     []*domain.MediaReference
	nextID      int
	sendErr     error
	downloadErr error
	uploadErr   error
}

func newFake(p domain.Platform) *fakeAdapter {
	return &fakeAdapter{platform: p, nextID: 100}
}

func (f *fakeAdapter) Platform() domain.Platform { return f.platform }

func (f *fakeAdapter) Normalize(raw []byte) (*domain.InboundEvent, error) {
	switch string(raw) {
	case "noop":
		return nil, domain.ErrNoop
	case "garbage":
		return nil, domain.Errorf(domain.KindMalformedPayload, "decode", "bad json")
	}
	var ev domain.InboundEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, domain.NewError(domain.KindMalformedPayload, "decode", err)
	}
	ev.Source = f.platform
	return &ev, nil
}

func (f *fakeAdapter) Send(_ context.Context, req domain.SendRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, req)
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.nextID++
	return strconv.Itoa(f.nextID), nil
}

func (f *fakeAdapter) DownloadMedia(_ context.Context, ev *domain.InboundEvent) (*domain.MediaReference, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return &domain.MediaReference{
		Locator:  ev.Media.Locator,
		FileName: ev.Media.FileName,
		MimeType: ev.Media.MimeType,
		Data:     []byte("bytes"),
	}, nil
}

func (f *fakeAdapter) UploadMedia(_ context.Context, ref *domain.MediaReference) (*domain.UploadToken, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, ref)
	return &domain.UploadToken{ID: "up-" + strconv.Itoa(len(f.uploads)), MimeType: ref.MimeType, FileName: ref.FileName}, nil
}

func (f *fakeAdapter) sent() []domain.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SendRequest(nil), f.sends...)
}

type failingStore struct{ *correlation.MemoryStore }

func (failingStore) Lookup(context.Context, string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}

type harness struct {
	tg, wa *fakeAdapter
	store  domain.CorrelationStore
	router *Router
}

func newHarness(t *testing.T, mutate ...func(rc *RelayContext)) *harness {
	t.Helper()
	h := &harness{
		tg:    newFake(domain.PlatformTelegram),
		wa:    newFake(domain.PlatformWhatsApp),
		store: correlation.NewMemoryStore(),
	}
	rc := &RelayContext{
		Telegram:    h.tg,
		WhatsApp:    h.wa,
		Store:       h.store,
		GroupChatID: groupID,
		BotID:       botID,
		Metrics:     metrics.NewCollector(),
		Logger:      testLogger(),
	}
	for _, m := range mutate {
		m(rc)
	}
	h.store = rc.Store
	h.router = NewRouter(rc)
	return h
}

func payload(t *testing.T, ev domain.InboundEvent) []byte {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return raw
}

func userText(number, text string) domain.InboundEvent {
	return domain.InboundEvent{SenderID: number, SenderName: "Ivan", ChatID: number, Kind: domain.KindText, Text: text, ExternalMessageID: "wamid.1"}
}

func operatorReply(kind domain.ContentKind, repliedText string) domain.InboundEvent {
	return domain.InboundEvent{
		SenderID:          "42",
		SenderName:        "Olga",
		ChatID:            groupID,
		Kind:              kind,
		Text:              "on it",
		ExternalMessageID: "777",
		Reply:             &domain.ReplyContext{MessageID: "500", AuthorID: botID, Text: repliedText},
	}
}

const relayedText = "Hello\n\n~whatsapp Ivan +79991234567 #ID79991234567"

// --- WhatsApp -> Telegram ---

func TestRelayFromWhatsApp_TextThreadsUnderPreviousMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.router.RelayFromWhatsApp(ctx, payload(t, userText("79991234567", "hi")))
	require.Equal(t, StatusCompleted, first.Status, first.Err)
	assert.Equal(t, "101", first.MessageID)
	assert.NotEmpty(t, first.RelayID)

	second := h.router.RelayFromWhatsApp(ctx, payload(t, userText("79991234567", "again")))
	require.Equal(t, StatusCompleted, second.Status)

	sends := h.tg.sent()
	require.Len(t, sends, 2)
	assert.Equal(t, groupID, sends[0].To)
	assert.Empty(t, sends[0].ReplyTo)
	assert.Equal(t, "101", sends[1].ReplyTo)
	assert.Equal(t, Signature("79991234567", "Ivan"), sends[0].Signature)

	id, found, err := h.store.Lookup(ctx, "789991234567")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "102", id)

	n, _ := h.store.(correlation.Counter).Count(ctx)
	assert.Equal(t, int64(1), n)
}

func TestRelayFromWhatsApp_VoiceSentAsAudio(t *testing.T) {
	h := newHarness(t)
	ev := domain.InboundEvent{
		SenderID: "380501234567", Kind: domain.KindVoice,
		Media: &domain.MediaInfo{Locator: "media-1", MimeType: "audio/ogg"},
	}
	out := h.router.RelayFromWhatsApp(context.Background(), payload(t, ev))
	require.Equal(t, StatusCompleted, out.Status, out.Err)

	sends := h.tg.sent()
	require.Len(t, sends, 1)
	assert.Equal(t, domain.KindAudio, sends[0].Kind)
	require.NotNil(t, sends[0].Media)
	assert.Equal(t, "up-1", sends[0].Media.ID)
	assert.Equal(t, "audio/ogg", h.tg.uploads[0].MimeType)
}

func TestRelayFromWhatsApp_ContactBecomesText(t *testing.T) {
	h := newHarness(t)
	ev := domain.InboundEvent{SenderID: "1", Kind: domain.KindContacts, Contacts: []domain.Contact{{Name: "Anna", Phone: "7999"}}}
	out := h.router.RelayFromWhatsApp(context.Background(), payload(t, ev))
	require.Equal(t, StatusCompleted, out.Status, out.Err)

	sends := h.tg.sent()
	require.Len(t, sends, 1)
	assert.Equal(t, domain.KindText, sends[0].Kind)
	assert.Equal(t, "Contact: Anna +7999", sends[0].Text)
}

func TestRelayFromWhatsApp_LocationCarriesNoText(t *testing.T) {
	h := newHarness(t)
	loc := &domain.Location{Latitude: 1, Longitude: 2, Title: "Cafe", Address: "Street 1"}
	ev := domain.InboundEvent{SenderID: "1", Kind: domain.KindLocation, Location: loc}
	out := h.router.RelayFromWhatsApp(context.Background(), payload(t, ev))
	require.Equal(t, StatusCompleted, out.Status, out.Err)
	assert.Equal(t, loc, h.tg.sent()[0].Location)
}

func TestRelayFromWhatsApp_UnsupportedNotifiesUser(t *testing.T) {
	h := newHarness(t)
	ev := domain.InboundEvent{SenderID: "79991234567", Kind: domain.KindUnknown}
	out := h.router.RelayFromWhatsApp(context.Background(), payload(t, ev))

	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, domain.ErrUnsupportedContent)
	assert.True(t, out.Notified)
	assert.Empty(t, h.tg.sent())

	notes := h.wa.sent()
	require.Len(t, notes, 1)
	assert.Equal(t, "789991234567", notes[0].To)
	assert.Equal(t, DefaultNotifications().UserUnsupported, notes[0].Text)
}

func TestRelayFromWhatsApp_DeliveryFailureNotifiesOnce(t *testing.T) {
	h := newHarness(t)
	h.tg.sendErr = domain.Errorf(domain.KindDeliverySend, "telegram send", "chat not found")
	h.wa.sendErr = errors.New("graph api down")

	out := h.router.RelayFromWhatsApp(context.Background(), payload(t, userText("1", "hi")))
	assert.Equal(t, StatusFailed, out.Status)
	assert.False(t, out.Notified)
	assert.Len(t, h.wa.sent(), 1, "a failed notification is never retried")

	_, found, _ := h.store.Lookup(context.Background(), "1")
	assert.False(t, found)
}

func TestRelayFromWhatsApp_MediaFailureMessage(t *testing.T) {
	h := newHarness(t)
	h.wa.downloadErr = domain.Errorf(domain.KindMediaFetch, "whatsapp download", "status 404")
	ev := domain.InboundEvent{SenderID: "1", Kind: domain.KindImage, Media: &domain.MediaInfo{Locator: "m"}}

	out := h.router.RelayFromWhatsApp(context.Background(), payload(t, ev))
	assert.ErrorIs(t, out.Err, domain.ErrMediaFetch)
	require.Len(t, h.wa.sent(), 1)
	assert.Equal(t, DefaultNotifications().UserMedia, h.wa.sent()[0].Text)
}

func TestRelayFromWhatsApp_SkipsNoopAndMalformed(t *testing.T) {
	h := newHarness(t)

	out := h.router.RelayFromWhatsApp(context.Background(), []byte("noop"))
	assert.Equal(t, StatusSkipped, out.Status)
	assert.NoError(t, out.Err)

	out = h.router.RelayFromWhatsApp(context.Background(), []byte("garbage"))
	assert.Equal(t, StatusSkipped, out.Status)
	assert.ErrorIs(t, out.Err, domain.ErrMalformedPayload)

	assert.Empty(t, h.tg.sent())
	assert.Empty(t, h.wa.sent())
}

func TestRelayFromWhatsApp_StoreFailurePolicy(t *testing.T) {
	t.Run("degrade relays without thread", func(t *testing.T) {
		h := newHarness(t, func(rc *RelayContext) { rc.Store = failingStore{correlation.NewMemoryStore()} })
		out := h.router.RelayFromWhatsApp(context.Background(), payload(t, userText("1", "hi")))
		require.Equal(t, StatusCompleted, out.Status)
		assert.Empty(t, h.tg.sent()[0].ReplyTo)
	})

	t.Run("abort fails the relay", func(t *testing.T) {
		h := newHarness(t, func(rc *RelayContext) {
			rc.Store = failingStore{correlation.NewMemoryStore()}
			rc.Policy.StoreFailure = StoreFailureAbort
		})
		out := h.router.RelayFromWhatsApp(context.Background(), payload(t, userText("1", "hi")))
		assert.Equal(t, StatusFailed, out.Status)
		assert.ErrorIs(t, out.Err, domain.ErrStoreUnavailable)
		assert.Empty(t, h.tg.sent())
		require.Len(t, h.wa.sent(), 1)
		assert.Equal(t, DefaultNotifications().UserDelivery, h.wa.sent()[0].Text)
	})
}

func TestRelayFromWhatsApp_EmptyCaptionRequired(t *testing.T) {
	h := newHarness(t, func(rc *RelayContext) { rc.Policy.EmptyCaption = EmptyCaptionRequired })
	ev := domain.InboundEvent{SenderID: "1", Kind: domain.KindLocation, Location: &domain.Location{Latitude: 1, Longitude: 2}}

	out := h.router.RelayFromWhatsApp(context.Background(), payload(t, ev))
	assert.ErrorIs(t, out.Err, domain.ErrUnsupportedContent)
	assert.Empty(t, h.tg.sent())
}

// --- Telegram -> WhatsApp ---

func TestRelayFromTelegram_TextToRecoveredNumber(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out := h.router.RelayFromTelegram(ctx, payload(t, operatorReply(domain.KindText, relayedText)))
	require.Equal(t, StatusCompleted, out.Status, out.Err)

	sends := h.wa.sent()
	require.Len(t, sends, 1)
	assert.Equal(t, "789991234567", sends[0].To)
	assert.Equal(t, "on it", sends[0].Text)
	assert.Empty(t, sends[0].Signature)

	id, found, _ := h.store.Lookup(ctx, "789991234567")
	assert.True(t, found)
	assert.Equal(t, "777", id)
}

func TestRelayFromTelegram_OperatorSignature(t *testing.T) {
	h := newHarness(t, func(rc *RelayContext) { rc.Policy.SignOperator = true })
	out := h.router.RelayFromTelegram(context.Background(), payload(t, operatorReply(domain.KindText, relayedText)))
	require.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, "\n\n~Olga", h.wa.sent()[0].Signature)
}

func TestRelayFromTelegram_IgnoresNonBotReplies(t *testing.T) {
	tests := []struct {
		name string
		ev   func() domain.InboundEvent
	}{
		{"no reply", func() domain.InboundEvent {
			ev := operatorReply(domain.KindText, relayedText)
			ev.Reply = nil
			return ev
		}},
		{"reply to a person", func() domain.InboundEvent {
			ev := operatorReply(domain.KindText, relayedText)
			ev.Reply.AuthorID = "42"
			return ev
		}},
		{"other chat", func() domain.InboundEvent {
			ev := operatorReply(domain.KindText, relayedText)
			ev.ChatID = "-1"
			return ev
		}},
		{"reply to an error notification", func() domain.InboundEvent {
			return operatorReply(domain.KindText, DefaultNotifications().GroupDelivery)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			out := h.router.RelayFromTelegram(context.Background(), payload(t, tt.ev()))
			assert.Equal(t, StatusSkipped, out.Status)
			assert.NoError(t, out.Err)
			assert.Empty(t, h.wa.sent())
			assert.Empty(t, h.tg.sent())
		})
	}
}

func TestRelayFromTelegram_MissingNumberNotifiesGroup(t *testing.T) {
	h := newHarness(t)
	out := h.router.RelayFromTelegram(context.Background(), payload(t, operatorReply(domain.KindText, "no number here")))

	assert.ErrorIs(t, out.Err, domain.ErrMissingPhoneNumber)
	assert.True(t, out.Notified)
	assert.Empty(t, h.wa.sent())

	notes := h.tg.sent()
	require.Len(t, notes, 1)
	assert.Equal(t, groupID, notes[0].To)
	assert.Equal(t, "777", notes[0].ReplyTo)
	assert.Equal(t, "Phone number not found", notes[0].Text)
}

func TestRelayFromTelegram_DocumentUploadFailure(t *testing.T) {
	h := newHarness(t)
	h.wa.uploadErr = domain.Errorf(domain.KindMediaUpload, "whatsapp upload", "graph api 400")
	ev := operatorReply(domain.KindDocument, relayedText)
	ev.Media = &domain.MediaInfo{Locator: "file-1", FileName: "invoice.pdf", MimeType: "application/pdf"}

	out := h.router.RelayFromTelegram(context.Background(), payload(t, ev))

	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, domain.ErrMediaUpload)
	assert.Empty(t, h.wa.sent(), "no WhatsApp send after a failed upload")

	notes := h.tg.sent()
	require.Len(t, notes, 1)
	assert.Equal(t, "777", notes[0].ReplyTo)
	assert.Equal(t, "Error uploading media", notes[0].Text)
}

func TestRelayFromTelegram_DocumentCaptionFollows(t *testing.T) {
	h := newHarness(t)
	ev := operatorReply(domain.KindDocument, relayedText)
	ev.Media = &domain.MediaInfo{Locator: "file-1", FileName: "invoice.2024.pdf", MimeType: "application/pdf"}

	out := h.router.RelayFromTelegram(context.Background(), payload(t, ev))
	require.Equal(t, StatusCompleted, out.Status, out.Err)

	sends := h.wa.sent()
	require.Len(t, sends, 2)
	assert.Equal(t, domain.KindDocument, sends[0].Kind)
	assert.Equal(t, "invoice.2024", sends[0].Text)
	assert.Equal(t, "invoice.2024.pdf", sends[0].FileName)
	assert.Equal(t, domain.KindText, sends[1].Kind)
	assert.Equal(t, "on it", sends[1].Text)
	assert.Equal(t, "101", sends[1].ReplyTo)
	assert.Equal(t, "102", out.MessageID)
}

func TestRelayFromTelegram_VoiceRelabelled(t *testing.T) {
	h := newHarness(t)
	ev := operatorReply(domain.KindVoice, relayedText)
	ev.Text = ""
	ev.Media = &domain.MediaInfo{Locator: "voice-1", MimeType: "audio/ogg"}

	out := h.router.RelayFromTelegram(context.Background(), payload(t, ev))
	require.Equal(t, StatusCompleted, out.Status, out.Err)

	require.Len(t, h.wa.uploads, 1)
	assert.Equal(t, "audio/opus", h.wa.uploads[0].MimeType)
	assert.Equal(t, domain.KindAudio, h.wa.sent()[0].Kind)
}

func TestRelayFromTelegram_VideoNoteSentAsVideo(t *testing.T) {
	h := newHarness(t)
	ev := operatorReply(domain.KindVideoNote, relayedText)
	ev.Media = &domain.MediaInfo{Locator: "vn-1", MimeType: "video/mp4"}

	out := h.router.RelayFromTelegram(context.Background(), payload(t, ev))
	require.Equal(t, StatusCompleted, out.Status, out.Err)
	assert.Equal(t, domain.KindVideo, h.wa.sent()[0].Kind)
}

func TestRelayFromTelegram_UnsupportedKind(t *testing.T) {
	h := newHarness(t)
	out := h.router.RelayFromTelegram(context.Background(), payload(t, operatorReply(domain.KindUnknown, relayedText)))

	assert.ErrorIs(t, out.Err, domain.ErrUnsupportedContent)
	require.Len(t, h.tg.sent(), 1)
	assert.Equal(t, "Content error", h.tg.sent()[0].Text)
}

func TestRelayFromTelegram_DeliveryFailure(t *testing.T) {
	h := newHarness(t)
	h.wa.sendErr = domain.Errorf(domain.KindDeliverySend, "whatsapp send", "graph api 400")

	out := h.router.RelayFromTelegram(context.Background(), payload(t, operatorReply(domain.KindText, relayedText)))
	assert.True(t, out.Notified)
	assert.Equal(t, "Error sending message", h.tg.sent()[0].Text)

	_, found, _ := h.store.Lookup(context.Background(), "789991234567")
	assert.False(t, found)
}

func TestRouter_CanceledContextStillRelays(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := h.router.RelayFromWhatsApp(ctx, payload(t, userText("1", "hi")))
	assert.Equal(t, StatusCompleted, out.Status)
}

func TestRouter_RelayByDirection(t *testing.T) {
	h := newHarness(t)
	out := h.router.Relay(context.Background(), WhatsAppToTelegram, payload(t, userText("1", "hi")))
	assert.Equal(t, StatusCompleted, out.Status)

	out = h.router.Relay(context.Background(), Direction("sideways"), nil)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Error(t, out.Err)
}
