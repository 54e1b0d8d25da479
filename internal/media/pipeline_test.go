package media

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgwabridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type stubAdapter struct {
	platform    domain.Platform
	ref         *domain.MediaReference
	downloadErr error
	uploadErr   error
	uploaded    []*domain.MediaReference
}

func (s *stubAdapter) Platform() domain.Platform { return s.platform }

func (s *stubAdapter) Normalize([]byte) (*domain.InboundEvent, error) { return nil, domain.ErrNoop }

func (s *stubAdapter) Send(context.Context, domain.SendRequest) (string, error) { return "", nil }

func (s *stubAdapter) DownloadMedia(context.Context, *domain.InboundEvent) (*domain.MediaReference, error) {
	if s.downloadErr != nil {
		return nil, s.downloadErr
	}
	ref := *s.ref
	return &ref, nil
}

func (s *stubAdapter) UploadMedia(_ context.Context, ref *domain.MediaReference) (*domain.UploadToken, error) {
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	s.uploaded = append(s.uploaded, ref)
	return &domain.UploadToken{ID: "media-1"}, nil
}

func voiceEvent() *domain.InboundEvent {
	return &domain.InboundEvent{
		Source: domain.PlatformTelegram,
		Kind:   domain.KindVoice,
		Media:  &domain.MediaInfo{Locator: "file-1", MimeType: "audio/ogg"},
	}
}

func TestTransfer_OverrideMime(t *testing.T) {
	src := &stubAdapter{platform: domain.PlatformTelegram, ref: &domain.MediaReference{FileName: "voice/file_3.oga", MimeType: "audio/ogg", Data: []byte("OggS")}}
	dst := &stubAdapter{platform: domain.PlatformWhatsApp}

	token, err := NewPipeline(testLogger()).Transfer(context.Background(), voiceEvent(), src, dst, VoiceMimeType)
	require.NoError(t, err)
	assert.Equal(t, "media-1", token.ID)
	assert.Equal(t, VoiceMimeType, token.MimeType)
	assert.Equal(t, "voice/file_3.oga", token.FileName)
	require.Len(t, dst.uploaded, 1)
	assert.Equal(t, VoiceMimeType, dst.uploaded[0].MimeType)
}

func TestTransfer_InfersFromFileName(t *testing.T) {
	src := &stubAdapter{platform: domain.PlatformTelegram, ref: &domain.MediaReference{FileName: "documents/file_9.pdf", MimeType: "application/octet-stream", Data: []byte("%PDF")}}
	dst := &stubAdapter{platform: domain.PlatformWhatsApp}

	token, err := NewPipeline(testLogger()).Transfer(context.Background(), voiceEvent(), src, dst, "")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", token.MimeType)
}

func TestTransfer_PropagatesFetchError(t *testing.T) {
	fetchErr := domain.NewError(domain.KindMediaFetch, "download", errors.New("404"))
	src := &stubAdapter{platform: domain.PlatformTelegram, downloadErr: fetchErr}
	dst := &stubAdapter{platform: domain.PlatformWhatsApp}

	_, err := NewPipeline(testLogger()).Transfer(context.Background(), voiceEvent(), src, dst, "")
	assert.Same(t, fetchErr, err)
	assert.Empty(t, dst.uploaded)
}

func TestTransfer_PropagatesUploadError(t *testing.T) {
	uploadErr := domain.NewError(domain.KindMediaUpload, "upload", errors.New("415"))
	src := &stubAdapter{platform: domain.PlatformWhatsApp, ref: &domain.MediaReference{FileName: "a.jpg", Data: []byte{1}}}
	dst := &stubAdapter{platform: domain.PlatformTelegram, uploadErr: uploadErr}

	_, err := NewPipeline(testLogger()).Transfer(context.Background(), voiceEvent(), src, dst, "")
	assert.ErrorIs(t, err, domain.ErrMediaUpload)
}

func TestTransfer_MissingLocator(t *testing.T) {
	ev := &domain.InboundEvent{Kind: domain.KindDocument}
	_, err := NewPipeline(testLogger()).Transfer(context.Background(), ev, &stubAdapter{}, &stubAdapter{}, "")
	assert.ErrorIs(t, err, domain.ErrMediaFetch)
}
