// Package media moves binary attachments between platforms.
package media

import (
	"context"
	"log/slog"

	"tgwabridge/internal/domain"
)

// Pipeline downloads an attachment from one adapter and uploads it to
// another. It never retries.
type Pipeline struct {
	logger *slog.Logger
}

func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{logger: logger}
}

// Transfer fetches ev's attachment from src and uploads it to dst. When
// overrideMime is set it replaces whatever type the source reported. The
// error of the first failing stage is returned unchanged.
func (p *Pipeline) Transfer(ctx context.Context, ev *domain.InboundEvent, src, dst domain.Adapter, overrideMime string) (*domain.UploadToken, error) {
	if ev.Media == nil || ev.Media.Locator == "" {
		return nil, domain.Errorf(domain.KindMediaFetch, "transfer", "%s event has no media locator", ev.Kind)
	}

	ref, err := src.DownloadMedia(ctx, ev)
	if err != nil {
		return nil, err
	}
	ref.MimeType = ResolveType(overrideMime, ref.FileName, ref.MimeType, ref.Data)

	p.logger.Debug("media downloaded",
		"from", src.Platform(),
		"to", dst.Platform(),
		"kind", ev.Kind,
		"mime", ref.MimeType,
		"bytes", len(ref.Data),
	)

	token, err := dst.UploadMedia(ctx, ref)
	if err != nil {
		return nil, err
	}
	if token.MimeType == "" {
		token.MimeType = ref.MimeType
	}
	if token.FileName == "" {
		token.FileName = ref.FileName
	}
	return token, nil
}
