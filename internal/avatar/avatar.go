// Package avatar mirrors provider profile images into our own CDN so accounts
// do not depend on provider-hosted URLs. Mirroring is best-effort.
package avatar

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// Mirror stores a copy of a remote avatar and returns its hosted URL.
type Mirror interface {
	MirrorAvatar(ctx context.Context, sourceURL string, accountHint string) string
}

// CloudinaryMirror uploads avatars to Cloudinary.
type CloudinaryMirror struct {
	cld    *cloudinary.Cloudinary
	folder string
	logger *slog.Logger
}

// NewCloudinaryMirror constructs a CloudinaryMirror.
func NewCloudinaryMirror(cloudName, apiKey, apiSecret, folder string, logger *slog.Logger) (*CloudinaryMirror, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("avatar: init cloudinary: %w", err)
	}
	return &CloudinaryMirror{cld: cld, folder: folder, logger: logger}, nil
}

// NewCloudinaryMirrorFromURL constructs a CloudinaryMirror from a
// cloudinary:// connection URL.
func NewCloudinaryMirrorFromURL(url, folder string, logger *slog.Logger) (*CloudinaryMirror, error) {
	cld, err := cloudinary.NewFromURL(url)
	if err != nil {
		return nil, fmt.Errorf("avatar: init cloudinary: %w", err)
	}
	return &CloudinaryMirror{cld: cld, folder: folder, logger: logger}, nil
}

var _ Mirror = (*CloudinaryMirror)(nil)

// MirrorAvatar uploads the remote image by URL. On any failure it logs and
// returns the source URL unchanged so signup never blocks on an avatar.
func (m *CloudinaryMirror) MirrorAvatar(ctx context.Context, sourceURL string, accountHint string) string {
	if sourceURL == "" {
		return ""
	}
	result, err := m.cld.Upload.Upload(ctx, sourceURL, uploader.UploadParams{
		Folder:   m.folder,
		PublicID: accountHint,
	})
	if err != nil {
		m.logger.Warn("avatar mirror failed",
			slog.String("source", sourceURL),
			slog.Any("error", err))
		return sourceURL
	}
	return result.SecureURL
}

// NoopMirror returns source URLs unchanged. Used when Cloudinary is not
// configured and in tests.
type NoopMirror struct{}

// MirrorAvatar returns the source URL as-is.
func (NoopMirror) MirrorAvatar(ctx context.Context, sourceURL string, accountHint string) string {
	return sourceURL
}
