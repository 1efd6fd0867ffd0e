// Package gateway turns (image, style) into one provider call and a
// normalized image reference.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"photoart/datauri"
	"photoart/imagehost"
	"photoart/providers"
	"photoart/styles"

	"github.com/rs/zerolog"
)

const (
	// maxDetailsBytes bounds provider payloads echoed back as error details.
	maxDetailsBytes = 2048
	// defaultReleaseTimeout bounds the delete of a hosted upload.
	defaultReleaseTimeout = 30 * time.Second
)

// Result is the normalized outcome of a transformation.
type Result struct {
	ImageReference string
	Style          string
	Provider       string
	Model          string
}

type Gateway struct {
	catalog        *styles.Catalog
	providers      map[string]providers.ImageProvider
	host           imagehost.Uploader
	releaseTimeout time.Duration
	releases       sync.WaitGroup
	log            zerolog.Logger
}

// New builds a Gateway. host may be nil when no style needs a hosted image.
func New(catalog *styles.Catalog, provs []providers.ImageProvider, host imagehost.Uploader, log zerolog.Logger) *Gateway {
	byName := make(map[string]providers.ImageProvider, len(provs))
	for _, p := range provs {
		byName[p.Name()] = p
	}
	return &Gateway{
		catalog:        catalog,
		providers:      byName,
		host:           host,
		releaseTimeout: defaultReleaseTimeout,
		log:            log,
	}
}

// Catalog exposes the style table the gateway resolves against.
func (g *Gateway) Catalog() *styles.Catalog {
	return g.catalog
}

// Transform renders image in the given style. Every failure is returned as
// *Error; input, style and credential problems (for the provider and, when
// the style needs one, the image host) are reported before any network call.
// Identical calls are never cached or deduplicated.
func (g *Gateway) Transform(ctx context.Context, image *datauri.EncodedImage, styleID string) (*Result, error) {
	const op = "transform"

	if image == nil || len(image.Data) == 0 || strings.TrimSpace(styleID) == "" {
		return nil, newError(KindMissingInput, op, "Missing image or style")
	}

	style, err := g.catalog.Resolve(styleID)
	if err != nil {
		return nil, wrapError(KindUnsupportedStyle, op, "Unsupported style", err)
	}

	provider, ok := g.providers[style.Provider]
	if !ok || !provider.HasCredentials() {
		return nil, newError(KindMissingCredential, op,
			fmt.Sprintf("Credentials for provider %q are not configured", style.Provider))
	}
	if style.NeedsHostedImage && (g.host == nil || !g.host.HasCredentials()) {
		return nil, newError(KindMissingCredential, op, "Credentials for the image host are not configured")
	}

	log := g.log.With().Str("style", style.ID).Str("provider", style.Provider).Str("model", style.Model).Logger()
	log.Info().Int("image_bytes", len(image.Data)).Str("mime", image.MIMEType).Msg("starting transformation")

	src := styles.Source{Image: image}
	if style.NeedsHostedImage {
		upload, err := g.hostImage(ctx, image)
		if err != nil {
			log.Error().Err(err).Msg("image upload failed")
			return nil, wrapError(KindProviderCallFailed, op, "Failed to upload image", err)
		}
		defer g.releaseImage(log, upload)
		src.ImageURL = upload.URL
	}

	resp, err := provider.Invoke(ctx, style.BuildRequest(src))
	if err != nil {
		log.Error().Err(err).Msg("provider call failed")
		return nil, wrapError(KindProviderCallFailed, op, "Failed to transform image", err)
	}

	ref := firstImage(resp)
	if ref == "" {
		log.Error().RawJSON("response", rawOrEmpty(resp)).Msg("no images in response")
		e := newError(KindNoImageProduced, op, "No image generated")
		e.Details = truncate(string(rawOrEmpty(resp)), maxDetailsBytes)
		return nil, e
	}

	log.Info().Bool("inline", strings.HasPrefix(ref, "data:")).Msg("transformation finished")
	return &Result{
		ImageReference: ref,
		Style:          style.ID,
		Provider:       style.Provider,
		Model:          style.Model,
	}, nil
}

func (g *Gateway) hostImage(ctx context.Context, image *datauri.EncodedImage) (*imagehost.Upload, error) {
	upload, err := g.host.Upload(ctx, image.Data, imagehost.Filename(image.MIMEType), image.MIMEType)
	if err != nil {
		return nil, err
	}
	if upload == nil || upload.URL == "" {
		return nil, fmt.Errorf("%s: upload returned no url", g.host.Name())
	}
	return upload, nil
}

// releaseImage deletes a hosted upload in the background once the provider
// has fetched it. The delete gets its own bounded context so neither a
// cancelled request nor a slow host holds back the result.
func (g *Gateway) releaseImage(log zerolog.Logger, upload *imagehost.Upload) {
	if upload.ID == "" {
		return
	}
	g.releases.Add(1)
	go func() {
		defer g.releases.Done()
		ctx, cancel := context.WithTimeout(context.Background(), g.releaseTimeout)
		defer cancel()
		if err := g.host.Delete(ctx, upload.ID); err != nil {
			log.Warn().Err(err).Str("upload_id", upload.ID).Msg("failed to delete hosted image")
		}
	}()
}

// Wait blocks until pending hosted-image deletes have finished.
func (g *Gateway) Wait() {
	g.releases.Wait()
}

// firstImage returns the reference of the first listed image; an empty first
// entry counts as no image.
func firstImage(resp *providers.Response) string {
	if resp == nil || len(resp.Images) == 0 {
		return ""
	}
	return strings.TrimSpace(resp.Images[0].URL)
}

func rawOrEmpty(resp *providers.Response) []byte {
	if resp == nil || len(resp.Raw) == 0 {
		return []byte("{}")
	}
	return resp.Raw
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "...(truncated)"
}
