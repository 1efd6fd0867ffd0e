// Package acquire turns an uploaded photo into a bounded EncodedImage.
package acquire

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // Keep for decoding pngs
	"io"
	"strings"

	"photoart/datauri"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
)

const (
	DefaultMaxEdge  = 1024
	DefaultQuality  = 80
	DefaultMaxBytes = 10 << 20 // 10 MB

	FormatJPEG = "jpeg"
	FormatWebP = "webp"
)

var (
	ErrEmpty    = errors.New("empty upload")
	ErrTooLarge = errors.New("upload exceeds size limit")
	ErrNotImage = errors.New("upload is not a supported image")
)

// Options controls the compression policy.
type Options struct {
	Compress bool
	MaxEdge  int
	Quality  int
	Format   string
	MaxBytes int64
}

func DefaultOptions() Options {
	return Options{
		Compress: true,
		MaxEdge:  DefaultMaxEdge,
		Quality:  DefaultQuality,
		Format:   FormatJPEG,
		MaxBytes: DefaultMaxBytes,
	}
}

// Result is the outcome of an acquisition. Degraded results carry the original
// upload unchanged because compression failed; Reason holds the cause.
type Result struct {
	Image        *datauri.EncodedImage
	Compressed   bool
	Degraded     bool
	Reason       error
	Width        int
	Height       int
	OriginalSize int
}

type Acquirer struct {
	opts Options
	log  zerolog.Logger
}

// New returns an Acquirer; zero option fields fall back to the defaults.
func New(opts Options, log zerolog.Logger) *Acquirer {
	def := DefaultOptions()
	if opts.MaxEdge <= 0 {
		opts.MaxEdge = def.MaxEdge
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = def.Quality
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = def.MaxBytes
	}
	opts.Format = strings.ToLower(strings.TrimSpace(opts.Format))
	if opts.Format != FormatWebP {
		opts.Format = FormatJPEG
	}
	return &Acquirer{opts: opts, log: log}
}

// Acquire reads an uploaded file and returns it as an EncodedImage, compressed
// when the policy says so. declaredType is the client supplied Content-Type and
// is only consulted when sniffing is inconclusive.
func (a *Acquirer) Acquire(r io.Reader, declaredType string) (*Result, error) {
	data, err := io.ReadAll(io.LimitReader(r, a.opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if int64(len(data)) > a.opts.MaxBytes {
		return nil, fmt.Errorf("%w: max %d bytes", ErrTooLarge, a.opts.MaxBytes)
	}

	mimeType, err := detectType(data, declaredType)
	if err != nil {
		return nil, err
	}
	original, err := datauri.New(mimeType, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	if !a.opts.Compress {
		a.log.Debug().Str("mime", mimeType).Int("bytes", len(data)).Msg("compression disabled, passing upload through")
		return &Result{Image: original, OriginalSize: len(data)}, nil
	}

	compressed, bounds, err := a.compress(data)
	if err != nil {
		a.log.Warn().Err(err).Str("mime", mimeType).Msg("compression failed, using original upload")
		return &Result{Image: original, Degraded: true, Reason: err, OriginalSize: len(data)}, nil
	}

	a.log.Debug().
		Int("original_bytes", len(data)).
		Int("processed_bytes", len(compressed.Data)).
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Msg("upload compressed")

	return &Result{
		Image:        compressed,
		Compressed:   true,
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		OriginalSize: len(data),
	}, nil
}

// compress decodes data, caps the longer edge at MaxEdge and re-encodes it.
func (a *Acquirer) compress(data []byte) (*datauri.EncodedImage, image.Rectangle, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	maxEdge := uint(a.opts.MaxEdge)
	if bounds.Dx() > a.opts.MaxEdge || bounds.Dy() > a.opts.MaxEdge {
		a.log.Debug().Msgf("image original size: %dx%d, resizing to max %d", bounds.Dx(), bounds.Dy(), maxEdge)
		img = resize.Thumbnail(maxEdge, maxEdge, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	mimeType := "image/jpeg"
	switch a.opts.Format {
	case FormatWebP:
		mimeType = "image/webp"
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(a.opts.Quality)}); err != nil {
			return nil, image.Rectangle{}, fmt.Errorf("failed to encode image to webp: %w", err)
		}
	default:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: a.opts.Quality}); err != nil {
			return nil, image.Rectangle{}, fmt.Errorf("failed to encode image to jpeg: %w", err)
		}
	}

	out, err := datauri.New(mimeType, buf.Bytes())
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	return out, img.Bounds(), nil
}

// detectType sniffs the content type, falling back to the declared one.
func detectType(data []byte, declaredType string) (string, error) {
	sniffed := datauri.NormalizeType(mimetype.Detect(data).String())
	if datauri.IsSupported(sniffed) {
		return sniffed, nil
	}
	declared := datauri.NormalizeType(declaredType)
	if strings.HasPrefix(declared, "image/") && datauri.IsSupported(declared) {
		return declared, nil
	}
	return "", fmt.Errorf("%w: detected %q", ErrNotImage, sniffed)
}
