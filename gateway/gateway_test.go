package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"photoart/datauri"
	"photoart/imagehost"
	"photoart/providers"
	"photoart/styles"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	mu       sync.Mutex
	name     string
	hasCreds bool
	resp     *providers.Response
	err      error
	calls    int
	requests []providers.Request
}

func (s *stubProvider) Name() string         { return s.name }
func (s *stubProvider) HasCredentials() bool { return s.hasCreds }

func (s *stubProvider) Invoke(ctx context.Context, req providers.Request) (*providers.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.requests = append(s.requests, req)
	return s.resp, s.err
}

type stubUploader struct {
	mu         sync.Mutex
	noCreds    bool
	uploads    int
	deleted    []string
	deleteErrs []error
	err        error
	// block, when set, holds Delete until it is closed or ctx ends.
	block chan struct{}
}

func (s *stubUploader) Name() string         { return "stub" }
func (s *stubUploader) HasCredentials() bool { return !s.noCreds }

func (s *stubUploader) Upload(ctx context.Context, data []byte, filename, contentType string) (*imagehost.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	if s.err != nil {
		return nil, s.err
	}
	return &imagehost.Upload{ID: "up-1", URL: "https://host/" + filename}, nil
}

func (s *stubUploader) Delete(ctx context.Context, id string) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			s.mu.Lock()
			s.deleteErrs = append(s.deleteErrs, ctx.Err())
			s.mu.Unlock()
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubUploader) deletedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

var validImage = &datauri.EncodedImage{MIMEType: "image/jpeg", Data: []byte{0xFF, 0xD8, 0xFF, 0xE0}}

func oneImage(url string) *providers.Response {
	return &providers.Response{
		Images: []providers.Image{{URL: url}},
		Raw:    json.RawMessage(`{"images":[{"url":"` + url + `"}]}`),
	}
}

func newTestGateway(provs ...providers.ImageProvider) (*Gateway, *stubUploader) {
	host := &stubUploader{}
	return New(styles.Default(), provs, host, zerolog.Nop()), host
}

func TestTransformMissingInput(t *testing.T) {
	fal := &stubProvider{name: providers.FalAIName, hasCreds: true, resp: oneImage("https://x/y.jpg")}
	g, _ := newTestGateway(fal)

	_, err := g.Transform(context.Background(), nil, "ghibli")
	assert.True(t, IsKind(err, KindMissingInput))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))

	_, err = g.Transform(context.Background(), validImage, "")
	assert.True(t, IsKind(err, KindMissingInput))

	_, err = g.Transform(context.Background(), &datauri.EncodedImage{MIMEType: "image/png"}, "ghibli")
	assert.True(t, IsKind(err, KindMissingInput))

	assert.Zero(t, fal.calls)
}

func TestTransformUnsupportedStyle(t *testing.T) {
	fal := &stubProvider{name: providers.FalAIName, hasCreds: true}
	g, _ := newTestGateway(fal)

	_, err := g.Transform(context.Background(), validImage, "unknown-style")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindUnsupportedStyle))
	assert.True(t, errors.Is(err, styles.ErrUnknownStyle))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
	assert.Zero(t, fal.calls)
}

func TestTransformMissingCredential(t *testing.T) {
	fal := &stubProvider{name: providers.FalAIName, hasCreds: false, resp: oneImage("https://x/y.jpg")}
	g, host := newTestGateway(fal)

	_, err := g.Transform(context.Background(), validImage, "ghibli")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindMissingCredential))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, ClassConfiguration, gwErr.Class())
	assert.Zero(t, fal.calls)
	assert.Zero(t, host.uploads)
}

func TestTransformUnregisteredProviderIsMissingCredential(t *testing.T) {
	g, _ := newTestGateway()
	_, err := g.Transform(context.Background(), validImage, "pixel")
	assert.True(t, IsKind(err, KindMissingCredential))
}

func TestTransformReturnsFirstImage(t *testing.T) {
	fal := &stubProvider{name: providers.FalAIName, hasCreds: true, resp: &providers.Response{
		Images: []providers.Image{{URL: "https://x/y.jpg"}, {URL: "https://x/z.jpg"}},
	}}
	g, host := newTestGateway(fal)

	res, err := g.Transform(context.Background(), validImage, "Ghibli")
	require.NoError(t, err)
	assert.Equal(t, "https://x/y.jpg", res.ImageReference)
	assert.Equal(t, "ghibli", res.Style)
	assert.Equal(t, providers.FalAIName, res.Provider)
	assert.Equal(t, "fal-ai/hidream-e1-1", res.Model)

	require.Equal(t, 1, fal.calls)
	req, ok := fal.requests[0].(providers.InstructionEdit)
	require.True(t, ok)
	assert.Equal(t, validImage.String(), req.ImageURL)
	assert.Zero(t, host.uploads)
}

func TestTransformNoImageProduced(t *testing.T) {
	fal := &stubProvider{name: providers.FalAIName, hasCreds: true, resp: &providers.Response{
		Raw: json.RawMessage(`{"images":[],"has_nsfw_concepts":[true]}`),
	}}
	g, _ := newTestGateway(fal)

	_, err := g.Transform(context.Background(), validImage, "mosaic")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNoImageProduced))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, ClassProvider, gwErr.Class())
	assert.Contains(t, gwErr.Details, "has_nsfw_concepts")
}

func TestTransformNoImageDetailsAreTruncated(t *testing.T) {
	raw := `{"logs":"` + strings.Repeat("a", 4096) + `"}`
	fal := &stubProvider{name: providers.FalAIName, hasCreds: true, resp: &providers.Response{Raw: json.RawMessage(raw)}}
	g, _ := newTestGateway(fal)

	_, err := g.Transform(context.Background(), validImage, "ghibli")
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Less(t, len(gwErr.Details), len(raw))
	assert.True(t, strings.HasSuffix(gwErr.Details, "...(truncated)"))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("a", maxDetailsBytes-1) + strings.Repeat("é", 100)
	out := truncate(s, maxDetailsBytes)

	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasSuffix(out, "...(truncated)"))
	assert.Equal(t, strings.Repeat("a", maxDetailsBytes-1)+"...(truncated)", out)

	assert.Equal(t, "héllo", truncate("héllo", maxDetailsBytes))
}

func TestTransformProviderFailure(t *testing.T) {
	fal := &stubProvider{name: providers.FalAIName, hasCreds: true, err: errors.New("fal_ai: API returned non-200 status: 502")}
	g, _ := newTestGateway(fal)

	_, err := g.Transform(context.Background(), validImage, "ghibli")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindProviderCallFailed))

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "Failed to transform image", gwErr.Message)
	assert.Contains(t, gwErr.Details, "502")
	assert.Equal(t, 1, fal.calls, "no retry")
}

func TestTransformUploadsHostedImageOnceAndDeletes(t *testing.T) {
	ms := &stubProvider{name: providers.ModelScopeName, hasCreds: true, resp: oneImage("https://ms/out.png")}
	g, host := newTestGateway(ms)

	res, err := g.Transform(context.Background(), validImage, "pixel")
	require.NoError(t, err)
	assert.Equal(t, "https://ms/out.png", res.ImageReference)

	g.Wait()
	assert.Equal(t, 1, host.uploads)
	assert.Equal(t, []string{"up-1"}, host.deletedIDs())
	req := ms.requests[0].(providers.TaskEdit)
	assert.True(t, strings.HasPrefix(req.ImageURL, "https://host/photoart-"))
	assert.True(t, strings.HasSuffix(req.ImageURL, ".jpg"))
}

func TestTransformUploadFailureSkipsProvider(t *testing.T) {
	fal := &stubProvider{name: providers.FalAIName, hasCreds: true}
	host := &stubUploader{err: errors.New("storage down")}
	g := New(styles.Default(), []providers.ImageProvider{fal}, host, zerolog.Nop())

	_, err := g.Transform(context.Background(), validImage, "watercolor")
	assert.True(t, IsKind(err, KindProviderCallFailed))
	assert.Zero(t, fal.calls)
}

func TestTransformWithoutHostFailsForHostedStyles(t *testing.T) {
	fal := &stubProvider{name: providers.FalAIName, hasCreds: true}
	g := New(styles.Default(), []providers.ImageProvider{fal}, nil, zerolog.Nop())

	_, err := g.Transform(context.Background(), validImage, "watercolor")
	assert.True(t, IsKind(err, KindMissingCredential))
	assert.Zero(t, fal.calls)
}

func TestTransformHostWithoutCredentialsIsMissingCredential(t *testing.T) {
	ms := &stubProvider{name: providers.ModelScopeName, hasCreds: true, resp: oneImage("https://ms/out.png")}
	host := &stubUploader{noCreds: true}
	g := New(styles.Default(), []providers.ImageProvider{ms}, host, zerolog.Nop())

	_, err := g.Transform(context.Background(), validImage, "pixel")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindMissingCredential))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, ClassConfiguration, gwErr.Class())
	assert.Zero(t, host.uploads)
	assert.Zero(t, ms.calls)

	// Styles that send the image inline do not need the host.
	fal := &stubProvider{name: providers.FalAIName, hasCreds: true, resp: oneImage("https://x/y.jpg")}
	g = New(styles.Default(), []providers.ImageProvider{fal}, host, zerolog.Nop())
	_, err = g.Transform(context.Background(), validImage, "ghibli")
	require.NoError(t, err)
}

func TestTransformDoesNotWaitForSlowDelete(t *testing.T) {
	ms := &stubProvider{name: providers.ModelScopeName, hasCreds: true, resp: oneImage("https://ms/out.png")}
	host := &stubUploader{block: make(chan struct{})}
	g := New(styles.Default(), []providers.ImageProvider{ms}, host, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := g.Transform(context.Background(), validImage, "pixel")
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("transform blocked on the hosted image delete")
	}
	assert.Empty(t, host.deletedIDs())

	close(host.block)
	g.Wait()
	assert.Equal(t, []string{"up-1"}, host.deletedIDs())
}

func TestTransformDeleteIsBoundedByTimeout(t *testing.T) {
	ms := &stubProvider{name: providers.ModelScopeName, hasCreds: true, resp: oneImage("https://ms/out.png")}
	host := &stubUploader{block: make(chan struct{})}
	g := New(styles.Default(), []providers.ImageProvider{ms}, host, zerolog.Nop())
	g.releaseTimeout = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	_, err := g.Transform(ctx, validImage, "pixel")
	require.NoError(t, err)
	cancel()

	g.Wait()
	assert.Empty(t, host.deletedIDs())
	host.mu.Lock()
	defer host.mu.Unlock()
	require.Len(t, host.deleteErrs, 1)
	assert.ErrorIs(t, host.deleteErrs[0], context.DeadlineExceeded)
}

func TestTransformEmptyFirstImageIsNoImage(t *testing.T) {
	fal := &stubProvider{name: providers.FalAIName, hasCreds: true, resp: &providers.Response{
		Images: []providers.Image{{URL: ""}, {URL: "https://x/z.jpg"}},
		Raw:    json.RawMessage(`{"images":[{"url":""},{"url":"https://x/z.jpg"}]}`),
	}}
	g, _ := newTestGateway(fal)

	_, err := g.Transform(context.Background(), validImage, "ghibli")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNoImageProduced))
}

func TestTransformRepeatedCallsAreIndependent(t *testing.T) {
	fal := &stubProvider{name: providers.FalAIName, hasCreds: true, resp: oneImage("https://x/y.jpg")}
	g, _ := newTestGateway(fal)

	for i := 0; i < 2; i++ {
		res, err := g.Transform(context.Background(), validImage, "ghibli")
		require.NoError(t, err)
		assert.NotEmpty(t, res.ImageReference)
	}
	assert.Equal(t, 2, fal.calls)
}

func TestErrorString(t *testing.T) {
	err := wrapError(KindProviderCallFailed, "transform", "Failed to transform image", errors.New("boom"))
	assert.Equal(t, "[provider_call_failed:transform] Failed to transform image: boom", err.Error())
	assert.Equal(t, "boom", err.Details)
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
}
