package imageref

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elihugi89/aistyler/internal/failure"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestFromBytesRoundTripThroughFile(t *testing.T) {
	dir := t.TempDir()
	conv := NewConverter(dir)
	data := pngBytes(t, 8, 4)

	ref, err := conv.FromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, KindFile, ref.Kind())
	assert.Equal(t, dir, filepath.Dir(ref.Value()))
	assert.Equal(t, ".png", filepath.Ext(ref.Value()))

	back, err := conv.Bytes(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, back), "bytes changed on round trip")
}

func TestFromBytesRoundTripInline(t *testing.T) {
	conv := NewConverter("")
	data := pngBytes(t, 3, 3)

	ref, err := conv.FromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, KindData, ref.Kind())
	assert.True(t, strings.HasPrefix(ref.String(), "data:image/png;base64,"))

	back, err := conv.Bytes(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, back))

	b64, err := conv.Base64(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(data), b64)
}

func TestFromBytesRejectsBadPayloads(t *testing.T) {
	conv := NewConverter(t.TempDir())

	_, err := conv.FromBytes(nil)
	assert.True(t, errors.Is(err, failure.ErrConversion), "got %v", err)

	_, err = conv.FromBytes([]byte("definitely not an image"))
	assert.True(t, errors.Is(err, failure.ErrConversion), "got %v", err)

	small := NewConverter("", WithMaxBytes(16))
	_, err = small.FromBytes(pngBytes(t, 4, 4))
	assert.True(t, errors.Is(err, failure.ErrConversion), "got %v", err)
}

func TestFromBase64(t *testing.T) {
	conv := NewConverter("")
	data := pngBytes(t, 2, 2)
	encoded := base64.StdEncoding.EncodeToString(data)

	ref, err := conv.FromBase64(encoded)
	require.NoError(t, err)
	back, err := conv.Bytes(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, data, back)

	ref, err = conv.FromBase64("data:image/png;base64," + encoded)
	require.NoError(t, err)
	assert.Equal(t, KindData, ref.Kind())

	_, err = conv.FromBase64("%%% not base64 %%%")
	assert.True(t, errors.Is(err, failure.ErrConversion), "got %v", err)
}

func TestFromRemote(t *testing.T) {
	data := pngBytes(t, 5, 5)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	conv := NewConverter(t.TempDir(), WithHTTPClient(srv.Client()))
	ref, err := conv.FromRemote(context.Background(), srv.URL+"/out.png")
	require.NoError(t, err)
	assert.Equal(t, KindFile, ref.Kind())

	back, err := conv.Bytes(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, data, back)

	_, err = conv.FromRemote(context.Background(), srv.URL+"/missing.png")
	require.Error(t, err)
	var typed *failure.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, failure.ConversionFailure, typed.Kind)
	assert.Equal(t, http.StatusNotFound, typed.StatusCode)

	_, err = conv.FromRemote(context.Background(), "ftp://example.com/a.png")
	assert.True(t, errors.Is(err, failure.ErrConversion), "got %v", err)
}

func TestBytesInputUnavailable(t *testing.T) {
	conv := NewConverter("")
	ctx := context.Background()

	tests := []struct {
		name string
		ref  Ref
	}{
		{"zero", Ref{}},
		{"missing file", FromFile(filepath.Join(t.TempDir(), "nope.jpg"))},
		{"opaque", mustParse(t, "photo://abc")},
		{"content without store", FromContent(uuid.New())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := conv.Bytes(ctx, tt.ref)
			assert.True(t, errors.Is(err, failure.ErrInputUnavailable), "got %v", err)
		})
	}
}

type fakeContent struct {
	data map[uuid.UUID][]byte
}

func (f *fakeContent) DownloadContent(_ context.Context, id uuid.UUID) (io.ReadCloser, error) {
	b, ok := f.data[id]
	if !ok {
		return nil, errors.New("content not found")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func TestBytesFromContentStore(t *testing.T) {
	id := uuid.New()
	data := pngBytes(t, 6, 6)
	conv := NewConverter("", WithContentReader(&fakeContent{data: map[uuid.UUID][]byte{id: data}}))

	back, err := conv.Bytes(context.Background(), FromContent(id))
	require.NoError(t, err)
	assert.Equal(t, data, back)

	uri, err := conv.DataURI(context.Background(), FromContent(id))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))

	_, err = conv.Bytes(context.Background(), FromContent(uuid.New()))
	assert.True(t, errors.Is(err, failure.ErrInputUnavailable), "got %v", err)
}

func TestOwnedFile(t *testing.T) {
	dir := t.TempDir()
	conv := NewConverter(dir)

	ref, err := conv.FromBytes(pngBytes(t, 3, 3))
	require.NoError(t, err)
	path, ok := conv.OwnedFile(ref)
	assert.True(t, ok)
	assert.Equal(t, ref.Value(), path)

	_, ok = conv.OwnedFile(FromFile(filepath.Join(t.TempDir(), "shirt.png")))
	assert.False(t, ok, "files outside the output directory are not owned")
	_, ok = conv.OwnedFile(FromFile(filepath.Join(dir, "sub", "x.png")))
	assert.False(t, ok)
	_, ok = conv.OwnedFile(FromURL("https://img.test/a.png"))
	assert.False(t, ok)

	inline := NewConverter("")
	dataRef, err := inline.FromBytes(pngBytes(t, 3, 3))
	require.NoError(t, err)
	_, ok = inline.OwnedFile(dataRef)
	assert.False(t, ok)
}

func mustParse(t *testing.T, s string) Ref {
	t.Helper()
	ref, err := Parse(s)
	require.NoError(t, err)
	return ref
}
