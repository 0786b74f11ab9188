package imageref

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/elihugi89/aistyler/internal/failure"
)

// DefaultMaxBytes caps downloads and content reads.
const DefaultMaxBytes int64 = 25 << 20

// ContentReader is the slice of the simple-content service the converter
// needs to resolve content:// references.
type ContentReader interface {
	DownloadContent(ctx context.Context, contentID uuid.UUID) (io.ReadCloser, error)
}

// Converter normalises image payloads into references that can be displayed
// locally, and resolves references back into bytes.
type Converter struct {
	dir      string
	client   *http.Client
	content  ContentReader
	maxBytes int64
}

type Option func(*Converter)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Converter) { c.client = client }
}

func WithContentReader(r ContentReader) Option {
	return func(c *Converter) { c.content = r }
}

func WithMaxBytes(n int64) Option {
	return func(c *Converter) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// NewConverter persists converted images under dir. With an empty dir the
// converter returns inline data URIs instead.
func NewConverter(dir string, opts ...Option) *Converter {
	c := &Converter{
		dir:      dir,
		client:   http.DefaultClient,
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromBytes turns a raw image payload into a local reference.
func (c *Converter) FromBytes(data []byte) (Ref, error) {
	const op = "imageref.from_bytes"
	if len(data) == 0 {
		return Ref{}, failure.New(failure.ConversionFailure, op, "empty image payload")
	}
	if int64(len(data)) > c.maxBytes {
		return Ref{}, failure.New(failure.ConversionFailure, op, fmt.Sprintf("image exceeds maximum size of %d bytes", c.maxBytes))
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return Ref{}, failure.New(failure.ConversionFailure, op, fmt.Sprintf("payload is %s, not an image", mt.String()))
	}

	if c.dir == "" {
		return FromDataURI(encodeDataURI(mt.String(), data)), nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return Ref{}, failure.Wrap(failure.ConversionFailure, op, "create output directory", err)
	}
	path := filepath.Join(c.dir, uuid.NewString()+mt.Extension())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Ref{}, failure.Wrap(failure.ConversionFailure, op, "write image", err)
	}
	return FromFile(path), nil
}

// OwnedFile reports the path of a file reference that this converter wrote
// into its output directory.
func (c *Converter) OwnedFile(ref Ref) (string, bool) {
	if c.dir == "" || ref.Kind() != KindFile {
		return "", false
	}
	dir, err := filepath.Abs(c.dir)
	if err != nil {
		return "", false
	}
	path, err := filepath.Abs(ref.Value())
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return "", false
	}
	return path, true
}

// FromBase64 accepts either a bare base64 string or a data URI.
func (c *Converter) FromBase64(s string) (Ref, error) {
	data, err := decodeBase64(s)
	if err != nil {
		return Ref{}, failure.Wrap(failure.ConversionFailure, "imageref.from_base64", "invalid base64 payload", err)
	}
	return c.FromBytes(data)
}

// FromRemote downloads a hosted image and stores it locally.
func (c *Converter) FromRemote(ctx context.Context, rawURL string) (Ref, error) {
	const op = "imageref.from_remote"
	data, status, err := c.fetch(ctx, rawURL)
	if err != nil {
		e := failure.Wrap(failure.ConversionFailure, op, "download image", err)
		e.StatusCode = status
		return Ref{}, e
	}
	return c.FromBytes(data)
}

// Bytes resolves any reference back to the image bytes it points at.
func (c *Converter) Bytes(ctx context.Context, ref Ref) ([]byte, error) {
	const op = "imageref.bytes"
	var (
		data []byte
		err  error
	)

	switch ref.Kind() {
	case KindFile:
		data, err = os.ReadFile(ref.Value())
	case KindData:
		data, err = decodeBase64(ref.Value())
	case KindURL:
		data, _, err = c.fetch(ctx, ref.Value())
	case KindContent:
		data, err = c.readContent(ctx, ref)
	case "":
		return nil, failure.New(failure.InputUnavailable, op, "empty image reference")
	default:
		return nil, failure.New(failure.InputUnavailable, op, fmt.Sprintf("cannot resolve %s reference %q", ref.Kind(), ref.String()))
	}
	if err != nil {
		return nil, failure.Wrap(failure.InputUnavailable, op, fmt.Sprintf("read %s reference", ref.Kind()), err)
	}
	if len(data) == 0 {
		return nil, failure.New(failure.InputUnavailable, op, "image reference resolved to zero bytes")
	}
	return data, nil
}

// Base64 returns the bare base64 encoding of the referenced image.
func (c *Converter) Base64(ctx context.Context, ref Ref) (string, error) {
	if ref.Kind() == KindData {
		if _, payload, ok := splitDataURI(ref.Value()); ok {
			return payload, nil
		}
	}
	data, err := c.Bytes(ctx, ref)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DataURI returns the referenced image as a data URI.
func (c *Converter) DataURI(ctx context.Context, ref Ref) (string, error) {
	if ref.Kind() == KindData {
		return ref.Value(), nil
	}
	data, err := c.Bytes(ctx, ref)
	if err != nil {
		return "", err
	}
	return encodeDataURI(DetectMIME(data), data), nil
}

// DetectMIME sniffs the MIME type of an image payload.
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

func (c *Converter) fetch(ctx context.Context, rawURL string) ([]byte, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, 0, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, 0, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, fmt.Errorf("get %s: unexpected status %d", u.Redacted(), resp.StatusCode)
	}

	data, err := c.readLimited(resp.Body)
	return data, resp.StatusCode, err
}

func (c *Converter) readContent(ctx context.Context, ref Ref) ([]byte, error) {
	if c.content == nil {
		return nil, fmt.Errorf("no content store configured")
	}
	id, ok := ref.ContentID()
	if !ok {
		return nil, fmt.Errorf("invalid content id %q", ref.Value())
	}
	reader, err := c.content.DownloadContent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("download content: %w", err)
	}
	defer reader.Close()
	return c.readLimited(reader)
}

func (c *Converter) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("image exceeds maximum size of %d bytes", c.maxBytes)
	}
	return data, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		_, payload, ok := splitDataURI(s)
		if !ok {
			return nil, fmt.Errorf("malformed data uri")
		}
		s = payload
	}
	return base64.StdEncoding.DecodeString(s)
}
