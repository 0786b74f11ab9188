// Package imageref holds the image reference handed between pipeline stages
// and the converter that moves image bytes between its representations.
package imageref

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Kind string

const (
	KindFile    Kind = "file"
	KindURL     Kind = "url"
	KindData    Kind = "data"
	KindContent Kind = "content"
	KindOpaque  Kind = "opaque"
)

const contentScheme = "content://"

// Ref points at image bytes. Exactly one representation is authoritative;
// stages never edit a Ref, they return a new one.
type Ref struct {
	kind  Kind
	value string
}

func FromFile(path string) Ref { return Ref{kind: KindFile, value: path} }
func FromURL(u string) Ref { return Ref{kind: KindURL, value: u} }
func FromDataURI(s string) Ref { return Ref{kind: KindData, value: s} }
func FromContent(id uuid.UUID) Ref { return Ref{kind: KindContent, value: id.String()} }

// Parse recognises data URIs, http(s) URLs, content://<uuid>, file:// and
// bare paths. Any other scheme is kept as an opaque reference.
func Parse(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("empty image reference")
	}

	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "data:"):
		if _, _, ok := splitDataURI(s); !ok {
			return Ref{}, fmt.Errorf("malformed data uri")
		}
		return FromDataURI(s), nil
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return FromURL(s), nil
	case strings.HasPrefix(lower, contentScheme):
		id, err := uuid.Parse(s[len(contentScheme):])
		if err != nil {
			return Ref{}, fmt.Errorf("parse content id: %w", err)
		}
		return FromContent(id), nil
	case strings.HasPrefix(lower, "file://"):
		return FromFile(s[len("file://"):]), nil
	case strings.Contains(s, "://"):
		return Ref{kind: KindOpaque, value: s}, nil
	default:
		return FromFile(s), nil
	}
}

func (r Ref) Kind() Kind { return r.kind }
func (r Ref) IsZero() bool { return r.kind == "" }
func (r Ref) Value() string { return r.value }

func (r Ref) String() string {
	if r.kind == KindContent {
		return contentScheme + r.value
	}
	return r.value
}

// ContentID returns the simple-content id for content references.
func (r Ref) ContentID() (uuid.UUID, bool) {
	if r.kind != KindContent {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(r.value)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (r Ref) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Ref) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*r = Ref{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func splitDataURI(s string) (mimeType, payload string, ok bool) {
	rest, found := strings.CutPrefix(s, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mimeType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", "", false
	}
	return mimeType, payload, true
}

func encodeDataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
