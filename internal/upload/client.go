package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	simplecontent "github.com/tendant/simple-content/pkg/simplecontent"

	"github.com/elihugi89/aistyler/internal/failure"
	"github.com/elihugi89/aistyler/internal/imageref"
	"github.com/elihugi89/aistyler/internal/pipeline"
)

// ContentService is the part of simplecontent.Service the worker uses.
type ContentService interface {
	GetContent(ctx context.Context, id uuid.UUID) (*simplecontent.Content, error)
	UpdateContent(ctx context.Context, req simplecontent.UpdateContentRequest) error
	CreateDerivedContent(ctx context.Context, req simplecontent.CreateDerivedContentRequest) (*simplecontent.Content, error)
	SetContentMetadata(ctx context.Context, req simplecontent.SetContentMetadataRequest) error
	CreateObject(ctx context.Context, req simplecontent.CreateObjectRequest) (*simplecontent.Object, error)
	UploadObjectWithMetadata(ctx context.Context, reader io.Reader, req simplecontent.UploadObjectWithMetadataRequest) error
	GetObjectsByContentID(ctx context.Context, contentID uuid.UUID) ([]*simplecontent.Object, error)
	DownloadObject(ctx context.Context, id uuid.UUID) (io.ReadCloser, error)
}

// Client stores pipeline outputs as derived content of the original photo
// and reads content bytes back for the converter.
type Client struct {
	svc     ContentService
	backend string
	logger  *slog.Logger
}

func NewClient(svc ContentService, defaultBackend string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{svc: svc, backend: defaultBackend, logger: logger}
}

// Parent loads the original photo's content record and checks that its
// bytes are uploaded. A missing record or a wrong status is an input
// problem; any other lookup error is returned as a storage outage.
func (c *Client) Parent(ctx context.Context, id uuid.UUID) (*simplecontent.Content, error) {
	const op = "upload.parent"

	parent, err := c.svc.GetContent(ctx, id)
	if errors.Is(err, simplecontent.ErrContentNotFound) {
		return nil, failure.Wrap(failure.InputUnavailable, op, "get content "+id.String(), err)
	}
	if err != nil {
		return nil, failure.Wrap(failure.VendorError, op, "get content "+id.String(), err)
	}
	required := string(simplecontent.ContentStatusUploaded)
	if parent.Status != required {
		return nil, failure.New(failure.InputUnavailable, op,
			fmt.Sprintf("content status is '%s', expected '%s'", parent.Status, required))
	}
	return parent, nil
}

// DownloadContent opens the newest object stored for a content record.
func (c *Client) DownloadContent(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	objects, err := c.svc.GetObjectsByContentID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list objects for %s: %w", id, err)
	}
	var latest *simplecontent.Object
	for _, obj := range objects {
		if obj != nil && (latest == nil || obj.Version > latest.Version) {
			latest = obj
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("content %s: %w", id, simplecontent.ErrObjectNotFound)
	}
	return c.svc.DownloadObject(ctx, latest.ID)
}

// Stored is one output persisted as derived content.
type Stored struct {
	Step           string
	ContentID      uuid.UUID
	DerivationType string
}

// StoreOutputs uploads every output of res as derived content of parent, in
// step order, and stops at the first failed upload. Output files the
// converter wrote are removed afterwards whether or not the uploads worked.
func (c *Client) StoreOutputs(ctx context.Context, conv *imageref.Converter, parent *simplecontent.Content, res pipeline.Result) ([]Stored, error) {
	defer c.cleanup(conv, res.Outputs)

	providers := make(map[string]string, len(res.Steps))
	for _, s := range res.Steps {
		providers[s.Name] = s.Provider
	}

	stored := make([]Stored, 0, len(res.Outputs))
	for _, out := range res.Outputs {
		data, err := conv.Bytes(ctx, out.Ref)
		if err != nil {
			return stored, fmt.Errorf("read %s output: %w", out.Step, err)
		}

		derived, err := c.storeOne(ctx, parent, out.Step, providers[out.Step], res.ID, data)
		if err != nil {
			return stored, fmt.Errorf("upload %s output: %w", out.Step, err)
		}
		stored = append(stored, Stored{Step: out.Step, ContentID: derived.ID, DerivationType: Slug(out.Step)})
	}
	return stored, nil
}

func (c *Client) storeOne(ctx context.Context, parent *simplecontent.Content, step, provider, runID string, data []byte) (*simplecontent.Content, error) {
	mt := mimetype.Detect(data)
	derivation := Slug(step)

	derived, err := c.svc.CreateDerivedContent(ctx, simplecontent.CreateDerivedContentRequest{
		ParentID:       parent.ID,
		OwnerID:        parent.OwnerID,
		TenantID:       parent.TenantID,
		DerivationType: derivation,
		Variant:        derivation + "_" + provider,
		Metadata: map[string]interface{}{
			"step":     step,
			"provider": provider,
			"run_id":   runID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create derived content: %w", err)
	}

	if err := c.svc.SetContentMetadata(ctx, simplecontent.SetContentMetadataRequest{
		ContentID:   derived.ID,
		ContentType: mt.String(),
		Tags:        []string{"wardrobe", derivation},
		FileName:    derivation + mt.Extension(),
		FileSize:    int64(len(data)),
		CustomMetadata: map[string]interface{}{
			"step":     step,
			"provider": provider,
			"run_id":   runID,
		},
	}); err != nil {
		return nil, fmt.Errorf("set content metadata: %w", err)
	}

	obj, err := c.svc.CreateObject(ctx, simplecontent.CreateObjectRequest{
		ContentID:          derived.ID,
		StorageBackendName: c.backend,
		Version:            1,
	})
	if err != nil {
		return nil, fmt.Errorf("create object: %w", err)
	}

	if err := c.svc.UploadObjectWithMetadata(ctx, bytes.NewReader(data), simplecontent.UploadObjectWithMetadataRequest{
		ObjectID: obj.ID,
		MimeType: mt.String(),
	}); err != nil {
		return nil, fmt.Errorf("upload object: %w", err)
	}

	derived.Status = string(simplecontent.ContentStatusUploaded)
	if err := c.svc.UpdateContent(ctx, simplecontent.UpdateContentRequest{Content: derived}); err != nil {
		return nil, fmt.Errorf("mark content uploaded: %w", err)
	}
	return derived, nil
}

func (c *Client) cleanup(conv *imageref.Converter, outputs []pipeline.Output) {
	seen := make(map[string]bool, len(outputs))
	for _, out := range outputs {
		path, ok := conv.OwnedFile(out.Ref)
		if !ok || seen[path] {
			continue
		}
		seen[path] = true
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("failed to cleanup output file", "path", path, "step", out.Step, "err", err)
		}
	}
}

// Slug turns a step name into a derivation type, e.g.
// "Background Removal" -> "background_removal".
func Slug(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
