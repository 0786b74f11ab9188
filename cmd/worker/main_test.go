package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sc "github.com/tendant/simple-content/pkg/simplecontent"

	"github.com/elihugi89/aistyler/internal/bus"
	"github.com/elihugi89/aistyler/internal/config"
	"github.com/elihugi89/aistyler/internal/failure"
	"github.com/elihugi89/aistyler/internal/imageref"
	"github.com/elihugi89/aistyler/internal/pipeline"
	"github.com/elihugi89/aistyler/internal/provider"
	"github.com/elihugi89/aistyler/internal/retry"
	"github.com/elihugi89/aistyler/internal/upload"
	"github.com/elihugi89/aistyler/pkg/schema"
)

type capture struct {
	subjects []string
	payloads []any
}

func (c *capture) PublishJSON(subject string, v any) error {
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, v)
	return nil
}

type stub struct {
	name string
	err  error
	out  imageref.Ref
}

func (s stub) Name() string { return s.name }

func (s stub) Process(_ context.Context, in imageref.Ref, _ provider.Options) (imageref.Ref, error) {
	if s.err != nil {
		return imageref.Ref{}, s.err
	}
	if !s.out.IsZero() {
		return s.out, nil
	}
	return imageref.FromURL("https://out.test/" + s.name + ".png"), nil
}

type store struct {
	parent    *sc.Content
	createErr error
	created   []uuid.UUID
}

func (s *store) GetContent(context.Context, uuid.UUID) (*sc.Content, error) { return s.parent, nil }

func (s *store) UpdateContent(context.Context, sc.UpdateContentRequest) error { return nil }

func (s *store) CreateDerivedContent(context.Context, sc.CreateDerivedContentRequest) (*sc.Content, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	c := &sc.Content{ID: uuid.New()}
	s.created = append(s.created, c.ID)
	return c, nil
}

func (s *store) SetContentMetadata(context.Context, sc.SetContentMetadataRequest) error { return nil }

func (s *store) CreateObject(_ context.Context, req sc.CreateObjectRequest) (*sc.Object, error) {
	return &sc.Object{ID: uuid.New(), ContentID: req.ContentID}, nil
}

func (s *store) UploadObjectWithMetadata(context.Context, io.Reader, sc.UploadObjectWithMetadataRequest) error {
	return nil
}

func (s *store) GetObjectsByContentID(context.Context, uuid.UUID) ([]*sc.Object, error) {
	return nil, nil
}

func (s *store) DownloadObject(context.Context, uuid.UUID) (io.ReadCloser, error) {
	return nil, sc.ErrObjectNotFound
}

func pngRef(t *testing.T) imageref.Ref {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	ref, err := imageref.NewConverter("").FromBytes(buf.Bytes())
	require.NoError(t, err)
	return ref
}

func newWorker(pub bus.Publisher, providers ...provider.Provider) *worker {
	reg := &provider.Registry{}
	for _, p := range providers {
		reg.Register(p)
	}
	return &worker{
		cfg: config.Config{
			ResultSubject: "wardrobe.process.done",
			Retry:         retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond},
			Stages:        config.DefaultStages(true),
		},
		registry: reg,
		pub:      pub,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      func() time.Time { return time.Unix(1700000000, 0) },
	}
}

func TestProcessRunsConfiguredStages(t *testing.T) {
	pub := &capture{}
	w := newWorker(pub, stub{name: "removebg"}, stub{name: "huggingface"}, stub{name: "runway"})

	done := w.process(context.Background(), schema.ProcessRequested{ID: "job-1", Image: "/photos/shirt.jpg"})

	assert.True(t, done.Success)
	assert.Equal(t, "job-1", done.ID)
	assert.Equal(t, "https://out.test/runway.png", done.Final)
	require.Len(t, done.Steps, 2)
	assert.Equal(t, "removebg", done.Steps[0].Provider)

	// Two transitions per step, all on the steps subject.
	require.Len(t, pub.subjects, 4)
	assert.Equal(t, bus.StepsSubject("wardrobe.process.done"), pub.subjects[0])
}

func TestProcessHonoursRequestedStages(t *testing.T) {
	w := newWorker(&capture{}, stub{name: "removebg"}, stub{name: "huggingface"}, stub{name: "runway"})

	done := w.process(context.Background(), schema.ProcessRequested{
		ID:     "job-2",
		Image:  "/photos/shirt.jpg",
		Stages: []string{config.StageBackgroundRemoval},
	})
	require.True(t, done.Success)
	assert.Len(t, done.Steps, 1)

	done = w.process(context.Background(), schema.ProcessRequested{ID: "job-3", Image: "/a.jpg", Stages: []string{"Upscale"}})
	assert.False(t, done.Success)
	assert.Equal(t, schema.FailureTypeValidation, done.FailureType)
}

func TestProcessFailureIsClassified(t *testing.T) {
	unauthorized := failure.New(failure.Unauthorized, "test", "bad key")
	w := newWorker(&capture{},
		stub{name: "removebg", err: unauthorized},
		stub{name: "huggingface", err: unauthorized},
		stub{name: "runway"})

	done := w.process(context.Background(), schema.ProcessRequested{ID: "job-4", Image: "/a.jpg"})

	assert.False(t, done.Success)
	assert.Equal(t, schema.FailureTypePermanent, done.FailureType)
	require.Len(t, done.Steps, 2)
	assert.Equal(t, schema.StepFailed, done.Steps[0].Status)
	assert.Equal(t, schema.StepPending, done.Steps[1].Status)
}

func TestResolveOriginalRejectsBadJobs(t *testing.T) {
	w := newWorker(&capture{})

	tests := []struct {
		name string
		req  schema.ProcessRequested
	}{
		{"empty", schema.ProcessRequested{ID: "a"}},
		{"bad content id", schema.ProcessRequested{ID: "b", ContentID: "nope"}},
		{"content without storage", schema.ProcessRequested{ID: "c", ContentID: uuid.NewString()}},
		{"content ref without storage", schema.ProcessRequested{ID: "d", Image: "content://" + uuid.NewString()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := w.resolveOriginal(context.Background(), tt.req)
			assert.Equal(t, failure.InputUnavailable, failure.KindOf(err))
		})
	}
}

func TestHandlePublishesResultForInvalidPayload(t *testing.T) {
	pub := &capture{}
	w := newWorker(pub)

	w.handle(context.Background(), []byte("{not json"))

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, "wardrobe.process.done", pub.subjects[0])
	done := pub.payloads[0].(schema.ProcessingDone)
	assert.False(t, done.Success)
	assert.Equal(t, schema.FailureTypeValidation, done.FailureType)
}

func TestHandleAssignsJobID(t *testing.T) {
	pub := &capture{}
	w := newWorker(pub, stub{name: "removebg"}, stub{name: "huggingface"}, stub{name: "runway"})

	raw, err := json.Marshal(schema.ProcessRequested{Image: "/a.jpg"})
	require.NoError(t, err)
	w.handle(context.Background(), raw)

	done := pub.payloads[len(pub.payloads)-1].(schema.ProcessingDone)
	assert.True(t, done.Success)
	_, err = uuid.Parse(done.ID)
	assert.NoError(t, err)
}

func TestStageSummary(t *testing.T) {
	got := stageSummary([]pipeline.StageDef{{Name: "Background Removal", Providers: []string{"removebg", "huggingface"}}})
	assert.Equal(t, []string{"Background Removal=removebg|huggingface"}, got)
}

func newStoringWorker(t *testing.T, st *store) *worker {
	t.Helper()
	out := pngRef(t)
	w := newWorker(&capture{}, stub{name: "removebg", out: out}, stub{name: "huggingface"}, stub{name: "runway", out: out})
	w.conv = imageref.NewConverter("")
	w.uploader = upload.NewClient(st, "memory", w.logger)
	return w
}

func TestProcessStoresOutputsAsContent(t *testing.T) {
	st := &store{parent: &sc.Content{ID: uuid.New(), Status: string(sc.ContentStatusUploaded)}}
	w := newStoringWorker(t, st)

	done := w.process(context.Background(), schema.ProcessRequested{ID: "job-5", ContentID: st.parent.ID.String()})

	require.True(t, done.Success, done.Error)
	require.Len(t, st.created, 2)
	require.Len(t, done.Outputs, 2)
	for i, id := range st.created {
		assert.Equal(t, id.String(), done.Outputs[i].ContentID)
		assert.Equal(t, "content://"+id.String(), done.Outputs[i].Image)
	}
	assert.Equal(t, "content://"+st.created[1].String(), done.Final)
}

func TestProcessStorageFailureClearsFinal(t *testing.T) {
	st := &store{
		parent:    &sc.Content{ID: uuid.New(), Status: string(sc.ContentStatusUploaded)},
		createErr: errors.New("database unavailable"),
	}
	w := newStoringWorker(t, st)

	done := w.process(context.Background(), schema.ProcessRequested{ID: "job-6", ContentID: st.parent.ID.String()})

	assert.False(t, done.Success)
	assert.Empty(t, done.Final)
	assert.Equal(t, schema.FailureTypeRetryable, done.FailureType)
	assert.Contains(t, done.Error, "database unavailable")
}
