package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elihugi89/aistyler/internal/config"
	"github.com/elihugi89/aistyler/internal/failure"
	"github.com/elihugi89/aistyler/internal/imageref"
	"github.com/elihugi89/aistyler/internal/pipeline"
	"github.com/elihugi89/aistyler/internal/provider"
	"github.com/elihugi89/aistyler/internal/retry"
)

type countingProvider struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *countingProvider) Name() string { return "removebg" }

func (c *countingProvider) Process(_ context.Context, in imageref.Ref, _ provider.Options) (imageref.Ref, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return imageref.FromURL(in.String() + ".out"), nil
}

func newPipeline(p provider.Provider) *pipeline.Pipeline {
	return pipeline.New(
		[]pipeline.Stage{{Name: "Background Removal", Providers: []provider.Provider{p}}},
		pipeline.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		pipeline.WithPolicy(retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}),
	)
}

func TestRunAllKeepsOrderAndLimit(t *testing.T) {
	prov := &countingProvider{}
	inputs := []string{
		"https://img.test/1.jpg",
		"https://img.test/2.jpg",
		"https://img.test/3.jpg",
		"https://img.test/4.jpg",
		"https://img.test/5.jpg",
	}

	results, err := runAll(context.Background(), newPipeline(prov), inputs, 2)
	require.NoError(t, err)
	require.Len(t, results, len(inputs))

	for i, r := range results {
		assert.True(t, r.Success)
		assert.Equal(t, inputs[i]+".out", r.Final().String())
	}
	assert.LessOrEqual(t, prov.peak.Load(), int32(2))
}

func TestRunAllRejectsUnparsableInput(t *testing.T) {
	_, err := runAll(context.Background(), newPipeline(&countingProvider{}), []string{"ok.jpg", "  "}, 1)
	assert.Error(t, err)
}

type credentialProvider struct {
	name string
	err  error
}

func (c credentialProvider) Name() string { return c.name }

func (c credentialProvider) Process(context.Context, imageref.Ref, provider.Options) (imageref.Ref, error) {
	return imageref.Ref{}, nil
}

func (c credentialProvider) Validate(context.Context) error { return c.err }

func TestCheckCredentials(t *testing.T) {
	reg := &provider.Registry{}
	reg.Register(credentialProvider{name: "removebg"})
	reg.Register(credentialProvider{name: "runway", err: failure.New(failure.Unauthorized, "runway.validate", "bad key")})

	var out bytes.Buffer
	ok := checkCredentials(context.Background(), &out, reg, []string{"removebg", "runway"})

	assert.False(t, ok)
	assert.Contains(t, out.String(), "OK    removebg")
	assert.Contains(t, out.String(), "FAIL  runway")
}

func TestCheckCredentialsOnlyConfiguredProviders(t *testing.T) {
	reg := &provider.Registry{}
	reg.Register(credentialProvider{name: "removebg"})
	reg.Register(credentialProvider{name: "huggingface"})
	reg.Register(credentialProvider{name: "runway", err: failure.New(failure.Unauthorized, "runway.validate", "missing key")})

	var out bytes.Buffer
	ok := checkCredentials(context.Background(), &out, reg, stageProviders(config.DefaultStages(false)))

	assert.True(t, ok)
	assert.Contains(t, out.String(), "OK    removebg")
	assert.Contains(t, out.String(), "OK    huggingface")
	assert.NotContains(t, out.String(), "runway")
}

func TestStageProviders(t *testing.T) {
	defs := []pipeline.StageDef{
		{Name: "Background Removal", Providers: []string{"removebg", "HuggingFace"}},
		{Name: "Normalize", Providers: []string{"normalize", "removebg"}},
	}
	assert.Equal(t, []string{"removebg", "huggingface", "normalize"}, stageProviders(defs))
	assert.Empty(t, stageProviders(nil))
}

func TestPrintResults(t *testing.T) {
	res := pipeline.Result{
		Success: false,
		Error:   "Background Removal: bad key",
		Steps: []pipeline.Step{
			{Name: "Background Removal", Status: pipeline.StatusFailed, Progress: 25, Error: "Unauthorized"},
		},
	}

	var out bytes.Buffer
	printResults(&out, []string{"shirt.jpg"}, []pipeline.Result{res})

	assert.Contains(t, out.String(), "FAIL  shirt.jpg: Background Removal: bad key")
	assert.Contains(t, out.String(), " 25%")
	assert.Contains(t, out.String(), "Unauthorized")
}

func TestDisplayRefTruncatesDataURIs(t *testing.T) {
	ref := imageref.FromDataURI("data:image/png;base64," + string(bytes.Repeat([]byte("A"), 100)))
	assert.Equal(t, "data:image/png;base64,...", displayRef(ref))
	assert.Equal(t, "/a.png", displayRef(imageref.FromFile("/a.png")))
}
