package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildJob(t *testing.T) {
	now := time.Unix(1700000000, 0)
	id := uuid.New()

	dir := t.TempDir()
	photo := filepath.Join(dir, "shirt.jpg")
	require.NoError(t, os.WriteFile(photo, []byte("jpeg"), 0o644))

	tests := []struct {
		name      string
		arg       string
		wantImage string
		wantID    string
		wantFile  string
	}{
		{"bare uuid", id.String(), "", id.String(), ""},
		{"content ref", "content://" + id.String(), "", id.String(), ""},
		{"file", photo, photo, "", "shirt.jpg"},
		{"url", "https://cdn.test/a.png", "https://cdn.test/a.png", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := buildJob(tt.arg, []string{"Background Removal"}, now)
			require.NoError(t, err)

			assert.Equal(t, tt.wantImage, job.Image)
			assert.Equal(t, tt.wantID, job.ContentID)
			assert.Equal(t, tt.wantFile, job.Filename)
			assert.Equal(t, []string{"Background Removal"}, job.Stages)
			assert.Equal(t, int64(1700000000), job.HappenedAt)
			_, err = uuid.Parse(job.ID)
			assert.NoError(t, err)
		})
	}
}

func TestBuildJobMissingFile(t *testing.T) {
	_, err := buildJob(filepath.Join(t.TempDir(), "missing.jpg"), nil, time.Now())
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"Background Removal", "Normalize"}, splitList(" Background Removal, ,Normalize "))
	assert.Nil(t, splitList(""))
}
