package finalize

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoforge/internal/assets"
	"videoforge/internal/catalog"
	"videoforge/internal/logging"
	"videoforge/internal/services"
	"videoforge/internal/services/imagehost"
	"videoforge/internal/services/objectstore"
	"videoforge/internal/stage"
)

type fakeObjects struct {
	mu      sync.Mutex
	uploads []string
	failOn  map[string]bool
}

func (f *fakeObjects) Upload(ctx context.Context, assetKind, path string) (*objectstore.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[assetKind] {
		return nil, errors.New("bucket unavailable")
	}
	f.uploads = append(f.uploads, assetKind)
	return &objectstore.Result{Bucket: "b", StorageKey: "key-" + assetKind, IntegrityTag: "etag"}, nil
}

func (f *fakeObjects) HealthCheck(ctx context.Context) error { return nil }

type fakeImages struct {
	mu      sync.Mutex
	uploads int
	err     error
}

func (f *fakeImages) Upload(ctx context.Context, path string) (*imagehost.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.uploads++
	return &imagehost.Result{
		ID:       "img-1",
		Filename: "thumb.jpg",
		URL:      "https://img.example/thumb.jpg",
	}, nil
}

func (f *fakeImages) HealthCheck(ctx context.Context) error { return nil }

type fakeCatalog struct {
	mu      sync.Mutex
	records []catalog.AssetRecord
}

func (f *fakeCatalog) InsertAssetRecord(ctx context.Context, rec catalog.AssetRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func newRequest(t *testing.T, registry *assets.Registry) *stage.Request {
	t.Helper()
	repo, err := assets.Init(t.TempDir(), "root-finalize")
	require.NoError(t, err)
	registry.Register(repo)

	for kind, name := range map[assets.Kind]string{
		assets.KindOptimizedVideo:  "optimized.mp4",
		assets.KindCaptionedVideo:  "captioned.mp4",
		assets.KindSRTTranscript:   "transcript.srt",
		assets.KindPlainTranscript: "transcript.txt",
		assets.KindThumbnail:       "thumbnail.jpg",
		assets.KindAudio:           "audio.wav",
	} {
		_, err := repo.Create(kind, name)
		require.NoError(t, err)
		require.NoError(t, repo.WriteContent(kind, []byte(string(kind))))
	}
	return &stage.Request{
		Submission: &catalog.Submission{ID: 7},
		Repo:       repo,
		Progress:   stage.NopReporter,
	}
}

func newHandler(objects *fakeObjects, images *fakeImages, cat *fakeCatalog, registry *assets.Registry) *Handler {
	return &Handler{
		objects:  objects,
		images:   images,
		catalog:  cat,
		registry: registry,
		logger:   logging.NewNop(),
	}
}

func TestExecutePersistsAllAssets(t *testing.T) {
	registry := assets.NewRegistry()
	objects := &fakeObjects{}
	images := &fakeImages{}
	cat := &fakeCatalog{}
	h := newHandler(objects, images, cat, registry)
	req := newRequest(t, registry)
	baseDir := req.Repo.BaseDir()

	require.NoError(t, h.Execute(context.Background(), req))

	// Thumbnail goes to the image host, everything else hits the object
	// store, audio included.
	assert.Equal(t, 1, images.uploads)
	assert.Len(t, objects.uploads, 5)
	assert.Contains(t, objects.uploads, "audio")
	assert.Len(t, cat.records, 6)

	// Staging is gone and the registry entry released.
	_, statErr := os.Stat(baseDir)
	assert.True(t, os.IsNotExist(statErr))
	_, ok := registry.Lookup("root-finalize")
	assert.False(t, ok)
}

func TestExecuteAggregatesFailuresWithoutAborting(t *testing.T) {
	registry := assets.NewRegistry()
	objects := &fakeObjects{failOn: map[string]bool{
		"srt_transcript":  true,
		"optimized_video": true,
	}}
	images := &fakeImages{}
	cat := &fakeCatalog{}
	h := newHandler(objects, images, cat, registry)
	req := newRequest(t, registry)
	baseDir := req.Repo.BaseDir()

	err := h.Execute(context.Background(), req)
	require.Error(t, err)
	require.True(t, services.IsKind(err, services.KindFinalize))

	var tagged *services.Error
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, []string{"optimized_video", "srt_transcript"}, tagged.FailedKinds)

	// Surviving assets were still persisted and staging was still removed.
	assert.Len(t, objects.uploads, 3)
	assert.Equal(t, 1, images.uploads)
	_, statErr := os.Stat(baseDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExecuteThumbnailFailureIsPerKind(t *testing.T) {
	registry := assets.NewRegistry()
	objects := &fakeObjects{}
	images := &fakeImages{err: errors.New("image host down")}
	cat := &fakeCatalog{}
	h := newHandler(objects, images, cat, registry)
	req := newRequest(t, registry)

	err := h.Execute(context.Background(), req)
	require.Error(t, err)
	var tagged *services.Error
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, []string{"thumbnail"}, tagged.FailedKinds)
	assert.Len(t, objects.uploads, 5, "object uploads proceed despite thumbnail failure")
}

func TestExecuteRecordsPublicURLForThumbnail(t *testing.T) {
	registry := assets.NewRegistry()
	cat := &fakeCatalog{}
	h := newHandler(&fakeObjects{}, &fakeImages{}, cat, registry)
	req := newRequest(t, registry)

	require.NoError(t, h.Execute(context.Background(), req))

	var thumb *catalog.AssetRecord
	for i := range cat.records {
		if cat.records[i].Kind == "thumbnail" {
			thumb = &cat.records[i]
		}
	}
	require.NotNil(t, thumb)
	assert.Equal(t, "https://img.example/thumb.jpg", thumb.PublicURL)
	assert.Equal(t, "img-1", thumb.StorageKey)
	assert.EqualValues(t, 7, thumb.SubmissionID)
}

func TestFailureSummary(t *testing.T) {
	e := services.NewError(services.KindFinalize, "finalize", "asset persistence failed")
	e.FailedKinds = []string{"thumbnail", "srt_transcript"}
	assert.Equal(t, "failed to persist: thumbnail, srt_transcript", FailureSummary(e))

	plain := errors.New("boom")
	assert.Equal(t, "boom", FailureSummary(plain))
}
