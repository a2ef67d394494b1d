package assets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"videoforge/internal/services"
)

func TestInitRefusesExistingDirectory(t *testing.T) {
	staging := t.TempDir()
	if _, err := Init(staging, "root-1"); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	_, err := Init(staging, "root-1")
	if !services.IsKind(err, services.KindRepositoryInit) {
		t.Fatalf("second Init error = %v, want repository_init kind", err)
	}
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	repo := mustInit(t)

	rec, err := repo.Create(KindSRTTranscript, "captions.srt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.WriteContent(KindSRTTranscript, []byte("1\n00:00:00,000 --> 00:00:01,000\nhi\n")); err != nil {
		t.Fatalf("WriteContent: %v", err)
	}
	data, err := repo.ReadContent(KindSRTTranscript)
	if err != nil {
		t.Fatalf("ReadContent: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty content")
	}
	if filepath.Dir(rec.Path) != filepath.Join(repo.BaseDir(), "srt_transcript") {
		t.Fatalf("asset stored outside kind directory: %s", rec.Path)
	}
}

func TestCreateSanitizesHostileFilename(t *testing.T) {
	repo := mustInit(t)

	rec, err := repo.Create(KindOriginalVideo, "../../etc/passwd")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Filename != "passwd" {
		t.Fatalf("Filename = %q, want base name only", rec.Filename)
	}
	rel, err := filepath.Rel(repo.BaseDir(), rec.Path)
	if err != nil || rel == ".." || filepath.IsAbs(rel) || len(rel) >= 2 && rel[:2] == ".." {
		t.Fatalf("path escapes staging dir: %s", rec.Path)
	}

	if _, err := repo.Create(KindThumbnail, "../.."); err == nil {
		t.Fatal("expected error for unusable filename")
	}
}

func TestCreateRefusesDuplicateKind(t *testing.T) {
	repo := mustInit(t)

	if _, err := repo.Create(KindOriginalVideo, "a.mp4"); err != nil {
		t.Fatal(err)
	}
	_, err := repo.Create(KindOriginalVideo, "b.mp4")
	if !services.IsKind(err, services.KindRepository) {
		t.Fatalf("err = %v, want repository kind", err)
	}
}

func TestGetMissingKind(t *testing.T) {
	repo := mustInit(t)
	_, err := repo.Get(KindThumbnail)
	if !services.IsKind(err, services.KindAssetNotFound) {
		t.Fatalf("err = %v, want asset_not_found", err)
	}
	var tagged *services.Error
	if !errors.As(err, &tagged) || tagged.RepoPath == "" {
		t.Fatalf("error should carry repo path: %v", err)
	}
}

func TestOpenRebuildsFromDisk(t *testing.T) {
	staging := t.TempDir()
	repo, err := Init(staging, "root-2")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Create(KindOptimizedVideo, "out.mp4"); err != nil {
		t.Fatal(err)
	}
	if err := repo.WriteContent(KindOptimizedVideo, []byte("video")); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(staging, "root-2")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec, err := reopened.Get(KindOptimizedVideo)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if rec.Filename != "out.mp4" {
		t.Fatalf("Filename = %q", rec.Filename)
	}
}

func TestDestroyRemovesEverything(t *testing.T) {
	repo := mustInit(t)
	if _, err := repo.Create(KindAudio, "audio.wav"); err != nil {
		t.Fatal(err)
	}
	if err := repo.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := os.Stat(repo.BaseDir()); !os.IsNotExist(err) {
		t.Fatal("staging directory should be gone")
	}
	if len(repo.Records()) != 0 {
		t.Fatal("records should be cleared")
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	repo := mustInit(t)
	reg.Register(repo)

	got, ok := reg.Lookup(repo.RootID())
	if !ok || got != repo {
		t.Fatal("Lookup should return registered repository")
	}
	reg.Release(repo.RootID())
	if _, ok := reg.Lookup(repo.RootID()); ok {
		t.Fatal("Lookup after Release should miss")
	}
}

func mustInit(t *testing.T) *Repository {
	t.Helper()
	repo, err := Init(t.TempDir(), "root-test")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return repo
}
