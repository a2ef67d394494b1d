package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"videoforge/internal/services"
)

// Record describes one staged asset. StorageKey and IntegrityTag are filled
// in by finalize after the durable upload succeeds.
type Record struct {
	Kind         Kind
	Filename     string
	Path         string
	StorageKey   string
	IntegrityTag string
}

// Repository is the on-disk staging area for a single pipeline run. Stages
// execute one at a time per run, so the repository carries no lock; the
// workflow manager guarantees exclusive access.
type Repository struct {
	rootID  string
	baseDir string
	records map[Kind]*Record
}

const dirPrefix = "submission-assets-"

// DirName returns the staging directory name for a root job.
func DirName(rootID string) string {
	return dirPrefix + rootID
}

// Init creates a fresh repository under stagingDir. A directory already
// present for this root means another run is active or a previous one did
// not clean up, and initialization refuses to proceed.
func Init(stagingDir, rootID string) (*Repository, error) {
	base := filepath.Join(stagingDir, DirName(rootID))
	if _, err := os.Stat(base); err == nil {
		return nil, services.NewError(services.KindRepositoryInit, "",
			fmt.Sprintf("staging directory already exists at %s", base))
	} else if !os.IsNotExist(err) {
		return nil, services.WrapError(services.KindRepositoryInit, "", "stat staging directory", err)
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, services.WrapError(services.KindRepositoryInit, "", "create staging directory", err)
	}
	return &Repository{rootID: rootID, baseDir: base, records: make(map[Kind]*Record)}, nil
}

// Open rebuilds a repository from an existing staging directory by scanning
// kind subdirectories. Used after a daemon restart to resume a run whose
// files survived on disk.
func Open(stagingDir, rootID string) (*Repository, error) {
	base := filepath.Join(stagingDir, DirName(rootID))
	info, err := os.Stat(base)
	if err != nil {
		return nil, services.WrapError(services.KindRepository, "", "open staging directory", err)
	}
	if !info.IsDir() {
		return nil, services.NewError(services.KindRepository, "",
			fmt.Sprintf("staging path %s is not a directory", base))
	}

	repo := &Repository{rootID: rootID, baseDir: base, records: make(map[Kind]*Record)}
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, services.WrapError(services.KindRepository, "", "scan staging directory", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || !Known(Kind(entry.Name())) {
			continue
		}
		kind := Kind(entry.Name())
		files, err := os.ReadDir(filepath.Join(base, entry.Name()))
		if err != nil {
			return nil, services.WrapError(services.KindRepository, "", "scan kind directory", err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			repo.records[kind] = &Record{
				Kind:     kind,
				Filename: f.Name(),
				Path:     filepath.Join(base, entry.Name(), f.Name()),
			}
			break
		}
	}
	return repo, nil
}

// RootID returns the root job this repository belongs to.
func (r *Repository) RootID() string { return r.rootID }

// BaseDir returns the repository's staging directory.
func (r *Repository) BaseDir() string { return r.baseDir }

// Create registers a new asset of the given kind and returns its record.
// The filename is reduced to its base name so submission-supplied names
// cannot escape the staging directory. A kind can be created once per run;
// a second Create for the same kind is a caller bug, not a replace.
func (r *Repository) Create(kind Kind, filename string) (*Record, error) {
	if !Known(kind) {
		return nil, services.NewError(services.KindRepository, "",
			fmt.Sprintf("unknown asset kind %q", kind))
	}
	if _, ok := r.records[kind]; ok {
		e := services.NewError(services.KindRepository, "",
			fmt.Sprintf("asset kind %s already exists in repository", kind))
		e.RepoPath = r.baseDir
		return nil, e
	}
	name := sanitizeFilename(filename)
	if name == "" {
		return nil, services.NewError(services.KindRepository, "",
			fmt.Sprintf("unusable asset filename %q", filename))
	}

	dir := filepath.Join(r.baseDir, string(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.WrapError(services.KindRepository, "", "create kind directory", err)
	}

	rec := &Record{Kind: kind, Filename: name, Path: filepath.Join(dir, name)}
	r.records[kind] = rec
	return rec, nil
}

// Get returns the asset of the given kind.
func (r *Repository) Get(kind Kind) (*Record, error) {
	rec, ok := r.records[kind]
	if !ok {
		e := services.NewError(services.KindAssetNotFound, "",
			fmt.Sprintf("no %s asset in repository", kind))
		e.RepoPath = r.baseDir
		return nil, e
	}
	return rec, nil
}

// Has reports whether an asset of the given kind exists.
func (r *Repository) Has(kind Kind) bool {
	_, ok := r.records[kind]
	return ok
}

// WriteContent writes data to the asset's file.
func (r *Repository) WriteContent(kind Kind, data []byte) error {
	rec, err := r.Get(kind)
	if err != nil {
		return err
	}
	if err := os.WriteFile(rec.Path, data, 0o644); err != nil {
		return services.WrapError(services.KindRepository, "", "write asset content", err)
	}
	return nil
}

// ReadContent reads the asset's file.
func (r *Repository) ReadContent(kind Kind) ([]byte, error) {
	rec, err := r.Get(kind)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(rec.Path)
	if err != nil {
		return nil, services.WrapError(services.KindRepository, "", "read asset content", err)
	}
	return data, nil
}

// AttachDurable records the durable storage key and integrity tag for an
// uploaded asset.
func (r *Repository) AttachDurable(kind Kind, storageKey, integrityTag string) error {
	rec, err := r.Get(kind)
	if err != nil {
		return err
	}
	rec.StorageKey = storageKey
	rec.IntegrityTag = integrityTag
	return nil
}

// Remove deletes a single asset and its file.
func (r *Repository) Remove(kind Kind) error {
	rec, err := r.Get(kind)
	if err != nil {
		return err
	}
	if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
		return services.WrapError(services.KindRepository, "", "remove asset file", err)
	}
	delete(r.records, kind)
	return nil
}

// Records returns a kind-sorted snapshot of the repository contents.
func (r *Repository) Records() []Record {
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Destroy removes the entire staging directory. Safe to call whether or not
// the run succeeded.
func (r *Repository) Destroy() error {
	if err := os.RemoveAll(r.baseDir); err != nil {
		return services.WrapError(services.KindRepository, "", "remove staging directory", err)
	}
	r.records = make(map[Kind]*Record)
	return nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == string(filepath.Separator) || base == ".." {
		return ""
	}
	return base
}
