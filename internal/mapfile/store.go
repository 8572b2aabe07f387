// Package mapfile owns the lifecycle of mapfiles: publishing step outputs,
// registering pipeline inputs, and resolving references for consumers.
package mapfile

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourceplane/mapflow/internal/model"
)

// Extension is the file extension of persisted listings.
const Extension = ".mapfile"

// Store is the sole owner of mapfile contents. Published mapfiles are never
// modified; publishing under an existing identity creates a new version.
type Store struct {
	dir    string
	logger zerolog.Logger

	mu      sync.RWMutex
	files   map[string]*model.MapFile
	handles map[string]model.Handle
}

// NewStore creates a store persisting step outputs under dir. An empty dir
// keeps outputs in memory only.
func NewStore(dir string, logger zerolog.Logger) *Store {
	return &Store{
		dir:     dir,
		logger:  logger.With().Str("component", "mapfile").Logger(),
		files:   make(map[string]*model.MapFile),
		handles: make(map[string]model.Handle),
	}
}

// Dir returns the persistence directory.
func (s *Store) Dir() string { return s.dir }

// Create publishes the output mapfile of stepID at the default location.
func (s *Store) Create(stepID string, entries []model.Entry) (model.Handle, error) {
	return s.CreateAt(stepID, "", entries)
}

// CreateAt publishes the output mapfile of stepID, persisting it at path.
// An empty path selects <dir>/<stepID>.mapfile, versioned on republish.
func (s *Store) CreateAt(stepID, path string, entries []model.Entry) (model.Handle, error) {
	name := model.OutputRef(stepID).Name

	s.mu.Lock()
	defer s.mu.Unlock()

	version := 1
	if prev, ok := s.files[name]; ok {
		version = prev.Version() + 1
	}

	if path == "" && s.dir != "" {
		path = s.defaultPath(stepID, version)
	}
	if path != "" {
		if err := WriteListingFile(path, entries); err != nil {
			return model.Handle{}, err
		}
	}

	mf := model.NewMapFile(name, entries).WithVersion(version)
	h := model.Handle{Name: name, Version: version, Path: path}
	s.files[name] = mf
	s.handles[name] = h

	s.logger.Debug().
		Str("mapfile", name).
		Int("version", version).
		Int("entries", mf.Len()).
		Str("path", path).
		Msg("mapfile created")
	return h, nil
}

func (s *Store) defaultPath(stepID string, version int) string {
	if version == 1 {
		return filepath.Join(s.dir, stepID+Extension)
	}
	return filepath.Join(s.dir, fmt.Sprintf("%s.v%d%s", stepID, version, Extension))
}

// Register makes mf resolvable under name.
func (s *Store) Register(name string, mf *model.MapFile) model.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := 1
	if prev, ok := s.files[name]; ok {
		version = prev.Version() + 1
	}
	s.files[name] = model.NewMapFile(name, mf.Entries()).WithVersion(version)
	h := model.Handle{Name: name, Version: version, Path: s.handles[name].Path}
	s.handles[name] = h
	return h
}

// Restore registers the persisted listing at path as the output of stepID,
// as found by a previous run.
func (s *Store) Restore(stepID, path string) (model.Handle, error) {
	entries, err := ReadListingFile(path)
	if err != nil {
		return model.Handle{}, notFound(model.OutputRef(stepID).Name, err)
	}
	name := model.OutputRef(stepID).Name

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = model.NewMapFile(name, entries)
	h := model.Handle{Name: name, Version: 1, Path: path}
	s.handles[name] = h
	return h, nil
}

// Load reads the listing at path without registering it.
func (s *Store) Load(path string) (*model.MapFile, error) {
	entries, err := ReadListingFile(path)
	if err != nil {
		return nil, err
	}
	return model.NewMapFile(path, entries), nil
}

// Handle returns the current handle of a published or registered mapfile.
func (s *Store) Handle(name string) (model.Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[name]
	return h, ok
}

// Resolve returns the current version of the referenced mapfile. A step
// output resolves only once published; an external reference falls back to
// loading the listing from disk, relative to the store directory when the
// path itself does not exist.
func (s *Store) Resolve(ref model.MapFileRef) (*model.MapFile, error) {
	s.mu.RLock()
	mf, ok := s.files[ref.Name]
	s.mu.RUnlock()
	if ok {
		return mf, nil
	}

	if ref.IsStepOutput() {
		return nil, notFound(ref.Name, fmt.Errorf("step %s has not produced it", ref.Step))
	}

	path := ref.Name
	loaded, err := s.Load(path)
	if errors.Is(err, fs.ErrNotExist) && s.dir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(s.dir, ref.Name)
		loaded, err = s.Load(path)
	}
	if err != nil {
		return nil, notFound(ref.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if mf, ok := s.files[ref.Name]; ok {
		return mf, nil
	}
	mf = model.NewMapFile(ref.Name, loaded.Entries())
	s.files[ref.Name] = mf
	s.handles[ref.Name] = model.Handle{Name: ref.Name, Version: 1, Path: path}
	s.logger.Debug().Str("mapfile", ref.Name).Str("path", path).Int("entries", mf.Len()).Msg("mapfile loaded")
	return mf, nil
}

// ResolveAll resolves refs and checks that they pair positionally.
func (s *Store) ResolveAll(refs []model.MapFileRef) ([]*model.MapFile, error) {
	out := make([]*model.MapFile, len(refs))
	for i, ref := range refs {
		mf, err := s.Resolve(ref)
		if err != nil {
			return nil, err
		}
		out[i] = mf
	}
	if err := CheckArity(out); err != nil {
		return nil, err
	}
	return out, nil
}

// CheckArity requires every mapfile to have the same length as the first.
func CheckArity(files []*model.MapFile) error {
	for _, mf := range files[min(1, len(files)):] {
		if mf.Len() != files[0].Len() {
			return &model.RuntimeError{
				Kind: model.ErrMapFileArityMismatch,
				Msg: fmt.Sprintf("%s has %d entries, %s has %d",
					files[0].Name(), files[0].Len(), mf.Name(), mf.Len()),
			}
		}
	}
	return nil
}

func notFound(name string, cause error) error {
	return &model.RuntimeError{Kind: model.ErrMapFileNotFound, Path: name, Err: cause}
}
