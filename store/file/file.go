// Package file implements Store on the local filesystem, giving tests and
// offline runs the same Fetch/conditional-store contract as the networked
// backends. Single-process semantics: a process-wide mutex plus a
// read-before-write version check stand in for the remote store's conditional
// write.
//
// Layout under Config.Root:
//
//	docs/<docID>/_version               current version, ASCII integer
//	docs/<docID>/<category>/<key>.json  {"key":..., "payload":..., "expiresAt":...}
//	identities/<identity>.json          {"identity":..., "settings":...}
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/skycache/internal/util"
	"github.com/unkn0wn-root/skycache/store"
)

var _ store.Store = (*Store)(nil)

const entryExt = ".json"

type Config struct {
	// Root is the base directory. Created on demand.
	Root string
	// Logger reports recovered corruption. Nil means NopLogger.
	Logger store.Logger
}

type Store struct {
	root string
	log  store.Logger

	mu sync.Mutex
}

func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, errors.New("file store: empty root dir")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create root: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = store.NopLogger{}
	}
	return &Store{root: cfg.Root, log: log}, nil
}

// entryFile is the on-disk shape of one cache entry. Key is authoritative;
// the file name is only a derived, filesystem-safe form of it.
type entryFile struct {
	Key       string         `json:"key"`
	Payload   map[string]any `json:"payload"`
	ExpiresAt int64          `json:"expiresAt"`
}

func (s *Store) docDir(id string) string {
	return filepath.Join(s.root, "docs", util.Segment(id))
}

func (s *Store) versionPath(id string) string {
	return filepath.Join(s.docDir(id), "_version")
}

func (s *Store) identityPath(identity string) string {
	return filepath.Join(s.root, "identities", util.Segment(identity)+entryExt)
}

func (s *Store) FetchShared(_ context.Context, id string) (*store.SharedDocument, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ver, found, err := s.readVersion(id)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	doc := store.NewSharedDocument(id)
	doc.Version = ver

	dir := s.docDir(id)
	cats, err := os.ReadDir(dir)
	if err != nil {
		return nil, false, unavailable("read doc dir", err)
	}
	for _, cat := range cats {
		if !cat.IsDir() {
			continue
		}
		catDir := filepath.Join(dir, cat.Name())
		files, err := os.ReadDir(catDir)
		if err != nil {
			return nil, false, unavailable("read category dir", err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), entryExt) {
				continue
			}
			path := filepath.Join(catDir, f.Name())
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, false, unavailable("read entry", err)
			}
			var e entryFile
			if err := json.Unmarshal(raw, &e); err != nil || e.Key == "" {
				// corrupt entry: recover by treating it as absent
				s.log.Warn("skycache: skipping malformed entry file", store.Fields{
					"path": path,
					"err":  errString(err),
				})
				continue
			}
			doc.SetEntry(cat.Name(), e.Key, store.Entry{Payload: e.Payload, ExpiresAt: e.ExpiresAt})
		}
	}
	return doc, true, nil
}

func (s *Store) StoreSharedIf(_ context.Context, doc *store.SharedDocument, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, _, err := s.readVersion(doc.ID)
	if err != nil {
		return err
	}
	if current != expected {
		return store.ErrVersionConflict
	}

	dir := s.docDir(doc.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return unavailable("create doc dir", err)
	}

	// write the new entry set, then prune files the document no longer
	// contains, then commit the version bump last
	wanted := make(map[string]map[string]bool, len(doc.Entries))
	for cat, keys := range doc.Entries {
		catSeg := util.Segment(cat)
		catDir := filepath.Join(dir, catSeg)
		if err := os.MkdirAll(catDir, 0o755); err != nil {
			return unavailable("create category dir", err)
		}
		names := make(map[string]bool, len(keys))
		wanted[catSeg] = names
		for key, e := range keys {
			name := util.Segment(key) + entryExt
			names[name] = true
			raw, err := json.Marshal(entryFile{Key: key, Payload: e.Payload, ExpiresAt: e.ExpiresAt})
			if err != nil {
				return fmt.Errorf("file store: encode entry %q/%q: %w", cat, key, err)
			}
			if err := writeAtomic(filepath.Join(catDir, name), raw); err != nil {
				return err
			}
		}
	}

	if err := s.prune(dir, wanted); err != nil {
		return err
	}

	return writeAtomic(s.versionPath(doc.ID), []byte(strconv.FormatInt(expected+1, 10)))
}

// prune removes category dirs and entry files absent from the document being
// stored. The document replaces stored state wholesale.
func (s *Store) prune(dir string, wanted map[string]map[string]bool) error {
	cats, err := os.ReadDir(dir)
	if err != nil {
		return unavailable("read doc dir", err)
	}
	for _, cat := range cats {
		if !cat.IsDir() {
			continue
		}
		names, keep := wanted[cat.Name()]
		catDir := filepath.Join(dir, cat.Name())
		if !keep {
			if err := os.RemoveAll(catDir); err != nil {
				return unavailable("prune category", err)
			}
			continue
		}
		files, err := os.ReadDir(catDir)
		if err != nil {
			return unavailable("read category dir", err)
		}
		for _, f := range files {
			if f.IsDir() || names[f.Name()] {
				continue
			}
			if err := os.Remove(filepath.Join(catDir, f.Name())); err != nil && !os.IsNotExist(err) {
				return unavailable("prune entry", err)
			}
		}
	}
	return nil
}

func (s *Store) FetchIdentity(_ context.Context, identity string) (*store.IdentityDocument, bool, error) {
	path := s.identityPath(identity)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("read identity", err)
	}
	var doc store.IdentityDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.log.Warn("skycache: malformed identity file", store.Fields{
			"path": path,
			"err":  err.Error(),
		})
		return nil, false, nil
	}
	if doc.Identity == "" {
		doc.Identity = identity
	}
	return &doc, true, nil
}

func (s *Store) StoreIdentity(_ context.Context, doc *store.IdentityDocument) error {
	path := s.identityPath(doc.Identity)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return unavailable("create identities dir", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("file store: encode identity %q: %w", doc.Identity, err)
	}
	return writeAtomic(path, raw)
}

func (s *Store) Close(context.Context) error { return nil }

// readVersion returns the stored version, or found=false when the document
// was never written. A malformed sidecar reads as absent so the next write
// rebuilds the document from scratch.
func (s *Store) readVersion(id string) (int64, bool, error) {
	raw, err := os.ReadFile(s.versionPath(id))
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("read version", err)
	}
	v, perr := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if perr != nil || v < 0 {
		s.log.Warn("skycache: malformed version sidecar", store.Fields{
			"path": s.versionPath(id),
			"raw":  string(raw),
		})
		return 0, false, nil
	}
	return v, true, nil
}

// writeAtomic writes via a uniquely named temp file and renames it into
// place, so readers never observe a half-written file.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return unavailable("write temp", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return unavailable("rename", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("file store: %s: %w: %w", op, store.ErrUnavailable, err)
}

func errString(err error) string {
	if err == nil {
		return "missing key field"
	}
	return err.Error()
}
