package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/namelens/domaincheck/internal/core"
)

// DocumentVersion is the on-disk format version.
const DocumentVersion = 1

// Document is the on-disk state file.
type Document struct {
	Version     int                         `json:"version"`
	Domains     map[string]core.DomainState `json:"domains"`
	LastUpdated string                      `json:"last_updated"`
	HMAC        string                      `json:"hmac"`
}

// signedPart is the HMAC input: the document minus its hmac field.
type signedPart struct {
	Domains     map[string]core.DomainState `json:"domains"`
	LastUpdated string                      `json:"last_updated"`
	Version     int                         `json:"version"`
}

// FileStore keeps all domain states in one signed JSON file.
type FileStore struct {
	path   string
	signer *Signer
	clock  func() time.Time

	mu     sync.Mutex
	loaded bool
	doc    Document
}

// NewFileStore returns a file-backed store.
func NewFileStore(path, secret string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("state file path is required")
	}
	signer, err := NewSigner(secret)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, signer: signer, clock: func() time.Time { return time.Now().UTC() }}, nil
}

// Path returns the state file path.
func (f *FileStore) Path() string { return f.path }

// Load reads and verifies the file. A missing file yields an empty state.
func (f *FileStore) Load(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = false
	return f.ensureLoaded()
}

// Get returns the state for domain, or nil if none is stored.
func (f *FileStore) Get(ctx context.Context, domain string) (*core.DomainState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureLoaded(); err != nil {
		return nil, err
	}
	st, ok := f.doc.Domains[normalizeDomain(domain)]
	if !ok {
		return nil, nil
	}
	copied := st
	return &copied, nil
}

// Record merges result into the stored state and persists the file.
func (f *FileStore) Record(ctx context.Context, result core.CheckResult) (core.DomainState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureLoaded(); err != nil {
		return core.DomainState{}, err
	}

	key := normalizeDomain(result.Domain)
	var previous *core.DomainState
	if st, ok := f.doc.Domains[key]; ok {
		previous = &st
	}
	next := core.NextDomainState(previous, result)
	f.doc.Domains[key] = next
	if err := f.writeLocked(); err != nil {
		if previous != nil {
			f.doc.Domains[key] = *previous
		} else {
			delete(f.doc.Domains, key)
		}
		return core.DomainState{}, err
	}
	return next, nil
}

// MarkNotified stamps the last notification time for domain.
func (f *FileStore) MarkNotified(ctx context.Context, domain string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureLoaded(); err != nil {
		return err
	}

	key := normalizeDomain(domain)
	st, ok := f.doc.Domains[key]
	if !ok {
		return ErrNotFound
	}
	previous := st
	stamp := at.UTC()
	st.LastNotified = &stamp
	f.doc.Domains[key] = st
	if err := f.writeLocked(); err != nil {
		f.doc.Domains[key] = previous
		return err
	}
	return nil
}

// Domains lists the stored domains in sorted order.
func (f *FileStore) Domains(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureLoaded(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(f.doc.Domains))
	for domain := range f.doc.Domains {
		out = append(out, domain)
	}
	sort.Strings(out)
	return out, nil
}

// Close is a no-op; every write is flushed immediately.
func (f *FileStore) Close() error { return nil }

func (f *FileStore) ensureLoaded() error {
	if f.loaded {
		return nil
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		f.doc = Document{Version: DocumentVersion, Domains: map[string]core.DomainState{}}
		f.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse state file: %w", err)
	}
	payload, err := signedPayload(doc)
	if err != nil {
		return err
	}
	if !f.signer.Verify(payload, doc.HMAC) {
		return ErrTampered
	}
	if doc.Domains == nil {
		doc.Domains = map[string]core.DomainState{}
	}
	f.doc = doc
	f.loaded = true
	return nil
}

func (f *FileStore) writeLocked() error {
	f.doc.Version = DocumentVersion
	f.doc.LastUpdated = f.clock().Format(time.RFC3339Nano)
	payload, err := signedPayload(f.doc)
	if err != nil {
		return err
	}
	f.doc.HMAC = f.signer.Sign(payload)

	data, err := json.MarshalIndent(f.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}
	return writeFileAtomic(f.path, data)
}

func signedPayload(doc Document) ([]byte, error) {
	payload, err := json.Marshal(signedPart{
		Domains:     doc.Domains,
		LastUpdated: doc.LastUpdated,
		Version:     doc.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("encode state payload: %w", err)
	}
	return payload, nil
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	// #nosec G301 -- state directories follow the data directory permissions
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
