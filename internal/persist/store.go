package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"pkt.systems/pslog"
)

const (
	plainFile  = "settings.json"
	sealedFile = "settings.json.enc"
)

// Store persists the settings document to disk. When a key store path is
// configured the document is sealed with kryptograf.
type Store struct {
	dir          string
	keyStorePath string
	log          pslog.Logger
	mu           sync.Mutex
}

// NewStore constructs a plain settings store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, "", nil)
}

// NewStoreWithLogger constructs a settings store with logging. A non-empty
// keyStorePath enables sealing.
func NewStoreWithLogger(dir, keyStorePath string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	keyStorePath = strings.TrimSpace(keyStorePath)
	if keyStorePath != "" {
		if err := EnsureKeyStoreWithLogger(keyStorePath, logger); err != nil {
			return nil, err
		}
	}
	return &Store{dir: dir, keyStorePath: keyStorePath, log: logger}, nil
}

// Sealed reports whether the document is encrypted at rest.
func (s *Store) Sealed() bool {
	return s.keyStorePath != ""
}

// Path returns the settings document path.
func (s *Store) Path() string {
	if s.Sealed() {
		return filepath.Join(s.dir, sealedFile)
	}
	return filepath.Join(s.dir, plainFile)
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return "", false, err
	}
	value, ok := values[key]
	return value, ok, nil
}

// Keys lists the stored keys in order.
func (s *Store) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("settings key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return err
	}
	values[key] = value
	if err := s.save(values); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Info("settings set ok", "key", key)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	if err := s.save(values); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Info("settings remove ok", "key", key)
	}
	return nil
}

func (s *Store) load() (map[string]string, error) {
	path := s.Path()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("settings load miss", "path", path)
			}
			return map[string]string{}, nil
		}
		if s.log != nil {
			s.log.Warn("settings load failed", "err", err)
		}
		return nil, err
	}
	if s.Sealed() {
		data, err = openSealed(s.keyStorePath, bytes.NewReader(data))
		if err != nil {
			if s.log != nil {
				s.log.Warn("settings load failed", "err", err)
			}
			return nil, err
		}
	}
	values := map[string]string{}
	if len(bytes.TrimSpace(data)) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		if s.log != nil {
			s.log.Warn("settings load failed", "err", err)
		}
		return nil, err
	}
	if s.log != nil {
		s.log.Trace("settings load ok", "keys", len(values))
	}
	return values, nil
}

func (s *Store) save(values map[string]string) error {
	path := s.Path()
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		s.warnSave(err)
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "settings-*.tmp")
	if err != nil {
		s.warnSave(err)
		return err
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		s.warnSave(err)
		return err
	}
	var out io.Writer = tmp
	var sealer io.WriteCloser
	if s.Sealed() {
		sealer, err = sealWriter(s.keyStorePath, fileOnly{tmp})
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			s.warnSave(err)
			return err
		}
		out = sealer
	}
	if _, err := out.Write(data); err != nil {
		if sealer != nil {
			_ = sealer.Close()
		}
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		s.warnSave(err)
		return err
	}
	if sealer != nil {
		if err := sealer.Close(); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			s.warnSave(err)
			return err
		}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		s.warnSave(err)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		s.warnSave(err)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		s.warnSave(err)
		return err
	}
	if s.log != nil {
		s.log.Trace("settings save ok", "keys", len(values), "sealed", s.Sealed())
	}
	return nil
}

// fileOnly hides the file's Close from the sealing writer, which closes
// its destination. The temp file must stay open for Sync.
type fileOnly struct {
	w io.Writer
}

func (f fileOnly) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (s *Store) warnSave(err error) {
	if s.log != nil {
		s.log.Warn("settings save failed", "err", err)
	}
}
