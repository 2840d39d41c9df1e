package persist

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
)

const settingsDescriptor = "signally/settings"

// EnsureKeyStoreWithLogger creates or loads the key store at path and
// ensures a root key exists.
func EnsureKeyStoreWithLogger(path string, logger pslog.Logger) error {
	if path == "" {
		return fmt.Errorf("settings key store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		if logger != nil {
			logger.Warn("settings key store ensure failed", "err", err)
		}
		return err
	}
	store, err := keymgmt.LoadProto(path)
	if err != nil {
		if logger != nil {
			logger.Warn("settings key store ensure failed", "err", err)
		}
		return err
	}
	if _, err := store.EnsureRootKey(); err != nil {
		if logger != nil {
			logger.Warn("settings key store ensure failed", "err", err)
		}
		return err
	}
	if err := store.Commit(); err != nil {
		if logger != nil {
			logger.Warn("settings key store ensure failed", "err", err)
		}
		return err
	}
	if logger != nil {
		logger.Debug("settings key store ensure ok", "path", path)
	}
	return nil
}

func settingsMaterial(keyStorePath string) (keymgmt.Material, keymgmt.RootKey, error) {
	store, err := keymgmt.LoadProto(keyStorePath)
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	material, err := store.EnsureDescriptor(settingsDescriptor, root, []byte(settingsDescriptor))
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	if err := store.Commit(); err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	return material, root, nil
}

func sealWriter(keyStorePath string, w io.Writer) (io.WriteCloser, error) {
	material, root, err := settingsMaterial(keyStorePath)
	if err != nil {
		return nil, err
	}
	return kryptograf.New(root).EncryptWriter(w, material)
}

func openSealed(keyStorePath string, r io.Reader) ([]byte, error) {
	material, root, err := settingsMaterial(keyStorePath)
	if err != nil {
		return nil, err
	}
	reader, err := kryptograf.New(root).DecryptReader(r, material)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()
	return io.ReadAll(reader)
}
