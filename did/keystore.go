package did

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Keystore is a simple local-first store for identity seeds.
//
// Features:
// - Stores 32-byte seeds on the local filesystem (0600 files)
// - One identity per name, plus deterministic per-device subkeys
// - Supports ed25519 and dilithium3 identities
//
// This is designed to be straightforward and explicit.
type Keystore struct {
	Directory string
}

type KeystoreEntry struct {
	Name    string
	Alg     string
	DID     DID
	Devices []string
}

func DefaultKeystoreDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".dwn", "keys"), nil
}

func OpenKeystore(directory string) (*Keystore, error) {
	if directory == "" {
		var err error
		directory, err = DefaultKeystoreDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &Keystore{Directory: directory}, nil
}

func (ks *Keystore) rootKeyPath(name string) string {
	return filepath.Join(ks.Directory, name, "root.key")
}

func (ks *Keystore) deviceKeyPath(name, device string) string {
	return filepath.Join(ks.Directory, name, "devices", device+".key")
}

// CheckName rejects identity and device names that would escape the
// keystore directory or be awkward in file paths.
func CheckName(name string) error {
	if name == "" {
		return errors.New("name cannot be empty")
	}
	for _, char := range name {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in name", char)
	}
	return nil
}

// DeriveDeviceSeed deterministically derives a device-specific seed from a
// root seed, so the same root restores the same device identities.
func DeriveDeviceSeed(rootSeed []byte, device string) ([]byte, error) {
	if len(rootSeed) != ed25519.SeedSize {
		return nil, fmt.Errorf("root seed must be %d bytes", ed25519.SeedSize)
	}
	if err := CheckName(device); err != nil {
		return nil, err
	}

	h := sha256.New()
	_, _ = h.Write(rootSeed)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("dwn-keystore-v1"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("device:"))
	_, _ = h.Write([]byte(device))
	sum := h.Sum(nil)
	out := make([]byte, ed25519.SeedSize)
	copy(out, sum[:ed25519.SeedSize])
	return out, nil
}

// ParseSeedHex accepts a 64-hex-char (32-byte) seed, with optional 0x prefix.
func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	seedHex = strings.TrimPrefix(seedHex, "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) != ed25519.SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", ed25519.SeedSize, len(data))
	}
	return data, nil
}

func (ks *Keystore) saveSeed(path, alg string, seed []byte, overwrite bool) error {
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("expected seed length of %d bytes", ed25519.SeedSize)
	}
	if alg != AlgEd25519 && alg != AlgDilithium3 {
		return fmt.Errorf("unsupported key algorithm: %s", alg)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.WriteString(alg + ":" + hex.EncodeToString(seed) + "\n"); err != nil {
		return err
	}
	return file.Close()
}

func (ks *Keystore) loadSeed(path string) (alg string, seed []byte, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	line := strings.TrimSpace(string(data))
	alg, seedHex, ok := strings.Cut(line, ":")
	if !ok {
		// Legacy layout: bare hex seed, ed25519 implied.
		alg, seedHex = AlgEd25519, line
	}
	seed, err = ParseSeedHex(seedHex)
	if err != nil {
		return "", nil, err
	}
	return alg, seed, nil
}

func identityFromSeed(alg string, seed []byte) (*Identity, error) {
	switch alg {
	case AlgEd25519:
		return NewEd25519FromSeed(seed)
	case AlgDilithium3:
		return NewDilithium3FromSeed(seed)
	default:
		return nil, fmt.Errorf("unsupported key algorithm: %s", alg)
	}
}

// Initialize creates (or with overwrite, replaces) the named identity.
func (ks *Keystore) Initialize(name, alg string, seed []byte, overwrite bool) (*Identity, error) {
	if err := CheckName(name); err != nil {
		return nil, err
	}
	id, err := identityFromSeed(alg, seed)
	if err != nil {
		return nil, err
	}
	if err := ks.saveSeed(ks.rootKeyPath(name), alg, seed, overwrite); err != nil {
		return nil, err
	}
	return id, nil
}

// DeriveDevice derives and stores a device subkey of the named identity.
func (ks *Keystore) DeriveDevice(name, device string, overwrite bool) (*Identity, error) {
	if err := CheckName(name); err != nil {
		return nil, err
	}
	alg, rootSeed, err := ks.loadSeed(ks.rootKeyPath(name))
	if err != nil {
		return nil, err
	}
	deviceSeed, err := DeriveDeviceSeed(rootSeed, device)
	if err != nil {
		return nil, err
	}
	if err := ks.saveSeed(ks.deviceKeyPath(name, device), alg, deviceSeed, overwrite); err != nil {
		return nil, err
	}
	return identityFromSeed(alg, deviceSeed)
}

// Load returns the named identity; device may be empty for the root key.
func (ks *Keystore) Load(name, device string) (*Identity, error) {
	if err := CheckName(name); err != nil {
		return nil, err
	}
	path := ks.rootKeyPath(name)
	if device != "" {
		if err := CheckName(device); err != nil {
			return nil, err
		}
		path = ks.deviceKeyPath(name, device)
	}
	alg, seed, err := ks.loadSeed(path)
	if err != nil {
		return nil, err
	}
	return identityFromSeed(alg, seed)
}

// List returns the stored identities sorted by name.
func (ks *Keystore) List() ([]KeystoreEntry, error) {
	entries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var result []KeystoreEntry
	for _, name := range names {
		alg, seed, err := ks.loadSeed(ks.rootKeyPath(name))
		if err != nil {
			continue
		}
		id, err := identityFromSeed(alg, seed)
		if err != nil {
			continue
		}
		var devices []string
		if devEntries, derr := os.ReadDir(filepath.Join(ks.Directory, name, "devices")); derr == nil {
			for _, de := range devEntries {
				if de.IsDir() {
					continue
				}
				if strings.HasSuffix(de.Name(), ".key") {
					devices = append(devices, strings.TrimSuffix(de.Name(), ".key"))
				}
			}
			sort.Strings(devices)
		}
		result = append(result, KeystoreEntry{Name: name, Alg: alg, DID: id.DID, Devices: devices})
	}
	return result, nil
}
