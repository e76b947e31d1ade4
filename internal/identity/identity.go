// Package identity reads the device identity and session token cache
// spec.md §6 describes as environment/persisted state. Both files are
// written by an external activation flow; this package only ever reads
// them, generating a fresh in-memory device UUID as a fallback when no
// identity file exists yet (e.g. first run before activation completes).
package identity

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Device is the persisted identity record written by the activation
// collaborator and consumed read-only here.
type Device struct {
	DeviceID string `json:"device_id"`
	Serial   string `json:"serial"`
}

// TokenCache is the persisted session token, refreshed out-of-process by
// the activation collaborator.
type TokenCache struct {
	Token string `json:"token"`
}

// LoadDevice reads the device identity file at path. If the file does not
// exist, it returns a freshly generated identity (not persisted — the
// activation collaborator owns writing this file) rather than an error, so
// a first-run headless client can still start and request activation.
func LoadDevice(path string) (Device, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Device{DeviceID: uuid.NewString(), Serial: deriveSerial()}, nil
	}
	if err != nil {
		return Device{}, fmt.Errorf("identity: read device file %s: %w", path, err)
	}

	var d Device
	if err := json.Unmarshal(data, &d); err != nil {
		return Device{}, fmt.Errorf("identity: parse device file %s: %w", path, err)
	}
	if d.DeviceID == "" {
		return Device{}, fmt.Errorf("identity: device file %s missing device_id", path)
	}
	return d, nil
}

// LoadToken reads the cached session token at path. Returns an empty
// TokenCache, not an error, when the file does not yet exist — callers
// treat an empty token as "not yet activated."
func LoadToken(path string) (TokenCache, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return TokenCache{}, nil
	}
	if err != nil {
		return TokenCache{}, fmt.Errorf("identity: read token cache %s: %w", path, err)
	}

	var tc TokenCache
	if err := json.Unmarshal(data, &tc); err != nil {
		return TokenCache{}, fmt.Errorf("identity: parse token cache %s: %w", path, err)
	}
	return tc, nil
}

// deriveSerial builds a stable serial from the first non-loopback MAC
// address it finds, falling back to a random UUID if no interface exposes
// one (containers, virtual interfaces without hardware addresses).
func deriveSerial() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return uuid.NewString()
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		mac := iface.HardwareAddr.String()
		if mac == "" {
			continue
		}
		sum := md5.Sum([]byte(mac))
		return strings.ToUpper(fmt.Sprintf("%x", sum)[:12])
	}
	return uuid.NewString()
}

// DefaultDeviceFilePath returns the conventional location for the device
// identity file under the user's config directory.
func DefaultDeviceFilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("identity: resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "xiaoclient", "device.json"), nil
}

// DefaultTokenFilePath returns the conventional location for the session
// token cache file under the user's config directory.
func DefaultTokenFilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("identity: resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "xiaoclient", "token.json"), nil
}
