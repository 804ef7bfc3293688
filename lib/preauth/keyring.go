// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/autosd-foundation/autosd/lib/clock"
)

const (
	privateKeyFile = "grant-signing-key"
	publicKeyFile  = "grant-signing-key.pub"
	retiredFile    = "retired-keys.json"
)

// Errors returned by keyring operations.
var (
	// ErrAlreadyInitialized means init-keys found an existing current
	// key. There is no silent overwrite path: rotating is the only
	// way to replace a key, because rotation retires the old public
	// key instead of destroying it.
	ErrAlreadyInitialized = errors.New("preauth: signing key already initialized")

	// ErrNotInitialized means no current signing key exists yet.
	ErrNotInitialized = errors.New("preauth: signing key not initialized (run 'autosd preauth init-keys')")
)

// KeyringConfig holds the parameters for opening a keyring.
type KeyringConfig struct {
	// Dir is the preauth home directory. Key material lives in
	// Dir/keys with restrictive permissions; nothing under Dir/keys
	// is ever written into a grant, an audit record, or any artifact
	// directory.
	Dir string

	// GraceWindow is how long a retired public key remains usable for
	// verification after rotation. Config validation guarantees this
	// is at least the maximum issuable grant TTL, so a grant that was
	// legitimately signed and has not expired can always find its
	// verification key.
	GraceWindow time.Duration

	// Clock provides the current time for retirement stamps and
	// grace-window pruning.
	Clock clock.Clock

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Keyring owns the Ed25519 signing keypair and the retired-key
// verification set. The private key never leaves the keys directory:
// the only operation that touches it is Sign, and no read API returns
// it.
type Keyring struct {
	dir    string
	grace  time.Duration
	clock  clock.Clock
	logger *slog.Logger

	// mu serializes rotation against signing and pruning so a Sign
	// racing a Rotate uses a consistent key/key-id pair.
	mu sync.Mutex
}

// retiredKey is one entry in the grace-window verification set.
type retiredKey struct {
	KeyID     string `json:"key_id"`
	PublicKey []byte `json:"public_key"`
	RetiredAt int64  `json:"retired_at"`
}

// VerificationKey is a public key acceptable for signature checks:
// the current key, or a retired key still inside its grace window.
type VerificationKey struct {
	ID     string
	Public ed25519.PublicKey

	// RetiredAt is zero for the current key.
	RetiredAt time.Time
}

// KeyID derives the stable identifier of a public key: the first 16
// hex characters of its BLAKE3 hash.
func KeyID(public ed25519.PublicKey) string {
	sum := blake3.Sum256(public)
	return hex.EncodeToString(sum[:])[:16]
}

// OpenKeyring prepares a keyring rooted at cfg.Dir. The directory is
// created on first use; opening does not require keys to exist yet.
func OpenKeyring(cfg KeyringConfig) (*Keyring, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("preauth: keyring Dir is required")
	}
	if cfg.GraceWindow <= 0 {
		return nil, fmt.Errorf("preauth: keyring GraceWindow must be positive")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("preauth: keyring Clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Keyring{
		dir:    cfg.Dir,
		grace:  cfg.GraceWindow,
		clock:  cfg.Clock,
		logger: logger,
	}, nil
}

func (k *Keyring) keysDir() string {
	return filepath.Join(k.dir, "keys")
}

// PublicKeyPath returns the path of the current public key file. Safe
// to reference from project-local files; it contains no secret.
func (k *Keyring) PublicKeyPath() string {
	return filepath.Join(k.keysDir(), publicKeyFile)
}

// Initialized reports whether a current signing key exists.
func (k *Keyring) Initialized() bool {
	_, err := os.Stat(filepath.Join(k.keysDir(), privateKeyFile))
	return err == nil
}

// Init generates the first signing keypair. Fails with
// ErrAlreadyInitialized if a current key exists — an operator who
// wants a new key must rotate, which preserves the old public key for
// verification.
func (k *Keyring) Init() (keyID string, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.Initialized() {
		return "", ErrAlreadyInitialized
	}
	return k.generateLocked()
}

// Rotate generates a new signing keypair and retires the previous
// current key into the grace-window verification set. Grants signed
// by the retired key remain verifiable until its grace window lapses;
// since the grace window is at least the maximum issuable TTL, no
// unexpired grant ever becomes unverifiable because of a rotation.
func (k *Keyring) Rotate() (keyID string, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	current, err := k.currentPublicLocked()
	if err != nil {
		return "", err
	}

	retired, err := k.readRetiredLocked()
	if err != nil {
		return "", err
	}
	retired = append(retired, retiredKey{
		KeyID:     KeyID(current),
		PublicKey: current,
		RetiredAt: k.clock.Now().Unix(),
	})
	if err := k.writeRetiredLocked(retired); err != nil {
		return "", err
	}

	newID, err := k.generateLocked()
	if err != nil {
		return "", err
	}
	k.logger.Info("signing key rotated",
		"retired_key_id", KeyID(current),
		"new_key_id", newID,
	)
	return newID, nil
}

// Sign signs a message with the current private key and returns the
// detached signature together with the signing key's id.
func (k *Keyring) Sign(message []byte) (signature []byte, keyID string, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	private, err := k.currentPrivateLocked()
	if err != nil {
		return nil, "", err
	}
	return ed25519.Sign(private, message), KeyID(private.Public().(ed25519.PublicKey)), nil
}

// VerificationKeys returns the current public key plus every retired
// key still inside its grace window. Entries whose grace window has
// lapsed are pruned from the retired set as a side effect.
func (k *Keyring) VerificationKeys() ([]VerificationKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	current, err := k.currentPublicLocked()
	if err != nil {
		return nil, err
	}
	keys := []VerificationKey{{ID: KeyID(current), Public: current}}

	retired, err := k.readRetiredLocked()
	if err != nil {
		return nil, err
	}

	now := k.clock.Now()
	kept := retired[:0]
	for _, entry := range retired {
		retiredAt := time.Unix(entry.RetiredAt, 0)
		if now.After(retiredAt.Add(k.grace)) {
			k.logger.Info("retired key pruned past grace window", "key_id", entry.KeyID)
			continue
		}
		kept = append(kept, entry)
		keys = append(keys, VerificationKey{
			ID:        entry.KeyID,
			Public:    ed25519.PublicKey(entry.PublicKey),
			RetiredAt: retiredAt,
		})
	}
	if len(kept) != len(retired) {
		if err := k.writeRetiredLocked(kept); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// generateLocked creates and persists a fresh keypair. Caller holds mu.
func (k *Keyring) generateLocked() (string, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("preauth: generating Ed25519 keypair: %w", err)
	}

	if err := os.MkdirAll(k.keysDir(), 0700); err != nil {
		return "", fmt.Errorf("preauth: creating keys directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(k.keysDir(), privateKeyFile), private, 0600); err != nil {
		return "", fmt.Errorf("preauth: writing private key: %w", err)
	}
	if err := os.WriteFile(k.PublicKeyPath(), public, 0644); err != nil {
		return "", fmt.Errorf("preauth: writing public key: %w", err)
	}
	return KeyID(public), nil
}

func (k *Keyring) currentPrivateLocked() (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(filepath.Join(k.keysDir(), privateKeyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("preauth: reading private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("preauth: private key has %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(raw), nil
}

func (k *Keyring) currentPublicLocked() (ed25519.PublicKey, error) {
	raw, err := os.ReadFile(k.PublicKeyPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("preauth: reading public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("preauth: public key has %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

func (k *Keyring) readRetiredLocked() ([]retiredKey, error) {
	raw, err := os.ReadFile(filepath.Join(k.keysDir(), retiredFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("preauth: reading retired keys: %w", err)
	}
	var retired []retiredKey
	if err := json.Unmarshal(raw, &retired); err != nil {
		return nil, fmt.Errorf("preauth: parsing retired keys: %w", err)
	}
	return retired, nil
}

func (k *Keyring) writeRetiredLocked(retired []retiredKey) error {
	data, err := json.MarshalIndent(retired, "", "  ")
	if err != nil {
		return fmt.Errorf("preauth: encoding retired keys: %w", err)
	}
	path := filepath.Join(k.keysDir(), retiredFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("preauth: writing retired keys: %w", err)
	}
	return nil
}
