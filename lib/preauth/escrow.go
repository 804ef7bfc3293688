// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
)

// Escrow writes an age-encrypted copy of the current private key to
// the keys/escrow directory, encrypted to the given operator recipient
// keys (age1... format). This is the recovery path for a lost keys
// directory: the escrow file can be handed to an operator without
// exposing plaintext key material on disk or in transit.
//
// The escrow file name carries the key id, so escrow copies from
// successive rotations coexist.
func (k *Keyring) Escrow(recipientKeys []string) (path string, err error) {
	if len(recipientKeys) == 0 {
		return "", fmt.Errorf("preauth: escrow requires at least one recipient")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return "", fmt.Errorf("preauth: parsing escrow recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	private, err := k.currentPrivateLocked()
	if err != nil {
		return "", err
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return "", fmt.Errorf("preauth: creating age encryptor: %w", err)
	}
	if _, err := writer.Write(private); err != nil {
		return "", fmt.Errorf("preauth: encrypting private key: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("preauth: finalizing escrow encryption: %w", err)
	}

	escrowDir := filepath.Join(k.keysDir(), "escrow")
	if err := os.MkdirAll(escrowDir, 0700); err != nil {
		return "", fmt.Errorf("preauth: creating escrow directory: %w", err)
	}
	keyID := KeyID(private.Public().(ed25519.PublicKey))
	path = filepath.Join(escrowDir, keyID+".age")
	if err := os.WriteFile(path, ciphertext.Bytes(), 0600); err != nil {
		return "", fmt.Errorf("preauth: writing escrow file: %w", err)
	}

	k.logger.Info("private key escrowed", "key_id", keyID, "recipients", len(recipients))
	return path, nil
}

// RecoverEscrow decrypts an escrow file with an age identity string
// (AGE-SECRET-KEY-1... format) and returns the recovered private key
// bytes. Used by operators restoring a lost keys directory.
func RecoverEscrow(path, identityString string) ([]byte, error) {
	identity, err := age.ParseX25519Identity(identityString)
	if err != nil {
		return nil, fmt.Errorf("preauth: parsing escrow identity: %w", err)
	}

	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("preauth: reading escrow file: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("preauth: decrypting escrow file: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("preauth: reading decrypted escrow: %w", err)
	}
	return plaintext, nil
}
