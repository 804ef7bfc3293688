// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// GrantReference is the project-local pointer to an active grant,
// written to <project>/.autosd/preauth_grant_ref.json. It identifies
// where authorization lives without containing any of it: no payload,
// no signature, no key material. Tools inside the project tree read it
// to find which grant to present.
type GrantReference struct {
	GrantID       string `json:"grant_id"`
	StorePath     string `json:"store_path"`
	PublicKeyPath string `json:"public_key_path"`
}

const referenceFileName = "preauth_grant_ref.json"

// ReferencePath returns the grant reference location for a project
// directory.
func ReferencePath(projectDir string) string {
	return filepath.Join(projectDir, ".autosd", referenceFileName)
}

// WriteReference writes the grant reference into the project's .autosd
// directory, replacing any previous reference.
func WriteReference(projectDir string, ref GrantReference) error {
	if ref.GrantID == "" {
		return fmt.Errorf("preauth: grant reference requires a grant id")
	}
	dir := filepath.Join(projectDir, ".autosd")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("preauth: creating .autosd directory: %w", err)
	}
	data, err := json.MarshalIndent(ref, "", "  ")
	if err != nil {
		return fmt.Errorf("preauth: encoding grant reference: %w", err)
	}
	data = append(data, '\n')
	path := ReferencePath(projectDir)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("preauth: writing grant reference: %w", err)
	}
	return nil
}

// ReadReference loads a project's grant reference. Returns
// os.ErrNotExist (wrapped) when the project has none.
func ReadReference(projectDir string) (*GrantReference, error) {
	raw, err := os.ReadFile(ReferencePath(projectDir))
	if err != nil {
		return nil, fmt.Errorf("preauth: reading grant reference: %w", err)
	}
	var ref GrantReference
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, fmt.Errorf("preauth: parsing grant reference: %w", err)
	}
	return &ref, nil
}
