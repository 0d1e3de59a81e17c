/*
Copyright (c) Quadrosync Project Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package settings

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
)

// Save persists s to path as a gob-encoded binary file. Format is
// application-defined; round-trip through Load must be exact.
func Save(path string, s GlobalSettings) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("settings: encoding: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("settings: writing %s: %w", path, err)
	}
	return nil
}

// Load reads a GlobalSettings previously written by Save.
func Load(path string) (GlobalSettings, error) {
	var s GlobalSettings
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("settings: reading %s: %w", path, err)
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return s, fmt.Errorf("settings: decoding %s: %w", path, err)
	}
	return s, nil
}

// Encode gob-encodes s for transmission as a SettingsSync/SettingsResponse
// payload.
func Encode(s GlobalSettings) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, fmt.Errorf("settings: encoding: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode is the inverse of Encode.
func Decode(b []byte) (GlobalSettings, error) {
	var s GlobalSettings
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&s); err != nil {
		return s, fmt.Errorf("settings: decoding: %w", err)
	}
	return s, nil
}
