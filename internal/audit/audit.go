// Package audit archives inbound webhook payloads to disk so failed or
// surprising notifications can be replayed later.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

type Auditor struct {
	Dir string
}

func NewAuditor(dir string) *Auditor {
	return &Auditor{Dir: dir}
}

// Enabled reports whether archiving is configured.
func (a *Auditor) Enabled() bool {
	return a != nil && a.Dir != ""
}

type envelope struct {
	Source     string `json:"source"`
	ReceivedAt string `json:"received_at"`
	Payload    any    `json:"payload"`
}

// SavePayload writes the payload to <source>_<uuid>.json under the audit
// directory and returns the filename.
func (a *Auditor) SavePayload(source string, payload any) (string, error) {
	if err := a.ensureDir(); err != nil {
		return "", fmt.Errorf("failed to ensure audit directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.json", source, uuid.NewString())

	data, err := json.MarshalIndent(envelope{
		Source:     source,
		ReceivedAt: time.Now().Format(time.RFC3339),
		Payload:    payload,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	if err := os.WriteFile(filepath.Join(a.Dir, filename), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write audit file: %w", err)
	}

	return filename, nil
}

func (a *Auditor) ensureDir() error {
	if _, err := os.Stat(a.Dir); os.IsNotExist(err) {
		if err := os.MkdirAll(a.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create audit directory: %w", err)
		}
	}
	return nil
}
