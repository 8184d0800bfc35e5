// Package vault is the note workspace the assistant works against: a small
// filesystem of markdown notes exposed to the model as tools.
package vault

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

const maxNoteSize = 1 << 20 // 1MB per note

// Vault wraps the note filesystem. All note names are slash-separated paths
// relative to the vault root.
type Vault struct {
	fs     afero.Fs
	logger *slog.Logger
}

// New creates a vault over the given filesystem.
func New(fs afero.Fs, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{fs: fs, logger: logger}
}

// validateName rejects note names that escape the vault or are not plain
// relative markdown paths.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("note name is required")
	}
	if strings.HasPrefix(name, "/") {
		return fmt.Errorf("note name must be relative: %s", name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("note name escapes the vault: %s", name)
	}
	if !strings.HasSuffix(clean, ".md") {
		return fmt.Errorf("notes must use the .md extension: %s", name)
	}
	return nil
}

// notePath maps a note name to its rooted path inside the vault filesystem.
// Rooted paths behave the same on a MemMapFs and on a BasePathFs.
func notePath(name string) string {
	return "/" + path.Clean(name)
}

// Read returns the content of a note.
func (v *Vault) Read(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	data, err := afero.ReadFile(v.fs, notePath(name))
	if err != nil {
		return "", fmt.Errorf("read note %s: %w", name, err)
	}
	return string(data), nil
}

// Write creates or replaces a note, creating parent directories as needed.
func (v *Vault) Write(name, content string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if len(content) > maxNoteSize {
		return fmt.Errorf("note %s exceeds the %d byte limit", name, maxNoteSize)
	}
	if dir := path.Dir(notePath(name)); dir != "/" {
		if err := v.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create note directory: %w", err)
		}
	}
	if err := afero.WriteFile(v.fs, notePath(name), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write note %s: %w", name, err)
	}
	v.logger.Debug("note written", "note", name, "size", len(content))
	return nil
}

// List returns all note names, sorted.
func (v *Vault) List() ([]string, error) {
	var notes []string
	err := afero.Walk(v.fs, "/", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(p, ".md") {
			return nil
		}
		notes = append(notes, strings.TrimPrefix(filepath.ToSlash(p), "/"))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	sort.Strings(notes)
	return notes, nil
}

// SearchMatch is one matching line from a note.
type SearchMatch struct {
	Note string `json:"note"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Search scans every note for a case-insensitive substring match, line by
// line.
func (v *Vault) Search(query string) ([]SearchMatch, error) {
	if query == "" {
		return nil, fmt.Errorf("search query is required")
	}
	notes, err := v.List()
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	var matches []SearchMatch
	for _, note := range notes {
		content, err := v.Read(note)
		if err != nil {
			return nil, err
		}
		for i, line := range strings.Split(content, "\n") {
			if strings.Contains(strings.ToLower(line), needle) {
				matches = append(matches, SearchMatch{Note: note, Line: i + 1, Text: line})
			}
		}
	}
	return matches, nil
}
