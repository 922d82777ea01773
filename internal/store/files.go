package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/t77yq/taskdog/internal/model"
)

// Files manages script bodies on disk. Every path is resolved inside the
// scripts root; traversal outside it is rejected.
type Files struct {
	root string
}

// NewFiles creates the scripts directory if needed and returns a manager
// rooted there.
func NewFiles(root string) (*Files, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scripts root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scripts directory: %w", err)
	}
	return &Files{root: abs}, nil
}

// Root returns the absolute scripts directory.
func (f *Files) Root() string {
	return f.root
}

// Resolve turns a stored relative path into an absolute one, rejecting
// anything that escapes the scripts root.
func (f *Files) Resolve(filePath string) (string, error) {
	full := filepath.Clean(filepath.Join(f.root, filepath.FromSlash(filePath)))
	if full != f.root && !strings.HasPrefix(full, f.root+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return full, nil
}

// FileName derives a safe on-disk file name from a script name and language.
func (f *Files) FileName(name string, lang model.Language) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	ext, ok := model.FileExtensions[lang]
	if !ok {
		ext = ".txt"
	}
	return b.String() + ext
}

// UniquePath returns a path inside the root that does not collide with an
// existing file, suffixing -1, -2, ... as needed.
func (f *Files) UniquePath(name string, lang model.Language) (string, error) {
	base := f.FileName(name, lang)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	candidate := base
	for i := 1; ; i++ {
		full, err := f.Resolve(candidate)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(full); os.IsNotExist(err) {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
}

// Read returns the contents of a script file.
func (f *Files) Read(filePath string) (string, error) {
	full, err := f.Resolve(filePath)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("failed to read script file %s: %w", filePath, err)
	}
	return string(data), nil
}

// Write stores the contents of a script file, creating parent directories.
func (f *Files) Write(filePath, content string) error {
	full, err := f.Resolve(filePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create script directory: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o755); err != nil {
		return fmt.Errorf("failed to write script file %s: %w", filePath, err)
	}
	return nil
}

// Remove deletes a script file. A missing file is not an error.
func (f *Files) Remove(filePath string) error {
	full, err := f.Resolve(filePath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete script file %s: %w", filePath, err)
	}
	return nil
}
