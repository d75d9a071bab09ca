// Copyright 2024-2026 Aiku AI

package media

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// scope tracks the temp files of one transfer.
type scope struct {
	dir   string
	paths []string
}

func (s *scope) create(pattern string) (*os.File, error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create temp dir %q: %w", s.dir, err)
	}
	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	s.paths = append(s.paths, f.Name())
	return f, nil
}

// reserve returns a fresh path for a transcoder output. The file may or may
// not be created; cleanup handles both.
func (s *scope) reserve(ext string) string {
	path := filepath.Join(s.dir, "out-"+uuid.NewString()+ext)
	s.paths = append(s.paths, path)
	return path
}

func (s *scope) cleanup(log zerolog.Logger) {
	for _, path := range s.paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("Failed to remove temp file")
		}
	}
	s.paths = nil
}
