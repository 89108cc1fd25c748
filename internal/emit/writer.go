package emit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// staging collects the files of one emit in a private directory next to the
// output root. Nothing is visible in the output root until commit.
type staging struct {
	dir    string
	outDir string
}

func newStaging(outDir string) (*staging, error) {
	parent := filepath.Dir(outDir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, &EmitError{Path: parent, Op: "mkdir", Cause: err}
	}

	dir := filepath.Join(parent, fmt.Sprintf(".%s.staging-%s", filepath.Base(outDir), uuid.NewString()))
	if err := os.Mkdir(dir, 0755); err != nil {
		return nil, &EmitError{Path: dir, Op: "mkdir", Cause: err}
	}
	return &staging{dir: dir, outDir: outDir}, nil
}

// mapPath converts an output-relative path into a path inside the staging
// directory, rejecting paths that would escape it
func (s *staging) mapPath(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the output directory", rel)
	}
	return filepath.Join(s.dir, clean), nil
}

func (s *staging) write(rel string, data []byte) error {
	path, err := s.mapPath(rel)
	if err != nil {
		return &EmitError{Path: rel, Op: "write", Cause: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &EmitError{Path: rel, Op: "mkdir", Cause: err}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &EmitError{Path: rel, Op: "write", Cause: err}
	}
	return nil
}

// commit publishes the staged files. With clean, the output root is replaced
// as a whole: the old root is moved aside, the staging directory renamed into
// place and the old root removed. Without clean, staged files are moved over
// the existing root one by one.
func (s *staging) commit(clean bool) error {
	if clean {
		return s.swap()
	}
	return s.merge()
}

func (s *staging) swap() error {
	var old string
	if _, err := os.Stat(s.outDir); err == nil {
		old = filepath.Join(filepath.Dir(s.outDir), fmt.Sprintf(".%s.old-%s", filepath.Base(s.outDir), uuid.NewString()))
		if err := os.Rename(s.outDir, old); err != nil {
			return &EmitError{Path: s.outDir, Op: "rename", Cause: err}
		}
	}

	if err := os.Rename(s.dir, s.outDir); err != nil {
		if old != "" {
			if restoreErr := os.Rename(old, s.outDir); restoreErr != nil {
				log.Error().Err(restoreErr).Str("path", old).Msg("Failed to restore previous output directory")
			}
		}
		return &EmitError{Path: s.outDir, Op: "rename", Cause: err}
	}

	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			log.Warn().Err(err).Str("path", old).Msg("Failed to remove previous output directory")
		}
	}
	return nil
}

func (s *staging) merge() error {
	err := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(s.outDir, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		return os.Rename(path, target)
	})
	if err != nil {
		return &EmitError{Path: s.outDir, Op: "rename", Cause: err}
	}
	s.abort()
	return nil
}

// abort discards the staging directory
func (s *staging) abort() {
	if err := os.RemoveAll(s.dir); err != nil {
		log.Warn().Err(err).Str("path", s.dir).Msg("Failed to remove staging directory")
	}
}
