package runner

import (
	"errors"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"
)

// cleanupSet tracks temp paths to delete when the task finishes.
// Missing files are fine: cleanup must be idempotent under task
// retries.
type cleanupSet struct {
	paths []string
	dirs  []string
}

func newCleanupSet(paths ...string) *cleanupSet {
	s := &cleanupSet{}
	s.Add(paths...)
	return s
}

func (s *cleanupSet) Add(paths ...string) {
	for _, p := range paths {
		if p != "" {
			s.paths = append(s.paths, p)
		}
	}
}

func (s *cleanupSet) AddDir(dir string) {
	if dir != "" {
		s.dirs = append(s.dirs, dir)
	}
}

func (s *cleanupSet) Run() {
	for _, p := range s.paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("path", p).Msg("cleanup failed")
		}
	}
	for _, d := range s.dirs {
		if err := os.RemoveAll(d); err != nil {
			log.Warn().Err(err).Str("dir", d).Msg("workspace cleanup failed")
		}
	}
}
