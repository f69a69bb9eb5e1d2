package ffmpeg

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// The scratch directory stands between callers and the engine the way a
// staging filesystem would: sources are copied in before a clip's export and
// every entry is deleted before the next clip begins. Leftover scratch state
// between clips has historically produced cross-clip corruption, so Clear is
// not optional housekeeping.

func (e *Executor) initScratch() error {
	if e.scratchDir == "" {
		e.scratchDir = filepath.Join(os.TempDir(), "shottrace")
	}
	if err := os.MkdirAll(e.scratchDir, 0755); err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}
	return e.Clear()
}

// ScratchPath returns the path of a named scratch entry.
func (e *Executor) ScratchPath(name string) string {
	return filepath.Join(e.scratchDir, name)
}

// Stage copies a file into the scratch directory under the given name and
// returns the staged path. Source videos enter the engine this way so decode
// always reads scratch-local state that Clear can reclaim.
func (e *Executor) Stage(name, srcPath string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to stage %s: %w", name, err)
	}
	defer src.Close()

	path := e.ScratchPath(name)
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to stage %s: %w", name, err)
	}

	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to stage %s: %w", name, err)
	}

	e.logger.Debug().Str("path", path).Int64("bytes", n).Msg("staged scratch file")
	return path, nil
}

// Collect reads a scratch entry back into memory and removes it.
func (e *Executor) Collect(name string) ([]byte, error) {
	path := e.ScratchPath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to collect %s: %w", name, err)
	}
	_ = os.Remove(path)
	return data, nil
}

// Clear removes every entry in the scratch directory.
func (e *Executor) Clear() error {
	entries, err := os.ReadDir(e.scratchDir)
	if err != nil {
		return fmt.Errorf("failed to read scratch dir: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(e.scratchDir, entry.Name())); err != nil {
			return fmt.Errorf("failed to clear scratch entry %s: %w", entry.Name(), err)
		}
	}
	return nil
}
