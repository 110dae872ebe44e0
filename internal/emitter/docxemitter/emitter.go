package docxemitter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Options controls where and how generated documents are written.
type Options struct {
	OutDir string // required; target directory for the documents
	Force  bool   // overwrite files that already exist
	DryRun bool   // don't write, only plan
}

// PlannedFile describes a file the emitter intends to write.
type PlannedFile struct {
	RelPath string
	Size    int
	Mode    os.FileMode
}

// Result returns the resolved output directory and the planned files.
type Result struct {
	OutDir  string
	Planned []PlannedFile
}

const fileMode os.FileMode = 0o644

// Emit writes files, keyed by slash-separated path relative to opts.OutDir.
// The plan is sorted by path, so it is the same for the same input. Existing
// files are only replaced when opts.Force is set.
func Emit(ctx context.Context, files map[string][]byte, opts Options) (*Result, error) {
	if strings.TrimSpace(opts.OutDir) == "" {
		return nil, fmt.Errorf("docxemitter: OutDir is required")
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("docxemitter: nothing to write")
	}
	abs, err := filepath.Abs(opts.OutDir)
	if err != nil {
		return nil, fmt.Errorf("docxemitter: resolve output directory: %w", err)
	}

	rels := make([]string, 0, len(files))
	for p := range files {
		rel := filepath.ToSlash(filepath.Clean(p))
		if rel == "." || filepath.IsAbs(p) || rel == ".." || strings.HasPrefix(rel, "../") {
			return nil, fmt.Errorf("docxemitter: %q escapes the output directory", p)
		}
		rels = append(rels, p)
	}
	sort.Strings(rels)

	planned := make([]PlannedFile, 0, len(rels))
	for _, rel := range rels {
		planned = append(planned, PlannedFile{
			RelPath: filepath.ToSlash(rel),
			Size:    len(files[rel]),
			Mode:    fileMode,
		})
	}

	if err := validateOutputDirectory(abs, rels, opts.Force); err != nil {
		return nil, err
	}
	if !opts.DryRun {
		for _, rel := range rels {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := writeFileAtomic(abs, rel, files[rel]); err != nil {
				return nil, fmt.Errorf("docxemitter: write file %s: %w", rel, err)
			}
		}
	}
	return &Result{OutDir: abs, Planned: planned}, nil
}

// validateOutputDirectory checks that absPath is usable and that none of the
// planned files exist yet unless force is set.
func validateOutputDirectory(absPath string, rels []string, force bool) error {
	stat, err := os.Stat(absPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot access output directory %q: %w", absPath, err)
	}
	if !stat.IsDir() {
		return fmt.Errorf("output path %q is not a directory", absPath)
	}
	if force {
		return nil
	}

	var existing []string
	for _, rel := range rels {
		if _, err := os.Stat(filepath.Join(absPath, rel)); err == nil {
			existing = append(existing, filepath.ToSlash(rel))
		}
	}
	if len(existing) > 0 {
		return fmt.Errorf("output directory %q already contains %s (use --force to overwrite)", absPath, strings.Join(existing, ", "))
	}
	return nil
}

// writeFileAtomic writes content next to its target and renames it into place.
func writeFileAtomic(baseDir, relPath string, content []byte) error {
	fullPath := filepath.Join(baseDir, relPath)

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure target directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-docxemitter-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", relPath, err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
		}
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(content); err != nil {
		return fmt.Errorf("write content to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Chmod(fileMode); err != nil {
		return fmt.Errorf("set file permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	tmpFile = nil

	if err := os.Rename(tmpPath, fullPath); err != nil {
		return fmt.Errorf("atomic rename %s to %s: %w", tmpPath, fullPath, err)
	}
	success = true
	return nil
}

// WriteFile writes a single file atomically, creating parent directories. It
// refuses to replace an existing file unless force is set.
func WriteFile(path string, content []byte, force bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("docxemitter: resolve %s: %w", path, err)
	}
	if st, err := os.Stat(abs); err == nil && !force {
		if st.IsDir() {
			return fmt.Errorf("docxemitter: %q is a directory", abs)
		}
		return fmt.Errorf("docxemitter: %q already exists (use --force to overwrite)", abs)
	}
	if err := writeFileAtomic(filepath.Dir(abs), filepath.Base(abs), content); err != nil {
		return fmt.Errorf("docxemitter: %w", err)
	}
	return nil
}
