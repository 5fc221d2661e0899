// Package archive packages a project directory into the zip uploaded for a run.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"cloudagent/internal/apperrors"
	"cloudagent/internal/console"
	"cloudagent/internal/run"

	"github.com/klauspost/compress/zip"
)

// DefaultName is the archive file name created inside the project root.
const DefaultName = "project.zip"

// Archiver creates a deflate-compressed zip of everything under Root.
type Archiver struct {
	Root     string   // Project directory
	Out      string   // Archive path (default: <Root>/project.zip)
	Excludes []string // Glob patterns to skip (default: none)
	Console  *console.Printer
}

func (a *Archiver) outPath() string {
	if a.Out != "" {
		return a.Out
	}
	return filepath.Join(a.Root, DefaultName)
}

// Build replaces any existing archive with a fresh one holding every file and
// directory under Root plus the run metadata entry, written last. The archive
// itself is never included. It returns the archive path.
func (a *Archiver) Build(ctx context.Context, meta run.Metadata) (string, error) {
	out := a.outPath()
	logger := slog.With("component", "archive", "root", a.Root, "out", out)

	if _, err := os.Stat(out); err == nil {
		a.Console.Notice("Deleting existing %s...", filepath.Base(out))
		if err := os.Remove(out); err != nil {
			return "", apperrors.IO("archive.remove", out, err)
		}
	}

	outFile, err := os.Create(out)
	if err != nil {
		return "", apperrors.IO("archive.create", out, err)
	}

	entries, err := a.write(ctx, outFile, meta)
	if closeErr := outFile.Close(); err == nil && closeErr != nil {
		err = apperrors.IO("archive.close", out, closeErr)
	}
	if err != nil {
		os.Remove(out)
		return "", err
	}

	logger.Info("Archive created", "entries", entries)
	return out, nil
}

func (a *Archiver) write(ctx context.Context, outFile *os.File, meta run.Metadata) (int, error) {
	self, err := outFile.Stat()
	if err != nil {
		return 0, apperrors.IO("archive.stat", outFile.Name(), err)
	}
	root, err := filepath.Abs(a.Root)
	if err == nil {
		root, err = filepath.EvalSymlinks(root)
	}
	if err != nil {
		return 0, apperrors.IO("archive.walk", a.Root, err)
	}

	w := &walker{ctx: ctx, zw: zip.NewWriter(outFile), self: self, excludes: a.Excludes}
	if err := w.walk(root, "", []string{root}); err != nil {
		w.zw.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, apperrors.IO("archive.walk", a.Root, err)
	}

	if err := addMetadata(w.zw, meta); err != nil {
		w.zw.Close()
		return 0, err
	}
	w.entries++

	if err := w.zw.Close(); err != nil {
		return 0, apperrors.IO("archive.finalize", outFile.Name(), err)
	}
	return w.entries, nil
}

type walker struct {
	ctx      context.Context
	zw       *zip.Writer
	self     fs.FileInfo
	excludes []string
	entries  int
}

// walk adds everything under dir, naming entries relative to prefix.
// Linked directories are followed unless their target is already being
// walked, which would never terminate.
func (w *walker) walk(dir, prefix string, chain []string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := w.ctx.Err(); err != nil {
			return err
		}

		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		relPath = filepath.Join(prefix, relPath)

		if matchesAnyPattern(relPath, w.excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if os.SameFile(info, w.self) {
			return nil
		}

		name := filepath.ToSlash(relPath)
		switch {
		case info.IsDir():
			if err := addDir(w.zw, name, info); err != nil {
				return err
			}
			w.entries++
			if d.Type()&fs.ModeSymlink != 0 {
				return w.follow(path, relPath, chain)
			}
		case info.Mode().IsRegular():
			if err := addFile(w.zw, name, path, info); err != nil {
				return err
			}
			w.entries++
		default:
			slog.Debug("Skipping special file", "path", path, "mode", info.Mode())
		}
		return nil
	})
}

func (w *walker) follow(link, relPath string, chain []string) error {
	target, err := filepath.EvalSymlinks(link)
	if err != nil {
		return err
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(link))
	if err != nil {
		return err
	}
	for _, walked := range append(chain, parent) {
		if within(walked, target) {
			slog.Warn("Skipping directory link cycle", "link", link, "target", target)
			return nil
		}
	}
	return w.walk(target, relPath, append(slices.Clip(chain), target))
}

// within reports whether path is dir or lies below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func addDir(zw *zip.Writer, name string, info fs.FileInfo) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create zip header: %w", err)
	}
	header.Name = name + "/"
	header.Method = zip.Store
	if _, err := zw.CreateHeader(header); err != nil {
		return fmt.Errorf("failed to write zip header: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, name, path string, info fs.FileInfo) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create zip header: %w", err)
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to write zip header: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(w, file); err != nil {
		return fmt.Errorf("failed to write file to zip: %w", err)
	}
	return nil
}

func addMetadata(zw *zip.Writer, meta run.Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode run metadata: %w", err)
	}

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     run.MetadataEntry,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to write metadata header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// matchesAnyPattern reports whether path, its base name, or one of its
// parent directories matches a pattern.
func matchesAnyPattern(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, path); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, filepath.Base(path)); matched {
			return true
		}
		if strings.HasPrefix(path, pattern+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
