package packager

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"vortex-thunder/internal/helpers"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var (
	ErrCorruptArchive     = errors.New("corrupt archive")
	ErrUnsupportedArchive = errors.New("unsupported archive format")
	ErrUnsafeArchivePath  = errors.New("archive entry escapes destination")
)

// ArchiveKind returns the container format implied by a file name.
func ArchiveKind(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return "zip"
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return "tar.gz"
	case strings.HasSuffix(lower, ".tar"):
		return "tar"
	}
	return ""
}

// Extract unpacks archivePath into destDir on fsys.
func Extract(fsys afero.Fs, archivePath, destDir string) error {
	switch ArchiveKind(archivePath) {
	case "zip":
		return extractZip(fsys, archivePath, destDir)
	case "tar.gz":
		return extractTar(fsys, archivePath, destDir, true)
	case "tar":
		return extractTar(fsys, archivePath, destDir, false)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Base(archivePath))
}

func extractZip(fsys afero.Fs, archivePath, destDir string) error {
	f, err := fsys.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat archive %s: %w", archivePath, err)
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCorruptArchive, filepath.Base(archivePath), err)
	}

	count := 0
	for _, zf := range zr.File {
		target, err := safeJoin(destDir, zf.Name)
		if err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			if err := fsys.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", target, err)
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCorruptArchive, zf.Name, err)
		}
		err = writeEntry(fsys, target, rc, zf.Mode())
		rc.Close()
		if err != nil {
			return err
		}
		count++
	}
	if count == 0 {
		return fmt.Errorf("%w: %s holds no files", ErrCorruptArchive, filepath.Base(archivePath))
	}
	log.Debugf("Extracted %d files from %s", count, archivePath)
	return nil
}

func extractTar(fsys afero.Fs, archivePath, destDir string, gzipped bool) error {
	f, err := fsys.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	defer f.Close()

	var r io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCorruptArchive, filepath.Base(archivePath), err)
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCorruptArchive, filepath.Base(archivePath), err)
		}
		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fsys.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeEntry(fsys, target, tr, fs.FileMode(hdr.Mode)); err != nil {
				return err
			}
			count++
		default:
			log.Debugf("Skipping tar entry %s of type %c", hdr.Name, hdr.Typeflag)
		}
	}
	if count == 0 {
		return fmt.Errorf("%w: %s holds no files", ErrCorruptArchive, filepath.Base(archivePath))
	}
	return nil
}

// safeJoin rejects entry names that would land outside destDir.
func safeJoin(destDir, name string) (string, error) {
	native := filepath.FromSlash(name)
	if helpers.SanitizePath(native) != filepath.Clean(native) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeArchivePath, name)
	}
	return filepath.Join(destDir, filepath.Clean(native)), nil
}

func writeEntry(fsys afero.Fs, target string, src io.Reader, mode fs.FileMode) error {
	if err := fsys.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(target), err)
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := fsys.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("%w: writing %s: %w", ErrCorruptArchive, target, err)
	}
	return out.Close()
}

// Archive zips the contents of srcDir (not srcDir itself) into zipPath.
// The zip is written next to zipPath first and renamed into place.
func Archive(fsys afero.Fs, srcDir, zipPath string) error {
	tmp, err := afero.TempFile(fsys, filepath.Dir(zipPath), filepath.Base(zipPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary zip for %s: %w", zipPath, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = fsys.Remove(tmpName)
		}
	}()

	zw := zip.NewWriter(tmp)
	err = afero.Walk(fsys, srcDir, func(p string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil || rel == "." {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = path.Clean(filepath.ToSlash(rel))
		if info.IsDir() {
			header.Name += "/"
			_, err = zw.CreateHeader(header)
			return err
		}
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		in, err := fsys.Open(p)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(w, in)
		return err
	})
	if err != nil {
		_ = zw.Close()
		return fmt.Errorf("archiving %s: %w", srcDir, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalising %s: %w", zipPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := fsys.Rename(tmpName, zipPath); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", tmpName, zipPath, err)
	}
	committed = true
	return nil
}
