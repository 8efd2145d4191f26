// Package archive expands compressed inputs before parsing. Detection is
// by content, not extension: zip, gzip, bzip2, and tar (plain or wrapped
// in gzip/bzip2) are recognized by magic bytes, anything else passes
// through untouched. Extraction flattens to regular files only and rejects
// member names that would escape the destination directory.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

var (
	zipMagic  = []byte{'P', 'K', 0x03, 0x04}
	gzipMagic = []byte{0x1f, 0x8b}
	bz2Magic  = []byte{'B', 'Z', 'h'}
)

// IsCompressed reports whether the file is a supported archive format.
func IsCompressed(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 4)
	n, _ := io.ReadFull(f, head)
	head = head[:n]
	if bytes.HasPrefix(head, zipMagic) || bytes.HasPrefix(head, gzipMagic) || bytes.HasPrefix(head, bz2Magic) {
		return true
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false
	}
	return isTar(bufio.NewReader(f))
}

// Extract expands the archive into dir and returns the extracted regular
// files. Plain files are not accepted; callers should gate on IsCompressed.
func Extract(path, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create extraction dir: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, 4)
	n, _ := io.ReadFull(f, head)
	head = head[:n]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	switch {
	case bytes.HasPrefix(head, zipMagic):
		return extractZip(path, dir)
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip %s: %w", path, err)
		}
		defer gz.Close()
		return extractStream(gz, strings.TrimSuffix(filepath.Base(path), ".gz"), dir)
	case bytes.HasPrefix(head, bz2Magic):
		return extractStream(bzip2.NewReader(f), strings.TrimSuffix(filepath.Base(path), ".bz2"), dir)
	}

	br := bufio.NewReader(f)
	if isTar(br) {
		return extractTar(tar.NewReader(br), dir)
	}
	return nil, fmt.Errorf("not a supported compressed format: %s", path)
}

// extractStream handles single-member compression (gzip, bzip2). The
// decompressed stream may itself be a tar archive; otherwise it lands as
// one file named after the input without its compression suffix.
func extractStream(r io.Reader, name, dir string) ([]string, error) {
	br := bufio.NewReader(r)
	if isTar(br) {
		return extractTar(tar.NewReader(br), dir)
	}
	dst, err := securePath(dir, name)
	if err != nil {
		return nil, err
	}
	if err := writeFile(dst, br); err != nil {
		return nil, err
	}
	return []string{dst}, nil
}

func extractZip(path, dir string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip %s: %w", path, err)
	}
	defer zr.Close()

	var out []string
	for _, member := range zr.File {
		if member.FileInfo().IsDir() {
			continue
		}
		dst, err := securePath(dir, member.Name)
		if err != nil {
			log.Printf("skipping unsafe archive member %q: %v", member.Name, err)
			continue
		}
		rc, err := member.Open()
		if err != nil {
			return nil, fmt.Errorf("open member %s: %w", member.Name, err)
		}
		err = writeFile(dst, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, dst)
	}
	if len(out) == 0 {
		log.Printf("archive %s contains no files", path)
	}
	return out, nil
}

func extractTar(tr *tar.Reader, dir string) ([]string, error) {
	var out []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		dst, err := securePath(dir, hdr.Name)
		if err != nil {
			log.Printf("skipping unsafe archive member %q: %v", hdr.Name, err)
			continue
		}
		if err := writeFile(dst, tr); err != nil {
			return nil, err
		}
		out = append(out, dst)
	}
	return out, nil
}

// isTar peeks a tar header without consuming the reader.
func isTar(br *bufio.Reader) bool {
	head, err := br.Peek(512)
	if err != nil || len(head) < 512 {
		return false
	}
	return bytes.HasPrefix(head[257:], []byte("ustar"))
}

// securePath joins a member name onto dir, rejecting absolute names and
// traversal outside dir.
func securePath(dir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || cleaned == ".." {
		return "", fmt.Errorf("member path escapes extraction dir")
	}
	dst := filepath.Join(dir, cleaned)
	rel, err := filepath.Rel(dir, dst)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("member path escapes extraction dir")
	}
	return dst, nil
}

func writeFile(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("extract %s: %w", dst, err)
	}
	return f.Close()
}
