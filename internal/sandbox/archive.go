package sandbox

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// tarListing turns the tar stream of a path into `ls -1AF` style lines for
// its immediate children. A non-directory yields a single line for its
// base name.
func tarListing(r io.Reader, requested string) ([]string, error) {
	tr := tar.NewReader(r)

	var (
		root  string
		isDir bool
		lines []string
	)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}

		name := strings.TrimSuffix(hdr.Name, "/")
		if root == "" {
			root = name
			isDir = hdr.Typeflag == tar.TypeDir
			if !isDir {
				return []string{path.Base(requested) + indicator(hdr)}, nil
			}
			continue
		}

		rel := strings.TrimPrefix(name, root+"/")
		if rel == name || rel == "" || strings.Contains(rel, "/") {
			continue
		}
		lines = append(lines, rel+indicator(hdr))
	}

	if root == "" {
		return nil, fmt.Errorf("empty archive")
	}
	return lines, nil
}

func indicator(hdr *tar.Header) string {
	switch hdr.Typeflag {
	case tar.TypeDir:
		return "/"
	case tar.TypeSymlink:
		return "@"
	case tar.TypeFifo:
		return "|"
	case tar.TypeReg:
		if hdr.Mode&0111 != 0 {
			return "*"
		}
	}
	return ""
}

// tarFileContent returns the body of the single regular file in the stream.
func tarFileContent(r io.Reader) ([]byte, error) {
	tr := tar.NewReader(r)
	hdr, err := tr.Next()
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	if hdr.Typeflag == tar.TypeDir {
		return nil, fmt.Errorf("%s: is a directory", hdr.Name)
	}
	if hdr.Typeflag != tar.TypeReg {
		return nil, fmt.Errorf("%s: not a regular file", hdr.Name)
	}
	return io.ReadAll(tr)
}

// extractTar unpacks the stream into dest and reports the top-level entry.
func extractTar(r io.Reader, dest string) (root string, isDir bool, err error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", false, fmt.Errorf("read archive: %w", err)
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return "", false, err
		}
		if root == "" {
			root = strings.TrimSuffix(hdr.Name, "/")
			isDir = hdr.Typeflag == tar.TypeDir
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return "", false, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return "", false, err
			}
			if err := writeFile(target, tr, fs.FileMode(hdr.Mode).Perm()|0600); err != nil {
				return "", false, err
			}
		case tar.TypeSymlink:
			// Links are kept as their target text; they are never followed.
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return "", false, err
			}
			if err := os.WriteFile(target, []byte(hdr.Linkname), 0644); err != nil {
				return "", false, err
			}
		}
	}

	if root == "" {
		return "", false, fmt.Errorf("empty archive")
	}
	return root, isDir, nil
}

func writeFile(target string, r io.Reader, mode fs.FileMode) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// zipDir encodes the tree under dir; entry names are relative to dir's parent
// so the archive unpacks into a single folder.
func zipDir(dir string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	base := filepath.Dir(dir)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)

		if d.IsDir() {
			_, err := zw.Create(name + "/")
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = name
		hdr.Method = zip.Deflate

		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		zw.Close()
		return nil, fmt.Errorf("zip %s: %w", dir, err)
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func downloadName(p string, zipped bool) string {
	name := path.Base(path.Clean("/" + p))
	if name == "/" || name == "." {
		name = "root"
	}
	if zipped {
		return name + ".zip"
	}
	return name
}
