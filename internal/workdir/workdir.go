// Package workdir manages scratch space for pipeline runs: per-run
// directories, free space checks and raw data archive extraction.
package workdir

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sys/unix"
)

// Generate creates a fresh working directory <root>/<uuid> and returns its path.
func Generate(root string) (string, error) {
	if root == "" {
		return "", errors.New("workdir: empty root")
	}
	dir := filepath.Join(root, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workdir: create %s: %w", dir, err)
	}
	return dir, nil
}

// Delete removes dir and everything below it. A missing dir is not an error.
func Delete(dir string) error {
	if dir == "" || dir == "/" {
		return fmt.Errorf("workdir: refusing to delete %q", dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("workdir: delete %s: %w", dir, err)
	}
	return nil
}

// Space reports filesystem capacity for a path.
type Space struct {
	Total uint64
	Free  uint64
}

func (s Space) String() string {
	return humanize.Bytes(s.Free) + " free of " + humanize.Bytes(s.Total)
}

var statfs = unix.Statfs

// FreeSpace returns the capacity of the filesystem holding path.
func FreeSpace(path string) (Space, error) {
	var st unix.Statfs_t
	if err := statfs(path, &st); err != nil {
		return Space{}, fmt.Errorf("workdir: statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize) //nolint:gosec // block size is positive
	return Space{Total: st.Blocks * bsize, Free: st.Bavail * bsize}, nil
}

// RequireFree fails when the filesystem holding path has less than need bytes available.
func RequireFree(path string, need uint64) (Space, error) {
	sp, err := FreeSpace(path)
	if err != nil {
		return sp, err
	}
	if sp.Free < need {
		return sp, fmt.Errorf("workdir: %s: need %s, have %s", path, humanize.Bytes(need), sp)
	}
	return sp, nil
}

// IsTarGz reports whether name looks like a gzip-compressed tar archive.
func IsTarGz(name string) bool {
	return strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz")
}

// ExtractTarGz unpacks archive into dest and returns the number of regular
// files written. Entries that would land outside dest are rejected.
func ExtractTarGz(archive, dest string) (int, error) {
	f, err := os.Open(archive)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("workdir: %s: %w", archive, err)
	}
	defer func() { _ = zr.Close() }()
	return extract(tar.NewReader(zr), dest)
}

func extract(tr *tar.Reader, dest string) (int, error) {
	files := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return files, fmt.Errorf("workdir: read archive: %w", err)
		}
		target, err := within(dest, hdr.Name)
		if err != nil {
			return files, err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return files, err
			}
			files++
		default:
			// links and devices are not expected in sequencer output
		}
	}
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil { //nolint:gosec // archive size bounded by the sequencer run
		_ = out.Close()
		return fmt.Errorf("workdir: write %s: %w", target, err)
	}
	return out.Close()
}

func within(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("workdir: archive entry %q escapes %s", name, dest)
	}
	return target, nil
}
