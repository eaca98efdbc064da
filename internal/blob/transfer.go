package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

const defaultParallelism = 4

// Transfer copies files and folders between object storage locations and
// local paths. Folder transfers run up to Parallelism objects at a time.
type Transfer struct {
	open        Opener
	parallelism int
	logger      *slog.Logger

	mu     sync.Mutex
	stores map[string]Store
}

// TransferOption configures a Transfer.
type TransferOption func(*Transfer)

// WithParallelism bounds concurrent object transfers within a folder.
func WithParallelism(n int) TransferOption {
	return func(t *Transfer) {
		if n > 0 {
			t.parallelism = n
		}
	}
}

// WithTransferLogger sets the logger used for per-transfer summaries.
func WithTransferLogger(l *slog.Logger) TransferOption {
	return func(t *Transfer) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTransfer returns a Transfer resolving buckets through open.
func NewTransfer(open Opener, opts ...TransferOption) *Transfer {
	t := &Transfer{
		open:        open,
		parallelism: defaultParallelism,
		logger:      slog.Default(),
		stores:      make(map[string]Store),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Transfer) store(ctx context.Context, bucket string) (Store, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.stores[bucket]; ok {
		return s, nil
	}
	s, err := t.open(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucket, err)
	}
	t.stores[bucket] = s
	return s, nil
}

// DownloadFile copies one object to localPath, creating parent directories.
func (t *Transfer) DownloadFile(ctx context.Context, remote, localPath string) error {
	loc, err := ParseLocation(remote)
	if err != nil {
		return err
	}
	s, err := t.store(ctx, loc.Bucket)
	if err != nil {
		return err
	}
	n, err := download(ctx, s, loc.Key, localPath)
	if err != nil {
		return err
	}
	t.logger.InfoContext(ctx, "blob: downloaded file", "remote", remote, "local", localPath, "size", humanize.Bytes(uint64(n)))
	return nil
}

// DownloadFolder copies every object under the remote prefix into localDir,
// keeping the relative layout. It returns the number of files written.
func (t *Transfer) DownloadFolder(ctx context.Context, remote, localDir string) (int, error) {
	loc, err := ParseLocation(remote)
	if err != nil {
		return 0, err
	}
	s, err := t.store(ctx, loc.Bucket)
	if err != nil {
		return 0, err
	}
	prefix := loc.Prefix()
	infos, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(infos) == 0 {
		return 0, fmt.Errorf("download %s: %w", remote, ErrNotFound)
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return 0, err
	}
	var total atomic.Int64
	files := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.parallelism)
	for _, info := range infos {
		rel := strings.TrimPrefix(info.Key, prefix)
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		dest, err := localPath(localDir, rel)
		if err != nil {
			_ = g.Wait()
			return 0, err
		}
		key := info.Key
		files++
		g.Go(func() error {
			n, err := download(gctx, s, key, dest)
			total.Add(n)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	t.logger.InfoContext(ctx, "blob: downloaded folder", "remote", remote, "local", localDir,
		"files", files, "size", humanize.Bytes(uint64(total.Load())))
	return files, nil
}

// UploadFile copies localPath to the remote key.
func (t *Transfer) UploadFile(ctx context.Context, remote, localPath string) error {
	loc, err := ParseLocation(remote)
	if err != nil {
		return err
	}
	s, err := t.store(ctx, loc.Bucket)
	if err != nil {
		return err
	}
	n, err := upload(ctx, s, loc.Key, localPath)
	if err != nil {
		return err
	}
	t.logger.InfoContext(ctx, "blob: uploaded file", "remote", remote, "local", localPath, "size", humanize.Bytes(uint64(n)))
	return nil
}

// UploadFolder copies every regular file under localDir to the remote
// prefix, keeping the relative layout. It returns the number of files sent.
func (t *Transfer) UploadFolder(ctx context.Context, remote, localDir string) (int, error) {
	loc, err := ParseLocation(remote)
	if err != nil {
		return 0, err
	}
	s, err := t.store(ctx, loc.Bucket)
	if err != nil {
		return 0, err
	}
	var files []string
	err = filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", localDir, err)
	}
	prefix := loc.Prefix()
	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.parallelism)
	for _, p := range files {
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			_ = g.Wait()
			return 0, err
		}
		key := prefix + filepath.ToSlash(rel)
		src := p
		g.Go(func() error {
			n, err := upload(gctx, s, key, src)
			total.Add(n)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	t.logger.InfoContext(ctx, "blob: uploaded folder", "remote", remote, "local", localDir,
		"files", len(files), "size", humanize.Bytes(uint64(total.Load())))
	return len(files), nil
}

func download(ctx context.Context, s Store, key, dest string) (int64, error) {
	_, rc, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", dest, err)
	}
	return n, nil
}

func upload(ctx context.Context, s Store, key, src string) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	info, err := s.Put(ctx, key, f, PutOptions{})
	if err != nil {
		return 0, fmt.Errorf("upload %s: %w", src, err)
	}
	return info.Size, nil
}

// localPath joins a slash-separated object suffix onto dir, refusing keys
// that would escape it.
func localPath(dir, rel string) (string, error) {
	p := filepath.Join(dir, filepath.FromSlash(rel))
	r, err := filepath.Rel(dir, p)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", errors.New("object key escapes destination: " + rel)
	}
	return p, nil
}
