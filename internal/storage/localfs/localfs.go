// Package localfs implements storage.PathStorage against the real local
// filesystem, rooted at a configured sync directory.
package localfs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tonimelisma/fsync/internal/fserrors"
	"github.com/tonimelisma/fsync/internal/fspath"
	"github.com/tonimelisma/fsync/internal/metadata"
	"github.com/tonimelisma/fsync/internal/storage"
)

// Storage implements storage.PathStorage rooted at Root.
type Storage struct {
	Root   string
	logger *slog.Logger
}

// New constructs a Storage rooted at root. root must be an absolute,
// existing directory; callers validate this at startup (spec.md §7:
// "local-FS root inaccessible" is a fatal startup error, not a runtime one).
func New(root string, logger *slog.Logger) *Storage {
	if logger == nil {
		logger = slog.Default()
	}

	return &Storage{Root: root, logger: logger}
}

func (s *Storage) native(p fspath.Path) string {
	return filepath.Join(s.Root, filepath.FromSlash(p.WithoutRoot().Display()))
}

func (s *Storage) Exists(_ context.Context, p fspath.Path) (bool, error) {
	_, err := os.Lstat(s.native(p))
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, fserrors.Wrap(fserrors.ClassIo, err)
}

func toMetadata(p fspath.Path, native string, fi os.FileInfo) (metadata.Metadata, error) {
	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(native)
		if err != nil {
			target = ""
		}

		return metadata.NewSymlink(p, target, fi.Size(), fi.ModTime()), nil
	case fi.IsDir():
		return metadata.NewDirectory(p), nil
	case fi.Mode().IsRegular():
		return metadata.NewFile(p, fi.Size(), fi.ModTime()), nil
	default:
		return metadata.NewSpecial(p), nil
	}
}

func (s *Storage) DirEntries(_ context.Context, parent fspath.Path) ([]metadata.Metadata, error) {
	native := s.native(parent)

	entries, err := os.ReadDir(native)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fserrors.NewNotFound(parent)
		}

		return nil, fserrors.Wrap(fserrors.ClassIo, err)
	}

	out := make([]metadata.Metadata, 0, len(entries))

	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			return nil, fserrors.Wrap(fserrors.ClassIo, err)
		}

		childPath := parent.Join(e.Name())
		childNative := filepath.Join(native, e.Name())

		if fi.Mode()&os.ModeSymlink != 0 {
			target, rerr := os.Readlink(childNative)
			if rerr != nil {
				return nil, fserrors.Wrap(fserrors.ClassIo, rerr)
			}

			if err := checkSymlinkTarget(childPath, target); err != nil {
				return nil, err
			}

			out = append(out, metadata.NewSymlink(childPath, target, fi.Size(), fi.ModTime()))

			continue
		}

		md, err := toMetadata(childPath, childNative, fi)
		if err != nil {
			return nil, err
		}

		out = append(out, md)
	}

	return out, nil
}

// checkSymlinkTarget rejects a symlink whose target would resolve outside
// the storage root, per spec.md's "symlink targets outside the tree" ban.
// An absolute target is always illegal. A relative target can still escape
// with enough leading ".." components: walk link's own directory depth
// followed by target's components, tracking how many Normal components are
// still "available" to cancel a ParentDir against; a ParentDir seen with
// none available would walk above the root.
func checkSymlinkTarget(link fspath.Path, target string) error {
	if filepath.IsAbs(target) {
		return fserrors.ErrIllegalSymlink
	}

	depth := 0

	step := func(c string) error {
		switch c {
		case "", ".":
		case "..":
			if depth <= 0 {
				return fserrors.ErrIllegalSymlink
			}

			depth--
		default:
			depth++
		}

		return nil
	}

	for _, c := range link.Parent().Components() {
		if err := step(c); err != nil {
			return err
		}
	}

	for _, c := range strings.Split(filepath.ToSlash(target), "/") {
		if err := step(c); err != nil {
			return err
		}
	}

	return nil
}

func (s *Storage) ReadFile(_ context.Context, p fspath.Path, sink storage.Sink) (io.ReadCloser, error) {
	storage.Report(sink, storage.Progress{State: storage.ProgressStarted})

	f, err := os.Open(s.native(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fserrors.NewNotFound(p)
		}

		return nil, fserrors.Wrap(fserrors.ClassIo, err)
	}

	return f, nil
}

func (s *Storage) Mkdir(_ context.Context, p fspath.Path, parents bool) (metadata.Metadata, error) {
	native := s.native(p)

	if parents {
		if err := os.MkdirAll(native, 0o755); err != nil {
			return metadata.Metadata{}, fserrors.Wrap(fserrors.ClassIo, err)
		}
	} else {
		if err := os.Mkdir(native, 0o755); err != nil {
			if os.IsExist(err) {
				return metadata.Metadata{}, fserrors.Wrap(fserrors.ClassIo, fmt.Errorf("mkdir %s: %w", p.Display(), os.ErrExist))
			}

			return metadata.Metadata{}, fserrors.Wrap(fserrors.ClassIo, err)
		}
	}

	return metadata.NewDirectory(p), nil
}

func (s *Storage) CreateFile(ctx context.Context, p fspath.Path, r io.Reader, size, mtime int64, sink storage.Sink) (metadata.Metadata, error) {
	native := s.native(p)

	f, err := os.OpenFile(native, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return metadata.Metadata{}, fserrors.Wrap(fserrors.ClassIo, fmt.Errorf("create %s: %w", p.Display(), os.ErrExist))
		}

		return metadata.Metadata{}, fserrors.Wrap(fserrors.ClassIo, err)
	}
	defer f.Close()

	return s.writeAndStat(ctx, p, f, native, r, size, mtime, sink)
}

func (s *Storage) WriteFile(ctx context.Context, p fspath.Path, r io.Reader, size, mtime int64, sink storage.Sink) (metadata.Metadata, error) {
	native := s.native(p)

	fi, err := os.Stat(native)
	if err != nil {
		if os.IsNotExist(err) {
			return metadata.Metadata{}, fserrors.NewNotFound(p)
		}

		return metadata.Metadata{}, fserrors.Wrap(fserrors.ClassIo, err)
	}

	if fi.IsDir() {
		return metadata.Metadata{}, fserrors.NewUnexpected(p, fserrors.LocationLocal)
	}

	f, err := os.OpenFile(native, os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return metadata.Metadata{}, fserrors.Wrap(fserrors.ClassIo, err)
	}
	defer f.Close()

	return s.writeAndStat(ctx, p, f, native, r, size, mtime, sink)
}

func (s *Storage) writeAndStat(_ context.Context, p fspath.Path, f *os.File, native string, r io.Reader, size, mtime int64, sink storage.Sink) (metadata.Metadata, error) {
	storage.Report(sink, storage.Progress{State: storage.ProgressStarted})

	written, err := io.Copy(f, &countingReader{r: r, sink: sink, total: size})
	if err != nil {
		storage.Report(sink, storage.Progress{State: storage.ProgressErr, Err: err})

		return metadata.Metadata{}, fserrors.Wrap(fserrors.ClassIo, err)
	}

	if mtime != 0 {
		mt := time.Unix(0, mtime)
		if err := os.Chtimes(native, mt, mt); err != nil {
			return metadata.Metadata{}, fserrors.Wrap(fserrors.ClassIo, err)
		}
	}

	storage.Report(sink, storage.Progress{State: storage.ProgressDone})

	fi, err := os.Stat(native)
	if err != nil {
		return metadata.Metadata{}, fserrors.Wrap(fserrors.ClassIo, err)
	}

	_ = written

	return metadata.NewFile(p, fi.Size(), fi.ModTime()), nil
}

func (s *Storage) CopyFile(ctx context.Context, src, dst fspath.Path, sink storage.Sink) (metadata.Metadata, error) {
	if exists, _ := s.Exists(ctx, dst); exists {
		return metadata.Metadata{}, fserrors.Wrap(fserrors.ClassIo, fmt.Errorf("copy to %s: %w", dst.Display(), os.ErrExist))
	}

	r, err := s.ReadFile(ctx, src, nil)
	if err != nil {
		return metadata.Metadata{}, err
	}
	defer r.Close()

	srcFi, err := os.Stat(s.native(src))
	if err != nil {
		return metadata.Metadata{}, fserrors.Wrap(fserrors.ClassIo, err)
	}

	return s.CreateFile(ctx, dst, r, srcFi.Size(), srcFi.ModTime().UnixNano(), sink)
}

func (s *Storage) MoveEntry(_ context.Context, src, dst fspath.Path, sink storage.Sink) (metadata.Metadata, error) {
	storage.Report(sink, storage.Progress{State: storage.ProgressStarted})

	nativeSrc, nativeDst := s.native(src), s.native(dst)

	if err := os.Rename(nativeSrc, nativeDst); err != nil {
		storage.Report(sink, storage.Progress{State: storage.ProgressErr, Err: err})

		return metadata.Metadata{}, fserrors.Wrap(fserrors.ClassIo, err)
	}

	storage.Report(sink, storage.Progress{State: storage.ProgressDone})

	fi, err := os.Lstat(nativeDst)
	if err != nil {
		return metadata.Metadata{}, fserrors.Wrap(fserrors.ClassIo, err)
	}

	return toMetadata(dst, nativeDst, fi)
}

func (s *Storage) Delete(_ context.Context, p fspath.Path, sink storage.Sink) error {
	storage.Report(sink, storage.Progress{State: storage.ProgressStarted})

	native := s.native(p)

	fi, err := os.Lstat(native)
	if err != nil {
		if os.IsNotExist(err) {
			return fserrors.NewNotFound(p)
		}

		return fserrors.Wrap(fserrors.ClassIo, err)
	}

	if fi.IsDir() {
		if err := os.Remove(native); err != nil {
			storage.Report(sink, storage.Progress{State: storage.ProgressErr, Err: err})

			return fserrors.Wrap(fserrors.ClassIo, fmt.Errorf("delete non-empty directory %s: %w", p.Display(), err))
		}
	} else if err := os.Remove(native); err != nil {
		storage.Report(sink, storage.Progress{State: storage.ProgressErr, Err: err})

		return fserrors.Wrap(fserrors.ClassIo, err)
	}

	storage.Report(sink, storage.Progress{State: storage.ProgressDone})

	return nil
}

// countingReader reports transfer progress as bytes flow through io.Copy.
type countingReader struct {
	r     io.Reader
	sink  storage.Sink
	total int64
	sent  int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.sent += int64(n)
		storage.Report(c.sink, storage.Progress{State: storage.ProgressTransferring, Sent: c.sent, Total: c.total})
	}

	return n, err
}

var _ storage.PathStorage = (*Storage)(nil)
