package dataset

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/h2non/filetype"

	"github.com/rushteam/alignkit/core"
)

const (
	lockFile   = ".alignkit.lock"
	markerFile = ".alignkit.extracted"
)

// Extract 把 archivePath（.tar 或 .tar.gz）解压到 destDir，只做一次。
//
// 多个进程同时解压同一目录时用文件锁串行化；destDir 中已有完成标记则直接跳过。
// 返回值表示本次是否真正解压。
func Extract(ctx context.Context, archivePath, destDir string) (bool, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return false, fmt.Errorf("extract: %w", err)
	}
	lock := flock.New(filepath.Join(destDir, lockFile))
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return false, fmt.Errorf("extract: acquire lock: %w", err)
	}
	if !locked {
		return false, fmt.Errorf("extract: lock %s not acquired", lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	marker := filepath.Join(destDir, markerFile)
	if _, err := os.Stat(marker); err == nil {
		return false, nil
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return false, core.WrapDomainError(core.ModuleDataset, core.ErrorCodeNotFound, err, "open archive %s", archivePath)
	}
	defer f.Close()

	r, err := archiveReader(f)
	if err != nil {
		return false, err
	}
	if err := untar(ctx, tar.NewReader(r), destDir); err != nil {
		return false, fmt.Errorf("extract %s: %w", archivePath, err)
	}
	if err := os.WriteFile(marker, []byte(time.Now().UTC().Format(time.RFC3339)), 0o644); err != nil {
		return true, fmt.Errorf("extract: write marker: %w", err)
	}
	return true, nil
}

// archiveReader 按文件头判断是否需要 gzip 解压。
func archiveReader(f *os.File) (io.Reader, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, core.WrapDomainError(core.ModuleDataset, core.ErrorCodeInvalidInput, err, "read archive header")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	kind, _ := filetype.Match(head[:n])
	switch kind.Extension {
	case "gz":
		return gzip.NewReader(f)
	case "tar":
		return f, nil
	}
	return nil, core.NewDomainError(core.ModuleDataset, core.ErrorCodeInvalidInput,
		fmt.Sprintf("unsupported archive type %q", kind.Extension))
}

func untar(ctx context.Context, tr *tar.Reader, dest string) error {
	root, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(root, filepath.FromSlash(hdr.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("entry %q escapes destination", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		}
	}
}

func writeFile(path string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
