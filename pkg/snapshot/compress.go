package snapshot

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/platform"
)

// parallelism bounds concurrent volume (de)compression.
func parallelism() int {
	n := platform.CPUCount()
	if n > 8 {
		n = 8
	}
	if n < 2 {
		n = 2
	}
	return n
}

// volumeArchives lists the capture's volume archives, either compression.
func volumeArchives(dir string) ([]string, error) {
	var out []string
	for _, pattern := range []string{"*.tar.zst", "*.tar.gz"} {
		matches, err := filepath.Glob(filepath.Join(dir, "volumes", pattern))
		if err != nil {
			return nil, errdefs.WrapFilesystem("glob", dir, err)
		}
		out = append(out, matches...)
	}
	return out, nil
}

// volumeBase strips the archive suffix from a volume archive path.
func volumeBase(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".tar.zst")
	base = strings.TrimSuffix(base, ".tar.gz")
	return base
}

// compressVolumes recompresses the provider's gzip volume archives to zstd.
// A transcode failure keeps the gzip original; readers accept both.
func (e *Engine) compressVolumes(ctx context.Context, dir string) error {
	archives, err := filepath.Glob(filepath.Join(dir, "volumes", "*.tar.gz"))
	if err != nil {
		return errdefs.WrapFilesystem("glob", dir, err)
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(parallelism())
	for _, archive := range archives {
		g.Go(func() error {
			if err := gzipToZstd(archive); err != nil {
				e.logger.Warn().Str("archive", archive).Err(err).Msg("keeping gzip archive")
			}
			return nil
		})
	}
	return g.Wait()
}

// decompressVolumes rewrites zstd volume archives as gzip so the provider
// backends, which only read gzip, can extract them.
func (e *Engine) decompressVolumes(ctx context.Context, dir string) error {
	archives, err := filepath.Glob(filepath.Join(dir, "volumes", "*.tar.zst"))
	if err != nil {
		return errdefs.WrapFilesystem("glob", dir, err)
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(parallelism())
	for _, archive := range archives {
		g.Go(func() error {
			return zstdToGzip(archive)
		})
	}
	return g.Wait()
}

// gzipToZstd transcodes path (.tar.gz) to .tar.zst and removes the
// original.
func gzipToZstd(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return errdefs.WrapFilesystem("open", path, err)
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return errdefs.WrapFilesystem("read", path, err)
	}
	defer gz.Close()

	target := strings.TrimSuffix(path, ".tar.gz") + ".tar.zst"
	out, err := os.Create(target)
	if err != nil {
		return errdefs.WrapFilesystem("create", target, err)
	}

	enc, err := zstd.NewWriter(out)
	if err != nil {
		out.Close()
		os.Remove(target)
		return errdefs.Internalf("zstd writer: %v", err)
	}
	if _, err := io.Copy(enc, gz); err != nil {
		enc.Close()
		out.Close()
		os.Remove(target)
		return errdefs.WrapFilesystem("write", target, err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		os.Remove(target)
		return errdefs.WrapFilesystem("write", target, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(target)
		return errdefs.WrapFilesystem("close", target, err)
	}
	return os.Remove(path)
}

// zstdToGzip transcodes path (.tar.zst) to .tar.gz and removes the
// original.
func zstdToGzip(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return errdefs.WrapFilesystem("open", path, err)
	}
	defer in.Close()

	dec, err := zstd.NewReader(in)
	if err != nil {
		return errdefs.Internalf("zstd reader: %v", err)
	}
	defer dec.Close()

	target := strings.TrimSuffix(path, ".tar.zst") + ".tar.gz"
	out, err := os.Create(target)
	if err != nil {
		return errdefs.WrapFilesystem("create", target, err)
	}

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, dec); err != nil {
		gz.Close()
		out.Close()
		os.Remove(target)
		return errdefs.WrapFilesystem("write", target, err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(target)
		return errdefs.WrapFilesystem("write", target, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(target)
		return errdefs.WrapFilesystem("close", target, err)
	}
	return os.Remove(path)
}
