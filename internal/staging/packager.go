package staging

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/core"
)

// BundleName is the file name of a packaged source tree.
const BundleName = "fast.tar.gz"

// DefaultIgnore lists path components never packaged.
var DefaultIgnore = []string{".git", "__pycache__", ".venv", ".mypy_cache", ".pytest_cache", "node_modules", ".DS_Store"}

// TarballPackager archives a source tree as a reproducible gzip tarball.
// Entries are sorted and timestamps zeroed so identical trees share a digest.
type TarballPackager struct {
	Ignore []string
}

var _ core.Packager = (*TarballPackager)(nil)

// NewTarballPackager returns a packager using DefaultIgnore.
func NewTarballPackager() *TarballPackager {
	return &TarballPackager{Ignore: DefaultIgnore}
}

// Package writes <outDir>/fast.tar.gz from root and returns its sha256 digest.
func (p *TarballPackager) Package(ctx context.Context, root, outDir string) (core.SourceBundle, error) {
	log := pslog.Ctx(ctx).With("root", root)
	info, err := os.Stat(root)
	if err != nil {
		return core.SourceBundle{}, fmt.Errorf("package path: %w", err)
	}
	if !info.IsDir() {
		return core.SourceBundle{}, fmt.Errorf("package path %s is not a directory", root)
	}
	files, err := p.collect(root)
	if err != nil {
		return core.SourceBundle{}, err
	}
	if len(files) == 0 {
		return core.SourceBundle{}, fmt.Errorf("package path %s contains no files", root)
	}

	outPath := filepath.Join(outDir, BundleName)
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return core.SourceBundle{}, err
	}
	hash := sha256.New()
	counter := &countingWriter{}
	gz := gzip.NewWriter(io.MultiWriter(out, hash, counter))
	tw := tar.NewWriter(gz)

	writeErr := func() error {
		for _, rel := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := addFile(tw, root, rel); err != nil {
				return err
			}
		}
		if err := tw.Close(); err != nil {
			return err
		}
		return gz.Close()
	}()
	closeErr := out.Close()
	if writeErr != nil {
		_ = os.Remove(outPath)
		return core.SourceBundle{}, fmt.Errorf("write bundle: %w", writeErr)
	}
	if closeErr != nil {
		return core.SourceBundle{}, closeErr
	}

	bundle := core.SourceBundle{
		Path:   outPath,
		Digest: hex.EncodeToString(hash.Sum(nil)),
		Size:   counter.n,
	}
	log.Debug("source bundle written", "files", len(files), "bytes", bundle.Size, "digest", bundle.Digest)
	return bundle, nil
}

func (p *TarballPackager) collect(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if p.ignored(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (p *TarballPackager) ignored(name string) bool {
	for _, pattern := range p.Ignore {
		if pattern == name {
			return true
		}
		if strings.ContainsAny(pattern, "*?[") {
			if ok, _ := filepath.Match(pattern, name); ok {
				return true
			}
		}
	}
	return false
}

func addFile(tw *tar.Writer, root, rel string) error {
	path := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := int64(0o644)
	if info.Mode()&0o111 != 0 {
		mode = 0o755
	}
	header := &tar.Header{
		Name:     rel,
		Mode:     mode,
		Size:     info.Size(),
		ModTime:  time.Unix(0, 0),
		Typeflag: tar.TypeReg,
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	n, err := io.Copy(tw, f)
	if err != nil {
		return err
	}
	if n != info.Size() {
		return errors.New("file changed while packaging: " + rel)
	}
	return nil
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}
