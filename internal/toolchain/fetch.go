package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/roach88/srcrecover/internal/config"
)

var errEntryNotFound = errors.New("entry not found in bundle")

// cachePath is the final location of a downloaded source: a file for jars
// and bare executables, a directory for .zip bundles.
func (r *Resolver) cachePath(capability string, src config.Source) string {
	name := remoteName(src.Location)
	if isBundle(src.Location) {
		name = strings.TrimSuffix(name, ".zip")
	}
	return filepath.Join(r.opts.CacheDir, capability, name)
}

// fetch downloads one mirror into the cache and returns the runnable path.
// The attempt is always filled in; a failed attempt has Succeeded false.
func (r *Resolver) fetch(ctx context.Context, capability string, src config.Source) (string, FetchAttempt) {
	attempt := FetchAttempt{Capability: capability, URL: src.Location, At: r.opts.Now()}

	ctx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
	defer cancel()

	path, status, err := r.download(ctx, capability, src)
	attempt.Duration = r.opts.Now().Sub(attempt.At)
	attempt.StatusCode = status
	if err != nil {
		attempt.Error = err.Error()
		return "", attempt
	}
	attempt.Succeeded = true
	return path, attempt
}

func (r *Resolver) download(ctx context.Context, capability string, src config.Source) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Location, nil)
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := r.opts.Client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status)
	}

	target := r.cachePath(capability, src)
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", resp.StatusCode, fmt.Errorf("create cache directory: %w", err)
	}

	// Download next to the target so the final rename stays on one
	// filesystem.
	tmp, err := os.CreateTemp(parent, ".fetch-*")
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", resp.StatusCode, fmt.Errorf("close temp file: %w", err)
	}

	var path string
	switch {
	case isBundle(src.Location):
		path, err = installBundle(tmpName, target, src.Entry)
	case strings.HasSuffix(strings.ToLower(remoteName(src.Location)), ".jar"):
		path, err = installJar(tmpName, target)
	default:
		path, err = installFile(tmpName, target, 0o755)
	}
	return path, resp.StatusCode, err
}

// installJar checks the payload is a readable zip before committing it.
func installJar(tmpName, target string) (string, error) {
	zr, err := zip.OpenReader(tmpName)
	if err != nil {
		return "", fmt.Errorf("payload is not a jar: %w", err)
	}
	zr.Close()
	return installFile(tmpName, target, 0o644)
}

func installFile(tmpName, target string, perm os.FileMode) (string, error) {
	if err := os.Chmod(tmpName, perm); err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, target); err != nil {
		return "", fmt.Errorf("commit %s: %w", target, err)
	}
	return target, nil
}

// installBundle unpacks a zip into a temp directory, checks the entry exists,
// then renames the directory into place.
func installBundle(tmpName, target, entry string) (string, error) {
	zr, err := zip.OpenReader(tmpName)
	if err != nil {
		return "", fmt.Errorf("payload is not a zip: %w", err)
	}
	defer zr.Close()

	staging, err := os.MkdirTemp(filepath.Dir(target), ".unpack-*")
	if err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging)
		}
	}()

	for _, f := range zr.File {
		if err := unpackEntry(f, staging); err != nil {
			return "", err
		}
	}
	if _, err := findEntry(staging, entry); err != nil {
		return "", err
	}

	// Another process may have installed the same bundle meanwhile.
	_ = os.RemoveAll(target)
	if err := os.Rename(staging, target); err != nil {
		return "", fmt.Errorf("commit %s: %w", target, err)
	}
	committed = true

	exe, err := findEntry(target, entry)
	if err != nil {
		return "", err
	}
	if err := os.Chmod(exe, 0o755); err != nil {
		return "", err
	}
	return exe, nil
}

func unpackEntry(f *zip.File, root string) error {
	name := path.Clean(strings.ReplaceAll(f.Name, `\`, "/"))
	if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
		return fmt.Errorf("unsafe bundle entry %q", f.Name)
	}
	dest := filepath.Join(root, filepath.FromSlash(name))

	if f.FileInfo().IsDir() {
		return os.MkdirAll(dest, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	perm := f.Mode().Perm() | 0o600
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("unpack %s: %w", f.Name, err)
	}
	return out.Close()
}

// findEntry locates entry under root. Bundles often wrap everything in one
// top-level directory, so a match at any depth is accepted; the first in
// lexical walk order wins.
func findEntry(root, entry string) (string, error) {
	if entry == "" {
		return "", fmt.Errorf("%w: no entry configured", errEntryNotFound)
	}
	direct := filepath.Join(root, filepath.FromSlash(entry))
	if isFile(direct) {
		return direct, nil
	}

	suffix := "/" + strings.TrimPrefix(path.Clean(entry), "/")
	var found string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if found != "" || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		if strings.HasSuffix("/"+filepath.ToSlash(rel), suffix) {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s", errEntryNotFound, entry)
	}
	return found, nil
}

func isBundle(location string) bool {
	return strings.HasSuffix(strings.ToLower(remoteName(location)), ".zip")
}

// remoteName is the last path element of a URL, without query.
func remoteName(location string) string {
	if u, err := url.Parse(location); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(location)
}
