package archive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/zeebo/blake3"
)

var (
	ErrNotFound       = errors.New("archive: not found")
	ErrCorruptArchive = errors.New("archive: corrupt archive")
	ErrNoUnits        = errors.New("archive: no binary units found")
)

// DefaultPatterns selects the dex units of an Android-style distribution.
var DefaultPatterns = []string{"classes*.dex"}

// Entry is one file in the archive's own directory listing.
type Entry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Unit is one bytecode blob extracted from a distribution.
// Units are immutable once extracted.
type Unit struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Path   string `json:"path"`
	Digest string `json:"digest"`
}

// Stem returns the unit name without directory or extension ("classes2").
func (u Unit) Stem() string {
	base := path.Base(u.Name)
	return strings.TrimSuffix(base, path.Ext(base))
}

// Open opens the unit's byte stream.
func (u Unit) Open() (io.ReadCloser, error) {
	return os.Open(u.Path)
}

// Head reads at most n leading bytes of the unit.
func (u Unit) Head(n int) ([]byte, error) {
	f, err := os.Open(u.Path)
	if err != nil {
		return nil, fmt.Errorf("open unit %s: %w", u.Name, err)
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read unit %s: %w", u.Name, err)
	}
	return buf[:read], nil
}

// Options controls which entries are treated as units.
type Options struct {
	// Patterns are path.Match globs against entry names. Empty means
	// DefaultPatterns.
	Patterns []string
}

func (o Options) patterns() []string {
	if len(o.Patterns) == 0 {
		return DefaultPatterns
	}
	return o.Patterns
}

// Matches reports whether an entry name is a unit.
func (o Options) Matches(name string) bool {
	for _, pattern := range o.patterns() {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// List returns the archive's file entries ordered by name.
func List(archivePath string) ([]Entry, error) {
	r, err := openZip(archivePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	entries := make([]Entry, 0, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, Entry{Name: f.Name, Size: int64(f.UncompressedSize64)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Extract materializes every matching unit under scratchDir and returns the
// units ordered by name.
func Extract(ctx context.Context, archivePath, scratchDir string, opts Options) ([]Unit, error) {
	r, err := openZip(archivePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var files []*zip.File
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !opts.Matches(f.Name) {
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoUnits, archivePath)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	units := make([]Unit, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		unit, err := extractFile(f, scratchDir)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, nil
}

func openZip(archivePath string) (*zip.ReadCloser, error) {
	info, err := os.Stat(archivePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, archivePath)
	}
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrCorruptArchive, archivePath)
	}

	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, archivePath, err)
	}
	return r, nil
}

func extractFile(f *zip.File, scratchDir string) (Unit, error) {
	rel, err := sanitizeName(f.Name)
	if err != nil {
		return Unit{}, err
	}
	target := filepath.Join(scratchDir, rel)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Unit{}, fmt.Errorf("create unit dir: %w", err)
	}

	src, err := f.Open()
	if err != nil {
		return Unit{}, fmt.Errorf("%w: open entry %s: %v", ErrCorruptArchive, f.Name, err)
	}
	defer src.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Unit{}, fmt.Errorf("create unit file: %w", err)
	}

	n, digest, err := writeUnit(out, src)
	if err != nil {
		// The zip reader reports CRC mismatches from Read.
		if errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Unit{}, fmt.Errorf("%w: entry %s: %v", ErrCorruptArchive, f.Name, err)
		}
		return Unit{}, fmt.Errorf("extract %s: %w", f.Name, err)
	}

	return Unit{
		Name:   f.Name,
		Size:   n,
		Path:   target,
		Digest: digest,
	}, nil
}

// writeUnit copies src into out, hashing as it goes, and closes out. A
// failed close fails the unit.
func writeUnit(out io.WriteCloser, src io.Reader) (int64, string, error) {
	hasher := blake3.New()
	n, err := io.Copy(io.MultiWriter(out, hasher), src)
	if err != nil {
		out.Close()
		return 0, "", err
	}
	if err := out.Close(); err != nil {
		return 0, "", fmt.Errorf("close unit file: %w", err)
	}
	return n, hex.EncodeToString(hasher.Sum(nil)), nil
}

// sanitizeName rejects entry names that would escape the scratch directory.
func sanitizeName(name string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: unsafe entry name %q", ErrCorruptArchive, name)
	}
	return filepath.FromSlash(clean), nil
}
