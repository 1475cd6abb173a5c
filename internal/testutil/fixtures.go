package testutil

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
)

// DexSections are the header fields a synthetic dex carries.
type DexSections struct {
	SymbolCount      uint32
	SymbolOffset     uint32
	TypeCount        uint32
	TypeOffset       uint32
	DefinitionCount  uint32
	DefinitionOffset uint32
}

const dexHeaderSize = 0x70

// DexBytes builds a dex header for version ("035") with the given section
// descriptors, followed by bodySize filler bytes.
func DexBytes(version string, s DexSections, bodySize int) []byte {
	buf := make([]byte, dexHeaderSize+bodySize)
	copy(buf, "dex\n"+version+"\x00")
	putPair(buf, 0x38, s.SymbolCount, s.SymbolOffset)
	putPair(buf, 0x40, s.TypeCount, s.TypeOffset)
	putPair(buf, 0x60, s.DefinitionCount, s.DefinitionOffset)
	for i := dexHeaderSize; i < len(buf); i++ {
		buf[i] = byte(i)
	}
	return buf
}

func putPair(buf []byte, off int, count, offset uint32) {
	binary.LittleEndian.PutUint32(buf[off:], count)
	binary.LittleEndian.PutUint32(buf[off+4:], offset)
}

// WriteZip writes files into a zip archive at path, entries in name order.
func WriteZip(t *testing.T, path string, files map[string][]byte) {
	t.Helper()

	must(t, os.MkdirAll(filepath.Dir(path), 0o755))
	out, err := os.Create(path)
	must(t, err)
	defer out.Close()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	zw := zip.NewWriter(out)
	for _, name := range names {
		w, err := zw.Create(name)
		must(t, err)
		_, err = w.Write(files[name])
		must(t, err)
	}
	must(t, zw.Close())
}

// WriteTree writes files (relative slash paths) under root.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		target := filepath.Join(root, filepath.FromSlash(rel))
		must(t, os.MkdirAll(filepath.Dir(target), 0o755))
		must(t, os.WriteFile(target, []byte(content), 0o644))
	}
}

// ListTree returns every regular file under root as sorted slash paths.
func ListTree(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return relErr
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	must(t, err)
	sort.Strings(files)
	return files
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
}
