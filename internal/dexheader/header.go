// Package dexheader parses the fixed header of a Dalvik executable.
//
// Only the magic and three section descriptors are interpreted: the string
// table (symbols), the type table and the class definition table. The
// result is diagnostic. Decompilers read the raw bytes themselves, so a
// unit with a bad header is still handed to them.
//
// Parse performs no I/O; callers pass the leading HeaderSize bytes.
package dexheader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MagicSize is the length of the signature at offset 0.
	MagicSize = 8
	// HeaderSize is the length of the fixed header.
	HeaderSize = 0x70

	symbolPairOffset     = 0x38 // string_ids_size, string_ids_off
	typePairOffset       = 0x40 // type_ids_size, type_ids_off
	definitionPairOffset = 0x60 // class_defs_size, class_defs_off
)

var magicPrefix = []byte("dex\n")

// SupportedVersions lists the format versions accepted in the magic.
var SupportedVersions = []string{"035", "037", "038", "039", "040", "041"}

// ErrInvalidFormat matches every *InvalidFormatError.
var ErrInvalidFormat = errors.New("dexheader: invalid format")

// InvalidFormatError reports a header that could not be parsed.
type InvalidFormatError struct {
	Reason string
	Magic  []byte
}

func (e *InvalidFormatError) Error() string {
	if len(e.Magic) > 0 {
		return fmt.Sprintf("dexheader: invalid format: %s (magic %q)", e.Reason, e.Magic)
	}
	return "dexheader: invalid format: " + e.Reason
}

func (e *InvalidFormatError) Is(target error) bool {
	return target == ErrInvalidFormat
}

// Descriptor summarizes a header.
type Descriptor struct {
	MagicValid       bool   `json:"magic_valid"`
	Version          string `json:"version,omitempty"`
	SymbolCount      uint32 `json:"symbol_count"`
	SymbolOffset     uint32 `json:"symbol_offset"`
	TypeCount        uint32 `json:"type_count"`
	TypeOffset       uint32 `json:"type_offset"`
	DefinitionCount  uint32 `json:"definition_count"`
	DefinitionOffset uint32 `json:"definition_offset"`
}

// Parse validates the magic of buf and, when it is valid, reads the three
// section descriptors. On a bad magic no other field is read.
func Parse(buf []byte) (Descriptor, error) {
	if len(buf) < MagicSize {
		return Descriptor{}, &InvalidFormatError{Reason: fmt.Sprintf("%d bytes is shorter than the magic", len(buf))}
	}

	magic := buf[:MagicSize]
	version, ok := checkMagic(magic)
	if !ok {
		return Descriptor{}, &InvalidFormatError{
			Reason: "unrecognized magic",
			Magic:  append([]byte(nil), magic...),
		}
	}

	desc := Descriptor{MagicValid: true, Version: version}
	if len(buf) < HeaderSize {
		return desc, &InvalidFormatError{Reason: fmt.Sprintf("truncated header: %d of %d bytes", len(buf), HeaderSize)}
	}

	desc.SymbolCount, desc.SymbolOffset = readPair(buf, symbolPairOffset)
	desc.TypeCount, desc.TypeOffset = readPair(buf, typePairOffset)
	desc.DefinitionCount, desc.DefinitionOffset = readPair(buf, definitionPairOffset)
	return desc, nil
}

// Magic builds the signature for a version, e.g. Magic("035").
func Magic(version string) []byte {
	m := make([]byte, 0, MagicSize)
	m = append(m, magicPrefix...)
	m = append(m, version...)
	return append(m, 0)
}

func checkMagic(magic []byte) (string, bool) {
	for _, version := range SupportedVersions {
		if bytes.Equal(magic, Magic(version)) {
			return version, true
		}
	}
	return "", false
}

// readPair reads a (count, offset) pair of little-endian uint32 at off.
func readPair(buf []byte, off int) (count, offset uint32) {
	count = binary.LittleEndian.Uint32(buf[off : off+4])
	offset = binary.LittleEndian.Uint32(buf[off+4 : off+8])
	return count, offset
}
