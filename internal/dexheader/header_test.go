package dexheader_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/srcrecover/internal/dexheader"
	"github.com/roach88/srcrecover/internal/testutil"
)

func TestParse_ValidHeader(t *testing.T) {
	sections := testutil.DexSections{
		SymbolCount: 4211, SymbolOffset: 0x70,
		TypeCount: 812, TypeOffset: 0x4178,
		DefinitionCount: 305, DefinitionOffset: 0x9a20,
	}
	buf := testutil.DexBytes("035", sections, 32)

	desc, err := dexheader.Parse(buf)
	require.NoError(t, err)

	assert.True(t, desc.MagicValid)
	assert.Equal(t, "035", desc.Version)
	assert.Equal(t, sections.SymbolCount, desc.SymbolCount)
	assert.Equal(t, sections.SymbolOffset, desc.SymbolOffset)
	assert.Equal(t, sections.TypeCount, desc.TypeCount)
	assert.Equal(t, sections.TypeOffset, desc.TypeOffset)
	assert.Equal(t, sections.DefinitionCount, desc.DefinitionCount)
	assert.Equal(t, sections.DefinitionOffset, desc.DefinitionOffset)
}

func TestParse_AllSupportedVersions(t *testing.T) {
	for _, version := range dexheader.SupportedVersions {
		t.Run(version, func(t *testing.T) {
			desc, err := dexheader.Parse(testutil.DexBytes(version, testutil.DexSections{TypeCount: 1}, 0))
			require.NoError(t, err)
			assert.Equal(t, version, desc.Version)
			assert.Equal(t, uint32(1), desc.TypeCount)
		})
	}
}

func TestParse_WrongMagicReadsNothingElse(t *testing.T) {
	buf := testutil.DexBytes("035", testutil.DexSections{SymbolCount: 9, TypeCount: 9, DefinitionCount: 9}, 0)
	copy(buf, "PK\x03\x04....")

	desc, err := dexheader.Parse(buf)
	require.Error(t, err)

	var formatErr *dexheader.InvalidFormatError
	require.ErrorAs(t, err, &formatErr)
	assert.ErrorIs(t, err, dexheader.ErrInvalidFormat)
	assert.Equal(t, []byte("PK\x03\x04...."), formatErr.Magic)
	assert.Equal(t, dexheader.Descriptor{}, desc)
}

func TestParse_UnsupportedVersion(t *testing.T) {
	_, err := dexheader.Parse(testutil.DexBytes("099", testutil.DexSections{}, 0))
	assert.ErrorIs(t, err, dexheader.ErrInvalidFormat)
}

func TestParse_ShortBuffers(t *testing.T) {
	_, err := dexheader.Parse([]byte("dex"))
	assert.ErrorIs(t, err, dexheader.ErrInvalidFormat)

	full := testutil.DexBytes("038", testutil.DexSections{SymbolCount: 3}, 0)
	desc, err := dexheader.Parse(full[:0x40])
	require.Error(t, err)
	assert.ErrorIs(t, err, dexheader.ErrInvalidFormat)
	assert.Contains(t, err.Error(), "truncated")
	assert.True(t, desc.MagicValid)
	assert.Zero(t, desc.SymbolCount)
}

func TestMagic(t *testing.T) {
	assert.Equal(t, []byte("dex\n035\x00"), dexheader.Magic("035"))
	assert.Len(t, dexheader.Magic("041"), dexheader.MagicSize)
}
