// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package testutils

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

// GetFileCompressionType identifies the compression of a file from its magic number.
func GetFileCompressionType(filePath string) (string, error) {
	firstBytes, err := readHead(filePath, 6)
	if err != nil {
		return "", err
	}

	switch {
	case len(firstBytes) >= 2 && bytes.Equal(firstBytes[:2], []byte{0x1f, 0x8b}):
		return "gzip", nil

	case len(firstBytes) >= 6 && bytes.Equal(firstBytes[:6], []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		return "xz", nil

	case isZstFile(firstBytes):
		return "zstd", nil

	default:
		return "none", nil
	}
}

// GetArchiveFileType tells a gzip compressed newc cpio archive from a gzip compressed tar archive.
func GetArchiveFileType(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		return "", fmt.Errorf("not a gzip file (%s):\n%w", filePath, err)
	}
	defer gzipReader.Close()

	header := make([]byte, 512)
	count, err := io.ReadFull(gzipReader, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", err
	}
	header = header[:count]

	switch {
	case len(header) >= 6 && bytes.Equal(header[:6], []byte("070701")):
		return "cpio-gzip", nil

	case len(header) >= 262 && bytes.Equal(header[257:262], []byte("ustar")):
		return "tar-gzip", nil

	default:
		return "", fmt.Errorf("unknown archive type: %s", filePath)
	}
}

func readHead(filePath string, size int) ([]byte, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	head := make([]byte, size)
	count, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return head[:count], nil
}

func isZstFile(firstBytes []byte) bool {
	if len(firstBytes) < 4 {
		return false
	}

	magicNumber := binary.LittleEndian.Uint32(firstBytes[:4])

	// 0xFD2FB528 is a zst frame.
	// 0x184D2A50-0x184D2A5F are skippable ztd frames.
	return magicNumber == 0xFD2FB528 || (magicNumber >= 0x184D2A50 && magicNumber <= 0x184D2A5F)
}

func WriteFile(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func ReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

// ElfSpec describes a minimal little-endian x86_64 ELF file.
type ElfSpec struct {
	// Interpreter becomes a PT_INTERP program header.
	Interpreter string
	// Needed become DT_NEEDED entries of a .dynamic section.
	Needed []string
	// Modinfo is the raw content of a .modinfo section, as in kernel modules.
	Modinfo string
}

func WriteElfFile(t *testing.T, path string, spec ElfSpec) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, BuildElf(t, spec), 0o755))
}

// BuildElf lays out the ELF header, the optional program header, the section contents and
// finally the section header table.
func BuildElf(t *testing.T, spec ElfSpec) []byte {
	t.Helper()

	const (
		headerSize  = 64
		progSize    = 56
		sectionSize = 64
	)

	base := uint64(headerSize)
	if spec.Interpreter != "" {
		base += progSize
	}

	content := bytes.Buffer{}
	place := func(data []byte) (uint64, uint64) {
		offset := base + uint64(content.Len())
		content.Write(data)
		return offset, uint64(len(data))
	}

	shstrtab := []byte{0}
	addName := func(name string) uint32 {
		offset := uint32(len(shstrtab))
		shstrtab = append(shstrtab, name...)
		shstrtab = append(shstrtab, 0)
		return offset
	}

	sections := []elf.Section64{{}}

	var prog *elf.Prog64
	if spec.Interpreter != "" {
		offset, size := place(append([]byte(spec.Interpreter), 0))
		prog = &elf.Prog64{
			Type:   uint32(elf.PT_INTERP),
			Flags:  uint32(elf.PF_R),
			Off:    offset,
			Filesz: size,
			Memsz:  size,
			Align:  1,
		}
	}

	if len(spec.Needed) > 0 {
		dynstr := []byte{0}
		dynamic := bytes.Buffer{}
		for _, library := range spec.Needed {
			entry := elf.Dyn64{Tag: int64(elf.DT_NEEDED), Val: uint64(len(dynstr))}
			require.NoError(t, binary.Write(&dynamic, binary.LittleEndian, entry))
			dynstr = append(dynstr, library...)
			dynstr = append(dynstr, 0)
		}
		require.NoError(t, binary.Write(&dynamic, binary.LittleEndian, elf.Dyn64{Tag: int64(elf.DT_NULL)}))

		offset, size := place(dynstr)
		sections = append(sections, elf.Section64{
			Name: addName(".dynstr"), Type: uint32(elf.SHT_STRTAB), Off: offset, Size: size, Addralign: 1,
		})
		dynstrIndex := uint32(len(sections) - 1)

		offset, size = place(dynamic.Bytes())
		sections = append(sections, elf.Section64{
			Name: addName(".dynamic"), Type: uint32(elf.SHT_DYNAMIC), Off: offset, Size: size, Link: dynstrIndex,
			Addralign: 1, Entsize: 16,
		})
	}

	if spec.Modinfo != "" {
		offset, size := place([]byte(spec.Modinfo))
		sections = append(sections, elf.Section64{
			Name: addName(".modinfo"), Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC), Off: offset, Size: size,
			Addralign: 1,
		})
	}

	shstrtabName := addName(".shstrtab")
	offset, size := place(shstrtab)
	sections = append(sections, elf.Section64{
		Name: shstrtabName, Type: uint32(elf.SHT_STRTAB), Off: offset, Size: size, Addralign: 1,
	})

	for (base+uint64(content.Len()))%8 != 0 {
		content.WriteByte(0)
	}

	header := elf.Header64{
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     base + uint64(content.Len()),
		Ehsize:    headerSize,
		Shentsize: sectionSize,
		Shnum:     uint16(len(sections)),
		Shstrndx:  uint16(len(sections) - 1),
	}
	copy(header.Ident[:], []byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)})
	if prog != nil {
		header.Phoff = headerSize
		header.Phentsize = progSize
		header.Phnum = 1
	}

	out := bytes.Buffer{}
	require.NoError(t, binary.Write(&out, binary.LittleEndian, header))
	if prog != nil {
		require.NoError(t, binary.Write(&out, binary.LittleEndian, prog))
	}
	out.Write(content.Bytes())
	for _, section := range sections {
		require.NoError(t, binary.Write(&out, binary.LittleEndian, section))
	}
	return out.Bytes()
}
