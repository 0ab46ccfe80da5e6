package testutil

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"os"
	"testing"
)

// PE layout used by PEImage: headers in the first 0x200 bytes, one .rdata
// section mapped at RVA 0x1000 backed by file offset 0x200.
const (
	peSectionRVA    = 0x1000
	peSectionOffset = 0x200
	peSectionSize   = 0x200
	peDebugEntrySz  = 28
	peDebugCodeView = 2
)

// PEImage describes a minimal PE file with an optional debug directory.
type PEImage struct {
	// PE32 selects a 32-bit optional header instead of PE32+.
	PE32 bool
	// NoDebugDirectory leaves the debug data directory empty.
	NoDebugDirectory bool
	// ExtraEntryTypes are debug entries written before the code-view entry.
	ExtraEntryTypes []uint32
	// CodeViewPath is the symbol file path in the code-view record.
	// Empty means no code-view entry.
	CodeViewPath string
	// CodeViewSignature overrides the "RSDS" record signature.
	CodeViewSignature string
	// CodeViewOffsetOverride, when non-zero, replaces the record's file pointer.
	CodeViewOffsetOverride uint32
	// DirectorySizeOverride, when non-zero, replaces the declared directory size.
	DirectorySizeOverride uint32
}

// WritePE writes img to path.
func WritePE(t *testing.T, path string, img PEImage) {
	t.Helper()
	if err := os.WriteFile(path, img.Bytes(), 0o644); err != nil {
		t.Fatalf("write PE image %s: %v", path, err)
	}
}

// Bytes encodes the image.
func (img PEImage) Bytes() []byte {
	section := img.sectionData()

	var dd pe.DataDirectory
	if !img.NoDebugDirectory {
		n := len(img.ExtraEntryTypes)
		if img.CodeViewPath != "" {
			n++
		}
		dd = pe.DataDirectory{VirtualAddress: peSectionRVA, Size: uint32(n * peDebugEntrySz)}
		if img.DirectorySizeOverride != 0 {
			dd.Size = img.DirectorySizeOverride
		}
	}

	var buf bytes.Buffer

	// DOS header: "MZ" and e_lfanew pointing right after it.
	dos := make([]byte, 0x40)
	dos[0], dos[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(dos[0x3c:], 0x40)
	buf.Write(dos)
	buf.WriteString("PE\x00\x00")

	fh := pe.FileHeader{
		NumberOfSections: 1,
		Characteristics:  pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_DLL,
	}
	var oh any
	if img.PE32 {
		fh.Machine = pe.IMAGE_FILE_MACHINE_I386
		oh32 := pe.OptionalHeader32{
			Magic:               0x10b,
			SectionAlignment:    0x1000,
			FileAlignment:       0x200,
			SizeOfImage:         0x2000,
			SizeOfHeaders:       peSectionOffset,
			NumberOfRvaAndSizes: 16,
		}
		oh32.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_DEBUG] = dd
		oh = &oh32
	} else {
		fh.Machine = pe.IMAGE_FILE_MACHINE_AMD64
		oh64 := pe.OptionalHeader64{
			Magic:               0x20b,
			SectionAlignment:    0x1000,
			FileAlignment:       0x200,
			SizeOfImage:         0x2000,
			SizeOfHeaders:       peSectionOffset,
			NumberOfRvaAndSizes: 16,
		}
		oh64.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_DEBUG] = dd
		oh = &oh64
	}
	fh.SizeOfOptionalHeader = uint16(binary.Size(oh))

	sh := pe.SectionHeader32{
		VirtualSize:      peSectionSize,
		VirtualAddress:   peSectionRVA,
		SizeOfRawData:    peSectionSize,
		PointerToRawData: peSectionOffset,
		Characteristics:  pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ,
	}
	copy(sh.Name[:], ".rdata")

	mustWrite(&buf, fh)
	mustWrite(&buf, oh)
	mustWrite(&buf, sh)

	buf.Write(make([]byte, peSectionOffset-buf.Len()))
	buf.Write(section)
	buf.Write(make([]byte, peSectionOffset+peSectionSize-buf.Len()))

	return buf.Bytes()
}

// sectionData lays out the debug directory followed by the code-view record.
func (img PEImage) sectionData() []byte {
	if img.NoDebugDirectory {
		return nil
	}

	n := len(img.ExtraEntryTypes)
	if img.CodeViewPath != "" {
		n++
	}
	recordOff := uint32(n * peDebugEntrySz)

	var entries, record bytes.Buffer
	for _, typ := range img.ExtraEntryTypes {
		mustWrite(&entries, debugEntry(typ, 0, 0))
	}

	if img.CodeViewPath != "" {
		sig := img.CodeViewSignature
		if sig == "" {
			sig = "RSDS"
		}
		record.WriteString(sig)
		record.Write([]byte{
			0x78, 0x56, 0x34, 0x12, 0x34, 0x12, 0x78, 0x56,
			0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78,
		})
		mustWrite(&record, uint32(1)) // age
		record.WriteString(img.CodeViewPath)
		record.WriteByte(0)

		e := debugEntry(peDebugCodeView, uint32(record.Len()), recordOff)
		if img.CodeViewOffsetOverride != 0 {
			e.PointerToRawData = img.CodeViewOffsetOverride
			e.AddressOfRawData = 0
		}
		mustWrite(&entries, e)
	}

	return append(entries.Bytes(), record.Bytes()...)
}

type peDebugEntry struct {
	Characteristics  uint32
	TimeDateStamp    uint32
	MajorVersion     uint16
	MinorVersion     uint16
	Type             uint32
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32
}

func debugEntry(typ, size, sectionOff uint32) peDebugEntry {
	e := peDebugEntry{Type: typ, SizeOfData: size}
	if size > 0 {
		e.AddressOfRawData = peSectionRVA + sectionOff
		e.PointerToRawData = peSectionOffset + sectionOff
	}
	return e
}

func mustWrite(buf *bytes.Buffer, v any) {
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		panic(err)
	}
}
