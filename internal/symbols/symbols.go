// Package symbols inspects a PE image's debug directory to find the external
// symbol (PDB) file it was built with.
//
// The debug directory is located through the optional header's data
// directory table and decoded entry by entry. Code-view entries carry an RSDS
// record naming the symbol file used at build time. All reads are bounds
// checked against the image; malformed tables surface as *DecodeError.
package symbols

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotExecutable is returned when the file is not a PE image at all.
var ErrNotExecutable = errors.New("not a PE executable image")

// ErrMalformed is wrapped by every DecodeError.
var ErrMalformed = errors.New("malformed debug data")

// DecodeError reports a debug directory or code-view record that could not be
// decoded within the bounds of the image.
type DecodeError struct {
	Path   string
	Offset int64
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: malformed debug data at offset %#x: %s", e.Path, e.Offset, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return ErrMalformed
}

// DebugType is the type tag of a debug directory entry.
type DebugType uint32

// Debug directory entry types from the PE format specification.
const (
	DebugTypeUnknown             DebugType = 0
	DebugTypeCOFF                DebugType = 1
	DebugTypeCodeView            DebugType = 2
	DebugTypeFPO                 DebugType = 3
	DebugTypeMisc                DebugType = 4
	DebugTypeException           DebugType = 5
	DebugTypeFixup               DebugType = 6
	DebugTypeBorland             DebugType = 9
	DebugTypeCLSID               DebugType = 11
	DebugTypeVCFeature           DebugType = 12
	DebugTypePOGO                DebugType = 13
	DebugTypeILTCG               DebugType = 14
	DebugTypeMPX                 DebugType = 15
	DebugTypeRepro               DebugType = 16
	DebugTypeEmbeddedPortablePdb DebugType = 17
	DebugTypePdbChecksum         DebugType = 19
)

var debugTypeNames = map[DebugType]string{
	DebugTypeUnknown:             "unknown",
	DebugTypeCOFF:                "coff",
	DebugTypeCodeView:            "codeview",
	DebugTypeFPO:                 "fpo",
	DebugTypeMisc:                "misc",
	DebugTypeException:           "exception",
	DebugTypeFixup:               "fixup",
	DebugTypeBorland:             "borland",
	DebugTypeCLSID:               "clsid",
	DebugTypeVCFeature:           "vc_feature",
	DebugTypePOGO:                "pogo",
	DebugTypeILTCG:               "iltcg",
	DebugTypeMPX:                 "mpx",
	DebugTypeRepro:               "repro",
	DebugTypeEmbeddedPortablePdb: "embedded_portable_pdb",
	DebugTypePdbChecksum:         "pdb_checksum",
}

func (t DebugType) String() string {
	if name, ok := debugTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint32(t))
}

// DebugEntry is one decoded IMAGE_DEBUG_DIRECTORY record.
type DebugEntry struct {
	Type             DebugType
	TimeDateStamp    uint32
	MajorVersion     uint16
	MinorVersion     uint16
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32
}

// CodeView is a decoded RSDS code-view record.
type CodeView struct {
	GUID uuid.UUID
	Age  uint32
	// Path is the symbol file path recorded at build time.
	Path string
}

// Info is the debug information found in an image.
type Info struct {
	Entries []DebugEntry
	// CodeView is the record of the first code-view entry, nil if none.
	CodeView *CodeView
}

// rawDebugEntry mirrors IMAGE_DEBUG_DIRECTORY.
type rawDebugEntry struct {
	Characteristics  uint32
	TimeDateStamp    uint32
	MajorVersion     uint16
	MinorVersion     uint16
	Type             uint32
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32
}

const (
	debugEntrySize = 28
	rsdsHeaderSize = 24 // signature + GUID + age
	maxDebugData   = 1 << 20
)

var rsdsSignature = []byte("RSDS")

// Inspect opens path as a PE image and decodes its debug directory.
// An image without a debug directory yields an empty Info.
func Inspect(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	img := io.NewSectionReader(f, 0, st.Size())

	pf, err := pe.NewFile(img)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, ErrNotExecutable, err)
	}
	defer pf.Close()

	d := &decoder{path: path, img: img, file: pf}
	return d.decode()
}

// HasSymbols reports whether the symbol file named by modulePath's first
// code-view entry exists next to modulePath. Only the file name of the
// recorded path is used, since the build-time directory is not portable.
//
// A missing or malformed debug directory yields false. Only files that are
// not PE images at all, and I/O failures, are errors.
func HasSymbols(modulePath string) (bool, error) {
	info, err := Inspect(modulePath)
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	name := SymbolFileName(info)
	if name == "" {
		return false, nil
	}

	_, err = os.Stat(filepath.Join(filepath.Dir(modulePath), name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check symbols for %s: %w", modulePath, err)
	}
	return true, nil
}

// SymbolFileName returns the file name component of the code-view path,
// accepting both Windows and POSIX separators. Empty if there is no record.
func SymbolFileName(info *Info) string {
	if info == nil || info.CodeView == nil {
		return ""
	}
	p := info.CodeView.Path
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		p = p[i+1:]
	}
	return p
}

type decoder struct {
	path string
	img  *io.SectionReader
	file *pe.File
}

func (d *decoder) errorf(off int64, format string, args ...any) error {
	return &DecodeError{Path: d.path, Offset: off, Reason: fmt.Sprintf(format, args...)}
}

func (d *decoder) decode() (*Info, error) {
	info := &Info{}

	dir, ok := d.debugDirectory()
	if !ok {
		return info, nil
	}

	off, ok := d.rvaToOffset(dir.VirtualAddress)
	if !ok {
		return nil, d.errorf(int64(dir.VirtualAddress), "debug directory RVA %#x is not in any section", dir.VirtualAddress)
	}
	if dir.Size%debugEntrySize != 0 {
		return nil, d.errorf(off, "debug directory size %d is not a multiple of %d", dir.Size, debugEntrySize)
	}

	buf, err := d.read(off, dir.Size)
	if err != nil {
		return nil, err
	}

	raw := make([]rawDebugEntry, dir.Size/debugEntrySize)
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, raw); err != nil {
		return nil, d.errorf(off, "decode debug directory: %v", err)
	}

	for _, r := range raw {
		entry := DebugEntry{
			Type:             DebugType(r.Type),
			TimeDateStamp:    r.TimeDateStamp,
			MajorVersion:     r.MajorVersion,
			MinorVersion:     r.MinorVersion,
			SizeOfData:       r.SizeOfData,
			AddressOfRawData: r.AddressOfRawData,
			PointerToRawData: r.PointerToRawData,
		}
		info.Entries = append(info.Entries, entry)

		if entry.Type == DebugTypeCodeView && info.CodeView == nil {
			cv, err := d.codeView(entry)
			if err != nil {
				return nil, err
			}
			info.CodeView = cv
		}
	}

	return info, nil
}

// debugDirectory returns the debug data directory, if the image declares one.
func (d *decoder) debugDirectory() (pe.DataDirectory, bool) {
	var (
		n    uint32
		dirs [16]pe.DataDirectory
	)
	switch oh := d.file.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		n, dirs = oh.NumberOfRvaAndSizes, oh.DataDirectory
	case *pe.OptionalHeader64:
		n, dirs = oh.NumberOfRvaAndSizes, oh.DataDirectory
	default:
		return pe.DataDirectory{}, false
	}

	if n <= pe.IMAGE_DIRECTORY_ENTRY_DEBUG {
		return pe.DataDirectory{}, false
	}
	dir := dirs[pe.IMAGE_DIRECTORY_ENTRY_DEBUG]
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return pe.DataDirectory{}, false
	}
	return dir, true
}

// rvaToOffset maps a relative virtual address to a file offset through the
// section table.
func (d *decoder) rvaToOffset(rva uint32) (int64, bool) {
	for _, s := range d.file.Sections {
		size := s.VirtualSize
		if s.Size > size {
			size = s.Size
		}
		if rva >= s.VirtualAddress && rva-s.VirtualAddress < size {
			delta := rva - s.VirtualAddress
			if delta >= s.Size {
				// Inside the virtual extent but not backed by file data.
				return 0, false
			}
			return int64(s.Offset) + int64(delta), true
		}
	}
	return 0, false
}

func (d *decoder) read(off int64, size uint32) ([]byte, error) {
	if size > maxDebugData {
		return nil, d.errorf(off, "debug data size %d exceeds limit", size)
	}
	if off < 0 || off+int64(size) > d.img.Size() {
		return nil, d.errorf(off, "%d bytes extend past end of image (%d bytes)", size, d.img.Size())
	}
	buf := make([]byte, size)
	if _, err := d.img.ReadAt(buf, off); err != nil {
		return nil, d.errorf(off, "read %d bytes: %v", size, err)
	}
	return buf, nil
}

func (d *decoder) codeView(e DebugEntry) (*CodeView, error) {
	off := int64(e.PointerToRawData)
	if off == 0 {
		mapped, ok := d.rvaToOffset(e.AddressOfRawData)
		if !ok {
			return nil, d.errorf(int64(e.AddressOfRawData), "code-view data RVA %#x is not in any section", e.AddressOfRawData)
		}
		off = mapped
	}
	if e.SizeOfData < rsdsHeaderSize+1 {
		return nil, d.errorf(off, "code-view record too small (%d bytes)", e.SizeOfData)
	}

	buf, err := d.read(off, e.SizeOfData)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(buf[:4], rsdsSignature) {
		return nil, d.errorf(off, "unsupported code-view signature %q", buf[:4])
	}

	name := buf[rsdsHeaderSize:]
	end := bytes.IndexByte(name, 0)
	if end < 0 {
		return nil, d.errorf(off+rsdsHeaderSize, "code-view path is not NUL-terminated")
	}

	var raw [16]byte
	copy(raw[:], buf[4:20])

	return &CodeView{
		GUID: guidFromLE(raw),
		Age:  binary.LittleEndian.Uint32(buf[20:24]),
		Path: string(name[:end]),
	}, nil
}

// guidFromLE converts a Windows GUID (first three fields little-endian) to
// its canonical byte order.
func guidFromLE(b [16]byte) uuid.UUID {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:])
	return u
}
