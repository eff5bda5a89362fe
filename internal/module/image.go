package module

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Binject/debug/pe"

	"github.com/k2io/gamehook/internal/mem"
)

// ErrUnknownFormat means the file is neither PE32+ nor ELF
var ErrUnknownFormat = errors.New("unrecognized object file")

// Image is an executable mapped at its preferred base in a private buffer,
// so the scanners can run over it without a live process.
type Image struct {
	Mem       *mem.Buffer
	Region    Region
	Functions []RuntimeFunction
}

var loaders = []func(path string, data []byte) (*Image, error){
	loadPE,
	loadELF,
}

// LoadImage maps the executable at path.
func LoadImage(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	for _, try := range loaders {
		if img, err := try(path, data); err == nil {
			return img, nil
		}
	}
	return nil, fmt.Errorf("open %s: %w", filepath.Base(path), ErrUnknownFormat)
}

func loadPE(path string, data []byte) (*Image, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	opt, ok := f.OptionalHeader.(*pe.OptionalHeader64)
	if !ok {
		return nil, ErrNotPE
	}
	base := uintptr(opt.ImageBase)
	buf := mem.NewBuffer(base, int(opt.SizeOfImage))
	hdr := int(opt.SizeOfHeaders)
	if hdr > len(data) {
		hdr = len(data)
	}
	copy(buf.Data, data[:hdr])
	for _, s := range f.Sections {
		if s.Size == 0 {
			continue
		}
		d, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", s.Name, err)
		}
		if int(s.VirtualAddress) >= len(buf.Data) {
			continue
		}
		copy(buf.Data[s.VirtualAddress:], d)
	}
	img := &Image{
		Mem:    buf,
		Region: Region{Base: base, Size: uintptr(opt.SizeOfImage), Path: path},
	}
	img.Functions, err = FunctionTable(buf, base)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func loadELF(path string, data []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var lo, hi uint64
	first := true
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if first || p.Vaddr < lo {
			lo = p.Vaddr
		}
		if first || p.Vaddr+p.Memsz > hi {
			hi = p.Vaddr + p.Memsz
		}
		first = false
	}
	if first {
		return nil, ErrUnknownFormat
	}
	buf := mem.NewBuffer(uintptr(lo), int(hi-lo))
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		if _, err := p.ReadAt(buf.Data[p.Vaddr-lo:p.Vaddr-lo+p.Filesz], 0); err != nil {
			return nil, err
		}
	}
	return &Image{
		Mem:    buf,
		Region: Region{Base: uintptr(lo), Size: uintptr(hi - lo), Path: path},
	}, nil
}
