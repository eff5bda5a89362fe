package module

import (
	"bytes"
	"debug/elf"
	"os"

	"github.com/Binject/debug/pe"
)

type rawFile interface {
	Symbols() (map[string]uintptr, error)
}

type elfFile struct {
	elf *elf.File
}

func (e *elfFile) Symbols() (map[string]uintptr, error) {
	syms, err := e.elf.Symbols()
	if err != nil {
		return nil, err
	}
	out := make(map[string]uintptr, len(syms))
	for _, s := range syms {
		out[s.Name] = uintptr(s.Value)
	}
	return out, nil
}

type peFile struct {
	pe *pe.File
}

// Symbols returns COFF symbols as RVAs into their section. Shipping game
// builds are stripped, so this is usually empty.
func (f *peFile) Symbols() (map[string]uintptr, error) {
	out := make(map[string]uintptr)
	for _, s := range f.pe.Symbols {
		if s.SectionNumber <= 0 || int(s.SectionNumber) > len(f.pe.Sections) {
			continue
		}
		sec := f.pe.Sections[s.SectionNumber-1]
		out[s.Name] = uintptr(sec.VirtualAddress) + uintptr(s.Value)
	}
	return out, nil
}

// ReadSymbols returns the symbol table of the object file at name.
func ReadSymbols(name string) (map[string]uintptr, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	var raw rawFile
	if f, err := pe.NewFile(bytes.NewReader(data)); err == nil {
		raw = &peFile{f}
	} else if f, err := elf.NewFile(bytes.NewReader(data)); err == nil {
		raw = &elfFile{f}
	} else {
		return nil, ErrUnknownFormat
	}
	return raw.Symbols()
}
