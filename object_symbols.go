package gamehook

import (
	"github.com/k2io/gamehook/internal/module"
)

// GetSymbols returns the symbol table of the object file at name. PE
// values are RVAs, ELF values are virtual addresses.
func GetSymbols(name string) (map[string]uintptr, error) {
	return module.ReadSymbols(name)
}
