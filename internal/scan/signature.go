package scan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/k2io/gamehook/internal/mem"
)

// Wildcard marks a signature byte that matches anything.
const Wildcard = -1

// Signature is a byte pattern; Wildcard entries match any byte.
type Signature []int16

// ParseSignature parses "48 8B ?? CE". "?" and "??" are wildcards.
func ParseSignature(s string) (Signature, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty signature")
	}
	sig := make(Signature, 0, len(fields))
	for _, f := range fields {
		if f == "?" || f == "??" {
			sig = append(sig, Wildcard)
			continue
		}
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("signature %q: bad byte %q", s, f)
		}
		sig = append(sig, int16(v))
	}
	return sig, nil
}

// MustSignature is ParseSignature for literals known to be valid.
func MustSignature(s string) Signature {
	sig, err := ParseSignature(s)
	if err != nil {
		panic(err)
	}
	return sig
}

func (s Signature) String() string {
	var b strings.Builder
	for i, v := range s {
		if i > 0 {
			b.WriteByte(' ')
		}
		if v == Wildcard {
			b.WriteString("??")
		} else {
			fmt.Fprintf(&b, "%02X", v)
		}
	}
	return b.String()
}

func (s Signature) matches(p []byte) bool {
	if len(p) < len(s) {
		return false
	}
	for i, v := range s {
		if v != Wildcard && byte(v) != p[i] {
			return false
		}
	}
	return true
}

// Match confirms sig at addr.
func Match(r mem.Reader, addr uintptr, sig Signature) bool {
	p, err := r.Read(addr, len(sig))
	if err != nil {
		return false
	}
	return sig.matches(p)
}
