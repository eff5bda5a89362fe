//go:build !windows

package module

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// Current builds the module table from /proc/self/maps, merging the
// mappings of each file into one region.
func Current() (*Table, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	byPath := map[string]*Region{}
	var order []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 6 || !strings.HasPrefix(fields[5], "/") {
			continue
		}
		span := strings.SplitN(fields[0], "-", 2)
		if len(span) != 2 {
			continue
		}
		lo, err1 := strconv.ParseUint(span[0], 16, 64)
		hi, err2 := strconv.ParseUint(span[1], 16, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		path := fields[5]
		r, ok := byPath[path]
		if !ok {
			byPath[path] = &Region{Base: uintptr(lo), Size: uintptr(hi - lo), Path: path}
			order = append(order, path)
			continue
		}
		if uintptr(lo) < r.Base {
			r.Size += r.Base - uintptr(lo)
			r.Base = uintptr(lo)
		}
		if uintptr(hi) > r.End() {
			r.Size = uintptr(hi) - r.Base
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	var main Region
	var others []Region
	for _, p := range order {
		if p == exe {
			main = *byPath[p]
			continue
		}
		others = append(others, *byPath[p])
	}
	return NewTable(main, others...), nil
}
