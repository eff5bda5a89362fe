package module

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// Current enumerates the modules of the running process. The first module
// reported by the loader is the executable.
func Current() (*Table, error) {
	proc := windows.CurrentProcess()
	handles := make([]windows.Handle, 1024)
	var needed uint32
	size := uint32(len(handles)) * uint32(unsafe.Sizeof(handles[0]))
	if err := windows.EnumProcessModules(proc, &handles[0], size, &needed); err != nil {
		return nil, err
	}
	n := int(needed / uint32(unsafe.Sizeof(handles[0])))
	if n > len(handles) {
		n = len(handles)
	}
	regions := make([]Region, 0, n)
	for _, h := range handles[:n] {
		var info windows.ModuleInfo
		if err := windows.GetModuleInformation(proc, h, &info, uint32(unsafe.Sizeof(info))); err != nil {
			continue
		}
		var name [windows.MAX_PATH]uint16
		path := ""
		if err := windows.GetModuleFileNameEx(proc, h, &name[0], uint32(len(name))); err == nil {
			path = windows.UTF16ToString(name[:])
		}
		regions = append(regions, Region{Base: info.BaseOfDll, Size: uintptr(info.SizeOfImage), Path: path})
	}
	if len(regions) == 0 {
		return nil, windows.ERROR_MOD_NOT_FOUND
	}
	return NewTable(regions[0], regions[1:]...), nil
}
