package diskio

import "unsafe"

func uintptrOf(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}

func unsafePointerOf(v *uint64) unsafe.Pointer {
	return unsafe.Pointer(v)
}
