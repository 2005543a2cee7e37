package mem

// Memset sets every byte of target to the supplied value. Instead of a byte
// loop it uses log2(len(target)) copy calls, which is considerably faster for
// the page-sized buffers it is normally called with.
func Memset(target []byte, value byte) {
	if len(target) == 0 {
		return
	}

	// Set first element and make log2(size) optimized copies
	target[0] = value
	for index := 1; index < len(target); index *= 2 {
		copy(target[index:], target[:index])
	}
}

// Memcopy copies min(len(src), len(dst)) bytes from src to dst and returns
// the number of bytes copied.
func Memcopy(dst, src []byte) Size {
	return Size(copy(dst, src))
}
