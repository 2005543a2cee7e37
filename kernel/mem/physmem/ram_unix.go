//go:build unix

package physmem

import "golang.org/x/sys/unix"

// mapArena reserves an anonymous private mapping. Pages are only committed
// by the host when first touched, so large machines are cheap to model.
func mapArena(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
}

func unmapArena(data []byte) error {
	return unix.Munmap(data)
}
