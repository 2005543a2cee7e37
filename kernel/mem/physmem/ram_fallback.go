//go:build !unix

package physmem

// mapArena falls back to a heap allocation when anonymous mappings are not
// available.
func mapArena(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapArena(_ []byte) error {
	return nil
}
