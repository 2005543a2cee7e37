package cluster

import "github.com/redox-os/redox-sub002/kernel"

var (
	// ErrOutOfMemory is returned when no run of free clusters can satisfy
	// an allocation request.
	ErrOutOfMemory = &kernel.Error{Module: "cluster", Message: "out of memory"}

	// ErrInvalidAddress is returned when an address does not identify the
	// base of a live allocation. Freeing the same allocation twice reports
	// this error.
	ErrInvalidAddress = &kernel.Error{Module: "cluster", Message: "address is not the base of a live allocation"}

	// ErrBadAlignment is returned for alignments that are not a non-zero
	// power of two.
	ErrBadAlignment = &kernel.Error{Module: "cluster", Message: "alignment must be a non-zero power of two"}

	// ErrStaleHandle is returned when a handle outlived its allocation.
	ErrStaleHandle = &kernel.Error{Module: "cluster", Message: "handle refers to an allocation that no longer exists"}

	// ErrZeroLength is returned when a typed allocation would span zero bytes.
	ErrZeroLength = &kernel.Error{Module: "cluster", Message: "typed allocation must hold at least one byte"}

	// ErrIndexOutOfRange is raised through kfmt.Panic when a Memory index
	// is outside its bounds.
	ErrIndexOutOfRange = &kernel.Error{Module: "cluster", Message: "index out of range"}

	errAlreadyInitialized = &kernel.Error{Module: "cluster", Message: "cluster table already initialized"}
	errNotInitialized     = &kernel.Error{Module: "cluster", Message: "cluster table not initialized"}
	errBadClusterSize     = &kernel.Error{Module: "cluster", Message: "cluster size must be a power of two multiple of the page size"}
	errBadClusterCount    = &kernel.Error{Module: "cluster", Message: "cluster count must be positive"}
	errBadTableAddress    = &kernel.Error{Module: "cluster", Message: "cluster table address must be 8-byte aligned"}
	errTableOutOfRange    = &kernel.Error{Module: "cluster", Message: "cluster table does not fit in physical memory"}
	errTableCorrupted     = &kernel.Error{Module: "cluster", Message: "cluster table and allocation records disagree"}
)
