package cluster

import (
	"bytes"
	"math/rand"
	"strings"
	gosync "sync"
	"testing"

	"github.com/redox-os/redox-sub002/kernel"
	"github.com/redox-os/redox-sub002/kernel/cpu"
	"github.com/redox-os/redox-sub002/kernel/mem"
	"github.com/redox-os/redox-sub002/kernel/mem/physmem"
	"github.com/redox-os/redox-sub002/kernel/mem/pmm"
	"github.com/redox-os/redox-sub002/kernel/mem/vmm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRAMSize       = 3 * mem.Mb
	testPageTableSize = 64 * mem.Kb
)

func testConfig() Config {
	return Config{
		ClusterSize:  4 * mem.Kb,
		ClusterCount: 512,
		TableAddress: pmm.PhysAddr(testPageTableSize),
	}
}

type fixture struct {
	ram   *physmem.RAM
	space *vmm.AddressSpace
	alloc *Allocator
}

// newFixture boots a machine whose first testPageTableSize bytes hold page
// tables, followed by the cluster table and the data region. Without
// explicit regions, all installed memory is reported usable.
func newFixture(t *testing.T, cfg Config, regions ...Region) *fixture {
	t.Helper()

	ram, err := physmem.New(testRAMSize)
	require.Nil(t, err)
	t.Cleanup(func() { _ = ram.Close() })

	var boot pmm.BootMemAllocator
	boot.Init(0, testPageTableSize)

	space, err := vmm.NewAddressSpace(ram, boot.AllocFrame)
	require.Nil(t, err)

	alloc, err := New(cfg, ram, space)
	require.Nil(t, err)

	if regions == nil {
		regions = []Region{{Base: 0, Length: testRAMSize, Usable: true}}
	}
	require.Nil(t, alloc.Init(regions))

	return &fixture{ram: ram, space: space, alloc: alloc}
}

func (f *fixture) bytes(t *testing.T, addr pmm.PhysAddr, size mem.Size) []byte {
	t.Helper()
	b, err := f.ram.Bytes(addr, size)
	require.Nil(t, err)
	return b
}

func TestConfig(t *testing.T) {
	specs := []struct {
		name   string
		mutate func(*Config)
		expErr interface{}
	}{
		{"valid", func(*Config) {}, nil},
		{"cluster size not a power of two", func(c *Config) { c.ClusterSize = 12 * mem.Kb }, errBadClusterSize},
		{"cluster size below page size", func(c *Config) { c.ClusterSize = 512 }, errBadClusterSize},
		{"zero cluster size", func(c *Config) { c.ClusterSize = 0 }, errBadClusterSize},
		{"zero cluster count", func(c *Config) { c.ClusterCount = 0 }, errBadClusterCount},
		{"misaligned table", func(c *Config) { c.TableAddress = 0x10004 }, errBadTableAddress},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			cfg := testConfig()
			spec.mutate(&cfg)
			if spec.expErr == nil {
				assert.Nil(t, cfg.Validate())
			} else {
				assert.Equal(t, spec.expErr, cfg.Validate())
			}
		})
	}

	cfg := testConfig()
	assert.Equal(t, mem.Size(4096), cfg.TableSize())
	assert.Equal(t, pmm.PhysAddr(0x11000), cfg.DataBase())
	assert.Equal(t, pmm.PhysAddr(0x211000), cfg.End())

	cfg.ClusterSize = 64 * mem.Kb
	assert.Equal(t, pmm.PhysAddr(0x20000), cfg.DataBase(), "data region is rounded up to a cluster boundary")
}

func TestConfigFitTo(t *testing.T) {
	cfg := testConfig()
	cfg.ClusterCount = 0

	fitted := cfg.FitTo(testRAMSize)
	require.NotZero(t, fitted.ClusterCount)
	assert.True(t, uint64(fitted.End()) <= uint64(testRAMSize))

	fitted.ClusterCount++
	assert.True(t, uint64(fitted.End()) > uint64(testRAMSize), "count must be maximal")

	assert.Equal(t, testConfig(), testConfig().FitTo(testRAMSize), "explicit counts are kept")
	assert.Zero(t, cfg.FitTo(32*mem.Kb).ClusterCount)
}

func TestNew(t *testing.T) {
	ram, err := physmem.New(mem.Mb)
	require.Nil(t, err)
	defer ram.Close()

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig()
		cfg.ClusterCount = 0
		_, err := New(cfg, ram, nil)
		assert.Equal(t, errBadClusterCount, err)
	})

	t.Run("table outside memory", func(t *testing.T) {
		cfg := testConfig()
		cfg.TableAddress = pmm.PhysAddr(mem.Mb - 8)
		_, err := New(cfg, ram, nil)
		assert.Equal(t, errTableOutOfRange, err)
	})

	t.Run("not initialized", func(t *testing.T) {
		a, err := New(testConfig(), ram, nil)
		require.Nil(t, err)

		_, err = a.Alloc(1)
		assert.Equal(t, errNotInitialized, err)
		assert.Zero(t, a.AllocSize(a.AddressOf(0)))
		assert.Equal(t, NotPresent, a.Entry(0))
		assert.Zero(t, a.MemoryFree())
		assert.Equal(t, uint64(512), a.Stats().NotPresent)
	})
}

func TestInitCoverage(t *testing.T) {
	cfg := testConfig()
	dataBase := cfg.DataBase()

	regions := []Region{
		// clusters 0..3, the last one only partially covered
		{Base: 0, Length: mem.Size(dataBase) + 3*mem.Kb*4 + 100, Usable: true},
		// reserved region covering clusters 10..19
		{Base: dataBase.Add(40 * mem.Kb), Length: 40 * mem.Kb, Usable: false},
		// usable region starting mid-cluster 20: clusters 21..29
		{Base: dataBase.Add(80*mem.Kb + 1), Length: 40*mem.Kb - 1, Usable: true},
		// usable memory past the end of installed RAM
		{Base: dataBase.Add(500 * 4 * mem.Kb), Length: 1 * mem.Gb, Usable: true},
	}
	f := newFixture(t, cfg, regions...)

	expFree := func(n uint64) bool {
		switch {
		case n < 3:
			return true
		case n >= 21 && n < 30:
			return true
		case n >= 500 && f.alloc.AddressOf(n+1) <= pmm.PhysAddr(testRAMSize):
			return true
		}
		return false
	}

	for n := uint64(0); n < cfg.ClusterCount; n++ {
		if expFree(n) {
			assert.Equal(t, Free, f.alloc.Entry(n), "cluster %d", n)
		} else {
			assert.Equal(t, NotPresent, f.alloc.Entry(n), "cluster %d", n)
		}
	}

	assert.Equal(t, NotPresent, f.alloc.Entry(cfg.ClusterCount), "out of range index")
	assert.Equal(t, errAlreadyInitialized, f.alloc.Init(regions))
}

func TestAddressClusterMapping(t *testing.T) {
	f := newFixture(t, testConfig())
	a := f.alloc

	for n := uint64(0); n < 512; n += 17 {
		addr := a.AddressOf(n)
		assert.Equal(t, n, a.ClusterOf(addr))
		assert.Equal(t, n, a.ClusterOf(addr.Add(4095)))
	}
	assert.Zero(t, a.ClusterOf(0x1000), "addresses below the data region map to cluster 0")
}

func TestAllocScenario(t *testing.T) {
	f := newFixture(t, testConfig())
	a := f.alloc

	a0, err := a.Alloc(100)
	require.Nil(t, err)
	assert.NotZero(t, a0)
	assert.Equal(t, mem.Size(4096), a.AllocSize(a0))

	a1, err := a.Alloc(mem.Mb + 1)
	require.Nil(t, err)
	assert.Equal(t, mem.Mb+4096, a.AllocSize(a1))

	a2, err := a.Alloc(2)
	require.Nil(t, err)
	assert.Equal(t, mem.Size(4096), a.AllocSize(a2))

	require.Nil(t, a.Unalloc(a1))

	var addrs []pmm.PhysAddr
	for i := 0; i < 3; i++ {
		addr, err := a.Alloc(1024)
		require.Nil(t, err)
		assert.Equal(t, mem.Size(4096), a.AllocSize(addr))
		addrs = append(addrs, addr)
	}

	live := append([]pmm.PhysAddr{a0, a2}, addrs...)
	seen := make(map[pmm.PhysAddr]bool)
	for _, addr := range live {
		assert.False(t, seen[addr], "address %s handed out twice", addr)
		seen[addr] = true
	}

	// first fit reuses the space released by a1
	assert.Equal(t, a1, addrs[0])
	assert.Nil(t, a.CheckInvariants())
}

func TestAllocZeroSize(t *testing.T) {
	f := newFixture(t, testConfig())

	addr, err := f.alloc.Alloc(0)
	assert.Nil(t, err)
	assert.Zero(t, addr)
	assert.Zero(t, f.alloc.MemoryUsed())
}

func TestAllocExclusivityAndContiguity(t *testing.T) {
	f := newFixture(t, testConfig())
	a := f.alloc
	rng := rand.New(rand.NewSource(42))

	live := make(map[pmm.PhysAddr]mem.Size)
	for i := 0; i < 300; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			for addr := range live {
				require.Nil(t, a.Unalloc(addr))
				delete(live, addr)
				break
			}
			continue
		}

		size := mem.Size(1 + rng.Intn(20000))
		addr, err := a.Alloc(size)
		if err == ErrOutOfMemory {
			continue
		}
		require.Nil(t, err)

		got := a.AllocSize(addr)
		assert.Equal(t, size.AlignUp(4096), got, "smallest multiple of the cluster size")

		// Every cluster of the run stores the base address
		first := a.ClusterOf(addr)
		for n := first; n < first+uint64(got/4096); n++ {
			require.Equal(t, uint64(addr), a.Entry(n))
		}

		for other, otherSize := range live {
			overlap := addr < other.Add(otherSize) && other < addr.Add(got)
			require.False(t, overlap, "%s overlaps %s", addr, other)
		}
		live[addr] = got
	}

	require.Nil(t, a.CheckInvariants())

	var used mem.Size
	for _, size := range live {
		used += size
	}
	assert.Equal(t, used, a.MemoryUsed())
	assert.Equal(t, 512*4*mem.Kb-used, a.MemoryFree())
}

func TestAllocAligned(t *testing.T) {
	f := newFixture(t, testConfig())
	a := f.alloc

	for _, align := range []mem.Size{1, 2, 4096, 8192, 64 * mem.Kb, 256 * mem.Kb} {
		addr, err := a.AllocAligned(100, align)
		require.Nil(t, err)
		assert.True(t, addr.IsAligned(align), "%s not aligned to %d", addr, align)
	}

	for _, align := range []mem.Size{0, 3, 4097} {
		_, err := a.AllocAligned(100, align)
		assert.Equal(t, ErrBadAlignment, err)
	}

	_, err := a.AllocAligned(100, 4*mem.Mb)
	assert.Equal(t, ErrOutOfMemory, err, "no cluster address satisfies the alignment")
	assert.Nil(t, a.CheckInvariants())
}

func TestAllocZeroFill(t *testing.T) {
	cfg := testConfig()
	cfg.ClusterSize = 16 * mem.Kb
	f := newFixture(t, cfg)
	a := f.alloc

	dirty := f.bytes(t, a.AddressOf(0), 4*cfg.ClusterSize)
	for i := range dirty {
		dirty[i] = 0xAA
	}

	flushes := f.space.FlushCount()
	addr, err := a.Alloc(3 * cfg.ClusterSize)
	require.Nil(t, err)
	assert.Equal(t, a.AddressOf(0), addr)

	assert.Equal(t, make([]byte, 3*cfg.ClusterSize), f.bytes(t, addr, 3*cfg.ClusterSize))
	assert.Equal(t, byte(0xAA), f.bytes(t, a.AddressOf(3), 1)[0], "clusters outside the run are untouched")

	// one map and one restore per page
	pages := uint64(3 * cfg.ClusterSize / mem.PageSize)
	assert.Equal(t, flushes+2*pages, f.space.FlushCount())

	// the scratch page is back to its original (unmapped) state
	_, err = f.space.Translate(vmm.ScratchWrite.Page().Address())
	assert.Equal(t, vmm.ErrInvalidMapping, err)
}

func TestAllocExhaustion(t *testing.T) {
	f := newFixture(t, testConfig())
	a := f.alloc

	var addrs []pmm.PhysAddr
	for {
		addr, err := a.Alloc(1)
		if err != nil {
			assert.Equal(t, ErrOutOfMemory, err)
			assert.Zero(t, addr)
			break
		}
		addrs = append(addrs, addr)
	}

	assert.Len(t, addrs, 512)
	assert.Zero(t, a.MemoryFree())
	assert.Equal(t, 512*4*mem.Kb, a.MemoryUsed())

	_, err := a.Alloc(1)
	assert.Equal(t, ErrOutOfMemory, err)
	require.Nil(t, a.CheckInvariants())

	require.Nil(t, a.Unalloc(addrs[100]))
	addr, err := a.Alloc(1)
	require.Nil(t, err)
	assert.Equal(t, addrs[100], addr)
}

func TestUnalloc(t *testing.T) {
	f := newFixture(t, testConfig())
	a := f.alloc

	assert.Nil(t, a.Unalloc(0), "freeing the null address is a no-op")

	addr, err := a.Alloc(3 * 4096)
	require.Nil(t, err)
	next, err := a.Alloc(4096)
	require.Nil(t, err)

	assert.Equal(t, ErrInvalidAddress, a.Unalloc(addr.Add(4096)), "interior address")
	assert.Equal(t, ErrInvalidAddress, a.Unalloc(0x1234), "unknown address")

	require.Nil(t, a.Unalloc(addr))
	for n := a.ClusterOf(addr); n < a.ClusterOf(addr)+3; n++ {
		assert.Equal(t, Free, a.Entry(n))
	}
	assert.Equal(t, uint64(next), a.Entry(a.ClusterOf(next)), "neighbouring run untouched")
	assert.Zero(t, a.AllocSize(addr))

	assert.Equal(t, ErrInvalidAddress, a.Unalloc(addr), "double free")
	assert.Nil(t, a.CheckInvariants())
}

func TestUnallocType(t *testing.T) {
	f := newFixture(t, testConfig())
	a := f.alloc

	addr, err := a.Alloc(8)
	require.Nil(t, err)

	words, err := f.ram.Words(addr, 1)
	require.Nil(t, err)

	require.Nil(t, UnallocType(a, &words[0]))
	assert.Zero(t, a.AllocSize(addr))

	var onHeap uint64
	assert.Equal(t, ErrInvalidAddress, UnallocType(a, &onHeap))
	assert.Nil(t, UnallocType[uint64](a, nil))
}

func TestRealloc(t *testing.T) {
	t.Run("shrink keeps the run", func(t *testing.T) {
		f := newFixture(t, testConfig())
		a := f.alloc

		addr, err := a.Alloc(3 * 4096)
		require.Nil(t, err)

		got, err := a.Realloc(addr, 10)
		require.Nil(t, err)
		assert.Equal(t, addr, got)
		assert.Equal(t, mem.Size(3*4096), a.AllocSize(addr), "runs are never split")
	})

	t.Run("grow preserves the prefix", func(t *testing.T) {
		cfg := testConfig()
		cfg.ClusterSize = 8 * mem.Kb
		f := newFixture(t, cfg)
		a := f.alloc

		addr, err := a.Alloc(cfg.ClusterSize)
		require.Nil(t, err)
		_, err = a.Alloc(1) // blocks growing in place
		require.Nil(t, err)

		pattern := bytes.Repeat([]byte("0123456789abcdef"), int(cfg.ClusterSize/16))
		copy(f.bytes(t, addr, cfg.ClusterSize), pattern)

		grown, err := a.Realloc(addr, 3*cfg.ClusterSize)
		require.Nil(t, err)
		assert.NotEqual(t, addr, grown)
		assert.Equal(t, 3*cfg.ClusterSize, a.AllocSize(grown))

		assert.Equal(t, pattern, f.bytes(t, grown, cfg.ClusterSize))
		assert.Equal(t, make([]byte, 2*cfg.ClusterSize), f.bytes(t, grown.Add(cfg.ClusterSize), 2*cfg.ClusterSize))

		assert.Zero(t, a.AllocSize(addr), "old run is released")
		assert.Equal(t, Free, a.Entry(a.ClusterOf(addr)))
		assert.Nil(t, a.CheckInvariants())

		// Both scratch pages are unmapped again
		for _, slot := range []vmm.ScratchSlot{vmm.ScratchRead, vmm.ScratchWrite} {
			_, err = f.space.Translate(slot.Page().Address())
			assert.Equal(t, vmm.ErrInvalidMapping, err)
		}
	})

	t.Run("scratch restore failure during copy is reported", func(t *testing.T) {
		defer func(orig func(*vmm.TempMapping) *kernel.Error) {
			releaseTempFn = orig
		}(releaseTempFn)

		f := newFixture(t, testConfig())
		a := f.alloc

		addr, err := a.Alloc(4096)
		require.Nil(t, err)
		_, err = a.Alloc(1) // blocks growing in place
		require.Nil(t, err)
		used := a.MemoryUsed()

		expErr := &kernel.Error{Module: "test", Message: "restore failed"}
		releaseTempFn = func(tm *vmm.TempMapping) *kernel.Error {
			relErr := tm.Release()
			if tm.Page() == vmm.ScratchRead.Page() {
				return expErr
			}
			return relErr
		}

		got, err := a.Realloc(addr, 3*4096)
		assert.Equal(t, expErr, err)
		assert.Zero(t, got)
		assert.Equal(t, mem.Size(4096), a.AllocSize(addr), "original run stays valid")
		assert.Equal(t, used, a.MemoryUsed(), "new run is released")
		assert.Nil(t, a.CheckInvariants())
	})

	t.Run("zero size frees", func(t *testing.T) {
		f := newFixture(t, testConfig())
		a := f.alloc

		addr, err := a.Alloc(1)
		require.Nil(t, err)

		got, err := a.Realloc(addr, 0)
		assert.Nil(t, err)
		assert.Zero(t, got)
		assert.Zero(t, a.MemoryUsed())

		got, err = a.Realloc(0, 0)
		assert.Nil(t, err)
		assert.Zero(t, got)
	})

	t.Run("null pointer allocates", func(t *testing.T) {
		f := newFixture(t, testConfig())

		got, err := f.alloc.Realloc(0, 5000)
		require.Nil(t, err)
		assert.Equal(t, mem.Size(8192), f.alloc.AllocSize(got))
	})

	t.Run("failure leaves the original intact", func(t *testing.T) {
		f := newFixture(t, testConfig())
		a := f.alloc

		addr, err := a.Alloc(2 * 4096)
		require.Nil(t, err)
		copy(f.bytes(t, addr, 4), "data")

		_, err = a.Alloc(510 * 4096)
		require.Nil(t, err)
		require.Zero(t, a.MemoryFree())

		got, err := a.Realloc(addr, 3*4096)
		assert.Equal(t, ErrOutOfMemory, err)
		assert.Zero(t, got)
		assert.Equal(t, mem.Size(2*4096), a.AllocSize(addr))
		assert.Equal(t, []byte("data"), f.bytes(t, addr, 4))
	})

	t.Run("misaligned pointer moves", func(t *testing.T) {
		f := newFixture(t, testConfig())
		a := f.alloc

		addr, err := a.Alloc(4096)
		require.Nil(t, err)
		require.False(t, addr.IsAligned(64*mem.Kb))

		got, err := a.ReallocAligned(addr, 4096, 64*mem.Kb)
		require.Nil(t, err)
		assert.True(t, got.IsAligned(64*mem.Kb))
		assert.Zero(t, a.AllocSize(addr))

		_, err = a.ReallocAligned(got, 4096, 3)
		assert.Equal(t, ErrBadAlignment, err)
	})

	t.Run("unknown pointer", func(t *testing.T) {
		f := newFixture(t, testConfig())

		_, err := f.alloc.Realloc(f.alloc.AddressOf(7), 1)
		assert.Equal(t, ErrInvalidAddress, err)
	})
}

func TestReallocInplace(t *testing.T) {
	f := newFixture(t, testConfig())
	a := f.alloc

	addr, err := a.Alloc(2 * 4096)
	require.Nil(t, err)

	assert.Equal(t, mem.Size(100), a.ReallocInplace(addr, 100))
	assert.Equal(t, mem.Size(8192), a.ReallocInplace(addr, 8192))
	assert.Equal(t, mem.Size(8192), a.ReallocInplace(addr, 8193))
	assert.Equal(t, mem.Size(8192), a.AllocSize(addr), "never mutates")
	assert.Zero(t, a.ReallocInplace(0, 10))
}

func TestHandles(t *testing.T) {
	f := newFixture(t, testConfig())
	a := f.alloc

	addr, err := a.Alloc(1)
	require.Nil(t, err)

	h, ok := a.Lookup(addr)
	require.True(t, ok)
	assert.Equal(t, addr, h.Addr)

	require.Nil(t, a.FreeHandle(h))

	// The same base is handed out again
	reused, err := a.Alloc(1)
	require.Nil(t, err)
	require.Equal(t, addr, reused)

	assert.Equal(t, ErrStaleHandle, a.FreeHandle(h))
	assert.Equal(t, mem.Size(4096), a.AllocSize(reused), "stale handle must not free the new owner")

	_, ok = a.Lookup(0x1234)
	assert.False(t, ok)
	assert.Nil(t, a.FreeHandle(Handle{}))
}

func TestStatsAndAllocations(t *testing.T) {
	f := newFixture(t, testConfig(), Region{Base: 0, Length: mem.Size(testConfig().DataBase()) + 100*4096, Usable: true})
	a := f.alloc

	first, err := a.Alloc(4096)
	require.Nil(t, err)
	second, err := a.Alloc(3 * 4096)
	require.Nil(t, err)
	third, err := a.Alloc(4096)
	require.Nil(t, err)
	require.Nil(t, a.Unalloc(second))

	stats := a.Stats()
	assert.Equal(t, uint64(512), stats.Clusters)
	assert.Equal(t, uint64(2), stats.Used)
	assert.Equal(t, uint64(98), stats.Free)
	assert.Equal(t, uint64(412), stats.NotPresent)
	assert.Equal(t, 2, stats.Allocations)
	assert.Equal(t, uint64(95), stats.LargestFreeRun)
	assert.Equal(t, mem.Size(2*4096), stats.UsedBytes())
	assert.Equal(t, mem.Size(98*4096), stats.FreeBytes())

	list := a.Allocations()
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].Base)
	assert.Equal(t, third, list[1].Base)
	assert.Equal(t, mem.Size(4096), list[1].Size)
	assert.NotEqual(t, list[0].Generation, list[1].Generation)
}

func TestDumpTable(t *testing.T) {
	f := newFixture(t, testConfig(), Region{Base: 0, Length: mem.Size(testConfig().DataBase()) + 10*4096, Usable: true})
	a := f.alloc

	addr, err := a.Alloc(2 * 4096)
	require.Nil(t, err)

	var buf bytes.Buffer
	require.Nil(t, a.DumpTable(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "cluster table at 0x10000, data at 0x11000, 512 x 4096 bytes")
	assert.Equal(t, "  [     0,      2) 0x11000 - 0x13000 owned by "+addr.String(), lines[1])
	assert.Equal(t, "  [     2,     10) 0x13000 - 0x1b000 free", lines[2])
	assert.Equal(t, "  [    10,    512) 0x1b000 - 0x211000 not present", lines[3])
}

func TestCheckInvariantsDetectsCorruption(t *testing.T) {
	f := newFixture(t, testConfig())
	a := f.alloc

	addr, err := a.Alloc(2 * 4096)
	require.Nil(t, err)
	require.Nil(t, a.CheckInvariants())

	// Clear the second cluster behind the allocator's back
	a.table.entries[a.ClusterOf(addr)+1] = Free
	assert.Equal(t, errTableCorrupted, a.CheckInvariants())

	// Claim a cluster for an address that was never allocated
	a.table.entries[a.ClusterOf(addr)+1] = uint64(addr)
	a.table.entries[200] = uint64(a.AddressOf(200))
	assert.Equal(t, errTableCorrupted, a.CheckInvariants())
}

func TestOperationsMaskInterrupts(t *testing.T) {
	f := newFixture(t, testConfig())
	a := f.alloc

	before := cpu.MaskedSections()
	addr, err := a.Alloc(1)
	require.Nil(t, err)
	assert.True(t, cpu.MaskedSections() > before)
	assert.True(t, cpu.InterruptsEnabled(), "interrupts are restored")

	cpu.DisableInterrupts()
	defer cpu.EnableInterrupts()

	before = cpu.MaskedSections()
	assert.Equal(t, mem.Size(4096), a.AllocSize(addr))
	require.Nil(t, a.Unalloc(addr))
	assert.True(t, cpu.MaskedSections() > before)
	assert.False(t, cpu.InterruptsEnabled(), "interrupts stay masked when they were masked before")
}

func TestConcurrentAllocations(t *testing.T) {
	f := newFixture(t, testConfig())
	a := f.alloc

	var wg gosync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))

			for i := 0; i < 50; i++ {
				addr, err := a.Alloc(mem.Size(1 + rng.Intn(3*4096)))
				if err != nil {
					continue
				}
				if rng.Intn(2) == 0 {
					_ = a.Unalloc(addr)
				}
			}
		}(int64(worker))
	}
	wg.Wait()

	assert.Nil(t, a.CheckInvariants())
	stats := a.Stats()
	assert.Equal(t, stats.Clusters, stats.Used+stats.Free+stats.NotPresent)
}
