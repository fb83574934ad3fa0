package svc

import (
	"testing"

	"github.com/rcornwell/pspemu/emu/cpucore"
	"github.com/rcornwell/pspemu/emu/executor"
)

// TestX86MemMapSlotExhaustion exercises S4: eight x86_mem_map_ex calls must
// each land in their own slot at a distinct proxy-granted base, and the
// ninth, finding every slot occupied, must fail locally (R0 == 0) while
// still issuing the compensating proxy-side unmap for the window it had
// already been granted.
func TestX86MemMapSlotExhaustion(t *testing.T) {
	fp := newFakeProxy() // default generator: 64 MiB-spaced bases, one per slot.
	core, st := newTestState(t, cpucore.ModeSystem, fp)

	var granted []uint32
	for i := 0; i < 8; i++ {
		setRegs(t, core, 0, 0, 0, 0)
		st.Dispatch(0x25)
		r0, _ := core.Reg(executor.R0)
		if r0 == 0 {
			t.Fatalf("map #%d: expected a non-zero PSP base, got 0", i)
		}
		granted = append(granted, r0)
	}
	for i, a := range granted {
		for j, b := range granted {
			if i != j && a == b {
				t.Errorf("map #%d and #%d both got base %#x, want distinct bases", i, j, a)
			}
		}
	}

	if len(fp.unmapCalls) != 0 {
		t.Fatalf("no unmap should have been issued yet, got %d", len(fp.unmapCalls))
	}

	setRegs(t, core, 0, 0, 0, 0)
	st.Dispatch(0x25)
	r0, _ := core.Reg(executor.R0)
	if r0 != 0 {
		t.Errorf("9th map should fail with no free slot: R0 got %#x want 0", r0)
	}
	if len(fp.unmapCalls) != 1 {
		t.Fatalf("9th map's proxy-granted window must be released: got %d unmap calls want 1", len(fp.unmapCalls))
	}
}

// TestX86MemMapWriteBack exercises S5: map a window, write 16 bytes at an
// offset into it, unmap, and check exactly the dirtied prefix is flushed
// back through the proxy at the original physical address.
func TestX86MemMapWriteBack(t *testing.T) {
	const physBase = uint64(0x100000000)
	fp := newFakeProxy(0x40000000) // already 4K- and 64MiB-aligned.
	core, st := newTestState(t, cpucore.ModeSystem, fp)

	setRegs(t, core, uint32(physBase), uint32(physBase>>32), 0, 0)
	st.Dispatch(0x07)
	base, _ := core.Reg(executor.R0)
	if base != 0x40000000 {
		t.Fatalf("x86_mem_map: R0 got %#x want 0x40000000", base)
	}

	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(i + 1)
	}
	if err := core.MemWrite(base+0x40, data); err != nil {
		t.Fatalf("writing into the mapped window: %v", err)
	}

	setRegs(t, core, base, 0, 0, 0)
	st.Dispatch(0x08)
	r0, _ := core.Reg(executor.R0)
	if r0 != 0 {
		t.Fatalf("x86_mem_unmap: R0 got %#x want 0", r0)
	}

	if len(fp.writes) != 1 {
		t.Fatalf("expected exactly one write-back, got %d", len(fp.writes))
	}
	w := fp.writes[0]
	if w.addr != physBase {
		t.Errorf("write-back address: got %#x want %#x", w.addr, physBase)
	}
	if len(w.data) != 0x50 {
		t.Errorf("write-back length: got %#x want 0x50", len(w.data))
	}
	for i, b := range data {
		if got := w.data[0x40+i]; got != b {
			t.Errorf("write-back byte at offset %#x: got %#x want %#x", 0x40+i, got, b)
		}
	}
}

// TestX86MemMapIncrementalFetch exercises the lazy backing-buffer cache: a
// read must never pull more from the proxy than the bytes needed to extend
// the cached prefix up to that read, and a read entirely inside the
// already-cached prefix must not touch the proxy at all.
func TestX86MemMapIncrementalFetch(t *testing.T) {
	const physBase = uint64(0x100000000)
	fp := newFakeProxy(0x40000000) // already 4K- and 64MiB-aligned.
	core, st := newTestState(t, cpucore.ModeSystem, fp)

	setRegs(t, core, uint32(physBase), uint32(physBase>>32), 0, 0)
	st.Dispatch(0x07)
	base, _ := core.Reg(executor.R0)
	if base != 0x40000000 {
		t.Fatalf("x86_mem_map: R0 got %#x want 0x40000000", base)
	}

	slot, found := core.FindMapSlotByAddr(base)
	if !found {
		t.Fatalf("mapped slot not found at %#x", base)
	}
	m := core.MapSlot(slot)

	// A 4-byte read at offset 0x10 must fetch exactly the contiguous prefix
	// [0, 0x14) — nowhere near the full 64 MiB window.
	readX86Mapping(st, m, 0x10, 4)
	if len(fp.readCalls) != 1 {
		t.Fatalf("expected exactly one proxy fetch, got %d", len(fp.readCalls))
	}
	if rc := fp.readCalls[0]; rc.addr != physBase || rc.length != 0x14 {
		t.Errorf("fetch #1: got addr=%#x length=%#x want addr=%#x length=0x14", rc.addr, rc.length, physBase)
	}

	// Re-reading bytes already inside the cached prefix must not touch the
	// proxy again.
	readX86Mapping(st, m, 0x10, 4)
	if len(fp.readCalls) != 1 {
		t.Errorf("re-reading cached bytes issued a redundant proxy fetch")
	}

	// A read further out only fetches the gap since the last high-water
	// mark, not from the window start again.
	readX86Mapping(st, m, 0x100, 4)
	if len(fp.readCalls) != 2 {
		t.Fatalf("expected a second proxy fetch for the new offset, got %d", len(fp.readCalls))
	}
	if rc := fp.readCalls[1]; rc.addr != physBase+0x14 || rc.length != 0x104-0x14 {
		t.Errorf("fetch #2: got addr=%#x length=%#x want addr=%#x length=%#x",
			rc.addr, rc.length, physBase+0x14, 0x104-0x14)
	}

	// A read inside the span just fetched must not trigger a third call.
	readX86Mapping(st, m, 0x50, 4)
	if len(fp.readCalls) != 2 {
		t.Errorf("reading inside the newly-cached span issued a redundant proxy fetch")
	}
}
