package cpucore

import (
	"testing"
	"time"

	"github.com/rcornwell/pspemu/emu/executor"
	"github.com/rcornwell/pspemu/emu/executor/executortest"
)

func newTestCore(t *testing.T) *CpuCore {
	t.Helper()
	fake := executortest.New()
	c, err := New(ModeSystem, fake)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = c.Destroy() })
	return c
}

func TestNewMapsSRAM(t *testing.T) {
	c := newTestCore(t)
	if err := c.MemWrite(0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("MemWrite into SRAM failed: %v", err)
	}
	buf := make([]byte, 4)
	if err := c.MemRead(0, buf); err != nil {
		t.Fatalf("MemRead from SRAM failed: %v", err)
	}
	want := []byte{1, 2, 3, 4}
	for i := range want {
		if buf[i] != want[i] {
			t.Errorf("byte %d: got %d want %d", i, buf[i], want[i])
		}
	}
}

func TestMemAddRegionOverlap(t *testing.T) {
	c := newTestCore(t)
	if err := c.MemAddRegion(0x50000, 0x2000); err != nil {
		t.Fatalf("first MemAddRegion failed: %v", err)
	}
	if err := c.MemAddRegion(0x51000, 0x1000); err == nil {
		t.Errorf("expected ErrOverlap for a region colliding with an existing one")
	}
	if err := c.MemAddRegion(0x60000, 0x1000); err != nil {
		t.Errorf("disjoint MemAddRegion should succeed, got: %v", err)
	}
}

func TestMapSlotExhaustion(t *testing.T) {
	c := newTestCore(t)
	for i := 0; i < maxX86Slots; i++ {
		slot, err := c.AllocMapSlot()
		if err != nil {
			t.Fatalf("AllocMapSlot %d: unexpected error: %v", i, err)
		}
		// AllocMapSlot only finds a free slot; the caller (here, and in
		// x86MemMap) is the one that marks it occupied.
		c.MapSlot(slot).PhysX86Base = uint64(i)
	}
	if _, err := c.AllocMapSlot(); err != ErrNoSlot {
		t.Errorf("9th AllocMapSlot: got %v want ErrNoSlot", err)
	}
}

func TestFreeMapSlotResetsToFree(t *testing.T) {
	c := newTestCore(t)
	slot, err := c.AllocMapSlot()
	if err != nil {
		t.Fatalf("AllocMapSlot: %v", err)
	}
	m := c.MapSlot(slot)
	m.PSPBase4K = 0x04000000
	m.MappedLen4K = 0x04000000

	c.FreeMapSlot(slot)
	if !c.MapSlot(slot).free() {
		t.Errorf("slot %d should be free after FreeMapSlot", slot)
	}
	if _, found := c.FindMapSlotByAddr(0x04000100); found {
		t.Errorf("FindMapSlotByAddr should not match a freed slot")
	}
}

func TestFindMapSlotByAddr(t *testing.T) {
	c := newTestCore(t)
	slot, _ := c.AllocMapSlot()
	m := c.MapSlot(slot)
	m.PhysX86Base = 0x100000000
	m.PSPBase4K = 0x04000000
	m.PSPBase = 0x04000000
	m.MappedLen4K = 0x04000000

	if got, found := c.FindMapSlotByAddr(0x04001234); !found || got != slot {
		t.Errorf("FindMapSlotByAddr in range: got (%d, %v) want (%d, true)", got, found, slot)
	}
	if _, found := c.FindMapSlotByAddr(0x08000000); found {
		t.Errorf("FindMapSlotByAddr at region end should not match (end is exclusive)")
	}
}

func TestExecRunDelegatesToExecutor(t *testing.T) {
	c := newTestCore(t)
	c.ExecSetStartAddr(0x1000)
	reason, err := c.ExecRun(0, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("ExecRun: %v", err)
	}
	if reason != executor.StopHalted {
		t.Errorf("ExecRun reason: got %v want StopHalted", reason)
	}
}

// TestExecRunStopsWithinOneInstructionOfMMIORead exercises S6: an MMIO
// device whose read callback calls exec_stop must cause exec_run to return
// after at most one more instruction is retired, even though the script
// that drives the fake core offers several more instructions to run.
func TestExecRunStopsWithinOneInstructionOfMMIORead(t *testing.T) {
	fake := executortest.New()
	c, err := New(ModeSystem, fake)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = c.Destroy() })

	const mmioBase = 0x03010000
	reads := 0
	read := func(offset uint64, size int) uint64 {
		reads++
		c.ExecStop()
		return 0
	}
	if err := fake.MapMMIO(mmioBase, 4, read, nil); err != nil {
		t.Fatalf("MapMMIO: %v", err)
	}

	fake.RunSteps = []executortest.RunStep{
		{Insns: 1, LoadAddr: mmioBase, LoadSize: 4},
		{Insns: 1, LoadAddr: mmioBase, LoadSize: 4},
		{Insns: 1, LoadAddr: mmioBase, LoadSize: 4},
	}

	c.ExecSetStartAddr(mmioBase)
	reason, err := c.ExecRun(0, 0)
	if err != nil {
		t.Fatalf("ExecRun: %v", err)
	}
	if reason != executor.StopHalted {
		t.Errorf("ExecRun reason: got %v want StopHalted", reason)
	}
	if reads != 1 {
		t.Errorf("MMIO read callback fired %d times, want exactly 1: exec_run must stop after at most one more instruction", reads)
	}
}

// TestExecRunMaxInsnsCeiling exercises the instruction-ceiling stop path: a
// script with more steps than maxInsns allows must return StopMaxInsns
// without ever reaching a later step's side effects.
func TestExecRunMaxInsnsCeiling(t *testing.T) {
	fake := executortest.New()
	c, err := New(ModeSystem, fake)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = c.Destroy() })

	fake.RunSteps = []executortest.RunStep{
		{Insns: 1},
		{Insns: 1},
		{Insns: 1},
	}

	c.ExecSetStartAddr(0)
	reason, err := c.ExecRun(2, 0)
	if err != nil {
		t.Fatalf("ExecRun: %v", err)
	}
	if reason != executor.StopMaxInsns {
		t.Errorf("ExecRun reason: got %v want StopMaxInsns", reason)
	}
}

func TestSVCStateRoundTrip(t *testing.T) {
	c := newTestCore(t)
	if c.SVCState() != nil {
		t.Errorf("new core should have nil SVCState")
	}
	marker := struct{ n int }{n: 7}
	c.SetSVCState(&marker)
	got, ok := c.SVCState().(*struct{ n int })
	if !ok || got.n != 7 {
		t.Errorf("SVCState round trip failed: got %#v", c.SVCState())
	}
}
