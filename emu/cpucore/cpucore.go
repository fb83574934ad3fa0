/*
 * PSPEmu - CPU Core: register file, address space, run/stop semantics.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package cpucore owns one PSP's register file, SRAM, RAM region table, and
// x86-mapping slot array, and presents run/stop control over the underlying
// black-box ARM executor. The register-file layout and address-range
// checking are kept as a per-CCD handle rather than package globals, since
// multiple independent CCDs may coexist.
package cpucore

import (
	"errors"
	"fmt"
	"time"

	"github.com/rcornwell/pspemu/emu/executor"
)

// Mode is the PSP firmware personality this core is running.
type Mode int

const (
	ModeApp Mode = iota
	ModeSystem
	ModeSystemOnChipBl
)

const (
	sramSize     = 256 * 1024
	maxX86Slots  = 8
	sramBase     = 0x00000000
	NilX86Phys   = ^uint64(0) // Sentinel for a free mapping slot.
)

// X86CachedMapping is one of the 8 hardware windows by which the PSP exposes
// x86 physical memory into its own address space. PSPCachedEnd is a
// high-water mark, in absolute PSP address space: bytes in
// [PSPBase4K, PSPCachedEnd) have already been fetched into Backing, and
// bytes beyond it have not. It starts at PSPBase4K (nothing cached) and
// only ever grows, one read's worth at a time, so a guest that never reads
// past the first few bytes of a 64 MiB window never costs more than a
// few-byte round trip.
type X86CachedMapping struct {
	PhysX86Base       uint64 // NilX86Phys when free.
	PSPBase4K         uint32
	PSPBase           uint32
	PSPCachedEnd      uint32
	PSPHighestWritten uint32
	MappedLen         uint32
	MappedLen4K       uint32
	Backing           []byte
}

func (m *X86CachedMapping) free() bool { return m.PhysX86Base == NilX86Phys }

func (m *X86CachedMapping) reset() {
	*m = X86CachedMapping{PhysX86Base: NilX86Phys}
}

// RAM region added through mem_add_region.
type region struct {
	base, size uint32
}

// ErrOutOfMemory reports an allocation failure.
var ErrOutOfMemory = errors.New("cpucore: out of memory")

// ErrMemoryAccess reports an unmapped-region access.
var ErrMemoryAccess = errors.New("cpucore: memory access fault")

// ErrNoSlot reports all 8 x86-mapping slots are occupied.
var ErrNoSlot = errors.New("cpucore: no free x86 mapping slot")

// ErrOverlap reports a mem_add_region that collides with an existing region.
var ErrOverlap = errors.New("cpucore: region overlaps an existing mapping")

// CpuCore is one PSP's execution state: mode, executor handle, SRAM, CCD id,
// next-execute address, x86 mapping slots, the privileged-DRAM slot for SEV
// state, and an opaque SVC-state handle (set only in App mode).
type CpuCore struct {
	Mode     Mode
	core     executor.Core
	ccdID    uint32
	startPC  uint32
	regions  []region
	mappings [maxX86Slots]X86CachedMapping
	priv     X86CachedMapping // Privileged DRAM mapping, used for SEV state.
	svcState any              // Opaque; only populated for ModeApp by the SVC layer.
}

// New allocates 256 KiB of SRAM, opens the executor, and maps SRAM at PSP
// address 0 as R/W. core must not yet be Open.
func New(mode Mode, core executor.Core) (*CpuCore, error) {
	if err := core.Open(); err != nil {
		return nil, fmt.Errorf("cpucore: %w", err)
	}
	c := &CpuCore{Mode: mode, core: core}
	c.priv.reset()
	for i := range c.mappings {
		c.mappings[i].reset()
	}
	if err := core.MapRAM(sramBase, sramSize); err != nil {
		_ = core.Close()
		return nil, fmt.Errorf("cpucore: map sram: %w", err)
	}
	c.regions = append(c.regions, region{base: sramBase, size: sramSize})
	return c, nil
}

// Destroy releases the executor. Idempotent: safe to call on a partially
// constructed core (core may be nil only if New failed before returning).
func (c *CpuCore) Destroy() error {
	if c.core == nil {
		return nil
	}
	err := c.core.Close()
	c.core = nil
	return err
}

// SetCCDID / CCDID store and return the opaque CCD identifier.
func (c *CpuCore) SetCCDID(id uint32) { c.ccdID = id }
func (c *CpuCore) CCDID() uint32      { return c.ccdID }

// SetSVCState / SVCState store and fetch the opaque, App-mode-only SVC
// layer handle, resolved by id rather than shared ownership.
func (c *CpuCore) SetSVCState(s any) { c.svcState = s }
func (c *CpuCore) SVCState() any     { return c.svcState }

// MemWrite writes bytes at psp_addr. Fails with ErrMemoryAccess on unmapped
// regions.
func (c *CpuCore) MemWrite(addr uint32, data []byte) error {
	if err := c.core.MemWrite(addr, data); err != nil {
		return fmt.Errorf("%w: %#x", ErrMemoryAccess, addr)
	}
	return nil
}

// MemRead reads len(buf) bytes starting at psp_addr into buf.
func (c *CpuCore) MemRead(addr uint32, buf []byte) error {
	if err := c.core.MemRead(addr, buf); err != nil {
		return fmt.Errorf("%w: %#x", ErrMemoryAccess, addr)
	}
	return nil
}

// MemAddRegion adds a plain RAM region. Fails with ErrOverlap if it collides
// with an existing mapping.
func (c *CpuCore) MemAddRegion(base, size uint32) error {
	end := uint64(base) + uint64(size)
	for _, r := range c.regions {
		if uint64(base) < uint64(r.base)+uint64(r.size) && uint64(r.base) < end {
			return ErrOverlap
		}
	}
	if err := c.core.MapRAM(uint64(base), uint64(size)); err != nil {
		return fmt.Errorf("cpucore: add region: %w", err)
	}
	c.regions = append(c.regions, region{base: base, size: size})
	return nil
}

// SetReg / Reg write and read one entry of {R0..R12, SP, LR, PC}.
func (c *CpuCore) SetReg(reg executor.Register, v uint32) error {
	return c.core.RegWrite(reg, v)
}

func (c *CpuCore) Reg(reg executor.Register) (uint32, error) {
	return c.core.RegRead(reg)
}

// ExecSetStartAddr sets the PC used by the next Run.
func (c *CpuCore) ExecSetStartAddr(addr uint32) { c.startPC = addr }

// ExecRun resumes execution from the stored start address. maxInsns == 0 and
// maxDuration == 0 mean unbounded; it returns when a ceiling is reached, a
// fault occurs, or ExecStop is called from a callback on the same thread.
func (c *CpuCore) ExecRun(maxInsns uint64, maxDuration time.Duration) (executor.StopReason, error) {
	return c.core.Run(c.startPC, maxInsns, maxDuration)
}

// ExecStop is cooperative cancellation: the next instruction boundary
// returns control to the caller of ExecRun. Safe to call from within a
// device callback or SVC handler running on the same thread.
func (c *CpuCore) ExecStop() { c.core.Stop() }

// MapSlot returns a pointer to mapping slot i (0..7), for the SVC layer's
// x86-mapping protocol.
func (c *CpuCore) MapSlot(i int) *X86CachedMapping { return &c.mappings[i] }

// PrivMapping returns the single privileged-DRAM slot used for SEV state.
func (c *CpuCore) PrivMapping() *X86CachedMapping { return &c.priv }

// AllocMapSlot finds a free x86-mapping slot and returns its index. Returns
// ErrNoSlot if all 8 are occupied — a fixed hardware limit.
func (c *CpuCore) AllocMapSlot() (int, error) {
	for i := range c.mappings {
		if c.mappings[i].free() {
			return i, nil
		}
	}
	return -1, ErrNoSlot
}

// FreeMapSlot resets slot i back to Free. Callers must have already flushed
// any dirty backing before calling this.
func (c *CpuCore) FreeMapSlot(i int) {
	c.mappings[i].reset()
}

// FindMapSlotByAddr returns the index of the occupied slot whose PSP window
// contains addr, and true, or false if no slot matches.
func (c *CpuCore) FindMapSlotByAddr(addr uint32) (int, bool) {
	for i := range c.mappings {
		m := &c.mappings[i]
		if m.free() {
			continue
		}
		if uint64(addr) >= uint64(m.PSPBase4K) && uint64(addr) < uint64(m.PSPBase4K)+uint64(m.MappedLen4K) {
			return i, true
		}
	}
	return -1, false
}
