/*
 * PSPEmu - SVC handlers for the x86 cached-mapping slot state machine.
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

package svc

import (
	"encoding/binary"

	"github.com/rcornwell/pspemu/emu/cpucore"
)

const (
	x86RegionSize = 64 * 1024 * 1024 // Hardware's x86-mapping region granularity.
	pageSize4K    = 4096
)

// x86MemMap implements x86_mem_map and x86_mem_map_ex: Free -> Allocated.
// The proxy owns placement — it is asked for a window first, and only then
// do we try to reserve a local slot and I/O-manager window for it. If either
// local step fails, the hardware-side window is released again so the two
// sides of the bridge never disagree about what is mapped.
func x86MemMap(s *State, a0, a1, a2, a3 uint32) uint32 {
	physLo, physHi, memType := a0, a1, a2
	res, err := s.Proxy.SvcCall(0x07, physLo, physHi, memType, 0)
	if err != nil || res.Status != 0 {
		return 0
	}
	pspBaseUnaligned := res.Out[0]

	slot, err := s.Core.AllocMapSlot()
	if err != nil {
		_, _ = s.Proxy.SvcCall(0x08, pspBaseUnaligned, 0, 0, 0)
		return 0
	}

	pspBase4K := pspBaseUnaligned &^ (pageSize4K - 1)
	regionStart := pspBase4K &^ (x86RegionSize - 1)
	regionEnd := regionStart + x86RegionSize
	mappedLen4K := regionEnd - pspBase4K

	m := s.Core.MapSlot(slot)
	m.PhysX86Base = uint64(physHi)<<32 | uint64(physLo)
	m.PSPBase4K = pspBase4K
	m.PSPBase = pspBaseUnaligned
	m.PSPCachedEnd = pspBase4K // Nothing fetched yet.
	m.PSPHighestWritten = 0
	m.MappedLen = mappedLen4K
	m.MappedLen4K = mappedLen4K
	m.Backing = make([]byte, mappedLen4K)

	read := func(offset uint64, size int) uint64 { return readX86Mapping(s, m, uint32(offset), size) }
	write := func(offset uint64, size int, value uint64) { writeX86Mapping(m, uint32(offset), size, value) }

	if err := s.IO.MapX86Window(uint64(pspBase4K), uint64(mappedLen4K), read, write); err != nil {
		s.Core.FreeMapSlot(slot)
		_, _ = s.Proxy.SvcCall(0x08, pspBaseUnaligned, 0, 0, 0)
		return 0
	}

	return pspBaseUnaligned
}

// x86MemUnmap implements x86_mem_unmap: Dirty/Allocated -> Free. Any bytes
// written at or after psp_base are flushed back through the proxy before
// the slot and I/O-manager window are released.
func x86MemUnmap(s *State, a0, a1, a2, a3 uint32) uint32 {
	pspBase := a0
	slot, found := s.Core.FindMapSlotByAddr(pspBase)
	if !found {
		return 0x9
	}
	m := s.Core.MapSlot(slot)

	if m.PSPHighestWritten != 0 {
		off := m.PSPBase - m.PSPBase4K
		length := m.PSPHighestWritten - m.PSPBase
		if err := s.Proxy.MemWrite(m.PhysX86Base, m.Backing[off:off+length]); err != nil {
			return 0x9
		}
	}

	_ = s.IO.UnmapX86Window(uint64(m.PSPBase4K), uint64(m.MappedLen4K))
	s.Core.FreeMapSlot(slot)

	if _, err := s.Proxy.SvcCall(0x08, pspBase, 0, 0, 0); err != nil {
		return 0x9
	}
	return 0
}

// readX86Mapping services a guest read against a mapped x86 window. The
// backing buffer is filled incrementally: x86_mem_map reserves the window
// without fetching anything, and each read that reaches past the current
// PSPCachedEnd high-water mark pulls in only the bytes needed to cover that
// read, never the whole (up to 64 MiB) window.
func readX86Mapping(s *State, m *cpucore.X86CachedMapping, offset uint32, size int) uint64 {
	if int(offset)+size > len(m.Backing) {
		return 0
	}
	need := m.PSPBase4K + offset + uint32(size)
	if need > m.PSPCachedEnd {
		physWindowBase := m.PhysX86Base - uint64(m.PSPBase-m.PSPBase4K)
		start := m.PSPCachedEnd - m.PSPBase4K
		end := need - m.PSPBase4K
		if err := s.Proxy.MemRead(physWindowBase+uint64(start), m.Backing[start:end]); err != nil {
			return 0
		}
		m.PSPCachedEnd = need
	}
	switch size {
	case 1:
		return uint64(m.Backing[offset])
	case 2:
		return uint64(binary.LittleEndian.Uint16(m.Backing[offset:]))
	default:
		return uint64(binary.LittleEndian.Uint32(m.Backing[offset:]))
	}
}

// writeX86Mapping services a guest write against a mapped x86 window:
// Allocated -> Dirty on the first write. Write-back happens only at unmap.
func writeX86Mapping(m *cpucore.X86CachedMapping, offset uint32, size int, value uint64) {
	if int(offset)+size > len(m.Backing) {
		return
	}
	switch size {
	case 1:
		m.Backing[offset] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(m.Backing[offset:], uint16(value))
	default:
		binary.LittleEndian.PutUint32(m.Backing[offset:], uint32(value))
	}
	end := m.PSPBase4K + offset + uint32(size)
	if end > m.PSPHighestWritten {
		m.PSPHighestWritten = end
	}
}

// querySaveStateRegion implements query_save_state_region: asks the proxy
// for the SEV state-region address covering R0 bytes, then lazily creates
// the single privileged-DRAM mapping with the fixed sentinel physical base
// the real firmware's SEV path expects.
func querySaveStateRegion(s *State, a0, a1, a2, a3 uint32) uint32 {
	const privPhysBase = 0xdeadd0d0
	size := a0
	res, err := s.Proxy.SvcCall(0x3c, size, 0, 0, 0)
	if err != nil || res.Status != 0 {
		return 0x9
	}
	addr := res.Out[0]

	priv := s.Core.PrivMapping()
	if priv.PhysX86Base == cpucore.NilX86Phys {
		mappedLen4K := (size + pageSize4K - 1) &^ (pageSize4K - 1)
		priv.PhysX86Base = privPhysBase
		priv.PSPBase4K = addr &^ (pageSize4K - 1)
		priv.PSPBase = addr
		priv.MappedLen = size
		priv.MappedLen4K = mappedLen4K
		priv.PSPCachedEnd = priv.PSPBase4K + mappedLen4K
		priv.Backing = make([]byte, mappedLen4K)
	}
	s.stateRegionSize = size
	return 0
}
