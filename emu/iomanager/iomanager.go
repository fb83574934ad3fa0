/*
 * PSPEmu - I/O Manager: routes guest accesses to registered devices.
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

// Package iomanager maintains the PSP MMIO, SMN, and x86-mapping routing
// tables and dispatches guest memory accesses to the device that owns the
// touched window, across three disjoint address spaces.
package iomanager

import (
	"fmt"

	"github.com/rcornwell/pspemu/emu/device"
	"github.com/rcornwell/pspemu/emu/executor"
)

// smnKey identifies an SMN device by fabric target and address: SMN
// addresses are only meaningful paired with a CCD target.
type smnKey struct {
	ccdTarget uint32
	addr      uint32
}

type pspRegion struct {
	base, size uint64
	instance   *device.Instance
}

// Manager routes guest accesses across the three disjoint address spaces of
// one CCD: PSP MMIO, SMN, and x86-mapping windows.
type Manager struct {
	core executor.Core

	pspRegions []pspRegion
	x86Regions []pspRegion
	smnTable   map[smnKey]*device.Instance
}

// New binds a Manager to the CPU core's executor, used to install the MMIO
// hooks that back PSP and x86-mapping windows.
func New(core executor.Core) *Manager {
	return &Manager{
		core:     core,
		smnTable: make(map[smnKey]*device.Instance),
	}
}

func overlaps(regions []pspRegion, base, size uint64) bool {
	end := base + size
	for _, r := range regions {
		if base < r.base+r.size && r.base < end {
			return true
		}
	}
	return false
}

// RegisterMMIODevice reserves a PSP address window at d.Base of d.WindowSize,
// allocates instance state, and runs Init.
func (m *Manager) RegisterMMIODevice(d *device.Descriptor) (*device.Instance, error) {
	return m.registerWindowed(&m.pspRegions, d, d.Base)
}

// RegisterX86Device registers a window in the PSP address space that aliases
// x86 physical memory, at a caller-chosen base (the mapping slot's 4 KiB
// aligned PSP base).
func (m *Manager) RegisterX86Device(d *device.Descriptor, base uint64) (*device.Instance, error) {
	return m.registerWindowed(&m.x86Regions, d, base)
}

func (m *Manager) registerWindowed(table *[]pspRegion, d *device.Descriptor, base uint64) (*device.Instance, error) {
	size := uint64(d.WindowSize)
	if overlaps(*table, base, size) {
		return nil, fmt.Errorf("iomanager: window [%#x, %#x) overlaps an existing device", base, base+size)
	}

	inst, err := device.New(d, base)
	if err != nil {
		return nil, err
	}

	if err := m.core.MapMMIO(base, size,
		func(offset uint64, sz int) uint64 {
			if d.Read == nil {
				return 0
			}
			return d.Read(inst.State, uint32(offset), sz)
		},
		func(offset uint64, sz int, value uint64) {
			if d.Write != nil {
				d.Write(inst.State, uint32(offset), sz, value)
			}
		}); err != nil {
		return nil, fmt.Errorf("iomanager: map window for %s: %w", d.Name, err)
	}

	*table = append(*table, pspRegion{base: base, size: size, instance: inst})
	return inst, nil
}

// MapX86Window registers a raw MMIO window backed directly by caller-supplied
// closures rather than a static device.Descriptor. The SVC layer's x86
// cached-mapping slots need this: each window's read/write behavior depends
// on per-mapping state (a proxy client and a backing buffer) that a
// link-time-static descriptor has no room for.
func (m *Manager) MapX86Window(base, size uint64, read executor.MMIOReadFunc, write executor.MMIOWriteFunc) error {
	if overlaps(m.x86Regions, base, size) {
		return fmt.Errorf("iomanager: x86 window [%#x, %#x) overlaps an existing mapping", base, base+size)
	}
	if err := m.core.MapMMIO(base, size, read, write); err != nil {
		return fmt.Errorf("iomanager: map x86 window: %w", err)
	}
	m.x86Regions = append(m.x86Regions, pspRegion{base: base, size: size})
	return nil
}

// UnmapX86Window releases a window registered through MapX86Window.
func (m *Manager) UnmapX86Window(base, size uint64) error {
	if err := m.core.Unmap(base, size); err != nil {
		return fmt.Errorf("iomanager: unmap x86 window: %w", err)
	}
	for i, r := range m.x86Regions {
		if r.base == base {
			m.x86Regions = append(m.x86Regions[:i], m.x86Regions[i+1:]...)
			return nil
		}
	}
	return nil
}

// RegisterSMNDevice records a device under (ccdTarget, addr); it is reached
// only through explicit SMNRead/SMNWrite calls, never through the executor's
// address space, because SMN is its own fabric.
func (m *Manager) RegisterSMNDevice(d *device.Descriptor, ccdTarget, addr uint32) (*device.Instance, error) {
	key := smnKey{ccdTarget: ccdTarget, addr: addr}
	if _, exists := m.smnTable[key]; exists {
		return nil, fmt.Errorf("iomanager: smn device already registered at target %d addr %#x", ccdTarget, addr)
	}
	inst, err := device.New(d, uint64(addr))
	if err != nil {
		return nil, err
	}
	m.smnTable[key] = inst
	return inst, nil
}

// SMNRead routes a read through the SMN fabric table. ok is false when no
// device answers that (target, addr) pair.
func (m *Manager) SMNRead(ccdTarget, addr uint32, size int) (value uint64, ok bool) {
	inst, found := m.smnTable[smnKey{ccdTarget: ccdTarget, addr: addr}]
	if !found || inst.Descriptor.Read == nil {
		return 0, false
	}
	return inst.Descriptor.Read(inst.State, 0, size), true
}

// SMNWrite routes a write through the SMN fabric table.
func (m *Manager) SMNWrite(ccdTarget, addr uint32, size int, value uint64) bool {
	inst, found := m.smnTable[smnKey{ccdTarget: ccdTarget, addr: addr}]
	if !found || inst.Descriptor.Write == nil {
		return false
	}
	inst.Descriptor.Write(inst.State, 0, size, value)
	return true
}

// Unregister invokes the instance's destructor and removes it from whichever
// table it lives in.
func (m *Manager) Unregister(inst *device.Instance) error {
	device.Destroy(inst)

	if m.removeFrom(&m.pspRegions, inst) || m.removeFrom(&m.x86Regions, inst) {
		return nil
	}
	for key, smnInst := range m.smnTable {
		if smnInst == inst {
			delete(m.smnTable, key)
			return nil
		}
	}
	return fmt.Errorf("iomanager: unregister: instance not found")
}

func (m *Manager) removeFrom(table *[]pspRegion, inst *device.Instance) bool {
	for i, r := range *table {
		if r.instance == inst {
			_ = m.core.Unmap(r.base, r.size)
			*table = append((*table)[:i], (*table)[i+1:]...)
			return true
		}
	}
	return false
}

// UnregisterAll tears down every device across all three tables: x86 and PSP
// windows in reverse registration order, SMN devices in no fixed order.
func (m *Manager) UnregisterAll() {
	for i := len(m.x86Regions) - 1; i >= 0; i-- {
		r := m.x86Regions[i]
		if r.instance != nil {
			device.Destroy(r.instance)
		}
		_ = m.core.Unmap(r.base, r.size)
	}
	m.x86Regions = nil
	for i := len(m.pspRegions) - 1; i >= 0; i-- {
		r := m.pspRegions[i]
		device.Destroy(r.instance)
		_ = m.core.Unmap(r.base, r.size)
	}
	m.pspRegions = nil
	for _, inst := range m.smnTable {
		device.Destroy(inst)
	}
	m.smnTable = make(map[smnKey]*device.Instance)
}
