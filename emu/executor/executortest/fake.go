/*
 * PSPEmu - In-process fake executor.Core for package tests.
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

// Package executortest provides Fake, an in-process executor.Core that
// bookkeeps registers, RAM, and MMIO windows in plain Go without touching a
// real ARM engine. It lets cpucore/iomanager/svc exercise their memory and
// dispatch logic without a Unicorn build.
package executortest

import (
	"time"

	"github.com/rcornwell/pspemu/emu/executor"
)

type ramRegion struct {
	base, size uint64
	data       []byte
}

type mmioRegion struct {
	base, size uint64
	read       executor.MMIOReadFunc
	write      executor.MMIOWriteFunc
}

// RunStep scripts one simulated instruction for Fake.Run: it counts against
// the caller's maxInsns ceiling and, optionally, performs a MemRead (as if
// retiring a load instruction) and/or fires the installed svc hook (as if
// retiring an `svc #imm`). Run checks Stopped after each step so a device
// read callback or svc handler that calls Stop mid-script is honored within
// one instruction, the same contract executor.UnicornCore gives a guest that
// calls exec_stop from inside an MMIO read.
type RunStep struct {
	Insns    uint64
	LoadAddr uint64
	LoadSize int
	SVCImm   uint32
}

// Fake is a minimal executor.Core implementation for tests.
type Fake struct {
	Opened  bool
	Stopped bool

	regs [16]uint32
	ram  []ramRegion
	mmio []mmioRegion

	svcCB func(imm uint32)

	// RunSteps scripts the next Run call. Nil (the default) keeps the
	// original behavior: Run returns StopHalted immediately, for the
	// many tests that only care a core can be constructed and run once
	// without ever caring how it stopped.
	RunSteps []RunStep
}

// New returns a closed Fake ready for Open, with no svc hook and no
// scripted Run behavior.
func New() *Fake {
	return &Fake{}
}

// NewWithSVCHook returns a Fake whose Run invokes cb for any scripted
// RunStep.SVCImm, mirroring how executor.NewUnicornCore wires a guest's
// `svc #imm` trap to the CPU core's dispatcher.
func NewWithSVCHook(cb func(imm uint32)) *Fake {
	return &Fake{svcCB: cb}
}

func (f *Fake) Open() error  { f.Opened = true; return nil }
func (f *Fake) Close() error { f.Opened = false; return nil }

func (f *Fake) MapRAM(base, size uint64) error {
	f.ram = append(f.ram, ramRegion{base: base, size: size, data: make([]byte, size)})
	return nil
}

func (f *Fake) MapMMIO(base, size uint64, read executor.MMIOReadFunc, write executor.MMIOWriteFunc) error {
	f.mmio = append(f.mmio, mmioRegion{base: base, size: size, read: read, write: write})
	return nil
}

func (f *Fake) Unmap(base, size uint64) error {
	for i, r := range f.mmio {
		if r.base == base {
			f.mmio = append(f.mmio[:i], f.mmio[i+1:]...)
			return nil
		}
	}
	for i, r := range f.ram {
		if r.base == base {
			f.ram = append(f.ram[:i], f.ram[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *Fake) RegRead(reg executor.Register) (uint32, error) {
	return f.regs[reg], nil
}

func (f *Fake) RegWrite(reg executor.Register, value uint32) error {
	f.regs[reg] = value
	return nil
}

func (f *Fake) findRAM(addr uint32, size int) (*ramRegion, bool) {
	for i := range f.ram {
		r := &f.ram[i]
		if uint64(addr) >= r.base && uint64(addr)+uint64(size) <= r.base+r.size {
			return r, true
		}
	}
	return nil, false
}

func (f *Fake) findMMIO(addr uint32) (*mmioRegion, bool) {
	for i := range f.mmio {
		r := &f.mmio[i]
		if uint64(addr) >= r.base && uint64(addr) < r.base+r.size {
			return r, true
		}
	}
	return nil, false
}

func (f *Fake) MemRead(addr uint32, buf []byte) error {
	if r, ok := f.findRAM(addr, len(buf)); ok {
		off := uint64(addr) - r.base
		copy(buf, r.data[off:off+uint64(len(buf))])
		return nil
	}
	if m, ok := f.findMMIO(addr); ok {
		off := uint64(addr) - m.base
		switch len(buf) {
		case 1, 2, 4:
			v := m.read(off, len(buf))
			for i := range buf {
				buf[i] = byte(v >> (8 * i))
			}
		default:
			for i := range buf {
				buf[i] = byte(m.read(off+uint64(i), 1))
			}
		}
		return nil
	}
	return &executor.ErrUnmapped{Addr: addr}
}

func (f *Fake) MemWrite(addr uint32, data []byte) error {
	if r, ok := f.findRAM(addr, len(data)); ok {
		off := uint64(addr) - r.base
		copy(r.data[off:], data)
		return nil
	}
	if m, ok := f.findMMIO(addr); ok {
		off := uint64(addr) - m.base
		for i, b := range data {
			m.write(off+uint64(i), 1, uint64(b))
		}
		return nil
	}
	return &executor.ErrUnmapped{Addr: addr}
}

// MMIOWindows reports the base address of every currently mapped MMIO
// window, for tests asserting that teardown actually unmapped everything.
func (f *Fake) MMIOWindows() []uint64 {
	bases := make([]uint64, len(f.mmio))
	for i, r := range f.mmio {
		bases[i] = r.base
	}
	return bases
}

// Run plays back RunSteps one at a time: each step's Insns count against
// maxInsns (returning StopMaxInsns, without running the step, if it would
// take the count past the ceiling), then its load and/or svc hook fire, then Stopped is checked so a
// callback that called Stop mid-step ends the run immediately. An empty
// RunSteps (the zero value) preserves the original unconditional-halt
// behavior. maxDuration is accepted for interface compatibility but not
// enforced; simulating a real wall-clock ceiling deterministically needs a
// fake clock this double does not have.
func (f *Fake) Run(pc uint32, maxInsns uint64, maxDuration time.Duration) (executor.StopReason, error) {
	if len(f.RunSteps) == 0 {
		return executor.StopHalted, nil
	}

	f.Stopped = false
	var executed uint64
	for _, step := range f.RunSteps {
		executed += step.Insns
		if maxInsns != 0 && executed > maxInsns {
			return executor.StopMaxInsns, nil
		}
		if step.LoadSize > 0 {
			buf := make([]byte, step.LoadSize)
			_ = f.MemRead(uint32(step.LoadAddr), buf)
		}
		if step.SVCImm != 0 && f.svcCB != nil {
			f.svcCB(step.SVCImm)
		}
		if f.Stopped {
			return executor.StopHalted, nil
		}
	}
	return executor.StopHalted, nil
}

func (f *Fake) Stop() {
	f.Stopped = true
}
