/*
 * PSPEmu - SVC Emulation & Proxy Bridge: svc-table dispatch.
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

// Package svc intercepts ARM svc #imm traps and dispatches them through a
// fixed-size table covering 0x00..0x48, either emulating the call locally or
// marshaling it across a proxy.Client to a real hardware PSP: a static array
// of handlers indexed by a small integer, with a distinguished "unhandled"
// outcome rather than a nil-pointer check scattered at every call site.
package svc

import (
	"log/slog"

	"github.com/rcornwell/pspemu/emu/cpucore"
	"github.com/rcornwell/pspemu/emu/executor"
	"github.com/rcornwell/pspemu/emu/iomanager"
	"github.com/rcornwell/pspemu/emu/proxy"
)

// numSlots covers syscall numbers 0x00..0x48 inclusive.
const numSlots = 0x49

// handlerFunc services one syscall number. a0..a3 are R0..R3 on entry; the
// returned value is written back to R0. Handlers that need more than one
// output register reach into State directly (the mapping handlers do, for
// the x86 cache) since R0 is the only value the dispatcher itself moves.
type handlerFunc func(s *State, a0, a1, a2, a3 uint32) uint32

// modeMask gates which CpuCore modes may invoke a slot.
type modeMask uint8

const (
	maskApp modeMask = 1 << iota
	maskSystem
	maskSystemOnChipBl
)

const maskAny = maskApp | maskSystem | maskSystemOnChipBl

func modeBit(m cpucore.Mode) modeMask {
	switch m {
	case cpucore.ModeApp:
		return maskApp
	case cpucore.ModeSystem:
		return maskSystem
	default:
		return maskSystemOnChipBl
	}
}

type tableEntry struct {
	fn    handlerFunc
	modes modeMask
}

var table [numSlots]*tableEntry

// register installs fn at num, restricted to modes. Panics on a duplicate
// registration, mirroring the device registry's own static-table discipline.
func register(num uint32, modes modeMask, fn handlerFunc) {
	if table[num] != nil {
		panic("svc: duplicate registration of slot")
	}
	table[num] = &tableEntry{fn: fn, modes: modes}
}

// smnWindow records one outstanding smn_map/smn_map_ex grant.
type smnWindow struct {
	ccdTarget, smnAddr, pspBase uint32
}

// State is the per-CCD SVC layer: the CPU core it traps for, the I/O manager
// its x86-mapping windows register into, the proxy link to real hardware,
// and the host log sink for dbg_log.
type State struct {
	Core  *cpucore.CpuCore
	IO    *iomanager.Manager
	Proxy proxy.Client
	Log   *slog.Logger

	stateRegionSize uint32
	smnWindows      []smnWindow
}

// New builds an SVC state bound to core, io, and proxyClient. log must not
// be nil; pass slog.Default() if no dedicated logger is configured.
func New(core *cpucore.CpuCore, io *iomanager.Manager, proxyClient proxy.Client, log *slog.Logger) *State {
	return &State{Core: core, IO: io, Proxy: proxyClient, Log: log}
}

// Bridge resolves the executor's svc-trap callback to a State constructed
// after the executor itself, breaking what would otherwise be a
// construction-order cycle (the executor is built before the CpuCore that
// wraps it, and State is built after that). Bind must be called once,
// before the first guest svc instruction executes.
type Bridge struct {
	state *State
}

// NewBridge returns an unbound bridge. Pass Bridge.Hook to
// executor.NewUnicornCore (or any other executor.Core constructor taking an
// svc callback), then call Bind once State exists.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Bind attaches state to the bridge. Safe to call exactly once.
func (b *Bridge) Bind(s *State) {
	b.state = s
}

// Hook is the executor's svc-trap callback.
func (b *Bridge) Hook(imm uint32) {
	if b.state != nil {
		b.state.Dispatch(imm)
	}
}

// Dispatch services one svc #imm trap: reads R0..R3, runs the registered
// handler (if any and if the current mode is permitted), and writes the
// result back to R0. Unregistered slots and mode mismatches both fail with
// 0x9 and leave every other register untouched, per the dispatcher's
// invariant.
func (s *State) Dispatch(imm uint32) {
	entry := (*tableEntry)(nil)
	if int(imm) < numSlots {
		entry = table[imm]
	}
	if entry == nil || entry.modes&modeBit(s.Core.Mode) == 0 {
		_ = s.Core.SetReg(executor.R0, 0x9)
		return
	}

	a0, _ := s.Core.Reg(executor.R0)
	a1, _ := s.Core.Reg(executor.R1)
	a2, _ := s.Core.Reg(executor.R2)
	a3, _ := s.Core.Reg(executor.R3)

	r0 := entry.fn(s, a0, a1, a2, a3)
	_ = s.Core.SetReg(executor.R0, r0)
}
