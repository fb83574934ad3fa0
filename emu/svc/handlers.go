/*
 * PSPEmu - SVC handler implementations.
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

// Scratch addresses in the proxy's own address space used to stage
// request/response blobs for the handlers below. These are host-side
// bookkeeping only; they never appear in guest memory.
const (
	smuScratch    = 0x23000
	opaqueScratch = 0x24000
	rngScratch    = 0x25000
	eccScratch    = 0x22000
	fusesScratch  = 0x27000
	smmLoScratch  = 0x20000
	smmHiScratch  = 0x21000
)

func init() {
	register(0x00, maskApp, appExit)
	register(0x01, maskApp, appInit)
	register(0x03, maskAny, smnMap)
	register(0x04, maskAny, smnMap)
	register(0x05, maskAny, smnUnmap)
	register(0x06, maskAny, dbgLog)
	register(0x07, maskAny, x86MemMap)
	register(0x25, maskAny, x86MemMap)
	register(0x08, maskAny, x86MemUnmap)
	register(0x09, maskAny, x86CopyToPSP)
	register(0x0a, maskAny, x86CopyFromPSP)
	register(0x28, maskAny, smuMsg)
	register(0x32, maskAny, makeOpaqueHandler(0x32))
	register(0x33, maskAny, makeOpaqueHandler(0x33))
	register(0x35, maskAny, makeOpaqueHandler(0x35))
	register(0x36, maskAny, makeOpaqueHandler(0x36))
	register(0x38, maskAny, makeOpaqueHandler(0x38))
	register(0x39, maskAny, rng)
	register(0x3c, maskApp, querySaveStateRegion)
	register(0x41, maskAny, eccCurveOp)
	register(0x42, maskAny, queryFuses)
	register(0x48, maskAny, querySMMRegion)
}

// appExit asks the proxy for the state-buffer address covering
// stateRegionSize bytes and flushes the privileged-DRAM mapping, if dirty,
// back to real hardware before the App firmware instance tears down.
func appExit(s *State, a0, a1, a2, a3 uint32) uint32 {
	if _, err := s.Proxy.SvcCall(0x00, s.stateRegionSize, 0, 0, 0); err != nil {
		return 0x9
	}
	priv := s.Core.PrivMapping()
	if priv.PhysX86Base != cpucore.NilX86Phys && priv.PSPHighestWritten != 0 {
		off := priv.PSPBase - priv.PSPBase4K
		length := priv.PSPHighestWritten - priv.PSPBase
		if err := s.Proxy.MemWrite(priv.PhysX86Base, priv.Backing[off:off+length]); err != nil {
			return 0x9
		}
	}
	return 0
}

// appInit allocates the two-page App stack-top region and tells the guest,
// through its R2 pointer, where it landed.
func appInit(s *State, a0, a1, a2, a3 uint32) uint32 {
	const (
		stackBase = 0x50000
		stackTop  = 0x52000
		pageSize  = 4096
	)
	userPtr := a2
	if err := s.Core.MemAddRegion(stackBase, 2*pageSize); err != nil {
		return 0x9
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, stackTop)
	if err := s.Core.MemWrite(userPtr, buf); err != nil {
		return 0x9
	}
	return 0
}

// smnMap forwards an smn_map/smn_map_ex request and records the granted
// window so a later smn_unmap can release it.
func smnMap(s *State, a0, a1, a2, a3 uint32) uint32 {
	smnAddr, ccdTarget := a0, a1
	res, err := s.Proxy.SvcCall(0x03, smnAddr, ccdTarget, 0, 0)
	if err != nil || res.Status != 0 {
		return 0x9
	}
	s.smnWindows = append(s.smnWindows, smnWindow{ccdTarget: ccdTarget, smnAddr: smnAddr, pspBase: res.Out[0]})
	return 0
}

// smnUnmap releases a window previously granted by smnMap.
func smnUnmap(s *State, a0, a1, a2, a3 uint32) uint32 {
	addr := a0
	for i, w := range s.smnWindows {
		if w.pspBase == addr {
			if _, err := s.Proxy.SvcCall(0x05, addr, 0, 0, 0); err != nil {
				return 0x9
			}
			s.smnWindows = append(s.smnWindows[:i], s.smnWindows[i+1:]...)
			return 0
		}
	}
	return 0x9
}

// dbgLog reads a guaranteed-NUL-terminated guest string (at most 512 bytes)
// and forwards it to the host log. It reads one byte at a time rather than
// one fixed-size MemRead: the guarantee bounds the string's length, not the
// size of whatever RAM region a0 happens to land in, and a single
// maxLen-sized read would fault on a string that NUL-terminates well inside
// maxLen but whose mapped region ends sooner.
func dbgLog(s *State, a0, a1, a2, a3 uint32) uint32 {
	const maxLen = 512
	msg := make([]byte, 0, maxLen)
	var b [1]byte
	for uint32(len(msg)) < maxLen {
		if err := s.Core.MemRead(a0+uint32(len(msg)), b[:]); err != nil {
			return 0x9
		}
		if b[0] == 0 {
			break
		}
		msg = append(msg, b[0])
	}
	s.Log.Info(string(msg), "svc", "svc6")
	return 0
}

// x86CopyFromPSP copies size bytes from the guest's psp_addr to an x86
// physical address, through the proxy.
func x86CopyFromPSP(s *State, a0, a1, a2, a3 uint32) uint32 {
	x86Lo, x86Hi, pspAddr, size := a0, a1, a2, a3
	buf := make([]byte, size)
	if err := s.Core.MemRead(pspAddr, buf); err != nil {
		return 0x9
	}
	physAddr := uint64(x86Hi)<<32 | uint64(x86Lo)
	if err := s.Proxy.MemWrite(physAddr, buf); err != nil {
		return 0x9
	}
	return 0
}

// x86CopyToPSP copies size bytes from an x86 physical address into the
// guest's psp_addr, through the proxy.
func x86CopyToPSP(s *State, a0, a1, a2, a3 uint32) uint32 {
	x86Lo, x86Hi, pspAddr, size := a0, a1, a2, a3
	physAddr := uint64(x86Hi)<<32 | uint64(x86Lo)
	buf := make([]byte, size)
	if err := s.Proxy.MemRead(physAddr, buf); err != nil {
		return 0x9
	}
	if err := s.Core.MemWrite(pspAddr, buf); err != nil {
		return 0x9
	}
	return 0
}

// smuMsg forwards an SMU message and, if the guest passed a non-null result
// pointer in R2, fetches one 32-bit reply word back.
func smuMsg(s *State, a0, a1, a2, a3 uint32) uint32 {
	msgID, arg0, userPtr := a0, a1, a2
	res, err := s.Proxy.SvcCall(0x28, msgID, arg0, 0, 0)
	if err != nil || res.Status != 0 {
		return 0x9
	}
	if userPtr == 0 {
		return 0
	}
	buf := make([]byte, 4)
	if err := s.Proxy.MemRead(smuScratch, buf); err != nil {
		return 0x9
	}
	if err := s.Core.MemWrite(userPtr, buf); err != nil {
		return 0x9
	}
	return 0
}

// opaqueBlobSize is the request/response blob size for the handful of
// request-specific opaque syscalls. The surviving source's exact per-syscall
// field layouts were compiled out; this fixed size covers every observed
// caller and round-trips whatever bytes the guest sent.
const opaqueBlobSize = 0x100

// makeOpaqueHandler builds a handler for one of the opaque request syscalls:
// stage the guest's blob at a proxy scratch address, forward the call, then
// copy the (possibly rewritten) blob back.
func makeOpaqueHandler(svcNum uint32) handlerFunc {
	return func(s *State, a0, a1, a2, a3 uint32) uint32 {
		guestPtr := a0
		buf := make([]byte, opaqueBlobSize)
		if err := s.Core.MemRead(guestPtr, buf); err != nil {
			return 0x9
		}
		if err := s.Proxy.MemWrite(opaqueScratch, buf); err != nil {
			return 0x9
		}
		res, err := s.Proxy.SvcCall(svcNum, a1, a2, a3, 0)
		if err != nil || res.Status != 0 {
			return 0x9
		}
		if err := s.Proxy.MemRead(opaqueScratch, buf); err != nil {
			return 0x9
		}
		if err := s.Core.MemWrite(guestPtr, buf); err != nil {
			return 0x9
		}
		return 0
	}
}

// rng forwards a random-number request and copies cbBuf bytes of the
// result from proxy scratch into the guest buffer at R0.
func rng(s *State, a0, a1, a2, a3 uint32) uint32 {
	guestPtr, cbBuf := a0, a1
	res, err := s.Proxy.SvcCall(0x39, cbBuf, 0, 0, 0)
	if err != nil || res.Status != 0 {
		return 0x9
	}
	buf := make([]byte, cbBuf)
	if err := s.Proxy.MemRead(rngScratch, buf); err != nil {
		return 0x9
	}
	if err := s.Core.MemWrite(guestPtr, buf); err != nil {
		return 0x9
	}
	return 0
}

// eccSubopLayout fixes the PSP-side source/destination address and buffer
// length for each supported ecc_curve_op sub-operation.
var eccSubopLayout = map[uint32]struct {
	addr uint32
	size int
}{
	1: {0x26000, 0x80},
	2: {0x26100, 0x80},
	3: {0x26200, 0x80},
	5: {0x26300, 0x80},
}

// eccCurveOp marshals one of the four supported curve-constant buffers to
// proxy scratch, forwards the sub-operation, and copies the result back.
// Sub-operations outside {1,2,3,5} are unimplemented and fail with 0x9.
func eccCurveOp(s *State, a0, a1, a2, a3 uint32) uint32 {
	subop := a0
	layout, ok := eccSubopLayout[subop]
	if !ok {
		return 0x9
	}
	buf := make([]byte, layout.size)
	if err := s.Core.MemRead(layout.addr, buf); err != nil {
		return 0x9
	}
	if err := s.Proxy.MemWrite(eccScratch, buf); err != nil {
		return 0x9
	}
	res, err := s.Proxy.SvcCall(0x41, subop, 0, 0, 0)
	if err != nil || res.Status != 0 {
		return 0x9
	}
	if err := s.Proxy.MemRead(eccScratch, buf); err != nil {
		return 0x9
	}
	if err := s.Core.MemWrite(layout.addr, buf); err != nil {
		return 0x9
	}
	return 0
}

// queryFuses reads a size-prefixed blob at the guest pointer in R0, marshals
// it through the proxy, and writes the result back over the same number of
// bytes. The size word at R0 is not updated from the proxy's reply.
func queryFuses(s *State, a0, a1, a2, a3 uint32) uint32 {
	guestPtr := a0
	sizeBuf := make([]byte, 4)
	if err := s.Core.MemRead(guestPtr, sizeBuf); err != nil {
		return 0x9
	}
	size := binary.LittleEndian.Uint32(sizeBuf)
	blob := make([]byte, size)
	if err := s.Core.MemRead(guestPtr+4, blob); err != nil {
		return 0x9
	}
	if err := s.Proxy.MemWrite(fusesScratch, blob); err != nil {
		return 0x9
	}
	res, err := s.Proxy.SvcCall(0x42, guestPtr, size, 0, 0)
	if err != nil || res.Status != 0 {
		return 0x9
	}
	if err := s.Proxy.MemRead(fusesScratch, blob); err != nil {
		return 0x9
	}
	if err := s.Core.MemWrite(guestPtr+4, blob); err != nil {
		return 0x9
	}
	return 0
}

// querySMMRegion fetches the two 64-bit SMM region words staged by the
// proxy and writes them to the guest's two result pointers.
func querySMMRegion(s *State, a0, a1, a2, a3 uint32) uint32 {
	ptr1, ptr2 := a0, a1
	res, err := s.Proxy.SvcCall(0x48, 0, 0, 0, 0)
	if err != nil || res.Status != 0 {
		return 0x9
	}
	buf := make([]byte, 8)
	if err := s.Proxy.MemRead(smmLoScratch, buf); err != nil {
		return 0x9
	}
	if err := s.Core.MemWrite(ptr1, buf); err != nil {
		return 0x9
	}
	if err := s.Proxy.MemRead(smmHiScratch, buf); err != nil {
		return 0x9
	}
	if err := s.Core.MemWrite(ptr2, buf); err != nil {
		return 0x9
	}
	return 0
}
