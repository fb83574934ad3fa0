/*
 * PSPEmu - Proxy bridge to a real hardware PSP.
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

// Package proxy defines the egress surface to a real hardware PSP. The
// concrete wire transport is an external collaborator; this package only
// fixes the blocking request/response contract the SVC layer calls through.
package proxy

// Result is the outcome of a forwarded SVC call.
type Result struct {
	Status uint32
	Out    [4]uint32 // Up to 4 output words, handler-specific.
}

// Client is the only egress surface to real hardware. All three operations
// are synchronous and deterministic at this layer — no hidden retries.
type Client interface {
	// SvcCall forwards a syscall with its four input registers and returns
	// the remote status plus any output words.
	SvcCall(idx uint32, a0, a1, a2, a3 uint32) (Result, error)

	// MemRead fills buf from the remote PSP's memory at addr.
	MemRead(addr uint64, buf []byte) error

	// MemWrite sends data to the remote PSP's memory at addr.
	MemWrite(addr uint64, data []byte) error
}
