/*
 * PSPEmu - Serial-link proxy transport to a real hardware PSP.
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

// Package serialproxy is one concrete proxy.Client transport: a real PSP
// reached over its debug UART. Framing is a minimal length-prefixed
// request/response, synchronous per call as proxy.Client requires.
package serialproxy

import (
	"encoding/binary"
	"fmt"
	"io"
	"syscall"
	"time"

	"go.bug.st/serial"

	"github.com/rcornwell/pspemu/emu/proxy"
)

const (
	opSvcCall uint8 = 1
	opMemRead uint8 = 2
	opMemWrite uint8 = 3

	readTimeout = 2 * time.Second
)

// Proxy is a proxy.Client backed by a serial port.
type Proxy struct {
	port serial.Port
}

// Open connects to deviceName at baudRate and returns a ready Proxy.
func Open(deviceName string, baudRate int) (*Proxy, error) {
	mode := &serial.Mode{BaudRate: baudRate, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	port, err := serial.Open(deviceName, mode)
	if err != nil {
		return nil, fmt.Errorf("serialproxy: open %s: %w", deviceName, err)
	}
	port.SetReadTimeout(readTimeout)
	return &Proxy{port: port}, nil
}

// Close releases the underlying serial port.
func (p *Proxy) Close() error {
	return p.port.Close()
}

func (p *Proxy) SvcCall(idx uint32, a0, a1, a2, a3 uint32) (proxy.Result, error) {
	req := make([]byte, 1+4*5)
	req[0] = opSvcCall
	binary.LittleEndian.PutUint32(req[1:], idx)
	binary.LittleEndian.PutUint32(req[5:], a0)
	binary.LittleEndian.PutUint32(req[9:], a1)
	binary.LittleEndian.PutUint32(req[13:], a2)
	binary.LittleEndian.PutUint32(req[17:], a3)
	if err := p.writeAll(req); err != nil {
		return proxy.Result{}, err
	}

	resp := make([]byte, 4*5)
	if err := p.readAll(resp); err != nil {
		return proxy.Result{}, err
	}
	var r proxy.Result
	r.Status = binary.LittleEndian.Uint32(resp[0:])
	for i := range r.Out {
		r.Out[i] = binary.LittleEndian.Uint32(resp[4+4*i:])
	}
	return r, nil
}

func (p *Proxy) MemRead(addr uint64, buf []byte) error {
	req := make([]byte, 1+8+4)
	req[0] = opMemRead
	binary.LittleEndian.PutUint64(req[1:], addr)
	binary.LittleEndian.PutUint32(req[9:], uint32(len(buf)))
	if err := p.writeAll(req); err != nil {
		return err
	}
	return p.readAll(buf)
}

func (p *Proxy) MemWrite(addr uint64, data []byte) error {
	req := make([]byte, 1+8+4+len(data))
	req[0] = opMemWrite
	binary.LittleEndian.PutUint64(req[1:], addr)
	binary.LittleEndian.PutUint32(req[9:], uint32(len(data)))
	copy(req[13:], data)
	return p.writeAll(req)
}

// writeAll retries solely on EINTR, which Go's goroutine scheduler can raise
// on a blocking syscall; any other error or short write is fatal to the call.
func (p *Proxy) writeAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := p.port.Write(buf)
		if err != nil {
			if isRetryableSyscallError(err) {
				continue
			}
			return fmt.Errorf("serialproxy: write: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}

func (p *Proxy) readAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := p.port.Read(buf)
		if err != nil {
			if isRetryableSyscallError(err) {
				continue
			}
			return fmt.Errorf("serialproxy: read: %w", err)
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
		buf = buf[n:]
	}
	return nil
}

func isRetryableSyscallError(err error) bool {
	const eIntr = 4
	if errno, ok := err.(syscall.Errno); ok {
		return errno == eIntr
	}
	return false
}
