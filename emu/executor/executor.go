/*
 * PSPEmu - Black-box ARM instruction executor.
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

// Package executor hides the real ARM instruction-emulation engine behind a
// narrow interface so the rest of the emulator never depends on a concrete
// engine. The PSP runs ARM code; the engine underneath is swappable.
package executor

import "time"

// Register identifies one entry of the ARM register file.
type Register int

// Register file layout: R0..R12 general purpose, then SP, LR, PC.
const (
	R0 Register = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	SP
	LR
	PC
	numRegisters
)

// MMIOReadFunc answers a guest read of size bytes at offset within a mapped
// window. Sizes are one of 1, 2, 4.
type MMIOReadFunc func(offset uint64, size int) uint64

// MMIOWriteFunc delivers a guest write of size bytes at offset within a
// mapped window.
type MMIOWriteFunc func(offset uint64, size int, value uint64)

// StopReason explains why Run returned.
type StopReason int

const (
	StopHalted    StopReason = iota // exec_stop was called, or engine halted cleanly.
	StopMaxInsns                    // Instruction ceiling reached.
	StopTimeout                     // Wall-clock ceiling reached.
	StopFault                       // Underlying engine fault.
)

// Core is the narrow trait every ARM instruction-emulation engine must
// satisfy. CpuCore never reaches past this interface, so a different engine
// can be substituted without touching the rest of the emulator.
type Core interface {
	Open() error
	Close() error

	MapRAM(base, size uint64) error
	MapMMIO(base, size uint64, read MMIOReadFunc, write MMIOWriteFunc) error

	// Unmap releases a region previously passed to MapRAM or MapMMIO.
	Unmap(base, size uint64) error

	RegRead(reg Register) (uint32, error)
	RegWrite(reg Register, value uint32) error

	MemRead(addr uint32, buf []byte) error
	MemWrite(addr uint32, data []byte) error

	// Run executes starting at pc until a ceiling is hit, Stop is called, or
	// a fault occurs. maxInsns == 0 and maxDuration == 0 mean unbounded.
	Run(pc uint32, maxInsns uint64, maxDuration time.Duration) (StopReason, error)

	// Stop requests that a running Run return at the next instruction
	// boundary. Safe to call from within a callback invoked by Run.
	Stop()
}

// ErrUnmapped is returned by MemRead/MemWrite when an address is not mapped
// in the engine.
type ErrUnmapped struct {
	Addr uint32
}

func (e *ErrUnmapped) Error() string {
	return "executor: unmapped access"
}
