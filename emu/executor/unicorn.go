package executor

/*
 * PSPEmu - Unicorn-engine backed ARM executor.
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

import (
	"fmt"
	"time"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

var ucRegMap = [numRegisters]int{
	R0: uc.ARM_REG_R0, R1: uc.ARM_REG_R1, R2: uc.ARM_REG_R2, R3: uc.ARM_REG_R3,
	R4: uc.ARM_REG_R4, R5: uc.ARM_REG_R5, R6: uc.ARM_REG_R6, R7: uc.ARM_REG_R7,
	R8: uc.ARM_REG_R8, R9: uc.ARM_REG_R9, R10: uc.ARM_REG_R10, R11: uc.ARM_REG_R11,
	R12: uc.ARM_REG_R12, SP: uc.ARM_REG_SP, LR: uc.ARM_REG_LR, PC: uc.ARM_REG_PC,
}

// UnicornCore implements Core on top of the Unicorn CPU emulation engine,
// running the guest in 32-bit ARM mode.
type UnicornCore struct {
	mu       uc.Unicorn
	svcHook  uc.Hook
	stopping bool
	svcCB    func(imm uint32)
}

// NewUnicornCore builds an unopened executor. svcCB is invoked for every
// guest `svc #imm` trap; it is expected to set R0 and any other registers
// through RegWrite/RegRead before returning.
func NewUnicornCore(svcCB func(imm uint32)) *UnicornCore {
	return &UnicornCore{svcCB: svcCB}
}

func (c *UnicornCore) Open() error {
	mu, err := uc.NewUnicorn(uc.ARCH_ARM, uc.MODE_ARM)
	if err != nil {
		return fmt.Errorf("open executor: %w", err)
	}
	c.mu = mu

	hook, err := mu.HookAdd(uc.HOOK_INTR, func(_ uc.Unicorn, intno uint32) {
		if intno != 2 { // EXCP_SWI
			return
		}
		pc, _ := mu.RegRead(uc.ARM_REG_PC)
		imm, _ := mu.MemReadSmall(pc-4, 4)
		if c.svcCB != nil {
			c.svcCB(uint32(imm) & 0xffffff)
		}
	}, 1, 0)
	if err != nil {
		_ = mu.Close()
		return fmt.Errorf("install svc hook: %w", err)
	}
	c.svcHook = hook
	return nil
}

func (c *UnicornCore) Close() error {
	if c.mu == nil {
		return nil
	}
	if c.svcHook != 0 {
		_ = c.mu.HookDel(c.svcHook)
	}
	err := c.mu.Close()
	c.mu = nil
	return err
}

func (c *UnicornCore) MapRAM(base, size uint64) error {
	return c.mu.MemMap(base, size, uc.PROT_ALL)
}

func (c *UnicornCore) MapMMIO(base, size uint64, read MMIOReadFunc, write MMIOWriteFunc) error {
	return c.mu.MmioMap(base, size,
		func(_ uc.Unicorn, offset uint64, size int) uint64 {
			if read == nil {
				return 0
			}
			return read(offset, size)
		},
		func(_ uc.Unicorn, offset uint64, size int, value int64) {
			if write != nil {
				write(offset, size, uint64(value))
			}
		})
}

func (c *UnicornCore) Unmap(base, size uint64) error {
	return c.mu.MemUnmap(base, size)
}

func (c *UnicornCore) RegRead(reg Register) (uint32, error) {
	v, err := c.mu.RegRead(ucRegMap[reg])
	return uint32(v), err
}

func (c *UnicornCore) RegWrite(reg Register, value uint32) error {
	return c.mu.RegWrite(ucRegMap[reg], uint64(value))
}

func (c *UnicornCore) MemRead(addr uint32, buf []byte) error {
	data, err := c.mu.MemRead(uint64(addr), uint64(len(buf)))
	if err != nil {
		return &ErrUnmapped{Addr: addr}
	}
	copy(buf, data)
	return nil
}

func (c *UnicornCore) MemWrite(addr uint32, data []byte) error {
	if err := c.mu.MemWrite(uint64(addr), data); err != nil {
		return &ErrUnmapped{Addr: addr}
	}
	return nil
}

func (c *UnicornCore) Run(pc uint32, maxInsns uint64, maxDuration time.Duration) (StopReason, error) {
	c.stopping = false
	timeoutUs := uint64(0)
	if maxDuration > 0 {
		timeoutUs = uint64(maxDuration / time.Microsecond)
	}
	err := c.mu.StartWithOptions(uint64(pc), 0xffffffff, &uc.UcOptions{Timeout: timeoutUs, Count: maxInsns})
	if c.stopping {
		return StopHalted, nil
	}
	if err != nil {
		return StopFault, err
	}
	if timeoutUs != 0 {
		return StopTimeout, nil
	}
	if maxInsns != 0 {
		return StopMaxInsns, nil
	}
	return StopHalted, nil
}

func (c *UnicornCore) Stop() {
	c.stopping = true
	if c.mu != nil {
		_ = c.mu.Stop()
	}
}
