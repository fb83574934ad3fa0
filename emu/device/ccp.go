/*
 * PSPEmu - Cryptographic Co-Processor stub.
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

package device

import "encoding/binary"

// CCPDeviceName names the stub crypto co-processor. Cryptographic fidelity
// is explicitly a non-goal; this only satisfies firmware polling loops that
// submit a command and wait for the engine-busy bit to clear.
const CCPDeviceName = "ccp-stub"

const (
	ccpDeviceBase   = 0x03000000
	ccpStatusOffset = 0x0000 // bit 0 set == busy; we never set it.
	ccpCmdOffset    = 0x0004 // command submission register: latched and read back, never executed.
)

type ccpState struct {
	lastCmd uint32
}

func init() {
	Register(&Descriptor{
		Name:         CCPDeviceName,
		Description:  "Cryptographic co-processor stub (no cryptographic fidelity)",
		Space:        SpacePSP,
		Base:         ccpDeviceBase,
		WindowSize:   0x1000,
		InstanceSize: 4,
		Read:         ccpRead,
		Write:        ccpWrite,
	})
}

func ccpRead(state []byte, offset uint32, size int) uint64 {
	switch offset {
	case ccpStatusOffset:
		return 0 // engine always idle.
	case ccpCmdOffset:
		return uint64(binary.LittleEndian.Uint32(state))
	default:
		return 0
	}
}

func ccpWrite(state []byte, offset uint32, size int, value uint64) {
	if offset == ccpCmdOffset {
		binary.LittleEndian.PutUint32(state, uint32(value))
	}
}
