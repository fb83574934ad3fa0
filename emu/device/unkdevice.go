/*
 * PSPEmu - Unknown device at 0x03010000.
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

// UnkDeviceName is the on-chip bootloader's spin-wait target: it polls bit 8
// of offset 0x104 until it reads back set.
const UnkDeviceName = "unk-0x03010000"

const unkDeviceBase = 0x03010000

func init() {
	Register(&Descriptor{
		Name:         UnkDeviceName,
		Description:  "Unknown MMIO device the on-chip bootloader spin-waits on",
		Space:        SpacePSP,
		Base:         unkDeviceBase,
		WindowSize:   0x1000,
		InstanceSize: 0,
		Read:         unkDeviceRead,
	})
}

func unkDeviceRead(_ []byte, offset uint32, size int) uint64 {
	if offset == 0x104 && size == 4 {
		return 0x100
	}
	return 0
}
