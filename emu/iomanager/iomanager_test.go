package iomanager

import (
	"testing"

	"github.com/rcornwell/pspemu/emu/device"
	"github.com/rcornwell/pspemu/emu/executor"
	"github.com/rcornwell/pspemu/emu/executor/executortest"
)

func testDescriptor(name string, base uint64) *device.Descriptor {
	return &device.Descriptor{
		Name:         name,
		Base:         base,
		WindowSize:   0x1000,
		InstanceSize: 4,
		Read: func(state []byte, offset uint32, size int) uint64 {
			if offset == 0 {
				return 0xCAFE
			}
			return 0
		},
		Write: func(state []byte, offset uint32, size int, value uint64) {
			state[0] = byte(value)
		},
	}
}

func TestRegisterMMIODeviceRoundTrip(t *testing.T) {
	fake := executortest.New()
	m := New(fake)

	d := testDescriptor("test-mmio-device", 0x03010000)
	inst, err := m.RegisterMMIODevice(d)
	if err != nil {
		t.Fatalf("RegisterMMIODevice: %v", err)
	}

	var buf [4]byte
	if err := fake.MemRead(0x03010000, buf[:]); err != nil {
		t.Fatalf("MemRead through mapped window: %v", err)
	}
	if buf[0] != 0xFE || buf[1] != 0xCA {
		t.Errorf("read through MMIO window did not reach the device: got %v", buf)
	}

	if err := m.Unregister(inst); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
}

func TestRegisterMMIODeviceOverlapRejected(t *testing.T) {
	fake := executortest.New()
	m := New(fake)

	if _, err := m.RegisterMMIODevice(testDescriptor("test-a", 0x03010000)); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := m.RegisterMMIODevice(testDescriptor("test-b", 0x03010800)); err == nil {
		t.Errorf("expected an overlapping window to be rejected")
	}
}

func TestSMNRoundTrip(t *testing.T) {
	fake := executortest.New()
	m := New(fake)

	d := &device.Descriptor{
		Name:         "test-smn-device",
		InstanceSize: 4,
		Read:         func(state []byte, offset uint32, size int) uint64 { return 0x55 },
		Write:        func(state []byte, offset uint32, size int, value uint64) { state[0] = byte(value) },
	}
	if _, err := m.RegisterSMNDevice(d, 1, 0x2000); err != nil {
		t.Fatalf("RegisterSMNDevice: %v", err)
	}

	if v, ok := m.SMNRead(1, 0x2000, 4); !ok || v != 0x55 {
		t.Errorf("SMNRead: got (%#x, %v) want (0x55, true)", v, ok)
	}
	if _, ok := m.SMNRead(2, 0x2000, 4); ok {
		t.Errorf("SMNRead with wrong ccd target should miss")
	}
	if !m.SMNWrite(1, 0x2000, 4, 0x42) {
		t.Errorf("SMNWrite should find the registered device")
	}
}

func TestMapX86WindowOverlapAndUnmap(t *testing.T) {
	fake := executortest.New()
	m := New(fake)

	read := func(offset uint64, size int) uint64 { return 0 }
	write := func(offset uint64, size int, value uint64) {}

	if err := m.MapX86Window(0x04000000, 0x04000000, read, write); err != nil {
		t.Fatalf("MapX86Window: %v", err)
	}
	if err := m.MapX86Window(0x05000000, 0x1000, read, write); err == nil {
		t.Errorf("expected an overlapping x86 window to be rejected")
	}
	if err := m.UnmapX86Window(0x04000000, 0x04000000); err != nil {
		t.Fatalf("UnmapX86Window: %v", err)
	}
	// Now the region is free again.
	if err := m.MapX86Window(0x04000000, 0x1000, read, write); err != nil {
		t.Errorf("re-mapping after unmap should succeed: %v", err)
	}
}

func TestUnregisterAllTearsDownEveryTable(t *testing.T) {
	fake := executortest.New()
	m := New(fake)

	var destructed int
	d := testDescriptor("test-teardown-device", 0x03020000)
	d.Destruct = func(state []byte) { destructed++ }
	if _, err := m.RegisterMMIODevice(d); err != nil {
		t.Fatalf("RegisterMMIODevice: %v", err)
	}

	m.UnregisterAll()
	if destructed != 1 {
		t.Errorf("UnregisterAll: got %d destructs want 1", destructed)
	}
	if len(fake.MMIOWindows()) != 0 {
		t.Errorf("UnregisterAll left %d mmio windows mapped", len(fake.MMIOWindows()))
	}
}

var _ executor.Core = (*executortest.Fake)(nil)
