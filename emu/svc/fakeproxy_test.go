package svc

import "github.com/rcornwell/pspemu/emu/proxy"

type writeRecord struct {
	addr uint64
	data []byte
}

// readRecord captures one MemRead call's address and length, so tests can
// assert the SVC layer only ever asks for the bytes a read actually needs.
type readRecord struct {
	addr   uint64
	length int
}

// fakeProxy is a proxy.Client test double. bases supplies the sequence of
// PSP window bases returned for successive x86_mem_map calls; once
// exhausted it synthesizes distinct, non-overlapping 64 MiB-aligned bases so
// callers can still exercise slot exhaustion.
type fakeProxy struct {
	bases []uint32

	mapCalls   int
	unmapCalls []uint32
	writes     []writeRecord
	readCalls  []readRecord
	staged     map[uint64][]byte
}

func newFakeProxy(bases ...uint32) *fakeProxy {
	return &fakeProxy{bases: bases, staged: map[uint64][]byte{}}
}

func (p *fakeProxy) SvcCall(idx uint32, a0, a1, a2, a3 uint32) (proxy.Result, error) {
	switch idx {
	case 0x07, 0x25:
		var base uint32
		if p.mapCalls < len(p.bases) {
			base = p.bases[p.mapCalls]
		} else {
			base = 0x40000000 + uint32(p.mapCalls)*0x04000000
		}
		p.mapCalls++
		return proxy.Result{Status: 0, Out: [4]uint32{base}}, nil
	case 0x08:
		p.unmapCalls = append(p.unmapCalls, a0)
		return proxy.Result{Status: 0}, nil
	default:
		return proxy.Result{Status: 0}, nil
	}
}

func (p *fakeProxy) MemRead(addr uint64, buf []byte) error {
	p.readCalls = append(p.readCalls, readRecord{addr: addr, length: len(buf)})
	if data, ok := p.staged[addr]; ok {
		copy(buf, data)
	}
	return nil
}

func (p *fakeProxy) MemWrite(addr uint64, data []byte) error {
	p.writes = append(p.writes, writeRecord{addr: addr, data: append([]byte(nil), data...)})
	return nil
}
