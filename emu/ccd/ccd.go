/*
 * PSPEmu - CCD: the per-core aggregate of executor, devices, and SVC layer.
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

// Package ccd composes one CPU core, its I/O manager, its registered device
// set, and (in App mode) its SVC layer into the single handle the rest of
// the emulator drives — the composition root for one core complex die.
package ccd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/rcornwell/pspemu/emu/cpucore"
	"github.com/rcornwell/pspemu/emu/device"
	"github.com/rcornwell/pspemu/emu/executor"
	"github.com/rcornwell/pspemu/emu/iomanager"
	"github.com/rcornwell/pspemu/emu/proxy"
	"github.com/rcornwell/pspemu/emu/svc"
	"github.com/rcornwell/pspemu/util/logger"
)

// Config describes one CCD's construction parameters.
type Config struct {
	SocketID   uint32
	CCDID      uint32
	Mode       cpucore.Mode
	EntryPoint uint32

	// Devices names the descriptors to instantiate; a nil/empty slice
	// instantiates every registered descriptor.
	Devices []string

	// Proxy is the egress link to real hardware. Required in ModeApp;
	// optional otherwise (System-mode firmware that never traps a
	// proxied SVC can run without one).
	Proxy proxy.Client

	Log *slog.Logger

	// NewExecutor builds the black-box CPU engine; nil selects the real
	// Unicorn-backed core. Tests substitute executortest.New to exercise
	// CCD composition without a live engine.
	NewExecutor func(svcCB func(imm uint32)) executor.Core
}

// CCD is one PSP core plus its device set and, in App mode, its SVC bridge.
type CCD struct {
	cfg       Config
	cpu       *cpucore.CpuCore
	io        *iomanager.Manager
	bridge    *svc.Bridge
	svcState  *svc.State
	instances []*device.Instance
}

// Create composes a CCD per cfg: a CPU core in the configured mode, an I/O
// manager bound to it, the selected device subset, and (ModeApp only) an
// SVC state tied to cfg.Proxy.
func Create(cfg Config) (*CCD, error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	cfg.Log = logger.WithCCD(cfg.Log, cfg.SocketID, cfg.CCDID)

	newExecutor := cfg.NewExecutor
	if newExecutor == nil {
		newExecutor = func(svcCB func(imm uint32)) executor.Core { return executor.NewUnicornCore(svcCB) }
	}

	bridge := svc.NewBridge()
	core := newExecutor(bridge.Hook)
	cpu, err := cpucore.New(cfg.Mode, core)
	if err != nil {
		return nil, fmt.Errorf("ccd: %w", err)
	}
	cpu.SetCCDID(cfg.CCDID)

	c := &CCD{cfg: cfg, cpu: cpu, io: iomanager.New(core), bridge: bridge}

	if err := c.registerDevices(); err != nil {
		_ = c.Destroy()
		return nil, err
	}

	if cfg.Mode == cpucore.ModeApp {
		if cfg.Proxy == nil {
			_ = c.Destroy()
			return nil, fmt.Errorf("ccd: mode App requires a proxy client")
		}
		st := svc.New(cpu, c.io, cfg.Proxy, cfg.Log)
		bridge.Bind(st)
		c.svcState = st
		cpu.SetSVCState(st)
	}

	cpu.ExecSetStartAddr(cfg.EntryPoint)
	return c, nil
}

func (c *CCD) registerDevices() error {
	names := c.cfg.Devices
	if len(names) == 0 {
		names = device.All()
	}

	var errs *multierror.Error
	for _, name := range names {
		d := device.Lookup(name)
		if d == nil {
			errs = multierror.Append(errs, fmt.Errorf("ccd: unknown device %q", name))
			continue
		}

		var inst *device.Instance
		var rerr error
		switch d.Space {
		case device.SpaceSMN:
			inst, rerr = c.io.RegisterSMNDevice(d, c.cfg.CCDID, uint32(d.Base))
		case device.SpaceX86:
			inst, rerr = c.io.RegisterX86Device(d, d.Base)
		default:
			inst, rerr = c.io.RegisterMMIODevice(d)
		}
		if rerr != nil {
			errs = multierror.Append(errs, fmt.Errorf("ccd: register %s: %w", name, rerr))
			continue
		}
		c.instances = append(c.instances, inst)
	}
	return errs.ErrorOrNil()
}

// Reset drops per-device state, re-runs init on every registered device, and
// rewinds PC to the configured entry point.
func (c *CCD) Reset() error {
	var errs *multierror.Error
	for _, inst := range c.instances {
		for i := range inst.State {
			inst.State[i] = 0
		}
		if inst.Descriptor.Init == nil {
			continue
		}
		if err := inst.Descriptor.Init(inst.State); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("ccd: reset %s: %w", inst.Descriptor.Name, err))
		}
	}
	c.cpu.ExecSetStartAddr(c.cfg.EntryPoint)
	return errs.ErrorOrNil()
}

// Run enters exec_run with unbounded ceilings; returns on halt, fault, or
// Stop.
func (c *CCD) Run() (executor.StopReason, error) {
	return c.cpu.ExecRun(0, 0)
}

// Stop is cooperative cancellation, safe to call from within a device
// callback or SVC handler running on this CCD's own thread.
func (c *CCD) Stop() {
	c.cpu.ExecStop()
}

// QueryCore exposes the underlying CPU-core handle for debugger integration.
func (c *CCD) QueryCore() *cpucore.CpuCore {
	return c.cpu
}

// Destroy unregisters every device and releases the executor. Safe to call
// on a partially constructed CCD.
func (c *CCD) Destroy() error {
	var errs *multierror.Error
	if c.io != nil {
		c.io.UnregisterAll()
	}
	if err := c.cpu.Destroy(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// CreateAll brings up every configured CCD concurrently, one errgroup
// goroutine per config with no concurrency limit, mirroring the socket x
// CCDs-per-socket topology of a real system. If any CCD fails to construct,
// every CCD that did succeed is torn down again and the first error is
// returned.
func CreateAll(ctx context.Context, configs []Config) ([]*CCD, error) {
	ccds := make([]*CCD, len(configs))
	g, _ := errgroup.WithContext(ctx)
	for i := range configs {
		i := i
		cfg := configs[i]
		g.Go(func() error {
			c, err := Create(cfg)
			if err != nil {
				return fmt.Errorf("ccd socket %d ccd %d: %w", cfg.SocketID, cfg.CCDID, err)
			}
			ccds[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, c := range ccds {
			if c != nil {
				_ = c.Destroy()
			}
		}
		return nil, err
	}
	return ccds, nil
}

// DestroyAll tears down every CCD, aggregating every failure rather than
// stopping at the first.
func DestroyAll(ccds []*CCD) error {
	var errs *multierror.Error
	for _, c := range ccds {
		if c == nil {
			continue
		}
		if err := c.Destroy(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
