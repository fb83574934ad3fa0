/*
 * PSPEmu - Main process.
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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	getopt "github.com/pborman/getopt/v2"

	"github.com/rcornwell/pspemu/config"
	"github.com/rcornwell/pspemu/emu/ccd"
	"github.com/rcornwell/pspemu/emu/cpucore"
	"github.com/rcornwell/pspemu/emu/proxy/serialproxy"
	"github.com/rcornwell/pspemu/util/logger"
)

var Logger *slog.Logger

func modeFromConfig(m config.Mode) cpucore.Mode {
	switch m {
	case config.ModeApp:
		return cpucore.ModeApp
	case config.ModeSystemOnChipBl:
		return cpucore.ModeSystemOnChipBl
	default:
		return cpucore.ModeSystem
	}
}

func main() {
	optConfig := getopt.StringLong("config", 'c', "pspemu.cfg", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optSerial := getopt.StringLong("proxy-serial", 's', "", "Serial device for the hardware proxy link")
	optBaud := getopt.IntLong("proxy-baud", 'b', 115200, "Serial link baud rate")
	optDebug := getopt.BoolLong("debug", 'd', "Echo debug-level log records to stderr")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if *optLogFile != "" {
		f, err := os.Create(*optLogFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "pspemu: create log file:", err)
			os.Exit(1)
		}
		file = f
	}
	Logger = logger.New(file, slog.LevelInfo, *optDebug)
	slog.SetDefault(Logger)

	Logger.Info("PSPEmu started")

	cfgPath := *optConfig
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfgPath = ""
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		Logger.Error("loading configuration", "error", err)
		os.Exit(1)
	}

	var proxyClient *serialproxy.Proxy
	if *optSerial != "" {
		proxyClient, err = serialproxy.Open(*optSerial, *optBaud)
		if err != nil {
			Logger.Error("opening proxy link", "error", err)
			os.Exit(1)
		}
		defer proxyClient.Close()
	}

	var configs []ccd.Config
	for socket := 0; socket < cfg.Sockets; socket++ {
		for id := 0; id < cfg.CCDsPerSocket; id++ {
			c := ccd.Config{
				SocketID: uint32(socket),
				CCDID:    uint32(id),
				Mode:     modeFromConfig(cfg.Mode),
				Devices:  cfg.Devices,
				Log:      Logger,
			}
			if proxyClient != nil {
				c.Proxy = proxyClient
			}
			configs = append(configs, c)
		}
	}

	ccds, err := ccd.CreateAll(context.Background(), configs)
	if err != nil {
		Logger.Error("bringing up CCDs", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for _, c := range ccds {
		c := c
		go func() {
			if _, err := c.Run(); err != nil {
				Logger.Error("CCD run", "error", err)
			}
		}()
	}

	<-sigChan
	Logger.Info("shutting down")
	for _, c := range ccds {
		c.Stop()
	}
	if err := ccd.DestroyAll(ccds); err != nil {
		Logger.Error("tearing down CCDs", "error", err)
	}
}
