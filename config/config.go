/*
 * PSPEmu - Configuration loading.
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

// Package config loads the frozen configuration blob the CCD layer is
// handed at creation. Field set mirrors the external CLI surface: emulation
// mode, micro-architecture, topology, paths, and the device allow-list.
// Loading goes through viper so a deployment can layer a config file and
// environment variables, keeping parsing separate from the emulation core.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Mode names the emulation mode a CCD boots into.
type Mode string

const (
	ModeApp            Mode = "App"
	ModeSystem         Mode = "System"
	ModeSystemOnChipBl Mode = "SystemOnChipBl"
)

// MicroArch names the Zen generation being modeled.
type MicroArch string

const (
	MicroArchZen     MicroArch = "Zen"
	MicroArchZenPlus MicroArch = "ZenPlus"
	MicroArchZen2    MicroArch = "Zen2"
)

// Segment names the product line a config targets.
type Segment string

const (
	SegmentRyzen        Segment = "Ryzen"
	SegmentRyzenPro     Segment = "RyzenPro"
	SegmentThreadripper Segment = "Threadripper"
	SegmentEpyc         Segment = "Epyc"
)

// Config is the frozen blob handed to the CCD layer. Every field here is a
// named CLI surface field; parsing the CLI itself is out of scope.
type Config struct {
	Mode        Mode
	MicroArch   MicroArch
	Segment     Segment
	ACPIState   string // "S0".."S5"

	FlashROMPath       string
	OnChipBootloader   string
	BinaryToLoad       string
	BootROMServicePage string
	AppPreload         string

	BinaryHas256ByteHeader bool
	LoadPSPDir             bool
	PSPDebugMode           bool
	InterceptSVC6          bool
	TraceSVCs              bool
	RealtimeTimer          bool

	DebuggerPort      int // 0 disables the debugger.
	FlashEmuPort      int

	Sockets       int
	CCDsPerSocket int

	Devices []string // empty means instantiate every registered device.
}

// Load reads Config from path (if non-empty), layering environment variable
// overrides (prefixed PSPEMU_) on top, so env beats file beats default. No
// command-line flags are bound: main.go's getopt flags select the config
// file, log, and proxy link, and override no Config field.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("pspemu")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{
		Mode:                   Mode(v.GetString("mode")),
		MicroArch:              MicroArch(v.GetString("microarch")),
		Segment:                Segment(v.GetString("segment")),
		ACPIState:              v.GetString("acpistate"),
		FlashROMPath:           v.GetString("flashrompath"),
		OnChipBootloader:       v.GetString("onchipbootloader"),
		BinaryToLoad:           v.GetString("binarytoload"),
		BootROMServicePage:     v.GetString("bootromservicepage"),
		AppPreload:             v.GetString("apppreload"),
		BinaryHas256ByteHeader: v.GetBool("binaryhas256byteheader"),
		LoadPSPDir:             v.GetBool("loadpspdir"),
		PSPDebugMode:           v.GetBool("pspdebugmode"),
		InterceptSVC6:          v.GetBool("interceptsvc6"),
		TraceSVCs:              v.GetBool("tracesvcs"),
		RealtimeTimer:          v.GetBool("realtimetimer"),
		DebuggerPort:           v.GetInt("debuggerport"),
		FlashEmuPort:           v.GetInt("flashemuport"),
		Sockets:                v.GetInt("sockets"),
		CCDsPerSocket:          v.GetInt("ccdspersocket"),
		Devices:                v.GetStringSlice("devices"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(ModeSystem))
	v.SetDefault("microarch", string(MicroArchZen2))
	v.SetDefault("segment", string(SegmentRyzen))
	v.SetDefault("acpistate", "S0")
	v.SetDefault("debuggerport", 0)
	v.SetDefault("flashemuport", 0)
	v.SetDefault("sockets", 1)
	v.SetDefault("ccdspersocket", 1)
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModeApp, ModeSystem, ModeSystemOnChipBl:
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	if c.Sockets <= 0 || c.CCDsPerSocket <= 0 {
		return fmt.Errorf("config: sockets and ccdspersocket must both be positive")
	}
	return nil
}
