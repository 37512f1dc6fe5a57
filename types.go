// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package framestream

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// NumChannels is the number of channel selection slots.
const NumChannels = 4

// Unused marks a channel selection slot that carries no channel.
const Unused = -1

// NoCompression disables compression.
const NoCompression = -1

// Config describes a recording session. The writer keeps its own copy, so
// changes made to a Config after Create have no effect on the stream.
type Config struct {
	Directory           string           `yaml:"directory"`             // Output directory
	Filename            string           `yaml:"filename"`              // Base name, a timestamp is used if empty
	FramesPerSample     int              `yaml:"frames_per_sample"`     // Samples in every frame
	CompressionLevel    int              `yaml:"compression_level"`     // -1 disables compression
	FreeTrigger         bool             `yaml:"free_trigger"`          // Frames were not externally triggered
	Binary              bool             `yaml:"binary"`                // Binary sub-mode of the multi-file format
	TriggerDelayPercent float32          `yaml:"trigger_delay_percent"` // Trigger position within the frame
	Channels            [NumChannels]int `yaml:"channels"`              // Source channel per output column, -1 if unused
	CommandLine         string           `yaml:"-"`                     // Invoking command line, recorded verbatim
}

// DefaultConfig returns the configuration of a single-channel recording of
// 1024 samples per frame.
func DefaultConfig() Config {
	return Config{
		FramesPerSample:     1024,
		CompressionLevel:    NoCompression,
		TriggerDelayPercent: 100,
		Channels:            [NumChannels]int{0, Unused, Unused, Unused},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.FramesPerSample <= 0 {
		return fmt.Errorf("%w: frames per sample must be positive, got %d", ErrInvalidConfig, c.FramesPerSample)
	}

	var seen [NumChannels]bool
	for slot, ch := range c.Channels {
		if ch == Unused {
			continue
		}
		if ch < 0 || ch >= NumChannels {
			return fmt.Errorf("%w: channel slot %d selects invalid channel %d", ErrInvalidConfig, slot, ch)
		}
		if seen[ch] {
			return fmt.Errorf("%w: channel %d selected more than once", ErrInvalidConfig, ch)
		}
		seen[ch] = true
	}

	if len(c.SelectedChannels()) == 0 {
		return fmt.Errorf("%w: no channel selected", ErrInvalidConfig)
	}

	// The command line is stored as a single header line.
	if strings.ContainsAny(c.CommandLine, "\r\n") {
		return fmt.Errorf("%w: command line contains a line break", ErrInvalidConfig)
	}

	return nil
}

// Compressed reports whether compression was requested.
func (c *Config) Compressed() bool {
	return c.CompressionLevel != NoCompression
}

// SelectedChannels returns the selected source channels in output column order.
func (c *Config) SelectedChannels() []int {
	var chans []int
	for _, ch := range c.Channels {
		if ch != Unused {
			chans = append(chans, ch)
		}
	}
	return chans
}

// ChannelSummary renders the channel selection as comma separated slots, e.g. "0,-1,-1,-1".
func (c *Config) ChannelSummary() string {
	parts := make([]string, len(c.Channels))
	for i, ch := range c.Channels {
		parts[i] = strconv.Itoa(ch)
	}
	return strings.Join(parts, ",")
}

// UserHeader holds free-form key/value entries stored alongside the
// recording. Entries are always serialized in lexicographic key order.
type UserHeader map[string]string

// Set inserts or overwrites an entry.
func (h UserHeader) Set(key, value string) {
	h[key] = value
}

// Keys returns the keys in serialization order.
func (h UserHeader) Keys() []string {
	return slices.Sorted(maps.Keys(h))
}

// FormatInt formats an integer user header value.
func FormatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

// FormatFloat formats a floating point user header value using the shortest
// representation that parses back to the same value.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// FormatBool formats a boolean user header value as "true" or "false".
func FormatBool(v bool) string {
	return strconv.FormatBool(v)
}

// Frame is one synchronized capture as supplied by an acquisition source.
type Frame struct {
	Timestamp time.Duration          // Time since acquisition start
	Time      []float32              // Time axis
	Channels  [NumChannels][]float32 // Samples indexed by source channel
}

// Format identifies a backend.
type Format int

const (
	FormatBinary     Format = iota // Fixed-layout binary container
	FormatText                     // Delimited text, optionally gzip compressed
	FormatMultiFile                // One file per frame
	FormatYAMLBinary               // YAML header followed by raw frames
	FormatROOT                     // ROOT TTree file
)

// String returns the name of the format as accepted by ParseFormat.
func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatText:
		return "text"
	case FormatMultiFile:
		return "multifile"
	case FormatYAMLBinary:
		return "yaml"
	case FormatROOT:
		return "root"
	default:
		return "unknown"
	}
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "binary", "dat":
		return FormatBinary, nil
	case "text", "csv":
		return FormatText, nil
	case "multifile", "multi":
		return FormatMultiFile, nil
	case "yaml", "ybin":
		return FormatYAMLBinary, nil
	case "root":
		return FormatROOT, nil
	default:
		return 0, fmt.Errorf("%w: unknown format %q", ErrInvalidConfig, s)
	}
}

// BinaryHeader is the fixed 20 byte header of the binary container.
type BinaryHeader struct {
	Magic           [5]byte // "#DTA\n"
	Version         uint8   // Format version
	FramesPerSample uint16  // Samples in every frame
	NumFrames       uint32  // Number of frames, 0 until the stream is finalized
	Flags           uint8   // BinaryFlagCompressed | BinaryFlagFreeTrigger
	_               [3]byte // Reserved
	DataOffset      uint16  // Length of the user header blob that follows
	_               [2]byte // Reserved
}

// Binary header flags.
const (
	BinaryFlagCompressed  uint8 = 1 << 0
	BinaryFlagFreeTrigger uint8 = 1 << 1
)
