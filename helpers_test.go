// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package framestream_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/OpenPSG/framestream"
	"github.com/stretchr/testify/require"
)

var recordStart = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func fixedClock() time.Time {
	return recordStart
}

// testConfig returns a single-channel configuration writing to dir.
func testConfig(dir string, samples int) framestream.Config {
	cfg := framestream.DefaultConfig()
	cfg.Directory = dir
	cfg.FramesPerSample = samples
	cfg.CommandLine = "framerec --samples 4"
	return cfg
}

// ramp returns n values starting at start.
func ramp(n int, start float32) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = start + float32(i)
	}
	return v
}

// readFloats decodes little endian float32 values.
func readFloats(t *testing.T, b []byte) []float32 {
	t.Helper()

	v := make([]float32, len(b)/4)
	require.NoError(t, binary.Read(bytes.NewReader(b), binary.LittleEndian, v))
	return v
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()

	fi, err := os.Stat(path)
	require.NoError(t, err)
	return fi.Size()
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
