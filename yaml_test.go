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
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OpenPSG/framestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const expectedYAMLHeader = `---
 - version: 1
 - free_trigger: True
 - count: 3
 - operator: "a: b"
 - samples_per_frame: 4
 - trigger_delay_percent: 12.5
...
`

func TestYAMLBinaryWriter(t *testing.T) {
	cfg := testConfig(t.TempDir(), 4)
	cfg.FreeTrigger = true
	cfg.TriggerDelayPercent = 12.5

	w, err := framestream.Create(framestream.FormatYAMLBinary, cfg, framestream.WithClock(fixedClock))
	require.NoError(t, err)
	require.Equal(t, ".ybin", w.FileExtension())
	require.Equal(t, filepath.Join(cfg.Directory, "20240102-030405.ybin"), w.Path())

	require.NoError(t, w.AddUserEntry("operator", "a: b"))
	require.NoError(t, framestream.AddUserInt(w, "count", 3))
	require.NoError(t, w.WriteHeader())

	for i := 0; i < 3; i++ {
		ok, err := w.WriteFrame(0, ramp(4, 0), ramp(4, float32(10*i)))
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, w.Finalize())

	b, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(b), expectedYAMLHeader), string(b))
	assert.Len(t, b, len(expectedYAMLHeader)+3*2*4*4)

	f, err := os.Open(w.Path())
	require.NoError(t, err)
	defer f.Close()

	r := bufio.NewReader(f)
	entries, err := framestream.ReadYAMLHeader(r)
	require.NoError(t, err)
	assert.Equal(t, framestream.UserHeader{
		"version":               "1",
		"free_trigger":          "True",
		"count":                 "3",
		"operator":              "a: b",
		"samples_per_frame":     "4",
		"trigger_delay_percent": "12.5",
	}, entries)

	body, err := io.ReadAll(r)
	require.NoError(t, err)
	samples := readFloats(t, body)
	require.Len(t, samples, 3*2*4)
	assert.Equal(t, ramp(4, 0), samples[16:20])
	assert.Equal(t, ramp(4, 20), samples[20:24])
}

func TestYAMLBinaryWriterQuoting(t *testing.T) {
	cfg := testConfig(t.TempDir(), 1)
	cfg.Filename = "quoting.ybin"

	w, err := framestream.Create(framestream.FormatYAMLBinary, cfg)
	require.NoError(t, err)

	values := map[string]string{
		"plain":   "alice",
		"colon":   "a: b",
		"comment": "x # y",
		"empty":   "",
		"quote":   `say "hi"`,
		"list":    "[1, 2]",
		"spaces":  " padded ",
	}
	for k, v := range values {
		require.NoError(t, w.AddUserEntry(k, v))
	}
	require.NoError(t, w.WriteHeader())
	require.NoError(t, w.Finalize())

	f, err := os.Open(w.Path())
	require.NoError(t, err)
	defer f.Close()

	entries, err := framestream.ReadYAMLHeader(bufio.NewReader(f))
	require.NoError(t, err)
	for k, v := range values {
		assert.Equal(t, v, entries[k], k)
	}
	assert.Equal(t, "False", entries["free_trigger"])
}

func TestYAMLBinaryWriterRejectsMultiChannel(t *testing.T) {
	dir := t.TempDir()

	cfg := testConfig(dir, 4)
	cfg.Channels = [4]int{-1, 1, 2, -1}
	_, err := framestream.Create(framestream.FormatYAMLBinary, cfg)
	require.ErrorIs(t, err, framestream.ErrUnsupported)
	require.Empty(t, dirEntries(t, dir))

	w, err := framestream.Create(framestream.FormatYAMLBinary, testConfig(dir, 4))
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader())

	_, err = w.WriteFrameChannels(0, ramp(4, 0), [4][]float32{ramp(4, 0)})
	require.ErrorIs(t, err, framestream.ErrUnsupported)
	require.NoError(t, w.Finalize())
}

func TestYAMLBinaryWriterFrameLimit(t *testing.T) {
	w, err := framestream.Create(framestream.FormatYAMLBinary, testConfig(t.TempDir(), 4))
	require.NoError(t, err)
	require.Equal(t, uint64(999_999_999), framestream.FrameLimit(w))
	framestream.SetFrameLimit(w, 1)

	require.NoError(t, w.WriteHeader())

	ok, err := w.WriteFrame(0, ramp(4, 0), ramp(4, 0))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = w.WriteFrame(0, ramp(4, 0), ramp(4, 0))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, w.Finalize())
}

func TestReadYAMLHeaderErrors(t *testing.T) {
	_, err := framestream.ReadYAMLHeader(bufio.NewReader(strings.NewReader("hello\n")))
	require.Error(t, err)

	_, err = framestream.ReadYAMLHeader(bufio.NewReader(strings.NewReader("---\n - version: 1\n")))
	require.Error(t, err)

	_, err = framestream.ReadYAMLHeader(bufio.NewReader(strings.NewReader("---\nversion: 1\n...\n")))
	require.Error(t, err)
}

func TestReadBinaryHeaderBadMagic(t *testing.T) {
	_, _, err := framestream.ReadBinaryHeader(strings.NewReader("#XYZ\n" + strings.Repeat("\x00", 15)))
	require.Error(t, err)

	_, _, err = framestream.ReadBinaryHeader(strings.NewReader("#DTA"))
	require.Error(t, err)
}
