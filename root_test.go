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
	"path/filepath"
	"testing"
	"time"

	"github.com/OpenPSG/framestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/rbase"
	"go-hep.org/x/hep/groot/rtree"
)

func TestROOTWriter(t *testing.T) {
	cfg := testConfig(t.TempDir(), 3)
	cfg.Channels = [4]int{1, -1, 3, -1}
	cfg.CompressionLevel = 1

	w, err := framestream.Create(framestream.FormatROOT, cfg, framestream.WithClock(fixedClock))
	require.NoError(t, err)
	require.Equal(t, ".root", w.FileExtension())
	require.Equal(t, filepath.Join(cfg.Directory, "20240102-030405.root"), w.Path())
	assert.Zero(t, framestream.FrameLimit(w))

	require.NoError(t, w.AddUserEntry("operator", "alice"))
	require.NoError(t, w.WriteHeader())

	// Single-channel frames need a single-channel selection.
	_, err = w.WriteFrame(0, ramp(3, 0), ramp(3, 0))
	require.ErrorIs(t, err, framestream.ErrUnsupported)

	for i := 0; i < 4; i++ {
		var data [4][]float32
		data[1] = ramp(3, float32(10*i))
		data[3] = ramp(3, float32(-10*i))

		ok, err := w.WriteFrameChannels(time.Duration(i)*time.Microsecond, ramp(3, 0), data)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, w.Finalize())

	f, err := groot.Open(w.Path())
	require.NoError(t, err)
	defer f.Close()

	obj, err := f.Get(framestream.ROOTSettingsKey)
	require.NoError(t, err)
	assert.Equal(t, "framerec --samples 4", obj.(*rbase.ObjString).String())

	obj, err = f.Get(framestream.ROOTUserHeaderKey)
	require.NoError(t, err)
	assert.Equal(t, "operator=alice\n", obj.(*rbase.ObjString).String())

	obj, err = f.Get(framestream.ROOTTreeName)
	require.NoError(t, err)
	tree := obj.(rtree.Tree)
	require.Equal(t, int64(4), tree.Entries())

	var (
		t0     int64
		n      int32
		timeAx []float32
		ch2    []float32
		ch4    []float32
	)
	r, err := rtree.NewReader(tree, []rtree.ReadVar{
		{Name: "t_0", Value: &t0},
		{Name: "n", Value: &n},
		{Name: "time", Value: &timeAx},
		{Name: "ch2", Value: &ch2},
		{Name: "ch4", Value: &ch4},
	})
	require.NoError(t, err)
	defer r.Close()

	err = r.Read(func(ctx rtree.RCtx) error {
		i := ctx.Entry
		assert.Equal(t, i*1000, t0)
		assert.Equal(t, int32(3), n)
		assert.Equal(t, ramp(3, 0), timeAx)
		assert.Equal(t, ramp(3, float32(10*i)), ch2)
		assert.Equal(t, ramp(3, float32(-10*i)), ch4)
		return nil
	})
	require.NoError(t, err)
}

func TestROOTWriterSingleChannel(t *testing.T) {
	cfg := testConfig(t.TempDir(), 2)
	cfg.Filename = "single.root"

	w, err := framestream.Create(framestream.FormatROOT, cfg)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader())

	ok, err := w.WriteFrame(0, []float32{0, 1}, []float32{5, 6})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, w.Finalize())

	f, err := groot.Open(w.Path())
	require.NoError(t, err)
	defer f.Close()

	obj, err := f.Get(framestream.ROOTTreeName)
	require.NoError(t, err)
	tree := obj.(rtree.Tree)
	require.Equal(t, int64(1), tree.Entries())

	var ch1 []float32
	r, err := rtree.NewReader(tree, []rtree.ReadVar{{Name: "ch1", Value: &ch1}})
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Read(func(rtree.RCtx) error {
		assert.Equal(t, []float32{5, 6}, ch1)
		return nil
	}))
}
