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
	"os"
	"path/filepath"
	"time"

	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/rbase"
	"go-hep.org/x/hep/groot/rtree"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	rootExt = ".root"

	// ROOTTreeName is the name of the tree holding the frames.
	ROOTTreeName = "data"
	// ROOTSettingsKey holds the command line of the recording.
	ROOTSettingsKey = "record_settings"
	// ROOTUserHeaderKey holds the user header as key=value lines.
	ROOTUserHeaderKey = "user_header"
)

// rootWriter stores frames as entries of a ROOT tree. The tree has a t_0
// branch with the frame timestamp in nanoseconds, the sample count n, the
// time axis and one ch<k> branch per selected channel k-1.
type rootWriter struct {
	stream
	f    *groot.File
	tree rtree.Writer

	// Branch values, read by the tree writer on every Write.
	t0    int64
	n     int32
	time  []float32
	chans [NumChannels][]float32
}

func createROOT(cfg Config, o options) (Writer, error) {
	if err := checkCompressionLevel(FormatROOT, cfg); err != nil {
		return nil, err
	}

	rw := &rootWriter{stream: newStream(cfg, o, 0)}
	rw.path = resolvePath(cfg, rootExt, o.now)

	if dir := filepath.Dir(rw.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating output directory: %w", err)
		}
	}

	f, err := groot.Create(rw.path)
	if err != nil {
		return nil, fmt.Errorf("error creating output file: %w", err)
	}

	wvars := []rtree.WriteVar{
		{Name: "t_0", Value: &rw.t0},
		{Name: "n", Value: &rw.n},
		{Name: "time", Value: &rw.time, Count: "n"},
	}
	for _, ch := range cfg.SelectedChannels() {
		wvars = append(wvars, rtree.WriteVar{
			Name:  fmt.Sprintf("ch%d", ch+1),
			Value: &rw.chans[ch],
			Count: "n",
		})
	}

	wopts := []rtree.WriteOption{rtree.WithoutCompression()}
	if cfg.Compressed() {
		wopts = []rtree.WriteOption{rtree.WithZlib(cfg.CompressionLevel)}
	}

	tree, err := rtree.NewWriter(f, ROOTTreeName, wvars, wopts...)
	if err != nil {
		err = multierr.Append(err, f.Close())
		if rerr := os.Remove(rw.path); rerr != nil {
			rw.logger.Warn("could not remove incomplete root file", zap.String("path", rw.path), zap.Error(rerr))
		}
		return nil, fmt.Errorf("error creating tree: %w", err)
	}
	rw.f = f
	rw.tree = tree

	rw.logger.Debug("opened root file", zap.String("path", rw.path))

	return rw, nil
}

func (rw *rootWriter) FileExtension() string {
	return rootExt
}

// WriteHeader stores the command line and the user header as strings.
func (rw *rootWriter) WriteHeader() error {
	if err := rw.beginHeader(); err != nil {
		return err
	}

	if err := rw.f.Put(ROOTSettingsKey, rbase.NewObjString(rw.cfg.CommandLine)); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	if err := rw.f.Put(ROOTUserHeaderKey, rbase.NewObjString(binaryUserBlob(rw.user))); err != nil {
		return fmt.Errorf("error writing user header: %w", err)
	}

	rw.headerWritten = true
	return nil
}

// WriteFrame stores data as the selected channel. It needs a single-channel
// selection since every channel branch must hold n samples.
func (rw *rootWriter) WriteFrame(ts time.Duration, timeAxis, data []float32) (bool, error) {
	if err := rw.checkSingle(FormatROOT, timeAxis, data); err != nil {
		return false, err
	}

	var chans [NumChannels][]float32
	chans[rw.cfg.SelectedChannels()[0]] = data
	return rw.fill(ts, timeAxis, chans)
}

func (rw *rootWriter) WriteFrameChannels(ts time.Duration, timeAxis []float32, data [NumChannels][]float32) (bool, error) {
	if err := rw.checkChannels(timeAxis, data); err != nil {
		return false, err
	}
	return rw.fill(ts, timeAxis, data)
}

func (rw *rootWriter) fill(ts time.Duration, timeAxis []float32, data [NumChannels][]float32) (bool, error) {
	rw.t0 = ts.Nanoseconds()
	rw.n = int32(len(timeAxis))
	rw.time = timeAxis
	rw.chans = data

	_, err := rw.tree.Write()

	// Frames are not retained past the call.
	rw.time = nil
	rw.chans = [NumChannels][]float32{}

	if err != nil {
		return false, fmt.Errorf("error writing frame: %w", err)
	}

	rw.frames.n++
	return true, nil
}

func (rw *rootWriter) Finalize() error {
	if err := rw.beginFinalize(); err != nil {
		return err
	}

	var err error
	if terr := rw.tree.Close(); terr != nil {
		err = multierr.Append(err, fmt.Errorf("error closing tree: %w", terr))
	}
	err = multierr.Append(err, rw.f.Close())

	rw.logger.Info("finalized root file",
		zap.String("path", rw.path), zap.Uint64("frames", rw.frames.n), zap.Error(err))

	return err
}
