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
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// MultiFileBinaryMagic starts every binary frame file.
	MultiFileBinaryMagic = "#BIN\n"
	// MultiFileTextMagic starts every text frame file.
	MultiFileTextMagic = "#TXT\n"

	multiFileBinaryExt  = ".dat"
	multiFileTextExt    = ".csv"
	multiFileDefaultDir = "frames-"
	multiFileBaseName   = "frame"
)

// multiFileWriter writes every frame to its own file in one directory.
type multiFileWriter struct {
	stream
	base    string
	scratch []byte
}

func createMultiFile(cfg Config, o options) (Writer, error) {
	if cfg.Binary {
		if err := requireSingleChannel(FormatMultiFile, cfg); err != nil {
			return nil, err
		}
	}

	mw := &multiFileWriter{stream: newStream(cfg, o, multiFileFrameLimit)}

	mw.path = cfg.Directory
	if mw.path == "" {
		mw.path = multiFileDefaultDir + o.now().Format(timestampLayout)
	}
	mw.base = cfg.Filename
	if mw.base == "" {
		mw.base = multiFileBaseName
	}

	fi, err := os.Stat(mw.path)
	switch {
	case err == nil && !fi.IsDir():
		return nil, fmt.Errorf("error creating output directory: %s is not a directory", mw.path)
	case err == nil:
		mw.logger.Warn("output directory already exists, frames will be overwritten",
			zap.String("directory", mw.path))
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(mw.path, 0o755); err != nil {
			return nil, fmt.Errorf("error creating output directory: %w", err)
		}
	default:
		return nil, fmt.Errorf("error creating output directory: %w", err)
	}

	mw.logger.Debug("opened frame directory",
		zap.String("directory", mw.path), zap.Bool("binary", cfg.Binary))

	return mw, nil
}

func (mw *multiFileWriter) FileExtension() string {
	if mw.cfg.Binary {
		return multiFileBinaryExt
	}
	return multiFileTextExt
}

// WriteHeader writes nothing, frame files carry no shared header.
func (mw *multiFileWriter) WriteHeader() error {
	if err := mw.beginHeader(); err != nil {
		return err
	}
	mw.headerWritten = true
	return nil
}

func (mw *multiFileWriter) WriteFrame(_ time.Duration, timeAxis, data []float32) (bool, error) {
	if err := mw.checkSingle(FormatMultiFile, timeAxis, data); err != nil {
		return false, err
	}
	if mw.limitReached() {
		return false, nil
	}

	if mw.cfg.Binary {
		return mw.writeFile(func(w io.Writer) error {
			if _, err := io.WriteString(w, MultiFileBinaryMagic); err != nil {
				return err
			}
			return writeSamples(w, timeAxis, data)
		})
	}

	return mw.writeText(timeAxis, [][]float32{data})
}

func (mw *multiFileWriter) WriteFrameChannels(_ time.Duration, timeAxis []float32, data [NumChannels][]float32) (bool, error) {
	if mw.cfg.Binary {
		return unsupportedChannels(FormatMultiFile)
	}
	if err := mw.checkChannels(timeAxis, data); err != nil {
		return false, err
	}
	if mw.limitReached() {
		return false, nil
	}

	cols := make([][]float32, 0, NumChannels)
	for _, ch := range mw.cfg.SelectedChannels() {
		cols = append(cols, data[ch])
	}
	return mw.writeText(timeAxis, cols)
}

func (mw *multiFileWriter) writeText(timeAxis []float32, cols [][]float32) (bool, error) {
	b := append(mw.scratch[:0], MultiFileTextMagic...)
	b = appendTextRows(b, timeAxis, cols)
	mw.scratch = b

	return mw.writeFile(func(w io.Writer) error {
		_, err := w.Write(b)
		return err
	})
}

// frameFileName returns the name of the file holding frame n.
func (mw *multiFileWriter) frameFileName(n uint64) string {
	return filepath.Join(mw.path, fmt.Sprintf("%s_%06d%s", mw.base, n, mw.FileExtension()))
}

// writeFile writes the next frame file. A file that could not be written
// completely is removed.
func (mw *multiFileWriter) writeFile(fill func(w io.Writer) error) (bool, error) {
	name := mw.frameFileName(mw.frames.n)

	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return false, fmt.Errorf("error creating frame file: %w", err)
	}

	w := bufio.NewWriter(f)
	err = fill(w)
	if err == nil {
		err = w.Flush()
	}
	err = multierr.Append(err, f.Close())
	if err != nil {
		if rerr := os.Remove(name); rerr != nil {
			mw.logger.Warn("could not remove incomplete frame file", zap.String("file", name), zap.Error(rerr))
		}
		return false, fmt.Errorf("error writing frame file: %w", err)
	}

	mw.frames.n++
	return true, nil
}

// Finalize only marks the stream finished, every frame file is closed as
// soon as it is written.
func (mw *multiFileWriter) Finalize() error {
	if err := mw.beginFinalize(); err != nil {
		return err
	}

	mw.logger.Info("finalized frame directory",
		zap.String("directory", mw.path), zap.Uint64("frames", mw.frames.n))

	return nil
}
