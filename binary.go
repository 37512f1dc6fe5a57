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
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// BinaryHeaderSize is the size in bytes of the binary container header.
	BinaryHeaderSize = 20
	// BinaryMagic starts every binary container.
	BinaryMagic = "#DTA\n"
	// BinaryVersion is the version of the binary container written.
	BinaryVersion = 1

	binaryExt = ".dat"
)

func init() {
	if n := binary.Size(BinaryHeader{}); n != BinaryHeaderSize {
		panic(fmt.Sprintf("binary header is %d bytes, expected %d", n, BinaryHeaderSize))
	}
}

// headerSlot is a header region reserved at the start of a stream. The
// provisional header written by reserveHeader stays in place until commit
// rewrites it with the final values.
type headerSlot struct {
	w         io.WriteSeeker
	offset    int64
	committed bool
}

func reserveHeader(w io.WriteSeeker, hdr *BinaryHeader) (*headerSlot, error) {
	offset, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return nil, err
	}

	return &headerSlot{w: w, offset: offset}, nil
}

// commit rewrites the header and restores the write position.
func (hs *headerSlot) commit(hdr *BinaryHeader) error {
	if hs.committed {
		return ErrFinalized
	}

	end, err := hs.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	// Rewind to the reserved header.
	if _, err := hs.w.Seek(hs.offset, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(hs.w, binary.LittleEndian, hdr); err != nil {
		return err
	}
	if _, err := hs.w.Seek(end, io.SeekStart); err != nil {
		return err
	}

	hs.committed = true
	return nil
}

// binaryWriter writes the fixed-layout binary container.
type binaryWriter struct {
	stream
	f    *os.File
	buf  *bufio.Writer
	hdr  BinaryHeader
	slot *headerSlot
}

func createBinary(cfg Config, o options) (Writer, error) {
	if err := requireSingleChannel(FormatBinary, cfg); err != nil {
		return nil, err
	}
	if cfg.FramesPerSample > math.MaxUint16 {
		return nil, fmt.Errorf("%w: binary format holds at most %d samples per frame, got %d",
			ErrInvalidConfig, math.MaxUint16, cfg.FramesPerSample)
	}

	bw := &binaryWriter{stream: newStream(cfg, o, binaryFrameLimit)}
	bw.path = resolvePath(cfg, binaryExt, o.now)

	if cfg.Compressed() {
		bw.logger.Warn("binary format is never compressed, ignoring compression level",
			zap.Int("level", cfg.CompressionLevel))
	}

	f, err := createFile(bw.path)
	if err != nil {
		return nil, err
	}
	bw.f = f
	bw.buf = bufio.NewWriter(f)

	bw.logger.Debug("opened binary container", zap.String("path", bw.path))

	return bw, nil
}

func (bw *binaryWriter) FileExtension() string {
	return binaryExt
}

// WriteHeader writes the provisional header, with a frame count of zero,
// followed by the user header blob.
func (bw *binaryWriter) WriteHeader() error {
	if err := bw.beginHeader(); err != nil {
		return err
	}

	blob := binaryUserBlob(bw.user)
	if len(blob) > math.MaxUint16 {
		return fmt.Errorf("%w: user header is %d bytes, at most %d fit the binary header",
			ErrInvalidConfig, len(blob), math.MaxUint16)
	}

	bw.hdr = BinaryHeader{
		Version:         BinaryVersion,
		FramesPerSample: uint16(bw.cfg.FramesPerSample),
		DataOffset:      uint16(len(blob)),
	}
	copy(bw.hdr.Magic[:], BinaryMagic)
	if bw.cfg.FreeTrigger {
		bw.hdr.Flags |= BinaryFlagFreeTrigger
	}

	slot, err := reserveHeader(bw.f, &bw.hdr)
	if err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	bw.slot = slot

	if _, err := io.WriteString(bw.f, blob); err != nil {
		return fmt.Errorf("error writing user header: %w", err)
	}

	bw.headerWritten = true
	return nil
}

func (bw *binaryWriter) WriteFrame(_ time.Duration, timeAxis, data []float32) (bool, error) {
	if err := bw.checkSingle(FormatBinary, timeAxis, data); err != nil {
		return false, err
	}
	if bw.limitReached() {
		return false, nil
	}

	if err := writeSamples(bw.buf, timeAxis, data); err != nil {
		return false, err
	}

	// Ensure all data is flushed to the underlying writer
	if err := bw.buf.Flush(); err != nil {
		return false, fmt.Errorf("error writing frame: %w", err)
	}

	bw.frames.n++
	return true, nil
}

func (bw *binaryWriter) WriteFrameChannels(time.Duration, []float32, [NumChannels][]float32) (bool, error) {
	return unsupportedChannels(FormatBinary)
}

// Finalize patches the frame count into the header and closes the file.
func (bw *binaryWriter) Finalize() error {
	if err := bw.beginFinalize(); err != nil {
		return err
	}

	var err error
	if bw.slot != nil {
		if ferr := bw.buf.Flush(); ferr != nil {
			err = multierr.Append(err, fmt.Errorf("error flushing frames: %w", ferr))
		}

		bw.hdr.NumFrames = uint32(bw.frames.n)
		if cerr := bw.slot.commit(&bw.hdr); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("error writing header: %w", cerr))
		}
	}
	err = multierr.Append(err, bw.f.Close())

	bw.logger.Info("finalized binary container",
		zap.String("path", bw.path), zap.Uint64("frames", bw.frames.n), zap.Error(err))

	return err
}

// binaryUserBlob renders the user header as key=value lines.
func binaryUserBlob(h UserHeader) string {
	var sb strings.Builder
	for _, k := range h.Keys() {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(h[k])
		sb.WriteByte('\n')
	}
	return sb.String()
}
