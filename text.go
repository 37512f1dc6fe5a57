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
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	textExt     = ".csv"
	textGzipExt = ".csv.gz"
	textVersion = 1

	// Markers of the delimited text format.
	TextMetaMarker  = "##METATEXT"
	TextUserMarker  = "##USERHEADER"
	TextFrameMarker = "##FRAME:"
)

// textWriter writes the delimited text format. When compression is enabled
// the file is a two member gzip stream: the header is stored uncompressed in
// the first member, which is closed and flushed before the frame body starts
// in a second member at the requested level. A decompressor that stops after
// the first member still recovers the complete header.
type textWriter struct {
	stream
	f       *os.File
	buf     *bufio.Writer
	gz      *gzip.Writer
	out     io.Writer
	scratch []byte
}

func createText(cfg Config, o options) (Writer, error) {
	if err := checkCompressionLevel(FormatText, cfg); err != nil {
		return nil, err
	}

	tw := &textWriter{stream: newStream(cfg, o, 0)}
	tw.path = resolvePath(cfg, tw.FileExtension(), o.now)

	f, err := createFile(tw.path)
	if err != nil {
		return nil, err
	}
	tw.f = f
	tw.buf = bufio.NewWriter(f)
	tw.out = tw.buf

	tw.logger.Debug("opened text stream",
		zap.String("path", tw.path), zap.Bool("compressed", cfg.Compressed()))

	return tw, nil
}

func (tw *textWriter) FileExtension() string {
	if tw.cfg.Compressed() {
		return textGzipExt
	}
	return textExt
}

func (tw *textWriter) WriteHeader() error {
	if err := tw.beginHeader(); err != nil {
		return err
	}

	hdr := tw.formatHeader()

	if tw.cfg.Compressed() {
		hz, err := gzip.NewWriterLevel(tw.buf, gzip.NoCompression)
		if err != nil {
			return fmt.Errorf("error creating header compressor: %w", err)
		}
		if _, err := io.WriteString(hz, hdr); err != nil {
			return fmt.Errorf("error writing header: %w", err)
		}
		if err := hz.Flush(); err != nil {
			return fmt.Errorf("error flushing header: %w", err)
		}
		if err := hz.Close(); err != nil {
			return fmt.Errorf("error closing header member: %w", err)
		}

		gz, err := gzip.NewWriterLevel(tw.buf, tw.cfg.CompressionLevel)
		if err != nil {
			return fmt.Errorf("error creating compressor: %w", err)
		}
		tw.gz = gz
		tw.out = gz
	} else if _, err := io.WriteString(tw.buf, hdr); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	// The header must reach the file before the first frame.
	if err := tw.buf.Flush(); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	tw.headerWritten = true
	return nil
}

func (tw *textWriter) formatHeader() string {
	var sb strings.Builder
	sb.WriteString(TextMetaMarker + "\n")
	writeTextEntry(&sb, "version_i", strconv.Itoa(textVersion))
	writeTextEntry(&sb, "compressed_b", textBool(tw.cfg.Compressed()))
	writeTextEntry(&sb, "frames_per_sample_i", strconv.Itoa(tw.cfg.FramesPerSample))
	writeTextEntry(&sb, "free_trigger_b", textBool(tw.cfg.FreeTrigger))
	writeTextEntry(&sb, "trigger_delay_percent_f", FormatFloat(float64(tw.cfg.TriggerDelayPercent)))
	writeTextEntry(&sb, "channel_config_s", tw.cfg.ChannelSummary())
	writeTextEntry(&sb, "command_line_s", tw.cfg.CommandLine)
	writeTextEntry(&sb, "record_start_s", tw.now().UTC().Format(time.RFC3339Nano))

	sb.WriteString(TextUserMarker + "\n")
	for _, k := range tw.user.Keys() {
		writeTextEntry(&sb, k, tw.user[k])
	}
	return sb.String()
}

func (tw *textWriter) WriteFrame(ts time.Duration, timeAxis, data []float32) (bool, error) {
	if err := tw.checkSingle(FormatText, timeAxis, data); err != nil {
		return false, err
	}
	return tw.writeFrame(ts, timeAxis, [][]float32{data})
}

func (tw *textWriter) WriteFrameChannels(ts time.Duration, timeAxis []float32, data [NumChannels][]float32) (bool, error) {
	if err := tw.checkChannels(timeAxis, data); err != nil {
		return false, err
	}

	cols := make([][]float32, 0, NumChannels)
	for _, ch := range tw.cfg.SelectedChannels() {
		cols = append(cols, data[ch])
	}
	return tw.writeFrame(ts, timeAxis, cols)
}

func (tw *textWriter) writeFrame(ts time.Duration, timeAxis []float32, cols [][]float32) (bool, error) {
	b := append(tw.scratch[:0], "\n\n"+TextFrameMarker...)
	b = strconv.AppendUint(b, tw.frames.n, 10)
	b = append(b, "\n# record time: "...)
	b = strconv.AppendInt(b, ts.Microseconds(), 10)
	b = append(b, " us\n"...)
	b = appendTextRows(b, timeAxis, cols)
	tw.scratch = b

	if _, err := tw.out.Write(b); err != nil {
		return false, fmt.Errorf("error writing frame: %w", err)
	}
	if tw.gz == nil {
		if err := tw.buf.Flush(); err != nil {
			return false, fmt.Errorf("error writing frame: %w", err)
		}
	}

	tw.frames.n++
	return true, nil
}

func (tw *textWriter) Finalize() error {
	if err := tw.beginFinalize(); err != nil {
		return err
	}

	var err error
	if tw.gz != nil {
		if cerr := tw.gz.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("error closing compressor: %w", cerr))
		}
	}
	if ferr := tw.buf.Flush(); ferr != nil {
		err = multierr.Append(err, fmt.Errorf("error flushing output: %w", ferr))
	}
	err = multierr.Append(err, tw.f.Close())

	tw.logger.Info("finalized text stream",
		zap.String("path", tw.path), zap.Uint64("frames", tw.frames.n), zap.Error(err))

	return err
}

// checkCompressionLevel accepts the deflate levels 0 to 9 when compression
// is enabled.
func checkCompressionLevel(format Format, cfg Config) error {
	if cfg.Compressed() && (cfg.CompressionLevel < gzip.NoCompression || cfg.CompressionLevel > gzip.BestCompression) {
		return fmt.Errorf("%w: %s compression level must be between %d and %d, got %d",
			ErrInvalidConfig, format, gzip.NoCompression, gzip.BestCompression, cfg.CompressionLevel)
	}
	return nil
}

func writeTextEntry(sb *strings.Builder, key, value string) {
	sb.WriteString("# ")
	sb.WriteString(key)
	sb.WriteString(" = ")
	sb.WriteString(value)
	sb.WriteByte('\n')
}

func textBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// appendTextRows appends one line per sample: the time value followed by
// every column, each with six fractional digits.
func appendTextRows(b []byte, timeAxis []float32, cols [][]float32) []byte {
	for i, t := range timeAxis {
		b = strconv.AppendFloat(b, float64(t), 'f', 6, 64)
		for _, col := range cols {
			b = append(b, ' ')
			b = strconv.AppendFloat(b, float64(col[i]), 'f', 6, 64)
		}
		b = append(b, '\n')
	}
	return b
}
