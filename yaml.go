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

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	yamlBinaryExt = ".ybin"
	yamlVersion   = 1

	// YAMLDocumentStart and YAMLDocumentEnd enclose the header of the YAML
	// prefixed binary format.
	YAMLDocumentStart = "---"
	YAMLDocumentEnd   = "..."
)

// yamlBinaryWriter writes a YAML header followed by unframed float32 frames.
type yamlBinaryWriter struct {
	stream
	f   *os.File
	buf *bufio.Writer
}

func createYAMLBinary(cfg Config, o options) (Writer, error) {
	if err := requireSingleChannel(FormatYAMLBinary, cfg); err != nil {
		return nil, err
	}

	yw := &yamlBinaryWriter{stream: newStream(cfg, o, yamlBinaryFrameLimit)}
	yw.path = resolvePath(cfg, yamlBinaryExt, o.now)

	if cfg.Compressed() {
		yw.logger.Warn("yaml binary format is never compressed, ignoring compression level",
			zap.Int("level", cfg.CompressionLevel))
	}

	f, err := createFile(yw.path)
	if err != nil {
		return nil, err
	}
	yw.f = f
	yw.buf = bufio.NewWriter(f)

	yw.logger.Debug("opened yaml binary stream", zap.String("path", yw.path))

	return yw, nil
}

func (yw *yamlBinaryWriter) FileExtension() string {
	return yamlBinaryExt
}

// WriteHeader writes the YAML document. The sample count and trigger delay
// are stored as user entries so a decoder can locate frame boundaries.
func (yw *yamlBinaryWriter) WriteHeader() error {
	if err := yw.beginHeader(); err != nil {
		return err
	}

	yw.user.Set("samples_per_frame", strconv.Itoa(yw.cfg.FramesPerSample))
	yw.user.Set("trigger_delay_percent", FormatFloat(float64(yw.cfg.TriggerDelayPercent)))

	if _, err := io.WriteString(yw.buf, formatYAMLHeader(yw.cfg.FreeTrigger, yw.user)); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	if err := yw.buf.Flush(); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	yw.headerWritten = true
	return nil
}

func (yw *yamlBinaryWriter) WriteFrame(_ time.Duration, timeAxis, data []float32) (bool, error) {
	if err := yw.checkSingle(FormatYAMLBinary, timeAxis, data); err != nil {
		return false, err
	}
	if yw.limitReached() {
		return false, nil
	}

	if err := writeSamples(yw.buf, timeAxis, data); err != nil {
		return false, err
	}
	if err := yw.buf.Flush(); err != nil {
		return false, fmt.Errorf("error writing frame: %w", err)
	}

	yw.frames.n++
	return true, nil
}

func (yw *yamlBinaryWriter) WriteFrameChannels(time.Duration, []float32, [NumChannels][]float32) (bool, error) {
	return unsupportedChannels(FormatYAMLBinary)
}

func (yw *yamlBinaryWriter) Finalize() error {
	if err := yw.beginFinalize(); err != nil {
		return err
	}

	var err error
	if ferr := yw.buf.Flush(); ferr != nil {
		err = multierr.Append(err, fmt.Errorf("error flushing frames: %w", ferr))
	}
	err = multierr.Append(err, yw.f.Close())

	yw.logger.Info("finalized yaml binary stream",
		zap.String("path", yw.path), zap.Uint64("frames", yw.frames.n), zap.Error(err))

	return err
}

func formatYAMLHeader(freeTrigger bool, user UserHeader) string {
	var sb strings.Builder
	sb.WriteString(YAMLDocumentStart + "\n")
	writeYAMLEntry(&sb, "version", strconv.Itoa(yamlVersion))
	if freeTrigger {
		writeYAMLEntry(&sb, "free_trigger", "True")
	} else {
		writeYAMLEntry(&sb, "free_trigger", "False")
	}
	for _, k := range user.Keys() {
		writeYAMLEntry(&sb, yamlScalar(k), yamlScalar(user[k]))
	}
	sb.WriteString(YAMLDocumentEnd + "\n")
	return sb.String()
}

func writeYAMLEntry(sb *strings.Builder, key, value string) {
	sb.WriteString(" - ")
	sb.WriteString(key)
	sb.WriteString(": ")
	sb.WriteString(value)
	sb.WriteByte('\n')
}

// yamlScalar returns s unchanged if YAML reads it back as the same plain
// scalar, and double quoted otherwise.
func yamlScalar(s string) string {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(s), &doc); err == nil &&
		len(doc.Content) == 1 &&
		doc.Content[0].Kind == yaml.ScalarNode &&
		doc.Content[0].Style == 0 &&
		doc.Content[0].Value == s {
		return s
	}
	return strconv.Quote(s)
}
