// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package framestream records streams of digitized waveform frames (a shared
// time axis plus up to four channels) in one of several on-disk formats.
package framestream

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Writer is implemented by every backend. A writer is created configured,
// takes user entries until WriteHeader, then one WriteFrame or
// WriteFrameChannels call per frame, and is released by Finalize.
type Writer interface {
	// AddUserEntry inserts or overwrites a user header entry. It fails with
	// ErrHeaderWritten once the header has been emitted, and with
	// ErrInvalidConfig for entries that cannot be stored on a single line.
	AddUserEntry(key, value string) error
	// WriteHeader serializes the configuration and the user header. It must be
	// called exactly once, before any frame.
	WriteHeader() error
	// WriteFrame writes a single-channel frame. It needs exactly one selected
	// channel, otherwise it returns ErrUnsupported and writes nothing. It
	// returns false without an error when the frame limit of the backend has
	// been reached.
	WriteFrame(ts time.Duration, timeAxis, data []float32) (bool, error)
	// WriteFrameChannels writes a frame holding every selected channel, data is
	// indexed by source channel. Backends without multi-channel support return
	// ErrUnsupported.
	WriteFrameChannels(ts time.Duration, timeAxis []float32, data [NumChannels][]float32) (bool, error)
	// Finalize flushes pending writes, patches headers and releases the
	// underlying storage. It must be called exactly once.
	Finalize() error
	// FileExtension returns the canonical extension of the backend.
	FileExtension() string
	// Path returns the resolved output location.
	Path() string
	// Channels returns the channel selection the writer was configured with.
	Channels() [NumChannels]int
}

// Option configures the ambient collaborators of a writer.
type Option func(*options)

type options struct {
	logger *zap.Logger
	now    func() time.Time
}

// WithLogger sets the logger, the default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock sets the wall clock used for default names and record start times.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Create configures a writer of the given format and opens its storage.
func Create(format Format, cfg Config, opts ...Option) (Writer, error) {
	o := options{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch format {
	case FormatBinary:
		return createBinary(cfg, o)
	case FormatText:
		return createText(cfg, o)
	case FormatMultiFile:
		return createMultiFile(cfg, o)
	case FormatYAMLBinary:
		return createYAMLBinary(cfg, o)
	case FormatROOT:
		return createROOT(cfg, o)
	default:
		return nil, fmt.Errorf("%w: unknown format %d", ErrInvalidConfig, format)
	}
}

// AddUserInt adds an integer user header entry.
func AddUserInt(w Writer, key string, v int64) error {
	return w.AddUserEntry(key, FormatInt(v))
}

// AddUserFloat adds a floating point user header entry.
func AddUserFloat(w Writer, key string, v float64) error {
	return w.AddUserEntry(key, FormatFloat(v))
}

// AddUserBool adds a boolean user header entry.
func AddUserBool(w Writer, key string, v bool) error {
	return w.AddUserEntry(key, FormatBool(v))
}

// Frame limits of the backends, zero means unbounded.
const (
	binaryFrameLimit     = 1<<32 - 1
	multiFileFrameLimit  = 1_000_000
	yamlBinaryFrameLimit = 999_999_999
)

// frameCounter counts the frames of a session against the limit of a backend.
type frameCounter struct {
	n     uint64
	limit uint64
}

func (c *frameCounter) full() bool {
	return c.limit > 0 && c.n >= c.limit
}

// stream holds the state shared by every backend.
type stream struct {
	cfg    Config
	user   UserHeader
	logger *zap.Logger
	now    func() time.Time
	frames frameCounter
	path   string

	headerWritten bool
	finalized     bool
	limitLogged   bool
}

func newStream(cfg Config, o options, limit uint64) stream {
	return stream{
		cfg:    cfg,
		user:   UserHeader{},
		logger: o.logger,
		now:    o.now,
		frames: frameCounter{limit: limit},
	}
}

func (s *stream) AddUserEntry(key, value string) error {
	if s.finalized {
		return ErrFinalized
	}
	if s.headerWritten {
		return fmt.Errorf("%w: cannot add entry %q", ErrHeaderWritten, key)
	}
	if err := checkUserEntry(key, value); err != nil {
		return err
	}

	s.user.Set(key, value)
	return nil
}

func (s *stream) Path() string {
	return s.path
}

func (s *stream) Channels() [NumChannels]int {
	return s.cfg.Channels
}

// checkUserEntry rejects entries that would not survive the line oriented
// user headers: keys and values must be valid UTF-8 on a single line, and
// keys must be non-empty and free of '='.
func checkUserEntry(key, value string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty user header key", ErrInvalidConfig)
	case strings.ContainsAny(key, "=\r\n"):
		return fmt.Errorf("%w: user header key %q contains '=' or a line break", ErrInvalidConfig, key)
	case strings.ContainsAny(value, "\r\n"):
		return fmt.Errorf("%w: user header value of %q contains a line break", ErrInvalidConfig, key)
	case !utf8.ValidString(key) || !utf8.ValidString(value):
		return fmt.Errorf("%w: user header entry %q is not valid UTF-8", ErrInvalidConfig, key)
	}
	return nil
}

// beginHeader guards the one-time header emission.
func (s *stream) beginHeader() error {
	if s.finalized {
		return ErrFinalized
	}
	if s.headerWritten {
		return ErrHeaderWritten
	}
	return nil
}

// checkFrame validates a frame before any byte of it is written.
func (s *stream) checkFrame(timeAxis []float32, data ...[]float32) error {
	if s.finalized {
		return ErrFinalized
	}
	if !s.headerWritten {
		return ErrHeaderNotWritten
	}

	n := s.cfg.FramesPerSample
	if len(timeAxis) != n {
		return fmt.Errorf("%w: time axis has %d samples, expected %d", ErrFrameSize, len(timeAxis), n)
	}
	for i, d := range data {
		if len(d) != n {
			return fmt.Errorf("%w: channel %d has %d samples, expected %d", ErrFrameSize, i, len(d), n)
		}
	}

	return nil
}

// checkSingle validates a single-channel frame. The selection must hold
// exactly one channel so the frame matches the declared layout.
func (s *stream) checkSingle(format Format, timeAxis, data []float32) error {
	if n := len(s.cfg.SelectedChannels()); n != 1 {
		return fmt.Errorf("%w: %s single-channel frame with %d channels selected", ErrUnsupported, format, n)
	}
	return s.checkFrame(timeAxis, data)
}

// checkChannels validates a multi-channel frame against the channel selection.
func (s *stream) checkChannels(timeAxis []float32, data [NumChannels][]float32) error {
	selected := make([][]float32, 0, NumChannels)
	for _, ch := range s.cfg.SelectedChannels() {
		selected = append(selected, data[ch])
	}
	return s.checkFrame(timeAxis, selected...)
}

// limitReached reports whether the frame limit has been hit, logging it once.
func (s *stream) limitReached() bool {
	if !s.frames.full() {
		return false
	}
	if !s.limitLogged {
		s.logger.Warn("frame limit reached, dropping further frames",
			zap.String("path", s.path), zap.Uint64("limit", s.frames.limit))
		s.limitLogged = true
	}
	return true
}

// beginFinalize guards the one-time finalize.
func (s *stream) beginFinalize() error {
	if s.finalized {
		return ErrFinalized
	}
	s.finalized = true
	return nil
}

// unsupportedChannels is the multi-channel emission of single-channel backends.
func unsupportedChannels(format Format) (bool, error) {
	return false, fmt.Errorf("%w: %s format does not record multi-channel frames", ErrUnsupported, format)
}

// requireSingleChannel rejects channel selections a single-channel backend
// cannot record, before any storage is opened.
func requireSingleChannel(format Format, cfg Config) error {
	if n := len(cfg.SelectedChannels()); n > 1 {
		return fmt.Errorf("%w: %s format records a single channel, %d selected", ErrUnsupported, format, n)
	}
	return nil
}

const timestampLayout = "20060102-150405"

// resolvePath returns the output file of cfg, using a timestamp based name if
// none was given.
func resolvePath(cfg Config, ext string, now func() time.Time) string {
	name := cfg.Filename
	if name == "" {
		name = now().Format(timestampLayout) + ext
	}
	return filepath.Join(cfg.Directory, name)
}

// createFile creates the output file, including its directory.
func createFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("error creating output file: %w", err)
	}
	return f, nil
}

// writeSamples writes the time axis followed by the data as little endian float32.
func writeSamples(w io.Writer, timeAxis, data []float32) error {
	if err := binary.Write(w, binary.LittleEndian, timeAxis); err != nil {
		return fmt.Errorf("error writing time axis: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, data); err != nil {
		return fmt.Errorf("error writing samples: %w", err)
	}
	return nil
}
