// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Command framerec records synthetic digitizer frames in any of the
// framestream formats.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/OpenPSG/framestream"
	"github.com/OpenPSG/framestream/internal/waveform"
)

const (
	flagConfig       = "config"
	flagFormat       = "format"
	flagDir          = "dir"
	flagName         = "name"
	flagSamples      = "samples"
	flagFrames       = "frames"
	flagCompression  = "compression"
	flagFreeTrigger  = "free-trigger"
	flagBinary       = "binary"
	flagTriggerDelay = "trigger-delay"
	flagChannels     = "channels"
	flagSet          = "set"
	flagSeed         = "seed"
	flagDebug        = "debug"
)

func main() {
	app := &cli.App{
		Name:  "framerec",
		Usage: "record digitizer frames to disk",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load the session from YAML `FILE`",
			},
			&cli.StringFlag{
				Name:    flagFormat,
				Aliases: []string{"f"},
				Usage:   "output format: binary, text, multifile, yaml or root",
			},
			&cli.StringFlag{Name: flagDir, Usage: "output directory"},
			&cli.StringFlag{Name: flagName, Usage: "output file name, a timestamp if empty"},
			&cli.IntFlag{Name: flagSamples, Usage: "samples per frame"},
			&cli.IntFlag{Name: flagFrames, Aliases: []string{"n"}, Usage: "frames to record, 0 until interrupted"},
			&cli.IntFlag{Name: flagCompression, Usage: "compression level, -1 disables compression"},
			&cli.BoolFlag{Name: flagFreeTrigger, Usage: "record free-running frames"},
			&cli.BoolFlag{Name: flagBinary, Usage: "binary frame files in multifile format"},
			&cli.Float64Flag{Name: flagTriggerDelay, Usage: "trigger delay in percent"},
			&cli.StringFlag{Name: flagChannels, Usage: "channel selection, e.g. 0,1,-1,-1"},
			&cli.StringSliceFlag{Name: flagSet, Usage: "add a user header `KEY=VALUE` entry"},
			&cli.Uint64Flag{Name: flagSeed, Usage: "seed of the waveform generator"},
			&cli.BoolFlag{Name: flagDebug, Usage: "enable debug logging"},
		},
		Action: record,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func record(c *cli.Context) error {
	logger, err := newLogger(c.Bool(flagDebug))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	s, err := loadSession(c.String(flagConfig))
	if err != nil {
		return err
	}
	if err := applyFlags(c, &s); err != nil {
		return err
	}
	s.Stream.CommandLine = commandLine(os.Args)

	format, err := framestream.ParseFormat(s.Format)
	if err != nil {
		return err
	}

	src, err := waveform.New(waveform.Config{
		Samples:             s.Stream.FramesPerSample,
		Channels:            s.Stream.Channels,
		TriggerDelayPercent: s.Stream.TriggerDelayPercent,
		FreeTrigger:         s.Stream.FreeTrigger,
		Seed:                s.Seed,
	})
	if err != nil {
		return err
	}

	w, err := framestream.Create(format, s.Stream, framestream.WithLogger(logger))
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	entries := map[string]string{"run_id": runID}
	for k, v := range s.UserEntry {
		entries[k] = v
	}
	for k, v := range entries {
		if err := w.AddUserEntry(k, v); err != nil {
			return fmt.Errorf("error adding user entry: %w", multierr.Combine(err, w.Finalize()))
		}
	}
	if err := framestream.AddUserFloat(w, "sample_rate_gsps", waveform.DefaultSampleRate); err != nil {
		return multierr.Combine(err, w.Finalize())
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("recording",
		zap.String("format", format.String()),
		zap.String("path", w.Path()),
		zap.String("run_id", runID),
		zap.Int("frames", s.Frames))

	n, err := framestream.Record(ctx, w, src, s.Frames)
	logger.Info("recording finished", zap.Int("frames", n), zap.String("path", w.Path()), zap.Error(err))
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		logger.Warn("recording interrupted", zap.Int("frames", n))
	}
	return nil
}

func applyFlags(c *cli.Context, s *session) error {
	if c.IsSet(flagFormat) {
		s.Format = c.String(flagFormat)
	}
	if c.IsSet(flagDir) {
		s.Stream.Directory = c.String(flagDir)
	}
	if c.IsSet(flagName) {
		s.Stream.Filename = c.String(flagName)
	}
	if c.IsSet(flagSamples) {
		s.Stream.FramesPerSample = c.Int(flagSamples)
	}
	if c.IsSet(flagFrames) {
		s.Frames = c.Int(flagFrames)
	}
	if c.IsSet(flagCompression) {
		s.Stream.CompressionLevel = c.Int(flagCompression)
	}
	if c.IsSet(flagFreeTrigger) {
		s.Stream.FreeTrigger = c.Bool(flagFreeTrigger)
	}
	if c.IsSet(flagBinary) {
		s.Stream.Binary = c.Bool(flagBinary)
	}
	if c.IsSet(flagTriggerDelay) {
		s.Stream.TriggerDelayPercent = float32(c.Float64(flagTriggerDelay))
	}
	if c.IsSet(flagSeed) {
		s.Seed = c.Uint64(flagSeed)
	}
	if c.IsSet(flagChannels) {
		chans, err := parseChannels(c.String(flagChannels))
		if err != nil {
			return err
		}
		s.Stream.Channels = chans
	}
	for _, e := range c.StringSlice(flagSet) {
		k, v, err := parseEntry(e)
		if err != nil {
			return err
		}
		if s.UserEntry == nil {
			s.UserEntry = map[string]string{}
		}
		s.UserEntry[k] = v
	}
	return nil
}

// commandLine joins args into a single line, escaping embedded line breaks.
func commandLine(args []string) string {
	return strings.NewReplacer("\r", `\r`, "\n", `\n`).Replace(strings.Join(args, " "))
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
