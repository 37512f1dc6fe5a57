// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package waveform generates synthetic digitizer frames, standing in for an
// acquisition board.
package waveform

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/OpenPSG/framestream"
)

// DefaultSampleRate is the sampling frequency in GS/s.
const DefaultSampleRate = 0.68

// Config describes the generated frames.
type Config struct {
	Samples             int                          // Samples per frame
	SampleRate          float64                      // Sampling frequency in GS/s
	Channels            [framestream.NumChannels]int // Channel selection, -1 if unused
	TriggerDelayPercent float32                      // Pulse position within the frame
	FreeTrigger         bool                         // Noise only, no pulse
	Seed                uint64                       // Seed of the noise generator
}

// Generator produces frames with an exponentially decaying pulse on top of
// gaussian noise.
type Generator struct {
	cfg   Config
	rng   *rand.Rand
	start time.Time
}

// New returns a generator. Acquisition time starts now.
func New(cfg Config) (*Generator, error) {
	if cfg.Samples <= 0 {
		return nil, fmt.Errorf("samples must be positive, got %d", cfg.Samples)
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}

	return &Generator{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		start: time.Now(),
	}, nil
}

// Acquire returns the next frame.
func (g *Generator) Acquire(ctx context.Context) (framestream.Frame, error) {
	if err := ctx.Err(); err != nil {
		return framestream.Frame{}, err
	}

	frame := framestream.Frame{
		Timestamp: time.Since(g.start),
		Time:      make([]float32, g.cfg.Samples),
	}

	period := 1 / g.cfg.SampleRate // ns
	for i := range frame.Time {
		frame.Time[i] = float32(float64(i) * period)
	}

	window := float64(g.cfg.Samples) * period
	onset := window * float64(g.cfg.TriggerDelayPercent) / 200
	for _, ch := range g.cfg.Channels {
		if ch == framestream.Unused {
			continue
		}

		amplitude := -0.1 * (1 + 0.5*g.rng.Float64()) / float64(ch+1)
		data := make([]float32, g.cfg.Samples)
		for i, t := range frame.Time {
			v := 0.002 * g.rng.NormFloat64()
			if dt := float64(t) - onset; !g.cfg.FreeTrigger && dt >= 0 {
				v += amplitude * math.Exp(-dt/20)
			}
			data[i] = float32(v)
		}
		frame.Channels[ch] = data
	}

	return frame, nil
}
