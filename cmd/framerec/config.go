// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/OpenPSG/framestream"
)

// session is the YAML session file accepted by --config. Flags given on the
// command line override its values.
type session struct {
	Format    string             `yaml:"format"`
	Frames    int                `yaml:"frames"`
	Seed      uint64             `yaml:"seed"`
	Stream    framestream.Config `yaml:"stream"`
	UserEntry map[string]string  `yaml:"user_header"`
}

func defaultSession() session {
	return session{
		Format: framestream.FormatText.String(),
		Stream: framestream.DefaultConfig(),
	}
}

func loadSession(path string) (session, error) {
	s := defaultSession()
	if path == "" {
		return s, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("error reading session file: %w", err)
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("error parsing session file: %w", err)
	}
	return s, nil
}

// parseChannels parses a channel selection such as "0,2,-1,-1". Missing
// trailing slots are unused.
func parseChannels(s string) ([framestream.NumChannels]int, error) {
	chans := [framestream.NumChannels]int{framestream.Unused, framestream.Unused, framestream.Unused, framestream.Unused}

	parts := strings.Split(s, ",")
	if len(parts) > framestream.NumChannels {
		return chans, fmt.Errorf("at most %d channels can be selected, got %d", framestream.NumChannels, len(parts))
	}
	for i, p := range parts {
		ch, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return chans, fmt.Errorf("invalid channel %q: %w", p, err)
		}
		chans[i] = ch
	}
	return chans, nil
}

// parseEntry parses a key=value user header entry.
func parseEntry(s string) (string, string, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid user header entry %q, expected key=value", s)
	}
	return key, value, nil
}
