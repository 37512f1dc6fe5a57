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
	"strings"

	"gopkg.in/yaml.v3"
)

// ReadBinaryHeader reads the header and the user header blob of a binary
// container. On success r is positioned at the first frame, every frame
// being 2*FramesPerSample little endian float32 values.
func ReadBinaryHeader(r io.Reader) (BinaryHeader, UserHeader, error) {
	var hdr BinaryHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return hdr, nil, fmt.Errorf("error reading header: %w", err)
	}
	if string(hdr.Magic[:]) != BinaryMagic {
		return hdr, nil, fmt.Errorf("error reading header: bad magic %q", hdr.Magic[:])
	}

	blob := make([]byte, hdr.DataOffset)
	if _, err := io.ReadFull(r, blob); err != nil {
		return hdr, nil, fmt.Errorf("error reading user header: %w", err)
	}

	user := UserHeader{}
	for _, line := range strings.Split(string(blob), "\n") {
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return hdr, nil, fmt.Errorf("error parsing user header line %q", line)
		}
		user.Set(key, value)
	}

	return hdr, user, nil
}

// ReadYAMLHeader reads the header document of a YAML prefixed binary stream
// and returns its entries as raw scalar text, including version,
// free_trigger and samples_per_frame. On success r is positioned at the
// first frame.
func ReadYAMLHeader(r *bufio.Reader) (UserHeader, error) {
	var doc strings.Builder
	for first := true; ; first = false {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("error reading header: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		if first && line != YAMLDocumentStart {
			return nil, fmt.Errorf("error reading header: expected %q, got %q", YAMLDocumentStart, line)
		}
		doc.WriteString(line)
		doc.WriteByte('\n')

		if line == YAMLDocumentEnd {
			break
		}
	}

	var root yaml.Node
	if err := yaml.Unmarshal([]byte(doc.String()), &root); err != nil {
		return nil, fmt.Errorf("error parsing header: %w", err)
	}
	if len(root.Content) != 1 || root.Content[0].Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("error parsing header: expected a list of entries")
	}

	entries := UserHeader{}
	for _, item := range root.Content[0].Content {
		if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
			return nil, fmt.Errorf("error parsing header: line %d is not a key/value entry", item.Line)
		}
		entries.Set(item.Content[0].Value, item.Content[1].Value)
	}

	return entries, nil
}
