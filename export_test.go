// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package framestream

type frameLimited interface {
	frameLimit() uint64
	setFrameLimit(limit uint64)
}

func (s *stream) frameLimit() uint64 {
	return s.frames.limit
}

func (s *stream) setFrameLimit(limit uint64) {
	s.frames.limit = limit
}

// FrameLimit returns the frame limit of w, zero if unbounded.
func FrameLimit(w Writer) uint64 {
	return w.(frameLimited).frameLimit()
}

// SetFrameLimit overrides the frame limit of w.
func SetFrameLimit(w Writer, limit uint64) {
	w.(frameLimited).setFrameLimit(limit)
}
