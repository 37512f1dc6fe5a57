// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package framestream

import "errors"

var (
	// ErrInvalidConfig is returned when a configuration cannot be used.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrUnsupported is returned when a backend lacks a requested capability,
	// such as multi-channel frames.
	ErrUnsupported = errors.New("unsupported capability")
	// ErrHeaderWritten is returned by operations that must precede the header.
	ErrHeaderWritten = errors.New("header already written")
	// ErrHeaderNotWritten is returned when frames are emitted before the header.
	ErrHeaderNotWritten = errors.New("header not written")
	// ErrFinalized is returned by any operation on a finalized stream.
	ErrFinalized = errors.New("stream finalized")
	// ErrFrameSize is returned when a frame array does not hold exactly
	// frames-per-sample values.
	ErrFrameSize = errors.New("frame size mismatch")
)
