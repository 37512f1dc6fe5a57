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
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// Source supplies acquired frames. Every array of a frame must hold the
// configured number of samples.
type Source interface {
	Acquire(ctx context.Context) (Frame, error)
}

// Record writes the header of w, then acquires and writes frames until
// maxFrames frames are written (0 for no limit), the frame limit of the
// backend is reached, ctx is done or an error occurs. Frames use the
// single-channel form when w has exactly one selected channel. Cancellation
// is only observed between frames. w is finalized on every path. A cancelled
// context is not reported as an error.
func Record(ctx context.Context, w Writer, src Source, maxFrames int) (n int, err error) {
	defer func() {
		err = multierr.Append(err, w.Finalize())
	}()

	if err := w.WriteHeader(); err != nil {
		return 0, err
	}

	var selected []int
	for _, ch := range w.Channels() {
		if ch != Unused {
			selected = append(selected, ch)
		}
	}

	for maxFrames <= 0 || n < maxFrames {
		if ctx.Err() != nil {
			return n, nil
		}

		frame, err := src.Acquire(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return n, nil
			}
			return n, fmt.Errorf("error acquiring frame %d: %w", n, err)
		}

		var ok bool
		if len(selected) == 1 {
			ok, err = w.WriteFrame(frame.Timestamp, frame.Time, frame.Channels[selected[0]])
		} else {
			ok, err = w.WriteFrameChannels(frame.Timestamp, frame.Time, frame.Channels)
		}
		if err != nil {
			return n, fmt.Errorf("error writing frame %d: %w", n, err)
		}
		if !ok {
			return n, nil
		}
		n++
	}

	return n, nil
}
