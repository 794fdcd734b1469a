// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package relay

import "errors"

var (
	// ErrBrokerUnavailable reports that the shared broker cannot be
	// reached and the relay is operating in the reduced-guarantee
	// in-process mode.
	ErrBrokerUnavailable = errors.New("broker unavailable, events visible within this instance only")

	// ErrRelayClosed is returned after Close.
	ErrRelayClosed = errors.New("relay closed")
)
