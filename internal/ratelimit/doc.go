// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ratelimit tracks backend rate limit usage reported through
// rate_limit_info stream events.
//
// The Tracker holds the most recent snapshot; sessions push updates as
// events arrive and the host reads the snapshot for status display.
package ratelimit
