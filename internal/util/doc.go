// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across the loglens engine:
// rune-safe string truncation for context-window capping, and atomic file
// writes for configuration persistence.
package util
