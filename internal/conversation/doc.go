// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation keeps the analysis chat history.
//
// The in-memory Store is the ordered list of user/assistant turns for the
// current viewer. Append never evicts; the bounded view exists only in
// RecentContext, which truncates what is sent back to the backend as
// follow-up context (most recent turns, each capped to a character limit).
//
// The SQLite-backed Archive persists full conversations across restarts
// for display and export.
package conversation
