// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for loglens.
//
// Supports both TOML and JSON configuration formats, with sensible
// defaults, environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.loglens/config.toml
//   - ~/.loglens/config.json
//   - Built-in defaults
//
// # Key Types
//
//   - Config: the complete loglens configuration
//   - Watcher: fsnotify-based config reload watcher
//
// # Environment variables
//
//	LOGLENS_BACKEND_URL  overrides backend.base_url
//	LOGLENS_PROVIDER     overrides analysis.provider
//	LOGLENS_MODEL        overrides analysis.model
//	LOGLENS_MODE         overrides analysis.mode
//	LOGLENS_ARCHIVE      overrides archive.path
package config
