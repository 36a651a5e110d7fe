// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the sync core's
// timeouts and storage locations.
//
// Configuration is loaded from a single file specified by either the
// TABLETOPSYNC_CONFIG environment variable (via [Load]) or an explicit path
// (via [LoadFile]). There are no fallbacks and no automatic file search.
// Callers that need no file at all can use [Default] directly — every field
// has a sensible default drawn from spec §5's timeout table.
//
// This package depends on no other sync-core packages.
package config
