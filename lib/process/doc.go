// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for this module's
// command-line tools. It centralizes the one legitimate raw I/O pattern
// that exists before or after the structured logger: fatal error
// reporting to stderr followed by process exit, for errors from run()
// where the structured logger may not yet be initialized.
package process
