// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

// Package credential derives and verifies bcrypt password credentials.
//
// Hashing is CPU-bound, so both the Hasher and the Verifier run their work
// on a shared Pool that caps the number of concurrent derivations. Callers
// waiting for a slot give up when their context ends.
package credential
