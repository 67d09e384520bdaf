// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kore provides the term and formula model of the KORE language.
//
// KORE is the intermediate language spoken by the K rewriting engine and
// its JSON-RPC server. This package holds the immutable pattern tree that
// every request and response carries, together with the two encodings the
// server understands:
//
//   - JSON: a tagged tree (`{"tag": "App", "name": ..., "sorts": ..., "args": ...}`)
//     wrapped in the `{"format": "KORE", "version": 1, "term": ...}` envelope.
//   - Text: the KORE concrete syntax (`Lbl'-LT-'k'-GT-'{}(X : SortK{})`), used for
//     modules sent to add-module and for human-readable diagnostics.
//
// # Model
//
// Sorts are either sort variables (SortVar) or applied sort constructors
// (SortApp). Patterns are variables (EVar, SVar), string literals (String),
// domain values (DV), symbol applications (App) and the matching-logic
// connectives (Top, Bottom, Not, And, Or, Implies, Iff, Exists, Forall,
// Mu, Nu, Ceil, Floor, Equals, In, Next, Rewrites).
//
// Every node carries its own sort information, so a pattern can be printed
// or serialized without a definition in hand.
//
// # Equality
//
// Pattern values hold slices and cannot be compared with ==. Use Equal for
// deep, order-sensitive structural equality and Hash for a matching hash.
//
// # Thread Safety
//
// Patterns are immutable values once constructed. Constructors copy the
// slices they are given; callers must not mutate slices obtained from a
// pattern's fields.
package kore
