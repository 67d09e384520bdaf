// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kore

import (
	"math/big"
	"strconv"
)

// Sorts and symbols shared by every K definition.
var (
	SortInt    = SortApp{Name: "SortInt"}
	SortBool   = SortApp{Name: "SortBool"}
	SortString = SortApp{Name: "SortString"}
	SortK      = SortApp{Name: "SortK"}
	SortKItem  = SortApp{Name: "SortKItem"}

	// DotK is the empty K sequence.
	DotK = App{Symbol: "dotk"}
)

// IntDV returns the domain value for an integer.
func IntDV(n int64) DV {
	return DV{Sort: SortInt, Value: strconv.FormatInt(n, 10)}
}

// BigIntDV returns the domain value for an arbitrary precision integer.
func BigIntDV(n *big.Int) DV {
	return DV{Sort: SortInt, Value: n.String()}
}

// BoolDV returns the domain value for a boolean.
func BoolDV(b bool) DV {
	return DV{Sort: SortBool, Value: strconv.FormatBool(b)}
}

// StringDV returns the domain value for a string.
func StringDV(s string) DV {
	return DV{Sort: SortString, Value: s}
}

// Inj injects p from sort from into sort to.
func Inj(from, to Sort, p Pattern) App {
	return App{Symbol: "inj", Sorts: []Sort{from, to}, Args: []Pattern{p}}
}

// KSeq returns the K sequence `item ~> rest`.
func KSeq(item, rest Pattern) App {
	return App{Symbol: "kseq", Args: []Pattern{item, rest}}
}

// KSeqOf folds items into a K sequence terminated by DotK.
func KSeqOf(items ...Pattern) Pattern {
	var seq Pattern = DotK
	for i := len(items) - 1; i >= 0; i-- {
		seq = KSeq(items[i], seq)
	}
	return seq
}
