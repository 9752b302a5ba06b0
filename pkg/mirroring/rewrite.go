package mirroring

import "github.com/mirrorkv/mirrorkv/pkg/table"

// rewriteAppendResult builds the Put that replays op's effect on the
// secondary idempotently, using the primary's resulting cells (§3
// invariant, §9 "Idempotent rewrite round-trip" law): applying the
// rewritten Put to an empty store yields a store equal to the
// primary's result.
func rewriteAppendResult(op table.Append, primaryResult table.Row) table.Put {
	return table.Put{
		Row:   op.Row,
		Cells: primaryResult.Cells,
	}
}

// rewriteIncrementResult builds the Put carrying the primary's
// resulting counter value, so the secondary receives the exact value
// computed by the primary rather than replaying the delta (which
// would double-apply it if the secondary already had a prior value).
func rewriteIncrementResult(op table.Increment, primaryResult int64) table.Put {
	return table.Put{
		Row: op.Row,
		Cells: []table.Cell{
			{
				Family:    op.Family,
				Qualifier: op.Qualifier,
				Value:     encodeBigEndianInt64(primaryResult),
			},
		},
	}
}

func encodeBigEndianInt64(v int64) []byte {
	b := make([]byte, 8)
	u := uint64(v)
	for i := 7; i >= 0; i-- {
		b[i] = byte(u)
		u >>= 8
	}
	return b
}
