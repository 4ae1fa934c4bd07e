package directory

// Move reports that the entry at the From position before an operation is
// at the To position afterwards. The open-file table consumes these to
// rebind live handles.
type Move struct {
	FromSegment int
	FromIndex   int
	ToSegment   int
	ToIndex     int
}

type trackedMove struct {
	Move
	transaction int
}

// changeTracker accumulates entry moves across the structural steps of one
// directory operation.
//
// Each atomic structural step (a shift within a segment, a move across
// segments) is one transaction. Within a transaction moves are recorded
// independently; across transactions a move whose source is a previous
// move's destination folds into it, and an entry that ends a sequence of
// transactions back where it started is elided from the final report.
// Transactions do not nest.
type changeTracker struct {
	moves         []trackedMove
	transaction   int
	inTransaction bool
}

func (tracker *changeTracker) begin() {
	if tracker.inTransaction {
		panic("directory change transactions cannot nest")
	}
	tracker.transaction++
	tracker.inTransaction = true
}

func (tracker *changeTracker) end() {
	if !tracker.inTransaction {
		panic("no directory change transaction to end")
	}
	tracker.inTransaction = false

	kept := tracker.moves[:0]
	for _, move := range tracker.moves {
		if move.FromSegment == move.ToSegment && move.FromIndex == move.ToIndex {
			continue
		}
		kept = append(kept, move)
	}
	tracker.moves = kept
}

// record notes that the entry at `src` is moving to `dst`. Only live file
// entries matter to handle fix-up, so free slots and end-of-segment markers
// are ignored. It must be called before the entry bytes are copied, while
// `src` still reads the moving entry's status.
func (tracker *changeTracker) record(src, dst *DirPtr) {
	if !tracker.inTransaction {
		panic("directory entry move recorded outside a transaction")
	}

	if !src.HasStatus(StatusTentative) && !src.HasStatus(StatusPermanent) {
		return
	}

	// A move continuing one from an earlier transaction folds into it.
	for i := range tracker.moves {
		move := &tracker.moves[i]
		if move.ToSegment == src.Segment() &&
			move.ToIndex == src.Index() &&
			move.transaction != tracker.transaction {
			move.transaction = tracker.transaction
			move.ToSegment = dst.Segment()
			move.ToIndex = dst.Index()
			return
		}
	}

	tracker.moves = append(tracker.moves, trackedMove{
		Move: Move{
			FromSegment: src.Segment(),
			FromIndex:   src.Index(),
			ToSegment:   dst.Segment(),
			ToIndex:     dst.Index(),
		},
		transaction: tracker.transaction,
	})
}

// result returns the accumulated moves.
func (tracker *changeTracker) result() []Move {
	if len(tracker.moves) == 0 {
		return nil
	}

	result := make([]Move, len(tracker.moves))
	for i, move := range tracker.moves {
		result[i] = move.Move
	}
	return result
}
