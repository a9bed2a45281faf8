// Package batchtx tracks mutations made to a graph store outside of a
// transaction and replays them to observers as if a transaction had
// committed.
//
// An Accumulator is fed two-phase notifications by whatever performs the
// writes (usually a BatchInserter): a preparing call while the old value is
// still in the store, then a completing call once the write has happened.
// The preparing call resolves the value the property had before the batch
// and records the diff entry; the completing call counts the mutation. When
// the mutation count exceeds the commit threshold the accumulated diff is
// handed to every registered Observer, in registration order, and cleared.
//
// The diff is coalesced: many writes to one property show up as a single
// entry whose previous value is the pre-batch value, a property created and
// removed within one batch disappears, and labels added and removed within
// one batch cancel out. Deletions are not tracked.
//
// An Accumulator is not safe for concurrent use. Observers run on the
// goroutine that triggered the commit, and any notification they cause
// while the commit is running is ignored.
package batchtx
