// Package barrier provides the fan-in synchronization for dynamically sized
// sibling sets: N persist tasks arrive in any order on any worker, and
// exactly one of them observes that it was the last.
package barrier

import "context"

// Barrier tracks sibling completions per parent job id using an atomic
// decrement-to-zero protocol. Plain read-modify-write on the job store is not
// a substitute: two siblings finishing together must never both win, and the
// winner must only be declared after all N have settled.
type Barrier interface {
	// Init arms the barrier for parentID with n expected arrivals.
	Init(ctx context.Context, parentID string, n int) error
	// Arrive records one sibling settling (success or failure alike) and
	// reports whether this arrival was the last. At most one caller per
	// parentID ever observes last == true.
	Arrive(ctx context.Context, parentID string) (last bool, err error)
	// Size returns the arrival count the barrier was armed with.
	Size(ctx context.Context, parentID string) (int, error)
	// Forget discards barrier state after finalization.
	Forget(ctx context.Context, parentID string) error
}
