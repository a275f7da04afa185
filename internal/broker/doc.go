// Package broker maintains live health state for the two backend
// connections, selects the best available one, and forwards unary and
// streaming requests through it.
//
// All connection status state is owned by a single run-loop goroutine.
// Other goroutines interact with it only through submitted tasks, so no
// status field is ever read or written concurrently. Backend HTTP calls for
// proxied requests happen on the calling goroutine; the run loop only
// resolves the target, so a slow backend never stalls status queries or
// probe scheduling.
package broker
