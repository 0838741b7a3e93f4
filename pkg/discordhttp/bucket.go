package discordhttp

import "time"

// BucketState is the Limiter's view of one bucket's token budget.
//
// Limit and Remaining are -1 when unknown, per the Discord bucket model:
// before any response has been observed for a bucket, admission proceeds
// optimistically and the first response's headers populate real state.
type BucketState struct {
	Limit     int64
	Remaining int64
	ResetAt   time.Time
	LastSeen  time.Time
}

// unknownBucketState is the state assigned to a bucket the Limiter has
// never received a response for.
func unknownBucketState() BucketState {
	return BucketState{Limit: -1, Remaining: -1}
}

func (s BucketState) isUnknown() bool {
	return s.Limit < 0 && s.Remaining < 0
}

// bucketEntry is one row of the bucket table: a confirmed or provisional
// bucket id plus its state, and the recency marker used for LRU eviction.
type bucketEntry struct {
	id       BucketID
	state    BucketState
	accessAt time.Time
}

// bucketTable maps RouteKeys to their (provisional or confirmed) bucket and
// tracks per-bucket state, evicting the least-recently-seen bucket once the
// table exceeds maxBuckets. It is mutated only by the Limiter goroutine; it
// has no internal locking because it never escapes that goroutine.
type bucketTable struct {
	maxBuckets int
	routeToBucket map[RouteKey]BucketID
	buckets       map[BucketID]*bucketEntry
}

func newBucketTable(maxBuckets int) *bucketTable {
	if maxBuckets <= 0 {
		maxBuckets = defaultMaxBuckets
	}
	return &bucketTable{
		maxBuckets:    maxBuckets,
		routeToBucket: make(map[RouteKey]BucketID),
		buckets:       make(map[BucketID]*bucketEntry),
	}
}

// provisionalID returns the bucket id used before a route's true bucket is
// known: the RouteKey itself, encoded as a BucketID.
func provisionalID(route RouteKey) BucketID {
	return BucketID("route:" + route.String())
}

// lookup resolves route to its current bucket id and state, creating a
// provisional entry (Unknown state) if this is the first time the route has
// been seen.
func (t *bucketTable) lookup(route RouteKey, now time.Time) (BucketID, BucketState) {
	id, bound := t.routeToBucket[route]
	if !bound {
		id = provisionalID(route)
	}
	e, ok := t.buckets[id]
	if !ok {
		e = &bucketEntry{id: id, state: unknownBucketState(), accessAt: now}
		t.buckets[id] = e
		t.evictIfNeeded()
	}
	e.accessAt = now
	return id, e.state
}

// bind records route -> bucketID. Idempotent: once a route is bound to a
// bucket id, binding it again to the same id is a no-op, and the mapping is
// never reassigned to a different id (bucket binding is monotone for the
// lifetime of the entry).
func (t *bucketTable) bind(route RouteKey, id BucketID, now time.Time) {
	if existing, ok := t.routeToBucket[route]; ok {
		if existing != id {
			// Bucket binding is monotone; a later response naming a
			// different bucket for an already-bound route is a protocol
			// anomaly we ignore rather than reassign.
			return
		}
		return
	}
	t.routeToBucket[route] = id
	if _, ok := t.buckets[id]; !ok {
		t.buckets[id] = &bucketEntry{id: id, state: unknownBucketState(), accessAt: now}
		t.evictIfNeeded()
	}
}

// update replaces a bucket's state, taking the update only if it is not
// older than what the table already has (monotonic under LastSeen): an
// update whose LastSeen is earlier than the stored LastSeen is ignored.
// ResetAt is not compared.
func (t *bucketTable) update(id BucketID, newState BucketState, now time.Time) {
	e, ok := t.buckets[id]
	if !ok {
		e = &bucketEntry{id: id, accessAt: now}
		t.buckets[id] = e
		t.evictIfNeeded()
	}
	if !e.state.LastSeen.IsZero() && newState.LastSeen.Before(e.state.LastSeen) {
		return
	}
	e.state = newState
	e.accessAt = now
}

// state returns the current state for a bucket id, if known.
func (t *bucketTable) state(id BucketID) (BucketState, bool) {
	e, ok := t.buckets[id]
	if !ok {
		return BucketState{}, false
	}
	return e.state, true
}

// setState directly overwrites a bucket's state (used for admission
// decrements and cancellation releases, which do not carry a new
// LastSeen and so must bypass the monotonicity check in update).
func (t *bucketTable) setState(id BucketID, state BucketState) {
	e, ok := t.buckets[id]
	if !ok {
		return
	}
	e.state = state
}

func (t *bucketTable) evictIfNeeded() {
	for len(t.buckets) > t.maxBuckets {
		t.evictOldest()
	}
}

// evictOldest removes the least-recently-seen bucket entry and any route
// bindings pointing at it.
func (t *bucketTable) evictOldest() {
	var oldestID BucketID
	var oldestAt time.Time
	first := true
	for id, e := range t.buckets {
		if first || e.accessAt.Before(oldestAt) {
			oldestID, oldestAt = id, e.accessAt
			first = false
		}
	}
	if first {
		return
	}
	delete(t.buckets, oldestID)
	for route, id := range t.routeToBucket {
		if id == oldestID {
			delete(t.routeToBucket, route)
		}
	}
}

const defaultMaxBuckets = 1024
