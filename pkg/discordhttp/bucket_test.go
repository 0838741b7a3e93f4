package discordhttp

import (
	"testing"
	"time"
)

func TestBucketTable_LookupCreatesProvisionalUnknownState(t *testing.T) {
	tbl := newBucketTable(10)
	route := KeyFor("GET", "/gateway", nil)
	id, state := tbl.lookup(route, time.Now())
	if id != provisionalID(route) {
		t.Fatalf("expected provisional id, got %s", id)
	}
	if !state.isUnknown() {
		t.Fatalf("expected unknown state, got %+v", state)
	}
}

func TestBucketTable_BindIsMonotone(t *testing.T) {
	tbl := newBucketTable(10)
	route := KeyFor("GET", "/gateway", nil)
	now := time.Now()
	tbl.bind(route, BucketID("abc"), now)
	tbl.bind(route, BucketID("xyz"), now) // ignored: already bound
	id, _ := tbl.lookup(route, now)
	if id != "abc" {
		t.Fatalf("expected bucket binding to stay at first value, got %s", id)
	}
}

func TestBucketTable_UpdateIgnoresStaleLastSeen(t *testing.T) {
	tbl := newBucketTable(10)
	id := BucketID("abc")
	now := time.Now()
	tbl.update(id, BucketState{Limit: 5, Remaining: 5, LastSeen: now}, now)
	tbl.update(id, BucketState{Limit: 5, Remaining: 3, LastSeen: now.Add(-time.Minute)}, now)
	state, _ := tbl.state(id)
	if state.Remaining != 5 {
		t.Fatalf("expected stale update to be ignored, got remaining=%d", state.Remaining)
	}
}

func TestBucketTable_EvictsLeastRecentlyUsed(t *testing.T) {
	tbl := newBucketTable(2)
	now := time.Now()
	r1 := KeyFor("GET", "/a", nil)
	r2 := KeyFor("GET", "/b", nil)
	r3 := KeyFor("GET", "/c", nil)

	tbl.lookup(r1, now)
	tbl.lookup(r2, now.Add(time.Second))
	tbl.lookup(r3, now.Add(2*time.Second)) // evicts r1, the oldest

	if _, ok := tbl.buckets[provisionalID(r1)]; ok {
		t.Fatal("expected r1's bucket to have been evicted")
	}
	if _, ok := tbl.buckets[provisionalID(r2)]; !ok {
		t.Fatal("expected r2's bucket to survive")
	}
	if _, ok := tbl.buckets[provisionalID(r3)]; !ok {
		t.Fatal("expected r3's bucket to survive")
	}
}

func TestBucketTable_DefaultMaxBuckets(t *testing.T) {
	tbl := newBucketTable(0)
	if tbl.maxBuckets != defaultMaxBuckets {
		t.Fatalf("expected default max buckets, got %d", tbl.maxBuckets)
	}
}
