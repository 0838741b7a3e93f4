package discordhttp

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// limiter is the single-writer actor that owns the bucket table and the
// global rate-limit state. Every mutation happens inside run(); everything
// else talks to it over cmdCh. This mirrors the "one goroutine owns the
// map" shape used elsewhere in this lineage for mutex-free shared state.
type limiter struct {
	cmdCh   chan any
	stopped chan struct{}

	recorder MetricsRecorder
	log      *slog.Logger

	// run()-local state; touched only inside run().
	table        *bucketTable
	globalUntil  time.Time
	globalQueue  []*waiter
	globalTimer  *time.Timer
	bucketQueues map[BucketID][]*waiter
	bucketTimers map[BucketID]*time.Timer
	inFlight     map[uuid.UUID]BucketID
	waitersByID  map[uuid.UUID]*waiter
}

type waiter struct {
	req       Request
	deadline  time.Time
	reply     chan admitResult
	cancelled bool
}

type admitResult struct {
	pass     bool
	bucketID BucketID
}

type cmdAdmit struct {
	req      Request
	deadline time.Time
	reply    chan admitResult
}

type cmdUpdate struct {
	route RouteKey
	id    uuid.UUID
	info  RatelimitInfo
}

type cmdRelease struct{ id uuid.UUID }

type cmdCancelWaiter struct{ id uuid.UUID }

type cmdBucketWake struct{ id BucketID }

type cmdGlobalWake struct{}

type cmdStop struct{ done chan struct{} }

func newLimiter(maxBuckets int, recorder MetricsRecorder, log *slog.Logger) *limiter {
	if recorder == nil {
		recorder = &NoOpMetricsRecorder{}
	}
	l := &limiter{
		cmdCh:        make(chan any, 256),
		stopped:      make(chan struct{}),
		recorder:     recorder,
		log:          log,
		table:        newBucketTable(maxBuckets),
		bucketQueues: make(map[BucketID][]*waiter),
		bucketTimers: make(map[BucketID]*time.Timer),
		inFlight:     make(map[uuid.UUID]BucketID),
		waitersByID:  make(map[uuid.UUID]*waiter),
	}
	go l.run()
	return l
}

func (l *limiter) run() {
	defer close(l.stopped)
	for cmd := range l.cmdCh {
		switch c := cmd.(type) {
		case cmdAdmit:
			l.handleAdmit(c)
		case cmdUpdate:
			l.handleUpdate(c)
		case cmdRelease:
			l.handleRelease(c.id)
		case cmdCancelWaiter:
			l.handleCancel(c.id)
		case cmdBucketWake:
			l.drainBucket(c.id, time.Now())
		case cmdGlobalWake:
			l.drainGlobal(time.Now())
		case cmdStop:
			close(c.done)
			return
		}
	}
}

// admit blocks until the Limiter has admitted or dropped req, or ctx is
// cancelled. It implements want_to_pass from the spec.
func (l *limiter) admit(ctx context.Context, req Request, maxAllowedWait time.Duration) (bucketID BucketID, pass bool, err error) {
	reply := make(chan admitResult, 1)
	deadline := time.Now().Add(maxAllowedWait)
	select {
	case l.cmdCh <- cmdAdmit{req: req, deadline: deadline, reply: reply}:
	case <-ctx.Done():
		return "", false, ctx.Err()
	case <-l.stopped:
		return "", false, ErrPipelineShutdown
	}
	select {
	case res := <-reply:
		return res.bucketID, res.pass, nil
	case <-ctx.Done():
		// Best-effort: tell the limiter to drop this waiter from any
		// queue it may be sitting in. If it already decided, this is a
		// harmless no-op.
		select {
		case l.cmdCh <- cmdCancelWaiter{id: req.ID}:
		default:
		}
		return "", false, ctx.Err()
	case <-l.stopped:
		return "", false, ErrPipelineShutdown
	}
}

// updateRatelimits feeds response headers back into the Limiter. It
// implements update_ratelimits from the spec.
func (l *limiter) updateRatelimits(route RouteKey, id uuid.UUID, info RatelimitInfo) {
	select {
	case l.cmdCh <- cmdUpdate{route: route, id: id, info: info}:
	case <-l.stopped:
	}
}

// release returns a reserved slot to the bucket if no response was ever
// observed for id (i.e. the request was cancelled in flight).
func (l *limiter) release(id uuid.UUID) {
	select {
	case l.cmdCh <- cmdRelease{id: id}:
	case <-l.stopped:
	}
}

func (l *limiter) stop() {
	done := make(chan struct{})
	select {
	case l.cmdCh <- cmdStop{done: done}:
		<-l.stopped
	case <-l.stopped:
	}
}

// handleAdmit implements want_to_pass's five-way branch.
func (l *limiter) handleAdmit(c cmdAdmit) {
	now := time.Now()

	if l.globalUntil.After(now) {
		remain := l.globalUntil.Sub(now)
		if remain > remainingBudget(c.deadline, now) {
			l.reportAdmission("drop")
			c.reply <- admitResult{pass: false}
			return
		}
		l.enqueueGlobal(c, now)
		return
	}

	route := c.req.Route
	id, state := l.table.lookup(route, now)

	switch {
	case state.isUnknown():
		l.reportAdmission("pass")
		l.inFlight[c.req.ID] = id
		c.reply <- admitResult{pass: true, bucketID: id}

	case state.Remaining > 0:
		state.Remaining--
		l.table.setState(id, state)
		l.reportAdmission("pass")
		l.inFlight[c.req.ID] = id
		c.reply <- admitResult{pass: true, bucketID: id}

	default: // Remaining <= 0
		wait := state.ResetAt.Sub(now)
		if wait <= remainingBudget(c.deadline, now) {
			l.enqueueBucket(id, c, now, state.ResetAt)
		} else {
			l.reportAdmission("drop")
			c.reply <- admitResult{pass: false}
		}
	}
}

// remainingBudget is the caller's remaining admission-wait budget at now.
func remainingBudget(deadline, now time.Time) time.Duration {
	d := deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (l *limiter) enqueueBucket(id BucketID, c cmdAdmit, now time.Time, resetAt time.Time) {
	w := &waiter{req: c.req, deadline: c.deadline, reply: c.reply}
	l.waitersByID[c.req.ID] = w
	l.bucketQueues[id] = append(l.bucketQueues[id], w)
	l.reportAdmission("defer")
	l.armBucketTimer(id, resetAt)
}

func (l *limiter) enqueueGlobal(c cmdAdmit, now time.Time) {
	w := &waiter{req: c.req, deadline: c.deadline, reply: c.reply}
	l.waitersByID[c.req.ID] = w
	l.globalQueue = append(l.globalQueue, w)
	l.reportAdmission("defer")
	l.armGlobalTimer()
}

func (l *limiter) armBucketTimer(id BucketID, resetAt time.Time) {
	if t, ok := l.bucketTimers[id]; ok {
		t.Stop()
	}
	wait := time.Until(resetAt)
	if wait < 0 {
		wait = 0
	}
	l.bucketTimers[id] = time.AfterFunc(wait, func() {
		select {
		case l.cmdCh <- cmdBucketWake{id: id}:
		case <-l.stopped:
		}
	})
}

func (l *limiter) armGlobalTimer() {
	if l.globalTimer != nil {
		l.globalTimer.Stop()
	}
	wait := time.Until(l.globalUntil)
	if wait < 0 {
		wait = 0
	}
	l.globalTimer = time.AfterFunc(wait, func() {
		select {
		case l.cmdCh <- cmdGlobalWake{}:
		case <-l.stopped:
		}
	})
}

// drainBucket is called when a bucket's reset_at timer fires. It refills
// the bucket to its last known limit and admits queued waiters FIFO, up to
// that limit.
func (l *limiter) drainBucket(id BucketID, now time.Time) {
	queue := l.bucketQueues[id]
	delete(l.bucketQueues, id)
	delete(l.bucketTimers, id)

	state, ok := l.table.state(id)
	if ok && state.Limit > 0 {
		state.Remaining = state.Limit
		l.table.setState(id, state)
	}

	remaining := int64(-1)
	if ok {
		remaining = state.Remaining
	}

	var requeue []*waiter
	for _, w := range queue {
		if w.cancelled {
			delete(l.waitersByID, w.req.ID)
			continue
		}
		if now.After(w.deadline) {
			delete(l.waitersByID, w.req.ID)
			l.reportAdmission("drop")
			w.reply <- admitResult{pass: false}
			continue
		}
		if remaining != 0 {
			if remaining > 0 {
				remaining--
				st, _ := l.table.state(id)
				st.Remaining = remaining
				l.table.setState(id, st)
			}
			delete(l.waitersByID, w.req.ID)
			l.inFlight[w.req.ID] = id
			l.reportAdmission("pass")
			w.reply <- admitResult{pass: true, bucketID: id}
			continue
		}
		requeue = append(requeue, w)
	}
	if len(requeue) > 0 {
		l.bucketQueues[id] = requeue
		// No further update has refreshed reset_at; these waiters stay
		// queued until either a response updates this bucket's state
		// (handleUpdate drains opportunistically) or the admitting
		// worker's context expires (MaxAllowedWait plus HTTPTimeout), at
		// which point the pipeline answers Dropped.
	}
}

func (l *limiter) drainGlobal(now time.Time) {
	if !l.globalUntil.After(now) {
		l.globalUntil = time.Time{}
	}
	queue := l.globalQueue
	l.globalQueue = nil
	for _, w := range queue {
		if w.cancelled {
			delete(l.waitersByID, w.req.ID)
			continue
		}
		if now.After(w.deadline) {
			delete(l.waitersByID, w.req.ID)
			l.reportAdmission("drop")
			w.reply <- admitResult{pass: false}
			continue
		}
		// Global block has lifted; re-run the per-bucket decision for
		// this waiter rather than unconditionally admitting it.
		delete(l.waitersByID, w.req.ID)
		l.handleAdmit(cmdAdmit{req: w.req, deadline: w.deadline, reply: w.reply})
	}
}

// handleUpdate implements update_ratelimits.
func (l *limiter) handleUpdate(c cmdUpdate) {
	now := time.Now()
	delete(l.inFlight, c.id)

	if !c.info.BucketSeen {
		if l.log != nil {
			l.log.Warn("response missing X-RateLimit-Bucket header; state updated without binding", "route", c.route.String())
		}
	} else {
		l.table.bind(c.route, c.info.BucketID, now)
	}

	targetID := c.info.BucketID
	if targetID == "" {
		targetID = provisionalID(c.route)
		if bound, ok := l.table.routeToBucket[c.route]; ok {
			targetID = bound
		}
	}

	newState := BucketState{
		Limit:     c.info.Limit,
		Remaining: c.info.Remaining,
		ResetAt:   c.info.ResetAt,
		LastSeen:  now,
	}
	// The update's Remaining is authoritative even against a slightly
	// higher value the Limiter may have decremented to locally (the tie
	// break in the spec): we simply replace state wholesale here, which
	// always prefers the server's view.
	l.table.update(targetID, newState, now)

	if c.info.Global {
		resetAt := now.Add(c.info.GlobalTTL)
		if resetAt.After(l.globalUntil) {
			l.globalUntil = resetAt
			l.armGlobalTimer()
		}
	}

	// Opportunistically drain any bucket waiters now that fresh state
	// arrived; this is what actually un-sticks the "requeue" branch in
	// drainBucket when no reset timer is pending yet. Waiters enqueued
	// before this route's bucket was confirmed still sit under the
	// provisional id, so check both.
	for _, candidate := range []BucketID{targetID, provisionalID(c.route)} {
		if queue, ok := l.bucketQueues[candidate]; ok && len(queue) > 0 && newState.Remaining > 0 {
			l.drainBucket(candidate, now)
		}
	}
}

func (l *limiter) handleRelease(id uuid.UUID) {
	bucketID, ok := l.inFlight[id]
	if !ok {
		return // response already observed; state is already authoritative
	}
	delete(l.inFlight, id)
	state, ok := l.table.state(bucketID)
	if !ok || state.isUnknown() {
		return
	}
	if state.Limit >= 0 && state.Remaining >= state.Limit {
		return
	}
	state.Remaining++
	l.table.setState(bucketID, state)
}

func (l *limiter) handleCancel(id uuid.UUID) {
	if w, ok := l.waitersByID[id]; ok {
		w.cancelled = true
	}
}

func (l *limiter) reportAdmission(decision string) {
	l.recorder.Add(metricAdmission, 1, map[string]string{"decision": decision})
}
