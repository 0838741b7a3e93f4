package discordhttp

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Pipeline is the staged, backpressured dataflow described in the package
// doc: ingress buffer -> limiter gate -> HTTP send -> parser -> answer.
//
// Construct one with New and either call Submit for one-shot use or Stream
// for the raw channel pair. Close shuts the pipeline down; in-flight
// requests receive Error{ErrPipelineShutdown} rather than being silently
// dropped.
type Pipeline struct {
	cfg   Config
	token string
	doer  HTTPDoer
	log   *slog.Logger

	limiter *limiter

	ingress      chan Request
	retryIngress chan Request
	answers      chan Answer

	mu        sync.Mutex
	waitersOn map[uuid.UUID]chan Answer

	closeOnce sync.Once
	closed    chan struct{}
	workersWG sync.WaitGroup
	ingressWG sync.WaitGroup
}

// New constructs a Pipeline. token is sent verbatim as the Authorization
// header value (callers are responsible for the "Bot "/"Bearer " scheme
// prefix). doer sends the actual HTTP requests; pass DefaultHTTPDoer(cfg
// .HTTPTimeout) in production or a stub/httpmock client in tests.
func New(token string, doer HTTPDoer, cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if doer == nil {
		doer = DefaultHTTPDoer(cfg.HTTPTimeout)
	}
	p := &Pipeline{
		cfg:          cfg,
		token:        token,
		doer:         doer,
		log:          slog.Default(),
		limiter:      newLimiter(cfg.MaxBuckets, cfg.recorder, slog.Default()),
		ingress:      make(chan Request, cfg.BufferSize),
		retryIngress: make(chan Request, cfg.BufferSize),
		answers:      make(chan Answer, cfg.BufferSize),
		waitersOn:    make(map[uuid.UUID]chan Answer),
		closed:       make(chan struct{}),
	}
	p.workersWG.Add(cfg.Parallelism)
	for i := 0; i < cfg.Parallelism; i++ {
		go p.worker()
	}
	return p, nil
}

// Stream exposes the raw channel pair backing this Pipeline: send Requests
// in, receive Answers out. Answers may arrive out of submission order.
// Callers using Stream directly (rather than Submit) are responsible for
// matching Answer.ID back to their Request.
func (p *Pipeline) Stream() (chan<- Request, <-chan Answer) {
	return p.ingress, p.answers
}

// Submit enqueues req and blocks until its matching Answer arrives or ctx
// is cancelled. It is a convenience built on top of Stream: internally it
// registers for req.ID and relays the first Answer carrying it.
func (p *Pipeline) Submit(ctx context.Context, req Request) (Answer, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	wait := make(chan Answer, 1)
	p.mu.Lock()
	p.waitersOn[req.ID] = wait
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.waitersOn, req.ID)
		p.mu.Unlock()
	}()

	if err := p.enqueue(ctx, req); err != nil {
		return Answer{}, err
	}

	select {
	case ans := <-wait:
		return ans, nil
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	case <-p.closed:
		return Answer{Kind: AnswerError, Route: req.Route, ID: req.ID, Tag: req.Tag, Err: ErrPipelineShutdown}, nil
	}
}

// submitRetry is the entry point for reinjected requests: it bypasses
// enqueue's OverflowPolicy and pushes straight onto retryIngress,
// the channel worker checks ahead of ingress. A retried request this way
// jumps the queue in front of any freshly submitted work instead of
// re-entering at the tail of the main buffer. retryIngress is bounded by
// the same buffer_size as ingress; a retry that cannot be enqueued within
// MaxAllowedWait is surfaced as Error{ErrBufferOverflow} rather than
// blocking forever.
func (p *Pipeline) submitRetry(ctx context.Context, req Request) (Answer, error) {
	wait := make(chan Answer, 1)
	p.mu.Lock()
	p.waitersOn[req.ID] = wait
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.waitersOn, req.ID)
		p.mu.Unlock()
	}()

	timeout := time.NewTimer(p.cfg.MaxAllowedWait)
	defer timeout.Stop()

	select {
	case p.retryIngress <- req:
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	case <-p.closed:
		return Answer{Kind: AnswerError, Route: req.Route, ID: req.ID, Tag: req.Tag, Err: ErrPipelineShutdown}, nil
	case <-timeout.C:
		return answerFor(req, ErrBufferOverflow), nil
	}

	select {
	case ans := <-wait:
		return ans, nil
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	case <-p.closed:
		return Answer{Kind: AnswerError, Route: req.Route, ID: req.ID, Tag: req.Tag, Err: ErrPipelineShutdown}, nil
	}
}

// enqueue applies the configured OverflowPolicy to push req onto ingress.
func (p *Pipeline) enqueue(ctx context.Context, req Request) error {
	switch p.cfg.Overflow {
	case Backpressure:
		select {
		case p.ingress <- req:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-p.closed:
			return ErrPipelineShutdown
		}
	case DropNewest, Fail:
		select {
		case p.ingress <- req:
			return nil
		default:
			p.deliver(answerFor(req, ErrBufferOverflow))
			return nil
		}
	case DropOldest:
		select {
		case p.ingress <- req:
			return nil
		default:
			select {
			case old := <-p.ingress:
				p.deliver(answerFor(old, ErrBufferOverflow))
			default:
			}
			select {
			case p.ingress <- req:
			default:
				p.deliver(answerFor(req, ErrBufferOverflow))
			}
			return nil
		}
	case DropBuffer:
		select {
		case p.ingress <- req:
			return nil
		default:
			for {
				select {
				case old := <-p.ingress:
					p.deliver(answerFor(old, ErrBufferOverflow))
				default:
					select {
					case p.ingress <- req:
					default:
						p.deliver(answerFor(req, ErrBufferOverflow))
					}
					return nil
				}
			}
		}
	default:
		select {
		case p.ingress <- req:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func answerFor(req Request, err error) Answer {
	return Answer{Kind: AnswerError, Route: req.Route, ID: req.ID, Tag: req.Tag, Err: err}
}

// worker is one of cfg.Parallelism goroutines that take admitted requests
// from ingress, gate them through the Limiter, send the HTTP request, parse
// the response, and emit the Answer.
func (p *Pipeline) worker() {
	defer p.workersWG.Done()
	for {
		// Biased toward retryIngress: drain it first, non-blocking, before
		// falling into the select below where it competes with fresh
		// ingress. A reinjected request never waits behind a run of newly
		// submitted ones the way a fair select would let it.
		select {
		case req, ok := <-p.retryIngress:
			if !ok {
				return
			}
			p.handleOne(req)
			continue
		default:
		}

		select {
		case req, ok := <-p.retryIngress:
			if !ok {
				return
			}
			p.handleOne(req)
		case req, ok := <-p.ingress:
			if !ok {
				return
			}
			p.handleOne(req)
		case <-p.closed:
			return
		}
	}
}

func (p *Pipeline) handleOne(req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.MaxAllowedWait+p.cfg.HTTPTimeout)
	defer cancel()

	waitStart := time.Now()
	_, pass, err := p.limiter.admit(ctx, req, p.cfg.MaxAllowedWait)
	p.cfg.recorder.Observe(metricWaitSeconds, time.Since(waitStart).Seconds(), map[string]string{"route": req.Route.String()})
	if err != nil {
		// Context expired or pipeline shutting down while waiting for
		// admission; no answer for a cancelled-at-ingress request, but
		// we did make it past ingress, so surface shutdown explicitly
		// and otherwise treat as a drop.
		if err == ErrPipelineShutdown {
			p.deliver(answerFor(req, ErrPipelineShutdown))
			return
		}
		p.deliver(Answer{Kind: AnswerDropped, Route: req.Route, ID: req.ID, Tag: req.Tag})
		return
	}
	if !pass {
		p.deliver(Answer{Kind: AnswerDropped, Route: req.Route, ID: req.ID, Tag: req.Tag})
		return
	}

	if p.cfg.LogSentREST {
		p.log.Debug("sending REST request", "method", req.Method, "url", req.URL, "route", req.Route.String())
	}

	sendStart := time.Now()
	httpCtx, httpCancel := context.WithTimeout(context.Background(), p.cfg.HTTPTimeout)
	defer httpCancel()
	var resp *http.Response
	var doErr error
	httpReq, buildErr := buildHTTPRequest(httpCtx, req, p.token, p.cfg.UserAgent, p.cfg.MillisecondPrecision)
	if buildErr != nil {
		doErr = buildErr
	} else {
		resp, doErr = p.doer.Do(httpReq)
	}
	p.cfg.recorder.Observe(metricHTTPLatency, time.Since(sendStart).Seconds(), map[string]string{"route": req.Route.String()})

	ans, info, _ := parseResponse(req, resp, doErr, p.cfg.RelativeTime, p.logRatelimitLogger())

	if p.cfg.LogReceivedREST {
		p.log.Debug("received REST response", "route", req.Route.String(), "kind", ans.Kind.String())
	}

	if ans.Kind == AnswerRatelimited {
		p.cfg.recorder.Add(metric429, 1, map[string]string{"global": boolTag(info.Global)})
	}

	if info.BucketSeen || info.Global {
		p.limiter.updateRatelimits(req.Route, req.ID, info)
	} else if doErr == nil {
		// No bucket header at all: still tell the limiter the request
		// resolved so its inFlight reservation is released for cancel
		// bookkeeping, and let it store whatever limit/remaining/reset
		// headers were present (unknown when absent), without binding a
		// bucket.
		p.limiter.updateRatelimits(req.Route, req.ID, info)
	} else {
		// Transport-level failure: no response observed, release the
		// reserved slot back to the bucket.
		p.limiter.release(req.ID)
	}

	p.deliver(ans)
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (p *Pipeline) logRatelimitLogger() *slog.Logger {
	if p.cfg.LogRatelimitEvents {
		return p.log
	}
	return nil
}

// deliver routes ans either to a registered Submit waiter or onto the
// shared answers channel for Stream consumers.
func (p *Pipeline) deliver(ans Answer) {
	p.mu.Lock()
	wait, ok := p.waitersOn[ans.ID]
	p.mu.Unlock()
	if ok {
		select {
		case wait <- ans:
		default:
		}
		return
	}
	select {
	case p.answers <- ans:
	case <-p.closed:
	}
}

// Close shuts the pipeline down: no further requests are accepted, workers
// drain in-flight work, and the Limiter is stopped.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		close(p.ingress)
		close(p.retryIngress)
		p.workersWG.Wait()
		p.limiter.stop()
		close(p.answers)
	})
}
