package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// workerPool runs helper workers concurrently and collects their results
// on a shared channel. Each worker writes at most one value; the channel
// is buffered to the worker count so writes never block, and draining is
// non-blocking so stragglers are simply absent from the result list.
type workerPool struct {
	results chan Value
	done    chan struct{}
	cancel  context.CancelFunc
	once    sync.Once
}

// startWorkers launches one goroutine per helper. A panicking or failing
// worker reports nothing; the missing slot is meaningful downstream.
func startWorkers(ctx context.Context, log zerolog.Logger, helpers []Helper) *workerPool {
	ctx, cancel := context.WithCancel(ctx)
	p := &workerPool{
		results: make(chan Value, len(helpers)),
		done:    make(chan struct{}),
		cancel:  cancel,
	}

	var wg sync.WaitGroup
	for i, h := range helpers {
		wg.Add(1)
		go func(id int, h Helper) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Warn().Int("helper", id).Interface("panic", r).Msg("helper panicked")
				}
			}()
			v, err := h.Run(ctx)
			if err != nil {
				log.Debug().Int("helper", id).Err(err).Msg("helper reported nothing")
				return
			}
			select {
			case p.results <- v:
			default:
			}
		}(i, h)
	}
	go func() {
		wg.Wait()
		close(p.done)
	}()
	return p
}

// Join waits for all workers, or for timeout to elapse when timeout is
// positive. The timeout is advisory: callers must still Terminate.
func (p *workerPool) Join(timeout time.Duration) {
	if timeout <= 0 {
		<-p.done
		return
	}
	select {
	case <-p.done:
	case <-time.After(timeout):
	}
}

// Terminate cancels every worker regardless of whether it already
// finished. Terminating an exited worker is a no-op; calling Terminate
// repeatedly is safe.
func (p *workerPool) Terminate() {
	p.once.Do(p.cancel)
}

// Drain returns every result available right now without blocking.
// Workers that have not reported are not waited for.
func (p *workerPool) Drain() []Value {
	var out []Value
	for {
		select {
		case v := <-p.results:
			out = append(out, v)
		default:
			return out
		}
	}
}
