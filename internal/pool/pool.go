package pool

import (
	"container/heap"
	"context"
	"fmt"
	"sync/atomic"

	"conveyor/internal/services"
)

// ResourceClass identifies a compute capacity class.
type ResourceClass string

const (
	// ClassLight runs the lightweight pre/post transform stages.
	ClassLight ResourceClass = "light"
	// ClassAccelerated runs the heavyweight GPU transform stage.
	ClassAccelerated ResourceClass = "accelerated"
)

// ParseClass maps a config string onto a ResourceClass.
func ParseClass(value string) (ResourceClass, error) {
	switch ResourceClass(value) {
	case ClassLight:
		return ClassLight, nil
	case ClassAccelerated:
		return ClassAccelerated, nil
	default:
		return "", services.Wrap(services.ErrConfiguration, "pool", "parse class",
			fmt.Sprintf("unknown resource class %q", value), nil)
	}
}

// Waiter lifecycle. The state moves waiting->granted (dispatcher wins) or
// waiting->canceled (acquirer wins); the CAS loser handles the units.
const (
	waiterWaiting int32 = iota
	waiterGranted
	waiterCanceled
)

type waiter struct {
	units    int
	priority int
	seq      uint64
	grant    chan struct{}
	state    atomic.Int32
}

// waitQueue orders parked waiters by priority (higher first), then FIFO.
type waitQueue []*waiter

func (q waitQueue) Len() int { return len(q) }

func (q waitQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q waitQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *waitQueue) Push(x any) { *q = append(*q, x.(*waiter)) }

func (q *waitQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// Pool is a capacity-bounded slot allocator for one resource class.
type Pool struct {
	class    ResourceClass
	capacity int

	requests chan *waiter
	releases chan int
	stop     chan struct{}
	done     chan struct{}

	seq      atomic.Uint64
	inFlight atomic.Int64
	waiting  atomic.Int64
}

// New constructs a pool and starts its dispatcher goroutine.
func New(class ResourceClass, capacity int) (*Pool, error) {
	if capacity < 1 {
		return nil, services.Wrap(services.ErrConfiguration, "pool", "new",
			fmt.Sprintf("%s capacity must be at least 1", class), nil)
	}
	p := &Pool{
		class:    class,
		capacity: capacity,
		requests: make(chan *waiter),
		releases: make(chan int),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.dispatch()
	return p, nil
}

// Class returns the pool's resource class.
func (p *Pool) Class() ResourceClass { return p.class }

// Capacity returns the configured capacity bound in units.
func (p *Pool) Capacity() int { return p.capacity }

// InFlight returns the units currently allocated.
func (p *Pool) InFlight() int { return int(p.inFlight.Load()) }

// Waiting returns the number of parked acquire requests.
func (p *Pool) Waiting() int { return int(p.waiting.Load()) }

// Acquire blocks until units of capacity are granted or ctx is done. A
// request larger than the pool's total capacity fails immediately since it
// could never be satisfied.
func (p *Pool) Acquire(ctx context.Context, units, priority int) error {
	if units < 1 {
		units = 1
	}
	if units > p.capacity {
		return services.Wrap(services.ErrConfiguration, "pool", "acquire",
			fmt.Sprintf("request of %d units exceeds %s capacity %d", units, p.class, p.capacity), nil)
	}

	w := &waiter{
		units:    units,
		priority: priority,
		seq:      p.seq.Add(1),
		grant:    make(chan struct{}, 1),
	}

	select {
	case p.requests <- w:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stop:
		return services.Wrap(services.ErrConfiguration, "pool", "acquire", "pool is closed", nil)
	}

	select {
	case <-w.grant:
		return nil
	case <-ctx.Done():
		if w.state.CompareAndSwap(waiterWaiting, waiterCanceled) {
			return ctx.Err()
		}
		// The dispatcher committed the grant first; take it and hand the
		// units straight back.
		<-w.grant
		p.Release(units)
		return ctx.Err()
	case <-p.stop:
		return services.Wrap(services.ErrConfiguration, "pool", "acquire", "pool is closed", nil)
	}
}

// Release returns units to the pool.
func (p *Pool) Release(units int) {
	if units < 1 {
		units = 1
	}
	select {
	case p.releases <- units:
	case <-p.stop:
	}
}

// Close stops the dispatcher. Parked acquires fail; in-flight accounting is
// abandoned.
func (p *Pool) Close() {
	select {
	case <-p.stop:
		return
	default:
	}
	close(p.stop)
	<-p.done
}

func (p *Pool) dispatch() {
	defer close(p.done)

	var queue waitQueue
	heap.Init(&queue)
	inFlight := 0

	grantReady := func() {
		for queue.Len() > 0 {
			top := queue[0]
			if top.state.Load() == waiterCanceled {
				heap.Pop(&queue)
				p.waiting.Add(-1)
				continue
			}
			// Strict priority order: the head waits for capacity even if a
			// smaller lower-priority request behind it would fit.
			if inFlight+top.units > p.capacity {
				return
			}
			heap.Pop(&queue)
			p.waiting.Add(-1)
			if !top.state.CompareAndSwap(waiterWaiting, waiterGranted) {
				// Canceled between the peek and the commit; no units move.
				continue
			}
			inFlight += top.units
			p.inFlight.Store(int64(inFlight))
			top.grant <- struct{}{}
		}
	}

	for {
		select {
		case w := <-p.requests:
			heap.Push(&queue, w)
			p.waiting.Add(1)
			grantReady()
		case units := <-p.releases:
			inFlight -= units
			if inFlight < 0 {
				inFlight = 0
			}
			p.inFlight.Store(int64(inFlight))
			grantReady()
		case <-p.stop:
			return
		}
	}
}
