package depgraph

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCircularDependency is returned when the graph can make no progress.
var ErrCircularDependency = errors.New("circular dependency detected")

// DefaultTimeout is the dispatcher's wake interval for cycle detection. It
// must stay longer than worst-case dispatch latency or slow startups would
// be misread as cycles.
const DefaultTimeout = 1000 * time.Millisecond

// Handle is one dispatched node. Creating a handle increments the
// scheduler's in-flight count; Done signals completion exactly once.
// Dropping a handle without calling Done stalls its dependents, so workers
// must defer it.
type Handle struct {
	id   string
	s    *Scheduler
	once sync.Once
}

// ID is the node this handle stands for.
func (h *Handle) ID() string { return h.id }

// Done marks the node complete and unlocks its dependents. Safe to call
// multiple times; only the first counts. The send never blocks: the
// completion channel is sized for every node in the graph.
func (h *Handle) Done() {
	h.once.Do(func() {
		h.s.handles.Add(-1)
		h.s.completions <- h.id
	})
}

// Scheduler streams ready nodes to workers. Each node is handed out
// exactly once, only after all of its prerequisites completed.
type Scheduler struct {
	ready       chan string
	completions chan string
	quit        chan struct{}
	quitOnce    sync.Once

	// handles counts live Handle values; the dispatcher keeps its own
	// in-flight count covering the window between a send and the handle's
	// completion.
	handles atomic.Int64

	total int

	mu  sync.Mutex
	err error
}

// Option configures a scheduler.
type Option func(*config)

type config struct {
	timeout time.Duration
}

// WithTimeout overrides the cycle-detection interval.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Schedule starts the dispatcher over the graph. The graph must not be
// mutated afterwards; it is consumed as nodes complete.
func Schedule(g *Graph, opts ...Option) *Scheduler {
	cfg := config{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	total := g.Len()
	s := &Scheduler{
		// Both channels hold every node, so neither the dispatcher nor a
		// completing worker can ever block on a send.
		ready:       make(chan string, total+1),
		completions: make(chan string, total+1),
		quit:        make(chan struct{}),
		total:       total,
	}

	go s.dispatch(g, cfg.timeout)
	return s
}

// Next hands out the next ready node, blocking until one is available.
// ok=false means the stream ended: either all nodes completed, the run was
// cancelled, or a cycle was detected (see Err).
func (s *Scheduler) Next() (*Handle, bool) {
	id, ok := <-s.ready
	if !ok {
		return nil, false
	}
	s.handles.Add(1)
	return &Handle{id: id, s: s}, true
}

// Width is the worker-pool hint: min(total nodes, CPU count). More workers
// than nodes would idle on an empty queue; more than CPUs wastes scheduling.
func (s *Scheduler) Width() int {
	width := s.total
	if cpus := runtime.NumCPU(); cpus < width {
		width = cpus
	}
	if width < 1 {
		width = 1
	}
	return width
}

// InFlight counts live handles: nodes handed out whose Done has not run.
func (s *Scheduler) InFlight() int64 { return s.handles.Load() }

// Err reports the terminal error, if any, once the stream ended.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel stops dispatching. In-flight work may complete but no new nodes
// are handed out.
func (s *Scheduler) Cancel() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *Scheduler) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Scheduler) dispatch(g *Graph, timeout time.Duration) {
	defer close(s.ready)

	// inFlight counts nodes sent to the ready queue whose completion has
	// not come back yet. It covers the race window between a worker
	// receiving a node and constructing its handle, which the handle
	// counter alone cannot see.
	inFlight := 0

	for _, id := range g.readyNodes() {
		s.ready <- id
		inFlight++
	}
	if g.empty() {
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case id := <-s.completions:
			inFlight--
			for _, next := range g.removeNode(id) {
				s.ready <- next
				inFlight++
			}
			if g.empty() {
				return
			}
			resetTimer(timer, timeout)

		case <-s.quit:
			return

		case <-timer.C:
			if g.empty() {
				return
			}
			if inFlight > 0 {
				// Still making progress; just a slow worker.
				resetTimer(timer, timeout)
				continue
			}
			s.fail(ErrCircularDependency)
			return
		}
	}
}

func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}
