package transcoder

import (
	"context"
	"sync"
	"time"
)

// Handlers receive engine events for one invocation
type Handlers struct {
	// OnProgress gets the processed output time in seconds from the native progress stream
	OnProgress func(outTimeSec float64)
	// OnLog gets every engine log line
	OnLog func(line string)
}

// Capabilities describes what the installed engine supports
type Capabilities struct {
	Drawtext bool
	Version  string
}

// Engine runs encoder invocations. Implementations are not assumed to be safe
// for concurrent use; Session serializes access.
type Engine interface {
	Run(ctx context.Context, args []string, h Handlers) error
	Capabilities(ctx context.Context) (Capabilities, error)
}

// Session owns one Engine for the process lifetime. It is initialized lazily
// once and lent to a single job at a time.
type Session struct {
	engine Engine

	capsMu sync.Mutex
	caps   Capabilities
	capsOK bool

	mu     sync.Mutex
	active *Lease
}

// NewSession creates a session around an engine
func NewSession(engine Engine) *Session {
	return &Session{engine: engine}
}

// capabilityTimeout bounds one capability check
const capabilityTimeout = 10 * time.Second

// Capabilities probes the engine on first use and caches a successful answer.
// The check runs detached from ctx so a cancelled job cannot poison the cache;
// a failed check is retried on the next call.
func (s *Session) Capabilities(ctx context.Context) (Capabilities, error) {
	s.capsMu.Lock()
	defer s.capsMu.Unlock()
	if s.capsOK {
		return s.caps, nil
	}

	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), capabilityTimeout)
	defer cancel()
	caps, err := s.engine.Capabilities(checkCtx)
	if err != nil {
		return Capabilities{}, err
	}
	s.caps, s.capsOK = caps, true
	return caps, nil
}

// Busy reports whether a job currently holds the engine
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// TryAcquire lends the engine to one job. A second caller gets ErrExportInProgress
// until the lease is released.
func (s *Session) TryAcquire() (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return nil, ErrExportInProgress
	}
	l := &Lease{session: s, subs: make(map[int]Handlers)}
	s.active = l
	return l, nil
}

func (s *Session) release(l *Lease) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == l {
		s.active = nil
	}
}

// Lease is exclusive use of the session's engine by one job
type Lease struct {
	session *Session

	mu       sync.Mutex
	subs     map[int]Handlers
	nextID   int
	released bool
}

// Subscribe registers handlers for engine events during this lease.
// The returned function removes them and is safe to call more than once.
func (l *Lease) Subscribe(h Handlers) (unsubscribe func()) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = h
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
		})
	}
}

// Subscribers returns how many handler sets are registered
func (l *Lease) Subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Exec runs one engine invocation, fanning events out to current subscribers
func (l *Lease) Exec(ctx context.Context, args []string) error {
	l.mu.Lock()
	released := l.released
	l.mu.Unlock()
	if released {
		return ErrEngineExecution
	}

	return l.session.engine.Run(ctx, args, Handlers{
		OnProgress: func(sec float64) {
			for _, h := range l.snapshot() {
				if h.OnProgress != nil {
					h.OnProgress(sec)
				}
			}
		},
		OnLog: func(line string) {
			for _, h := range l.snapshot() {
				if h.OnLog != nil {
					h.OnLog(line)
				}
			}
		},
	})
}

func (l *Lease) snapshot() []Handlers {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Handlers, 0, len(l.subs))
	for _, h := range l.subs {
		out = append(out, h)
	}
	return out
}

// Release returns the engine to the session and drops all subscriptions
func (l *Lease) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	l.subs = make(map[int]Handlers)
	l.mu.Unlock()

	l.session.release(l)
}
