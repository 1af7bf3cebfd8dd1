package comm

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// it is concurrent safe.  Pools must be created with NewPool.
//
// A pool of size one serializes all exchanges with the device, which is what
// a lock-step request/response protocol needs.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	onLease int                     // number of connections given out, <= cap(conns)
	timeout time.Duration           // idle time after which all pooled connections are freed
	conns   chan io.ReadWriteCloser // the circular buffer of connections
	slots   chan struct{}           // one token per connection that may exist
	timer   *time.Timer             // fires timeout after the last connection is returned
	maker   CreationFunc
	limiter *rate.Limiter

	mu sync.Mutex
}

// NewPool creates a new pool holding at most maxSize connections, which are
// closed once none has been used for timeout
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		slots:   make(chan struct{}, maxSize),
		maker:   maker,
	}
	for i := 0; i < maxSize; i++ {
		p.slots <- struct{}{}
	}
	p.timer = time.AfterFunc(timeout, p.reclaim)
	p.timer.Stop() // nothing to close initially
	return p
}

// Pace limits the rate at which connections are handed out to perSecond,
// which bounds the command rate for pools used one exchange per Get.
// Zero or negative values remove the limit.
func (p *Pool) Pace(perSecond float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if perSecond <= 0 {
		p.limiter = nil
		return
	}
	p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
}

// Get retrieves a communicator from the pool, blocking until one is
// available if all are in use.  It is guaranteed that there is no contention
// for the ReadWriter.  The consumer should not attempt to cast it to its
// concrete type and use it outside this interface.
//
// When done with the communicator, return it with Put(), or discard it with
// Destroy() if it has become no good (e.g., all calls error).
// ReturnWithError picks between the two.
//
// If the error from Get is not nil, you must not return it to the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.mu.Lock()
	lim := p.limiter
	p.mu.Unlock()
	if lim != nil {
		if err := lim.Wait(context.Background()); err != nil {
			return nil, err
		}
	}

	<-p.slots
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timer.Stop()
	select {
	case c := <-p.conns:
		p.onLease++
		return c, nil
	default:
	}
	c, err := p.maker()
	if err != nil {
		p.slots <- struct{}{}
		return nil, err
	}
	p.onLease++
	return c, nil
}

// Put restores a communicator to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timeout
// has elapsed.  Junk communicators (ones that always error) should be
// Destroy()'d and not returned with Put.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns <- rwc
	p.onLease--
	p.slots <- struct{}{}
	if p.onLease == 0 {
		p.timer.Reset(p.timeout)
	}
}

// Destroy immediately frees a communicator from the pool.  This should be used
// instead of Put if the communicator has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	rwc.Close()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLease--
	p.slots <- struct{}{}
}

// ReturnWithError returns the communicator with Put if err is nil,
// otherwise it is Destroy()'d
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns) + p.onLease
}

// Active returns the number of connections owned by the pool that are currently
// given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// reclaim closes all idle connections
func (p *Pool) reclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		select {
		case c := <-p.conns:
			c.Close()
		default:
			return
		}
	}
}
