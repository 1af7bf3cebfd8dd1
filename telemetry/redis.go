package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/magnetlab/oxford"
)

// DefaultPublishTimeout bounds each publish so a slow broker cannot stall a ramp
const DefaultPublishTimeout = 500 * time.Millisecond

// Event is the JSON message published for every report
type Event struct {
	Node     string             `json:"node"`
	Kind     string             `json:"kind"` // progress or result
	Time     time.Time          `json:"time"`
	Progress *oxford.Progress   `json:"progress,omitempty"`
	Result   *oxford.RampResult `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// QueueSize is the number of events a RedisPublisher holds while the broker
// is slow; further events are dropped
const QueueSize = 16

// RedisPublisher publishes ramp progress and outcomes on a Redis pub/sub
// channel.  Report and Finish never block: events are queued and published
// by a single goroutine, and dropped when the queue is full.  Publish
// failures are logged and otherwise ignored.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	node    string
	timeout time.Duration
	log     logrus.FieldLogger

	events  chan Event
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// NewRedisPublisher returns a publisher to the Redis server at addr and
// starts its publishing goroutine; call Close to stop it
func NewRedisPublisher(addr, password string, db int, channel, node string, log logrus.FieldLogger) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:                  addr,
		Password:              password,
		DB:                    db,
		PoolSize:              2,
		MaxRetries:            -1,
		DialTimeout:           DefaultPublishTimeout,
		ReadTimeout:           DefaultPublishTimeout,
		WriteTimeout:          DefaultPublishTimeout,
		ContextTimeoutEnabled: true,
	})
	rp := &RedisPublisher{
		client:  client,
		channel: channel,
		node:    node,
		timeout: DefaultPublishTimeout,
		log:     log,
		events:  make(chan Event, QueueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go rp.run()
	return rp
}

// Ping checks the connection to the server
func (rp *RedisPublisher) Ping(ctx context.Context) error {
	return rp.client.Ping(ctx).Err()
}

// Dropped is the number of events discarded because the queue was full
func (rp *RedisPublisher) Dropped() int64 {
	return rp.dropped.Load()
}

// Close stops the publishing goroutine, discarding queued events, and
// closes the client
func (rp *RedisPublisher) Close() error {
	rp.once.Do(func() { close(rp.quit) })
	<-rp.done
	return rp.client.Close()
}

func (rp *RedisPublisher) run() {
	defer close(rp.done)
	for {
		select {
		case <-rp.quit:
			return
		case ev := <-rp.events:
			rp.publish(ev)
		}
	}
}

// enqueue hands ev to the publishing goroutine without waiting
func (rp *RedisPublisher) enqueue(ev Event) {
	ev.Node = rp.node
	ev.Time = time.Now()
	select {
	case <-rp.quit:
	case rp.events <- ev:
	default:
		rp.dropped.Add(1)
	}
}

func (rp *RedisPublisher) publish(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		rp.log.WithError(err).Error("encoding ramp event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), rp.timeout)
	defer cancel()
	if err := rp.client.Publish(ctx, rp.channel, b).Err(); err != nil {
		rp.log.WithError(err).WithField("channel", rp.channel).Warn("publishing ramp event")
	}
}

// Report satisfies oxford.Reporter
func (rp *RedisPublisher) Report(p oxford.Progress) {
	rp.enqueue(Event{Kind: "progress", Progress: &p})
}

// Finish satisfies oxford.Finisher
func (rp *RedisPublisher) Finish(res oxford.RampResult, err error) {
	ev := Event{Kind: "result", Result: &res}
	if err != nil {
		ev.Error = err.Error()
	}
	rp.enqueue(ev)
}
