package events

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bus is a run-scoped, ordered, bounded event stream. It is private to
// one Run: each Run owns exactly one Bus instance. Emit is FIFO per run;
// a slow consumer never blocks Emit, since each subscriber channel drops
// its oldest buffered event rather than applying backpressure.
type Bus struct {
	mu sync.Mutex

	nextID      uint64
	subscribers map[chan Event]struct{}
	metrics     *Metrics
}

// NewBus creates an empty event bus.
func NewBus(metrics *Metrics) *Bus {
	return &Bus{
		subscribers: make(map[chan Event]struct{}),
		metrics:     metrics,
	}
}

// subscriberBuffer bounds how many events a slow consumer can lag by
// before the bus starts dropping its oldest unread events.
const subscriberBuffer = 256

// Emit assigns the event a monotonically increasing ID and timestamp,
// then fans it out to every current subscriber without blocking.
func (b *Bus) Emit(e Event) Event {
	b.mu.Lock()
	b.nextID++
	e.ID = b.nextID
	e.Timestamp = time.Now()

	for ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			// Oldest-drop policy: make room by discarding the event
			// this subscriber hasn't drained yet, then retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.EventsEmitted.WithLabelValues(string(e.Kind)).Inc()
	}
	return e
}

// Subscribe returns a channel that receives every event emitted from
// this point forward. Callers must Unsubscribe when done.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe stops delivery to a channel previously returned by
// Subscribe and closes it.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub == ch {
			delete(b.subscribers, sub)
			close(sub)
			return
		}
	}
}

// Close closes every live subscriber channel. Call once the owning run
// has reached a terminal state.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		close(sub)
		delete(b.subscribers, sub)
	}
}

// Metrics are process-wide Prometheus counters describing event-bus
// activity across all runs. Unlike Bus itself (one per run), Metrics is
// a singleton registered once with the default registry.
type Metrics struct {
	EventsEmitted *prometheus.CounterVec
	ActiveRuns    prometheus.Gauge
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the process-wide Metrics singleton, registering its
// collectors with the default Prometheus registry on first call.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "repoagent_events_emitted_total",
				Help: "Total number of events emitted on run event buses, by kind.",
			}, []string{"kind"}),
			ActiveRuns: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "repoagent_active_runs",
				Help: "Number of graph runs currently executing.",
			}),
		}
	})
	return metricsInstance
}
