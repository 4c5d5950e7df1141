// Package telemetry exposes request metrics in the Prometheus text format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// durationBuckets are request-duration bucket bounds in seconds. Desk search
// must feel instant, so the low end is finer than usual.
var durationBuckets = []float64{
	0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0,
}

// histogram keeps non-cumulative bucket counts; cumulative counts are built
// at export time.
type histogram struct {
	bounds []float64
	counts []int64
	count  int64
	sum    uint64 // math.Float64bits
	mu     sync.Mutex
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{bounds: bounds, counts: make([]int64, len(bounds))}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	addFloat(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.bounds {
		if v <= b {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulative() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int64, len(h.counts))
	var running int64
	for i, c := range h.counts {
		running += c
		out[i] = running
	}
	return out
}

func addFloat(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(addr, old, next) {
			return
		}
	}
}

// requestKey labels a request series.
type requestKey struct {
	method, route, status string
}

type gauge struct {
	name, help string
	fn         func() float64
}

// Metrics holds the server's request series and the gauges sampled at scrape time.
type Metrics struct {
	service, version string

	mu        sync.RWMutex
	durations map[requestKey]*histogram
	gauges    []gauge
	active    int64
}

func NewMetrics(service, version string) *Metrics {
	return &Metrics{
		service:   service,
		version:   version,
		durations: make(map[requestKey]*histogram),
	}
}

// Gauge registers a value read on every scrape, such as pool occupancy.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges = append(m.gauges, gauge{name: name, help: help, fn: fn})
}

func (m *Metrics) series(k requestKey) *histogram {
	m.mu.RLock()
	h, ok := m.durations[k]
	m.mu.RUnlock()
	if ok {
		return h
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok = m.durations[k]; !ok {
		h = newHistogram(durationBuckets)
		m.durations[k] = h
	}
	return h
}

// Observe records one finished request. Unrouted requests share one series
// so stray paths cannot grow the label set.
func (m *Metrics) Observe(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.series(requestKey{method, route, strconv.Itoa(status)}).Observe(d.Seconds())
}

// Middleware times every request by route pattern.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.active, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&m.active, -1)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}
			m.Observe(c.Request().Method, c.Path(), status, time.Since(start))
			return err
		}
	}
}

// Handler serves the exposition text.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(m.Render()))
	}
}

// Render writes all series in a stable order.
func (m *Metrics) Render() string {
	var b strings.Builder

	b.WriteString("# HELP frontdesk_build_info Build information.\n")
	b.WriteString("# TYPE frontdesk_build_info gauge\n")
	fmt.Fprintf(&b, "frontdesk_build_info{service=%q,version=%q} 1\n\n", m.service, m.version)

	b.WriteString("# HELP http_server_active_requests Requests in flight.\n")
	b.WriteString("# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(&b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.active))

	m.mu.RLock()
	keys := make([]requestKey, 0, len(m.durations))
	for k := range m.durations {
		keys = append(keys, k)
	}
	gauges := append([]gauge(nil), m.gauges...)
	m.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].route != keys[j].route {
			return keys[i].route < keys[j].route
		}
		if keys[i].method != keys[j].method {
			return keys[i].method < keys[j].method
		}
		return keys[i].status < keys[j].status
	})

	const name = "http_server_request_duration_seconds"
	b.WriteString("# HELP " + name + " Duration of HTTP requests in seconds.\n")
	b.WriteString("# TYPE " + name + " histogram\n")
	for _, k := range keys {
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", k.method, k.route, k.status)
		writeHistogram(&b, name, labels, m.series(k))
	}
	b.WriteByte('\n')

	for _, g := range gauges {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n\n", g.name, g.help, g.name, g.name, g.fn())
	}
	return b.String()
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulative()
	for i, bound := range h.bounds {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, bound, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, h.Count())
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, h.Count())
}
