package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/product-catalog-backend/internal/observability"
)

const (
	OpCreate = "create"
	OpList   = "list"
	OpGet    = "get"
	OpUpdate = "update"
	OpDelete = "delete"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        uint64
	Client      *http.Client
}

type Result struct {
	TotalRequests int64
	Failures      int64
	ByStatus      map[int]int64
	ByOperation   map[string]int64
	P50           time.Duration
	P95           time.Duration
	Max           time.Duration
}

type weightedOp struct {
	name   string
	weight int
}

// profiles maps a profile name to its operation mix.
var profiles = map[string][]weightedOp{
	"mixed":       {{OpCreate, 20}, {OpList, 25}, {OpGet, 35}, {OpUpdate, 12}, {OpDelete, 8}},
	"read-heavy":  {{OpCreate, 5}, {OpList, 40}, {OpGet, 55}},
	"write-heavy": {{OpCreate, 45}, {OpGet, 10}, {OpUpdate, 30}, {OpDelete, 15}},
	"error-heavy": {{OpCreate, 10}, {OpGet, 40}, {OpUpdate, 25}, {OpDelete, 25}},
}

func Profiles() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

type picker struct {
	ops   []weightedOp
	total int
}

func newPicker(ops []weightedOp) picker {
	total := 0
	for _, op := range ops {
		total += op.weight
	}
	return picker{ops: ops, total: total}
}

func (p picker) pick(r *rand.Rand) string {
	n := r.IntN(p.total)
	for _, op := range p.ops {
		if n < op.weight {
			return op.name
		}
		n -= op.weight
	}
	return p.ops[len(p.ops)-1].name
}

// idPool tracks ids created during the run so reads and writes target real rows.
type idPool struct {
	mu  sync.Mutex
	ids []int64
}

func (p *idPool) add(id int64) {
	p.mu.Lock()
	p.ids = append(p.ids, id)
	p.mu.Unlock()
}

func (p *idPool) random(r *rand.Rand) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ids) == 0 {
		return 0, false
	}
	return p.ids[r.IntN(len(p.ids))], true
}

func (p *idPool) take(r *rand.Rand) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ids) == 0 {
		return 0, false
	}
	i := r.IntN(len(p.ids))
	id := p.ids[i]
	p.ids = slices.Delete(p.ids, i, i+1)
	return id, true
}

type collector struct {
	mu        sync.Mutex
	total     int64
	failures  int64
	byStatus  map[int]int64
	byOp      map[string]int64
	latencies []time.Duration
}

func (c *collector) observe(op string, status int, d time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byOp[op]++
	if err != nil {
		c.failures++
		return
	}
	c.total++
	c.byStatus[status]++
	c.latencies = append(c.latencies, d)
}

func (c *collector) result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := Result{
		TotalRequests: c.total,
		Failures:      c.failures,
		ByStatus:      c.byStatus,
		ByOperation:   c.byOp,
	}
	if len(c.latencies) == 0 {
		return res
	}
	sorted := slices.Clone(c.latencies)
	slices.Sort(sorted)
	res.P50 = percentile(sorted, 0.50)
	res.P95 = percentile(sorted, 0.95)
	res.Max = sorted[len(sorted)-1]
	return res
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	idx := int(q*float64(len(sorted))+0.5) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

func statusClass(status int) string {
	if status < 100 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

// Run drives weighted product traffic at cfg.RPS until cfg.Duration passes
// or ctx ends.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:3000"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 15
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 5 * time.Second}
	}
	if cfg.Profile == "" {
		cfg.Profile = "mixed"
	}
	ops, ok := profiles[strings.ToLower(cfg.Profile)]
	if !ok {
		return Result{}, fmt.Errorf("unknown profile %q (want one of %s)", cfg.Profile, strings.Join(Profiles(), ", "))
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	w := &worker{
		cfg:    cfg,
		pool:   &idPool{},
		errors: strings.EqualFold(cfg.Profile, "error-heavy"),
		stats:  &collector{byStatus: map[int]int64{}, byOp: map[string]int64{}},
	}
	pick := newPicker(ops)
	jobs := make(chan string, cfg.Concurrency*2)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Concurrency; i++ {
		rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)+1))
		g.Go(func() error {
			for op := range jobs {
				w.do(gctx, rng, op)
			}
			return nil
		})
	}

	scheduler := rand.New(rand.NewPCG(cfg.Seed, 0))
	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			select {
			case jobs <- pick.pick(scheduler):
			case <-ctx.Done():
				break loop
			}
		}
	}
	close(jobs)
	if err := g.Wait(); err != nil {
		return w.stats.result(), err
	}
	return w.stats.result(), nil
}

type worker struct {
	cfg    Config
	pool   *idPool
	errors bool
	stats  *collector
}

func (w *worker) do(ctx context.Context, rng *rand.Rand, op string) {
	var (
		method = http.MethodGet
		path   = "/products"
		body   any
	)
	switch op {
	case OpCreate:
		method = http.MethodPost
		body = map[string]any{
			"name":        "loadgen-" + uuid.NewString()[:8],
			"description": "generated product",
			"price":       float64(rng.IntN(100000)) / 100,
		}
		if w.errors && rng.IntN(2) == 0 {
			body = map[string]any{"name": "", "price": -1, "sku": "unknown"}
		}
	case OpList:
	case OpGet, OpUpdate, OpDelete:
		id, ok := w.targetID(rng, op == OpDelete)
		if !ok {
			op = OpList
			break
		}
		path = "/products/" + strconv.FormatInt(id, 10)
		switch op {
		case OpUpdate:
			method = http.MethodPatch
			body = map[string]any{"price": float64(rng.IntN(100000)) / 100}
		case OpDelete:
			method = http.MethodDelete
		}
	}

	start := time.Now()
	status, id, err := w.send(ctx, method, path, body)
	elapsed := time.Since(start)
	if ctx.Err() != nil && err != nil {
		return
	}
	w.stats.observe(op, status, elapsed, err)
	observability.RecordLoadgenRequest(ctx, op, statusClass(status))
	if op == OpCreate && status == http.StatusCreated && id > 0 {
		w.pool.add(id)
	}
}

func (w *worker) targetID(rng *rand.Rand, remove bool) (int64, bool) {
	if w.errors && rng.IntN(2) == 0 {
		return 900000000 + rng.Int64N(1000000), true
	}
	if remove {
		return w.pool.take(rng)
	}
	return w.pool.random(rng)
}

func (w *worker) send(ctx context.Context, method, path string, body any) (int, int64, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, w.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}
	resp, err := w.cfg.Client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	var created struct {
		ID int64 `json:"id"`
	}
	if method == http.MethodPost && resp.StatusCode == http.StatusCreated {
		_ = json.NewDecoder(resp.Body).Decode(&created)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, created.ID, nil
}
