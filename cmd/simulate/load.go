package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/opd-token-allocation/internal/logging"
)

type LoadConfig struct {
	APIBaseURL  string
	Date        string
	Duration    time.Duration
	Workers     int
	BookRatio   float64
	CancelRatio float64
	ReadRatio   float64
}

type DataPool struct {
	Slots  []uuid.UUID
	mu     sync.RWMutex
	tokens []uuid.UUID // token IDs issued during the run
}

func (dp *DataPool) AddToken(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.tokens = append(dp.tokens, id)
}

func (dp *DataPool) RandomToken(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.tokens) == 0 {
		return uuid.Nil, false
	}
	return dp.tokens[rng.Intn(len(dp.tokens))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking    OperationMetrics
	Cancel     OperationMetrics
	ReadByID   OperationMetrics
	ListBySlot OperationMetrics
	Summary    OperationMetrics

	Admitted   int64
	Waitlisted int64
	Promotions int64
}

type Simulator struct {
	config  LoadConfig
	pool    *DataPool
	client  *http.Client
	log     zerolog.Logger
	metrics Metrics
}

var bookSources = []string{"online", "walkin", "priority", "followup"}

func loadCmd() *cobra.Command {
	var cfg LoadConfig

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Drive concurrent token traffic against a running api-server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := normalizeLoadConfig(&cfg); err != nil {
				return err
			}
			logger := logging.NewWithWriter(os.Stderr, "info")

			logger.Info().
				Dur("duration", cfg.Duration).
				Int("workers", cfg.Workers).
				Float64("book", cfg.BookRatio).
				Float64("cancel", cfg.CancelRatio).
				Float64("read", cfg.ReadRatio).
				Msg("load simulation starting")

			sim := &Simulator{
				config: cfg,
				client: &http.Client{Timeout: 10 * time.Second},
				log:    logger,
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			pool, err := sim.loadDataPool(ctx)
			if err != nil {
				return fmt.Errorf("load data pool: %w", err)
			}
			sim.pool = pool
			logger.Info().Int("slots", len(pool.Slots)).Str("date", cfg.Date).Msg("loaded slots")

			sim.Run(cmd.Context())
			sim.PrintReport(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.APIBaseURL, "base-url", "http://localhost:8080", "api-server base URL")
	cmd.Flags().StringVar(&cfg.Date, "date", "", "clinic date YYYY-MM-DD whose slots receive traffic (default today)")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to generate load")
	cmd.Flags().IntVar(&cfg.Workers, "workers", 10, "concurrent workers")
	cmd.Flags().Float64Var(&cfg.BookRatio, "book-ratio", 0.5, "share of operations that book a token")
	cmd.Flags().Float64Var(&cfg.CancelRatio, "cancel-ratio", 0.2, "share of operations that cancel a token")
	cmd.Flags().Float64Var(&cfg.ReadRatio, "read-ratio", 0.3, "share of operations that read")
	return cmd
}

func normalizeLoadConfig(cfg *LoadConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("--workers must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("--duration must be > 0")
	}
	if cfg.Date == "" {
		cfg.Date = time.Now().Format(time.DateOnly)
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	total := cfg.BookRatio + cfg.CancelRatio + cfg.ReadRatio
	if total <= 0 {
		return fmt.Errorf("operation ratios must sum to > 0")
	}
	cfg.BookRatio /= total
	cfg.CancelRatio /= total
	cfg.ReadRatio /= total
	return nil
}

func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/slots?date=%s", s.config.APIBaseURL, s.config.Date), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list slots: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var slots []struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&slots); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("no slots on %s; run seed or POST /api/slots/generate first", s.config.Date)
	}

	pool := &DataPool{Slots: make([]uuid.UUID, 0, len(slots))}
	for _, sl := range slots {
		pool.Slots = append(pool.Slots, sl.ID)
	}
	return pool, nil
}

func (s *Simulator) Run(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("load simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	seed := time.Now().UnixNano() + int64(workerID)
	rng := rand.New(rand.NewSource(seed))
	faker := gofakeit.New(uint64(seed))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookRatio:
				s.doBooking(ctx, rng, faker)
			case r < s.config.BookRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doListBySlot(ctx, rng)
				case 2:
					s.doSummary(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, faker *gofakeit.Faker) {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	phone := faker.Phone()

	body, _ := json.Marshal(map[string]any{
		"slotId":      slotID.String(),
		"patientName": faker.Name(),
		"phone":       phone,
		"source":      bookSources[rng.Intn(len(bookSources))],
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/api/tokens", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var token struct {
				ID     uuid.UUID `json:"id"`
				Status string    `json:"status"`
			}
			if json.NewDecoder(resp.Body).Decode(&token) == nil && token.ID != uuid.Nil {
				s.pool.AddToken(token.ID)
				if token.Status == "waitlist" {
					atomic.AddInt64(&s.metrics.Waitlisted, 1)
				} else {
					atomic.AddInt64(&s.metrics.Admitted, 1)
				}
			}
		case http.StatusConflict:
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	tokenID, ok := s.pool.RandomToken(rng)
	if !ok {
		return
	}

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPatch,
		fmt.Sprintf("%s/api/tokens/%s/cancel", s.config.APIBaseURL, tokenID), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			success = true
			var out struct {
				Promoted *struct {
					ID uuid.UUID `json:"id"`
				} `json:"promoted"`
			}
			if json.NewDecoder(resp.Body).Decode(&out) == nil && out.Promoted != nil {
				atomic.AddInt64(&s.metrics.Promotions, 1)
			}
		case http.StatusConflict:
			// already cancelled by another worker
			conflict = true
		}
	}

	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	tokenID, ok := s.pool.RandomToken(rng)
	if !ok {
		return
	}
	s.get(ctx, &s.metrics.ReadByID, fmt.Sprintf("%s/api/tokens/%s", s.config.APIBaseURL, tokenID))
}

func (s *Simulator) doListBySlot(ctx context.Context, rng *rand.Rand) {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	s.get(ctx, &s.metrics.ListBySlot, fmt.Sprintf("%s/api/tokens?slotId=%s&limit=50", s.config.APIBaseURL, slotID))
}

func (s *Simulator) doSummary(ctx context.Context, rng *rand.Rand) {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	s.get(ctx, &s.metrics.Summary, fmt.Sprintf("%s/api/slots/%s/summary", s.config.APIBaseURL, slotID))
}

func (s *Simulator) get(ctx context.Context, om *OperationMetrics, url string) {
	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	om.Record(latency, success, false)
}

func (s *Simulator) PrintReport(w io.Writer) {
	rule := strings.Repeat("=", 80)
	fmt.Fprintln(w, "\n"+rule)
	fmt.Fprintln(w, "LOAD SIMULATION REPORT")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Duration: %s\n", s.config.Duration)
	fmt.Fprintf(w, "Workers: %d\n", s.config.Workers)
	fmt.Fprintf(w, "Slots: %d on %s\n", len(s.pool.Slots), s.config.Date)
	fmt.Fprintf(w, "Tokens: admitted=%d waitlisted=%d promotions=%d\n",
		atomic.LoadInt64(&s.metrics.Admitted),
		atomic.LoadInt64(&s.metrics.Waitlisted),
		atomic.LoadInt64(&s.metrics.Promotions))
	fmt.Fprintln(w)

	printOperationReport(w, "Booking", &s.metrics.Booking)
	printOperationReport(w, "Cancel", &s.metrics.Cancel)
	printOperationReport(w, "Read by ID", &s.metrics.ReadByID)
	printOperationReport(w, "List by Slot", &s.metrics.ListBySlot)
	printOperationReport(w, "Slot Summary", &s.metrics.Summary)
}

func printOperationReport(w io.Writer, name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Fprintf(w, "%s:\n", name)
	fmt.Fprintf(w, "  Total: %d\n", total)
	fmt.Fprintf(w, "  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Fprintf(w, "  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Fprintf(w, "  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Fprintf(w, "  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Fprintln(w)
}
