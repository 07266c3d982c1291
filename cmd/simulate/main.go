package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/api"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/logging"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/seed"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Races        int // slots contested by RaceSize concurrent bookings
	RaceSize     int
	BookingRatio float64
	ApproveRatio float64
	ReadRatio    float64
	DaysAhead    int
}

type slot struct {
	ExpertID uuid.UUID
	Date     string
	Time     string
}

type DataPool struct {
	Experts []uuid.UUID
	Slots   []slot

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(faker *gofakeit.Faker) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[faker.Number(0, len(dp.appointments)-1)], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	percentile := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], percentile(50), percentile(95)
}

type Metrics struct {
	Race     OperationMetrics
	Booking  OperationMetrics
	Approve  OperationMetrics
	ReadByID OperationMetrics
	List     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *slog.Logger
	metrics Metrics

	raceViolations int64
}

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Stdout, getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info"))

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	logger.Info("simulator starting",
		"api", cfg.APIBaseURL, "duration", cfg.Duration, "workers", cfg.Workers,
		"races", cfg.Races, "race_size", cfg.RaceSize)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := sim.loadDataPool(ctx)
	cancel()
	if err != nil {
		logger.Error("load data pool", "error", err)
		os.Exit(1)
	}
	sim.pool = pool
	logger.Info("loaded data pool", "experts", len(pool.Experts), "slots", len(pool.Slots))

	sim.RunRaces()
	sim.Run()
	sim.PrintReport()

	if atomic.LoadInt64(&sim.raceViolations) > 0 {
		os.Exit(2)
	}
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		Races:        getInt("SIM_RACES", 5),
		RaceSize:     getInt("SIM_RACE_SIZE", 20),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		ApproveRatio: getFloat("SIM_APPROVE_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		DaysAhead:    getInt("SIM_DAYS_AHEAD", 14),
	}

	total := cfg.BookingRatio + cfg.ApproveRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ApproveRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.RaceSize < 2 && cfg.Races > 0 {
		return fmt.Errorf("SIM_RACE_SIZE must be at least 2")
	}
	if cfg.DaysAhead <= 0 {
		return fmt.Errorf("SIM_DAYS_AHEAD must be > 0")
	}
	return nil
}

// loadDataPool collects bookable slots from the API, starting tomorrow so
// the minimum lead time never rejects them.
func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	var experts []api.ExpertResponse
	if err := s.getJSON(ctx, "/experts", &experts); err != nil {
		return nil, fmt.Errorf("list experts: %w", err)
	}

	pool := &DataPool{}
	today := time.Now()
	for _, e := range experts {
		pool.Experts = append(pool.Experts, e.ID)
		for d := 1; d <= s.config.DaysAhead; d++ {
			date := today.AddDate(0, 0, d).Format("2006-01-02")
			var avail api.AvailabilityResponse
			if err := s.getJSON(ctx, "/experts/"+e.ID.String()+"/availability?date="+date, &avail); err != nil {
				return nil, fmt.Errorf("availability for %s: %w", e.ID, err)
			}
			for _, t := range avail.Times {
				pool.Slots = append(pool.Slots, slot{ExpertID: e.ID, Date: date, Time: t})
			}
		}
	}

	if len(pool.Experts) == 0 {
		return nil, fmt.Errorf("no experts found, run cmd/seed first")
	}
	if len(pool.Slots) == 0 {
		return nil, fmt.Errorf("no open slots in the next %d days", s.config.DaysAhead)
	}
	return pool, nil
}

// RunRaces fires RaceSize simultaneous bookings at each of the first Races
// slots. Exactly one of each batch may succeed.
func (s *Simulator) RunRaces() {
	races := min(s.config.Races, len(s.pool.Slots))
	for i := 0; i < races; i++ {
		target := s.pool.Slots[i]

		var (
			wg      sync.WaitGroup
			start   = make(chan struct{})
			created int64
		)
		for j := 0; j < s.config.RaceSize; j++ {
			wg.Add(1)
			faker := gofakeit.New(0)
			go func() {
				defer wg.Done()
				<-start
				status := s.book(context.Background(), faker, target, &s.metrics.Race)
				if status == http.StatusCreated {
					atomic.AddInt64(&created, 1)
				}
			}()
		}
		close(start)
		wg.Wait()

		if created != 1 {
			atomic.AddInt64(&s.raceViolations, 1)
			s.logger.Error("slot race produced unexpected winners",
				"expert_id", target.ExpertID, "date", target.Date, "time", target.Time, "created", created)
			continue
		}
		s.logger.Info("slot race settled", "expert_id", target.ExpertID, "date", target.Date, "time", target.Time)
	}
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting mixed workload", "duration", s.config.Duration, "workers", s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, gofakeit.New(0))
		}()
	}
	wg.Wait()

	s.logger.Info("mixed workload complete")
}

func (s *Simulator) worker(ctx context.Context, faker *gofakeit.Faker) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := faker.Float64()
		switch {
		case r < s.config.BookingRatio:
			target := s.pool.Slots[faker.Number(0, len(s.pool.Slots)-1)]
			s.book(ctx, faker, target, &s.metrics.Booking)
		case r < s.config.BookingRatio+s.config.ApproveRatio:
			s.doApprove(ctx, faker)
		default:
			if faker.Bool() {
				s.doReadByID(ctx, faker)
			} else {
				s.doList(ctx, faker)
			}
		}
	}
}

func (s *Simulator) book(ctx context.Context, faker *gofakeit.Faker, target slot, om *OperationMetrics) int {
	customer := seed.Customer(faker)
	req := api.CreateAppointmentRequest{
		ExpertID:  target.ExpertID.String(),
		UserName:  customer.Name,
		UserEmail: customer.Email,
		UserPhone: customer.Phone,
		TicketNo:  seed.TicketNo(faker),
		Date:      target.Date,
		Time:      target.Time,
		SessionID: uuid.NewString(),
	}

	var created api.AppointmentResponse
	status := s.timed(ctx, om, http.MethodPost, "/appointments", req, &created)
	if status == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.AddAppointment(created.ID)
	}
	return status
}

func (s *Simulator) doApprove(ctx context.Context, faker *gofakeit.Faker) {
	id, ok := s.pool.RandomAppointment(faker)
	if !ok {
		return
	}
	s.timed(ctx, &s.metrics.Approve, http.MethodPut, "/appointments/"+id.String()+"/approve", nil, nil)
}

func (s *Simulator) doReadByID(ctx context.Context, faker *gofakeit.Faker) {
	id, ok := s.pool.RandomAppointment(faker)
	if !ok {
		return
	}
	s.timed(ctx, &s.metrics.ReadByID, http.MethodGet, "/appointments/"+id.String(), nil, nil)
}

func (s *Simulator) doList(ctx context.Context, faker *gofakeit.Faker) {
	expertID := s.pool.Experts[faker.Number(0, len(s.pool.Experts)-1)]
	s.timed(ctx, &s.metrics.List, http.MethodGet, "/appointments?limit=20&expertId="+expertID.String(), nil, nil)
}

// timed performs one request, records it in om and returns the status code,
// or 0 when the request itself failed.
func (s *Simulator) timed(ctx context.Context, om *OperationMetrics, method, path string, body, out any) int {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("actor-id", "simulator")
	req.Header.Set("actor-name", "Load Simulator")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			om.Record(latency, 0)
		}
		return 0
	}
	defer resp.Body.Close()

	om.Record(latency, resp.StatusCode)
	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func (s *Simulator) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("GET %s: status %d %s", path, resp.StatusCode, apiErr.Details)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Slot races: %d x %d bookings, violations: %d\n",
		min(s.config.Races, len(s.pool.Slots)), s.config.RaceSize, atomic.LoadInt64(&s.raceViolations))
	fmt.Println()

	printOperationReport("Race booking", &s.metrics.Race)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Approve", &s.metrics.Approve)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by expert", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
