package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/opd-token-allocation/internal/api"
	"github.com/hackgods/opd-token-allocation/internal/app"
	"github.com/hackgods/opd-token-allocation/internal/clinic"
	"github.com/hackgods/opd-token-allocation/internal/config"
)

func newLoadTarget(t *testing.T, date time.Time) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	a, err := app.Open(ctx, config.Config{
		StoreDriver: config.DriverSQLite,
		SQLitePath:  filepath.Join(t.TempDir(), "load.db"),
		LockBackend: config.LockLocal,
		LockWait:    5 * time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	_, err = a.Clinic.CreateDoctor(ctx, "Dr. Iyer", []clinic.SlotTemplate{
		{StartTime: "09:00", EndTime: "10:00", MaxCapacity: 3},
		{StartTime: "10:00", EndTime: "11:00", MaxCapacity: 2},
	})
	require.NoError(t, err)
	_, err = a.Clinic.GenerateSlots(ctx, date, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewRouter(api.RouterConfig{
		Clinic:     a.Clinic,
		Engine:     a.Engine,
		Simulation: a.Simulation,
		Checks:     a.Checks,
		Logger:     zerolog.Nop(),
		Env:        "test",
		Version:    "test",
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSimulator_LoadKeepsSlotsWithinCapacity(t *testing.T) {
	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	srv := newLoadTarget(t, date)

	cfg := LoadConfig{
		APIBaseURL:  srv.URL + "/",
		Date:        "2025-03-10",
		Duration:    400 * time.Millisecond,
		Workers:     4,
		BookRatio:   5,
		CancelRatio: 2,
		ReadRatio:   3,
	}
	require.NoError(t, normalizeLoadConfig(&cfg))

	sim := &Simulator{config: cfg, client: srv.Client(), log: zerolog.Nop()}
	pool, err := sim.loadDataPool(context.Background())
	require.NoError(t, err)
	require.Len(t, pool.Slots, 2)
	sim.pool = pool

	sim.Run(context.Background())

	assert.Positive(t, atomic.LoadInt64(&sim.metrics.Booking.Total))
	assert.Positive(t, atomic.LoadInt64(&sim.metrics.Booking.Success))

	for _, id := range pool.Slots {
		resp, err := http.Get(fmt.Sprintf("%s/api/slots/%s/summary", srv.URL, id))
		require.NoError(t, err)

		var summary struct {
			Admitted int `json:"admitted"`
			Slot     struct {
				MaxCapacity int `json:"maxCapacity"`
			} `json:"slot"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
		resp.Body.Close()
		assert.LessOrEqual(t, summary.Admitted, summary.Slot.MaxCapacity)
	}

	var out bytes.Buffer
	sim.PrintReport(&out)
	assert.Contains(t, out.String(), "LOAD SIMULATION REPORT")
	assert.Contains(t, out.String(), "Booking:")
}

func TestLoadDataPool_NoSlots(t *testing.T) {
	srv := newLoadTarget(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))

	sim := &Simulator{config: LoadConfig{APIBaseURL: srv.URL, Date: "2025-04-01"}, client: srv.Client()}
	_, err := sim.loadDataPool(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no slots")
}

func TestNormalizeLoadConfig(t *testing.T) {
	cfg := LoadConfig{Workers: 1, Duration: time.Second, BookRatio: 1, CancelRatio: 1, ReadRatio: 2, APIBaseURL: "http://x/"}
	require.NoError(t, normalizeLoadConfig(&cfg))
	assert.InDelta(t, 0.25, cfg.BookRatio, 1e-9)
	assert.InDelta(t, 0.5, cfg.ReadRatio, 1e-9)
	assert.Equal(t, "http://x", cfg.APIBaseURL)
	assert.NotEmpty(t, cfg.Date)

	assert.Error(t, normalizeLoadConfig(&LoadConfig{Workers: 0, Duration: time.Second, BookRatio: 1}))
	assert.Error(t, normalizeLoadConfig(&LoadConfig{Workers: 1, Duration: time.Second}))
}

func TestOperationMetrics_Stats(t *testing.T) {
	var om OperationMetrics
	for i := 1; i <= 20; i++ {
		om.Record(time.Duration(i)*time.Millisecond, i%5 != 0, i == 5)
	}

	avg, min, max, p50, p95 := om.Stats()
	assert.Equal(t, int64(20), om.Total)
	assert.Equal(t, int64(16), om.Success)
	assert.Equal(t, int64(1), om.Conflict)
	assert.Equal(t, int64(3), om.Error)
	assert.Equal(t, 10500*time.Microsecond, avg)
	assert.Equal(t, time.Millisecond, min)
	assert.Equal(t, 20*time.Millisecond, max)
	assert.Equal(t, 11*time.Millisecond, p50)
	assert.Equal(t, 20*time.Millisecond, p95)
}
