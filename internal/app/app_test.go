package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
	"github.com/hackgods/opd-token-allocation/internal/clinic"
	"github.com/hackgods/opd-token-allocation/internal/config"
)

func TestOpen_SQLiteWithLocalLocks(t *testing.T) {
	cfg := config.Config{
		StoreDriver: config.DriverSQLite,
		SQLitePath:  filepath.Join(t.TempDir(), "app.db"),
		LockBackend: config.LockLocal,
		LockWait:    time.Second,
	}
	ctx := context.Background()

	a, err := Open(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Migrate(ctx))
	require.Len(t, a.Checks, 1)
	assert.Equal(t, "sqlite", a.Checks[0].Name)
	assert.NoError(t, a.Checks[0].Ping(ctx))

	d, err := a.Clinic.CreateDoctor(ctx, "Dr. Sen", []clinic.SlotTemplate{{StartTime: "09:00", EndTime: "10:00", MaxCapacity: 1}})
	require.NoError(t, err)
	slots, err := a.Clinic.GenerateSlots(ctx, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), &d.ID)
	require.NoError(t, err)

	tok, err := a.Engine.Allocate(ctx, allocation.AllocateRequest{SlotID: slots[0].ID, PatientName: "P", Source: allocation.SourceWalkin})
	require.NoError(t, err)
	assert.Equal(t, allocation.StatusBooked, tok.Status)
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.Config{StoreDriver: "mongo"}, zerolog.Nop())
	assert.Error(t, err)
}
