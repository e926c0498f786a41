//go:build integration

package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
	"github.com/davidleathers/dnc-guard/internal/domain/errors"
	"github.com/davidleathers/dnc-guard/internal/domain/values"
	"github.com/davidleathers/dnc-guard/internal/infrastructure/config"
	"github.com/davidleathers/dnc-guard/internal/testutil/containers"
)

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pg, err := containers.NewPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	require.NoError(t, MigrateUp(pg.ConnectionString))

	pool, err := NewPool(ctx, config.DatabaseConfig{URL: pg.ConnectionString, MaxOpenConns: 10}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func newEntry(t *testing.T, phone, email string, now time.Time) *dnc.RegistryEntry {
	t.Helper()
	effective := now.Add(-time.Hour)
	entry, err := dnc.NewRegistryEntry(dnc.EntryParams{
		DisplayName:      "Jane Smith",
		PhoneNumber:      phone,
		EmailAddress:     email,
		Scope:            dnc.ScopeBoth,
		EffectiveAt:      &effective,
		OverrideEligible: true,
	}, now)
	require.NoError(t, err)
	return entry
}

func TestPostgres_Repositories(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupPool(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	entries := NewRegistryRepository(pool)
	overrides := NewOverrideRepository(pool)
	policies := NewPolicyRepository(pool)
	directory := NewDirectory(pool)

	t.Run("entry round trip and active lookup", func(t *testing.T) {
		containers.Reset(t, pool)
		entry := newEntry(t, "+15551234567", "jane@example.com", now)
		require.NoError(t, entries.Save(ctx, entry))

		got, err := entries.GetByID(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, entry.PhoneNumber, got.PhoneNumber)
		assert.Equal(t, dnc.ScopeBoth, got.Scope)
		assert.True(t, got.EffectiveAt.Equal(entry.EffectiveAt))

		found, err := entries.FindActive(ctx, values.ContactIdentifier{Email: "jane@example.com"})
		require.NoError(t, err)
		require.Len(t, found, 1)

		found, err = entries.FindActive(ctx, values.ContactIdentifier{Phone: "+15550000000"})
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("list filters and search", func(t *testing.T) {
		containers.Reset(t, pool)
		a := newEntry(t, "+15551111111", "a@example.com", now)
		b := newEntry(t, "+15552222222", "b@example.com", now.Add(time.Second))
		b.DisplayName = "100% Bob"
		require.NoError(t, entries.Save(ctx, a))
		require.NoError(t, entries.Save(ctx, b))

		all, err := entries.List(ctx, dnc.EntryFilter{Status: dnc.StatusActive, Limit: 10})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, b.ID, all[0].ID)

		hits, err := entries.List(ctx, dnc.EntryFilter{Search: "100%"})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, b.ID, hits[0].ID)

		stats, err := entries.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.TotalActive)
		assert.Equal(t, int64(2), stats.EmailActive)
	})

	t.Run("permanent override deactivates atomically and delete cascades", func(t *testing.T) {
		containers.Reset(t, pool)
		entry := newEntry(t, "+15551234567", "", now)
		entry.Scope = dnc.ScopePhoneOnly
		require.NoError(t, entries.Save(ctx, entry))

		o, err := dnc.NewOverrideLogEntry(entry.ID, dnc.OverridePermanent, "customer consent", nil, "alice", now)
		require.NoError(t, err)
		require.NoError(t, overrides.Record(ctx, o, true))

		got, err := entries.GetByID(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, dnc.StatusInactive, got.Status)

		logged, err := overrides.List(ctx, dnc.OverrideFilter{EntryID: &entry.ID})
		require.NoError(t, err)
		require.Len(t, logged, 1)

		require.NoError(t, entries.Delete(ctx, entry.ID))
		logged, err = overrides.List(ctx, dnc.OverrideFilter{})
		require.NoError(t, err)
		assert.Empty(t, logged)

		assert.True(t, errors.IsType(entries.Delete(ctx, entry.ID), errors.ErrorTypeNotFound))
	})

	t.Run("override on missing entry", func(t *testing.T) {
		o, err := dnc.NewOverrideLogEntry(uuid.New(), dnc.OverrideManual, "", nil, "alice", now)
		require.NoError(t, err)
		err = overrides.Record(ctx, o, false)
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	})

	t.Run("sweep deactivates expired entries", func(t *testing.T) {
		containers.Reset(t, pool)
		entry := newEntry(t, "+15551234567", "", now)
		expires := now.Add(time.Minute)
		entry.ExpiresAt = &expires
		require.NoError(t, entries.Save(ctx, entry))

		n, err := entries.DeactivateExpired(ctx, now)
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = entries.DeactivateExpired(ctx, now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("policy get-or-create is race free", func(t *testing.T) {
		containers.Reset(t, pool)
		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := policies.GetOrCreate(ctx, dnc.DefaultPolicy())
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		cfg, err := policies.GetOrCreate(ctx, dnc.DefaultPolicy())
		require.NoError(t, err)
		cfg.OverridesAllowed = true
		require.NoError(t, policies.Save(ctx, cfg))

		cfg, err = policies.GetOrCreate(ctx, dnc.DefaultPolicy())
		require.NoError(t, err)
		assert.True(t, cfg.OverridesAllowed)
		assert.True(t, cfg.CheckingEnabled)
	})

	t.Run("directory", func(t *testing.T) {
		containers.Reset(t, pool)
		_, err := pool.Exec(ctx, `INSERT INTO customers (full_name, phone, email) VALUES ('Jane Smith', '+15551234567', 'Jane@Example.com')`)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, `INSERT INTO clients (name, is_active) VALUES ('Acme', false), ('Globex', true)`)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, `INSERT INTO cases (customer_id, client_id) VALUES (1, 1)`)
		require.NoError(t, err)

		c, err := directory.FindByContact(ctx, "+15551234567", "jane@example.com")
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, "Jane Smith", c.FullName)

		c, err = directory.FindByContact(ctx, "+15551234567", "other@example.com")
		require.NoError(t, err)
		assert.Nil(t, c)

		clientID, caseID, err := directory.ClientForCustomerCase(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, clientID)
		assert.Equal(t, int64(1), *clientID)
		assert.Equal(t, int64(1), *caseID)

		active, err := directory.AnyActiveClient(ctx)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, int64(2), *active)

		ok, err := directory.Exists(ctx, 3)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMigrations_DownAndUp(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	pg, err := containers.NewPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	m, err := NewMigrator(pg.ConnectionString)
	require.NoError(t, err)
	defer m.Close()

	_, _, err = m.Version()
	assert.ErrorIs(t, err, migrate.ErrNilVersion)

	require.NoError(t, m.Up())
	assert.ErrorIs(t, m.Up(), migrate.ErrNoChange)

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	require.NoError(t, m.Down())
}
