package catalog_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/shopsy-backend/internal/catalog"
	"github.com/vasiliy-maslov/shopsy-backend/internal/config"
	"github.com/vasiliy-maslov/shopsy-backend/internal/db"
)

var testPG *db.Postgres

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestMain(m *testing.M) {
	cfg := config.PostgresConfig{
		Host:            envOr("DB_HOST", "localhost"),
		Port:            envOr("DB_PORT", "5432"),
		User:            envOr("DB_USER", "postgres"),
		Password:        envOr("DB_PASSWORD", "postgres"),
		DBName:          envOr("DB_NAME", "shopsy_test"),
		SSLMode:         envOr("DB_SSLMODE", "disable"),
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: 30 * time.Minute,
		MigrationsPath:  "../../migrations",
	}

	pg, err := db.New(context.Background(), cfg)
	if err == nil {
		if err := pg.ApplyMigrations(cfg); err != nil {
			pg.Close()
			os.Exit(1)
		}
		testPG = pg
	}

	exitCode := m.Run()

	if testPG != nil {
		testPG.Close()
	}
	os.Exit(exitCode)
}

func setup(t *testing.T) *catalog.PostgresRepository {
	if testPG == nil {
		t.Skip("postgres not available")
	}

	_, err := testPG.Pool.Exec(context.Background(), "TRUNCATE TABLE products CASCADE")
	require.NoError(t, err, "failed to truncate products")

	t.Cleanup(func() {
		_, _ = testPG.Pool.Exec(context.Background(), "TRUNCATE TABLE products CASCADE")
	})

	return catalog.NewRepository()
}

func seedProduct(t *testing.T, stock int) uuid.UUID {
	t.Helper()
	id := uuid.Must(uuid.NewV4())
	_, err := testPG.Pool.Exec(context.Background(), `
		INSERT INTO products (id, vendor_id, name, price, stock_quantity, status)
		VALUES ($1, $2, 'Test Product', 20.00, $3, 'active')
	`, id, uuid.Must(uuid.NewV4()), stock)
	require.NoError(t, err, "failed to seed product")
	return id
}

func currentStock(t *testing.T, productID uuid.UUID) int {
	t.Helper()
	var stock int
	err := testPG.Pool.QueryRow(context.Background(),
		`SELECT stock_quantity FROM products WHERE id = $1`, productID).Scan(&stock)
	require.NoError(t, err)
	return stock
}

func TestPostgresRepository_GetByID(t *testing.T) {
	repo := setup(t)
	productID := seedProduct(t, 7)

	p, err := repo.GetByID(context.Background(), testPG.Pool, productID)
	require.NoError(t, err)
	assert.Equal(t, productID, p.ID)
	assert.Equal(t, 7, p.StockQuantity)
	assert.Equal(t, catalog.StatusActive, p.Status)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("20.00")))

	_, err = repo.GetByID(context.Background(), testPG.Pool, uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
}

func TestPostgresRepository_ReserveStock(t *testing.T) {
	repo := setup(t)
	productID := seedProduct(t, 5)

	err := repo.ReserveStock(context.Background(), testPG.Pool, []catalog.StockChange{
		{ProductID: productID, Quantity: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, currentStock(t, productID))
}

func TestPostgresRepository_ReserveStock_InsufficientUndoesPartial(t *testing.T) {
	repo := setup(t)
	productA := seedProduct(t, 5)
	productB := seedProduct(t, 1)

	err := repo.ReserveStock(context.Background(), testPG.Pool, []catalog.StockChange{
		{ProductID: productA, Quantity: 2},
		{ProductID: productB, Quantity: 3},
	})

	var stockErr *catalog.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, productB, stockErr.ProductID)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 3, stockErr.Requested)

	assert.Equal(t, 5, currentStock(t, productA), "the decrement already applied to product A must be undone")
	assert.Equal(t, 1, currentStock(t, productB))
}

func TestPostgresRepository_RestoreStock(t *testing.T) {
	repo := setup(t)
	productID := seedProduct(t, 2)

	err := repo.RestoreStock(context.Background(), testPG.Pool, []catalog.StockChange{
		{ProductID: productID, Quantity: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, currentStock(t, productID))
}

func TestPostgresRepository_ReserveStock_LastUnitRace(t *testing.T) {
	repo := setup(t)
	productID := seedProduct(t, 1)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = testPG.WithinTx(context.Background(), func(ctx context.Context, q db.Querier) error {
				return repo.ReserveStock(ctx, q, []catalog.StockChange{
					{ProductID: productID, Quantity: 1},
				})
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			var stockErr *catalog.InsufficientStockError
			assert.ErrorAs(t, err, &stockErr)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one of two competing reservations of the last unit must win")
	assert.Equal(t, 0, currentStock(t, productID))
}
