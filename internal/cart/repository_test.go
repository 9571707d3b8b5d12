package cart_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/shopsy-backend/internal/cart"
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

func setupRepo(t *testing.T) *cart.PostgresRepository {
	if testPG == nil {
		t.Skip("postgres not available")
	}

	truncate := func() {
		_, err := testPG.Pool.Exec(context.Background(),
			"TRUNCATE TABLE shopping_cart, products CASCADE")
		require.NoError(t, err, "failed to truncate tables")
	}
	truncate()
	t.Cleanup(truncate)

	return cart.NewRepository()
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

func cartRow(t *testing.T, buyerID, productID uuid.UUID) (rows, quantity int) {
	t.Helper()
	err := testPG.Pool.QueryRow(context.Background(),
		`SELECT COUNT(*), COALESCE(SUM(quantity), 0) FROM shopping_cart WHERE user_id = $1 AND product_id = $2`,
		buyerID, productID,
	).Scan(&rows, &quantity)
	require.NoError(t, err)
	return rows, quantity
}

func TestPostgresRepository_UpsertItem_Merges(t *testing.T) {
	repo := setupRepo(t)
	buyerID := uuid.Must(uuid.NewV4())
	productID := seedProduct(t, 10)

	require.NoError(t, repo.UpsertItem(context.Background(), testPG.Pool, buyerID, productID, 2))
	require.NoError(t, repo.UpsertItem(context.Background(), testPG.Pool, buyerID, productID, 3))

	rows, quantity := cartRow(t, buyerID, productID)
	assert.Equal(t, 1, rows, "repeat adds of a product must share one cart row")
	assert.Equal(t, 5, quantity)
}

func TestPostgresRepository_UpsertItem_ConcurrentAddsMerge(t *testing.T) {
	repo := setupRepo(t)
	buyerID := uuid.Must(uuid.NewV4())
	productID := seedProduct(t, 10)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = repo.UpsertItem(context.Background(), testPG.Pool, buyerID, productID, 1)
		}(i)
	}
	wg.Wait()

	for _, err := range results {
		assert.NoError(t, err, "a concurrent add of the same product must merge, not error")
	}

	rows, quantity := cartRow(t, buyerID, productID)
	assert.Equal(t, 1, rows)
	assert.Equal(t, 2, quantity)
}
