package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "logistics/pkg/errors"
)

func newOrder(n int, created time.Time) *Order {
	return &Order{
		OrderNumber:        fmt.Sprintf("ORD-20240301-%08d", n),
		CustomerName:       "Ada",
		CustomerEmail:      "ada@example.com",
		OriginAddress:      "1 Dock Rd",
		DestinationAddress: "2 High St",
		PackageWeight:      2.5,
		Status:             StatusPending,
		Items: []Item{
			{ItemName: "Widget", Quantity: 2, SKU: "W-1"},
			{ItemName: "Manual", Quantity: 1},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// testRepositoryContract runs the behaviour every Repository must share.
func testRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	base := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		o := newOrder(1, base)
		require.NoError(t, repo.Create(ctx, o))
		assert.NotZero(t, o.ID)

		got, err := repo.GetByNumber(ctx, o.OrderNumber)
		require.NoError(t, err)
		assert.Equal(t, o.CustomerEmail, got.CustomerEmail)
		assert.Equal(t, StatusPending, got.Status)
		require.Len(t, got.Items, 2)
		assert.Equal(t, "W-1", got.Items[0].SKU)
		assert.Empty(t, got.Items[1].SKU)
	})

	t.Run("duplicate order number conflicts", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		require.NoError(t, repo.Create(ctx, newOrder(1, base)))
		err := repo.Create(ctx, newOrder(1, base))
		assert.True(t, pkgerrors.IsConflict(err))
	})

	t.Run("unknown order", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetByNumber(context.Background(), "ORD-missing")
		assert.True(t, pkgerrors.IsNotFound(err))

		_, _, err = repo.UpdateStatus(context.Background(), "ORD-missing", StatusShipped)
		assert.True(t, pkgerrors.IsNotFound(err))
	})

	t.Run("update status returns previous", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		o := newOrder(1, base)
		require.NoError(t, repo.Create(ctx, o))

		updated, old, err := repo.UpdateStatus(ctx, o.OrderNumber, StatusProcessing)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, old)
		assert.Equal(t, StatusProcessing, updated.Status)
		assert.Len(t, updated.Items, 2)
	})

	t.Run("list filters and pages newest first", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		for i := 1; i <= 3; i++ {
			require.NoError(t, repo.Create(ctx, newOrder(i, base.Add(time.Duration(i)*time.Minute))))
		}
		_, _, err := repo.UpdateStatus(ctx, newOrder(2, base).OrderNumber, StatusShipped)
		require.NoError(t, err)

		all, total, err := repo.List(ctx, ListFilter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, all, 2)
		assert.Equal(t, newOrder(3, base).OrderNumber, all[0].OrderNumber)

		shipped, total, err := repo.List(ctx, ListFilter{Status: StatusShipped})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, shipped, 1)
		assert.Equal(t, newOrder(2, base).OrderNumber, shipped[0].OrderNumber)

		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats[StatusPending])
		assert.Equal(t, 1, stats[StatusShipped])
	})
}

func TestMemoryRepository_Contract(t *testing.T) {
	testRepositoryContract(t, func(t *testing.T) Repository {
		return NewMemoryRepository()
	})
}
