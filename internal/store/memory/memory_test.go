package memory

import (
	"context"
	"errors"
	"testing"

	"compensation-engine/internal/store"
	"compensation-engine/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.User().Create(ctx, &models.User{ID: 1, IsActive: true}))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx store.Store) error {
		u, err := tx.User().GetByID(ctx, 1)
		require.NoError(t, err)
		u.PurchaseWallet = 100
		require.NoError(t, tx.User().Update(ctx, u))

		pos, err := tx.Autopool().NextPosition(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), pos)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	u, err := s.User().GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, u.PurchaseWallet)

	// позиция, выданная в откатанной транзакции, выдается снова
	pos, err := s.Autopool().NextPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos)
}

func TestNestedInTxUsesOuterTransaction(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.InTx(ctx, func(tx store.Store) error {
		return tx.InTx(ctx, func(inner store.Store) error {
			return inner.User().Create(ctx, &models.User{IsActive: true})
		})
	})
	require.NoError(t, err)

	u, err := s.User().GetByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, u.IsActive)
}

func TestUserNotFound(t *testing.T) {
	_, err := New().User().GetByID(context.Background(), 42)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
