package ledger

import (
	"context"
	"testing"
	"time"

	"compensation-engine/internal/store/memory"
	"compensation-engine/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCredit(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	l := New(nil, zap.NewNop(), func() time.Time { return now })

	user := &models.User{ID: 10, IsActive: true}
	require.NoError(t, st.User().Create(ctx, user))

	income, err := l.Credit(ctx, st, user, Entry{
		Type:         models.IncomeLevel,
		Amount:       25,
		SourceUserID: Int64(11),
		Level:        Int(2),
		Description:  "Level 2 income",
	})
	require.NoError(t, err)

	assert.Equal(t, 25.0, user.Earned.Level)
	assert.Equal(t, now, income.CreatedAt)
	assert.False(t, income.IsPaid)

	unpaid, err := st.Income().ListUnpaid(ctx, 10, models.IncomeLevel)
	require.NoError(t, err)
	require.Len(t, unpaid, 1)
	assert.Equal(t, 2, *unpaid[0].Level)

	activities, err := st.Activity().ListByUser(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, models.ActivityLevelIncome, activities[0].Type)
	assert.Equal(t, income.ID, *activities[0].ReferenceID)
}

func TestCreditRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	l := New(nil, zap.NewNop(), nil)
	user := &models.User{ID: 1}

	_, err := l.Credit(ctx, st, user, Entry{Type: models.IncomeROI, Amount: 0})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = l.Credit(ctx, st, user, Entry{Type: "bonus", Amount: 1})
	assert.ErrorIs(t, err, models.ErrInvalidState)
	assert.Zero(t, user.Earned.Total())
}
