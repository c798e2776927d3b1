package oracle

import (
	"context"
	"errors"
	"math"
	"testing"

	"compensation-engine/internal/settings"
	"compensation-engine/internal/store/memory"
	"compensation-engine/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQuoteConversions(t *testing.T) {
	q, err := NewQuote("0.0001")
	require.NoError(t, err)

	tokens, err := q.ToTokens(100)
	require.NoError(t, err)
	assert.Equal(t, 1_000_000.0, tokens)

	usd, err := q.ToUSD(1_000_000)
	require.NoError(t, err)
	assert.Equal(t, 100.0, usd)
	assert.Equal(t, 0.0001, q.Price())
}

func TestQuoteConversionErrors(t *testing.T) {
	q, err := NewQuote("0.0001")
	require.NoError(t, err)

	for _, v := range []float64{math.NaN(), math.Inf(1)} {
		_, err := q.ToTokens(v)
		assert.ErrorIs(t, err, models.ErrInvalidAmount)

		_, err = q.ToUSD(v)
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	}
}

func TestNewQuoteRejectsInvalid(t *testing.T) {
	tests := []string{"", "abc", "0", "-0.5"}
	for _, price := range tests {
		t.Run(price, func(t *testing.T) {
			_, err := NewQuote(price)
			assert.Error(t, err)
		})
	}
}

func TestOracleReadsSetting(t *testing.T) {
	ctx := context.Background()
	s := settings.NewService(memory.New().Setting(), zap.NewNop())
	o := New(s, zap.NewNop())

	q, err := o.Quote(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0.00011", q.String())

	require.NoError(t, o.SetPrice(ctx, "0.0002"))
	q, err = o.Quote(ctx)
	require.NoError(t, err)
	tokens, err := q.ToTokens(0.1)
	require.NoError(t, err)
	assert.Equal(t, 500.0, tokens)

	err = o.SetPrice(ctx, "0")
	assert.True(t, errors.Is(err, models.ErrInvalidState))
}

func TestOracleBrokenSetting(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	s := settings.NewService(st.Setting(), zap.NewNop())
	require.NoError(t, s.Set(ctx, settings.KeyTokenPrice, "not-a-number"))

	_, err := New(s, zap.NewNop()).Quote(ctx)
	assert.ErrorIs(t, err, models.ErrExternalDependency)
}

func TestFixed(t *testing.T) {
	q, err := Fixed("0.5").Quote(context.Background())
	require.NoError(t, err)
	tokens, err := q.ToTokens(2)
	require.NoError(t, err)
	assert.Equal(t, 4.0, tokens)
}
