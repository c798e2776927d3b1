package referral

import (
	"context"
	"testing"

	"compensation-engine/internal/alert"
	"compensation-engine/internal/store/memory"
	"compensation-engine/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const root = int64(103115)

type captured struct{ alarms []alert.Alarm }

func (c *captured) Notify(_ context.Context, a alert.Alarm) error {
	c.alarms = append(c.alarms, a)
	return nil
}

func ids(users []*models.User) []int64 {
	out := make([]int64, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

func TestUpline(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	for _, u := range []*models.User{
		{ID: 1, ReferrerID: root},
		{ID: 2, ReferrerID: 1},
		{ID: 3, ReferrerID: 2},
		{ID: 4, ReferrerID: 3},
	} {
		require.NoError(t, st.User().Create(ctx, u))
	}
	svc := NewService(st, nil, zap.NewNop())

	user, err := st.User().GetByID(ctx, 4)
	require.NoError(t, err)

	upline, err := svc.Upline(ctx, st, user, 7, root)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, ids(upline))

	upline, err = svc.Upline(ctx, st, user, 2, root)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2}, ids(upline))
}

func TestUplineStopsOnMissingReferrer(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.User().Create(ctx, &models.User{ID: 2, ReferrerID: 99}))
	svc := NewService(st, nil, zap.NewNop())

	upline, err := svc.Upline(ctx, st, &models.User{ID: 3, ReferrerID: 2}, 7, root)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(upline))
}

func TestUplineReportsCycle(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.User().Create(ctx, &models.User{ID: 1, ReferrerID: 2}))
	require.NoError(t, st.User().Create(ctx, &models.User{ID: 2, ReferrerID: 1}))

	notifier := &captured{}
	svc := NewService(st, alert.NewReporter(notifier, nil, zap.NewNop()), zap.NewNop())

	user, err := st.User().GetByID(ctx, 1)
	require.NoError(t, err)
	upline, err := svc.Upline(ctx, st, user, 7, root)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(upline))
	require.Len(t, notifier.alarms, 1)
	assert.Equal(t, alert.KindCycle, notifier.alarms[0].Kind)
	assert.Equal(t, "referral", notifier.alarms[0].Tree)
}

func TestRecordPurchaseCreatesMissingTeams(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	svc := NewService(st, nil, zap.NewNop())

	upline := []*models.User{{ID: 5}, {ID: 4}}
	require.NoError(t, svc.RecordPurchase(ctx, st, 9, upline, 100))
	require.NoError(t, svc.RecordPurchase(ctx, st, 9, upline, 50))

	team, err := svc.Team(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, team.LevelSize(2))
	assert.Equal(t, 150.0, team.LevelVolume[1])
	assert.Equal(t, 1, team.TotalTeam)

	empty, err := svc.Team(ctx, 77)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalTeam)
}
