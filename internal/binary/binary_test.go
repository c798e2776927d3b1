package binary

import (
	"context"
	"sync"
	"testing"
	"time"

	"compensation-engine/internal/alert"
	"compensation-engine/internal/engine"
	"compensation-engine/internal/metrics"
	"compensation-engine/internal/oracle"
	"compensation-engine/internal/settings"
	"compensation-engine/internal/store"
	"compensation-engine/internal/store/memory"
	"compensation-engine/pkg/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recorder запоминает оповещения о нарушениях
type recorder struct {
	mu     sync.Mutex
	alarms []alert.Alarm
}

func (r *recorder) Notify(_ context.Context, alarm alert.Alarm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alarms = append(r.alarms, alarm)
	return nil
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.alarms))
	for _, a := range r.alarms {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}

type fixture struct {
	ctx    context.Context
	store  *memory.Store
	engine *Engine
	alarms *recorder
	now    time.Time
}

func newFixture(t *testing.T, price string) *fixture {
	t.Helper()

	logger := zap.NewNop()
	st := memory.New()
	m := metrics.New(logger, prometheus.NewRegistry())
	f := &fixture{
		ctx:    context.Background(),
		store:  st,
		alarms: &recorder{},
		now:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(engine.Deps{
		Store:    st,
		Settings: settings.NewService(st.Setting(), logger),
		Prices:   oracle.Fixed(price),
		Alerts:   alert.NewReporter(f.alarms, m, logger),
		Metrics:  m,
		Logger:   logger,
		Now:      func() time.Time { return f.now },
	})
	return f
}

// addNode создает пользователя и размещенный узел с заданным родителем
func (f *fixture) addNode(t *testing.T, id, parentID int64, side models.Side) {
	t.Helper()
	require.NoError(t, f.store.User().Create(f.ctx, &models.User{ID: id, ReferrerID: parentID, IsActive: true}))
	require.NoError(t, f.store.Binary().Create(f.ctx, &models.BinaryNode{
		UserID: id, ParentID: parentID, Position: side, Placed: true,
	}))
	if parentID == 0 {
		return
	}
	parent, err := f.store.Binary().Get(f.ctx, parentID)
	require.NoError(t, err)
	parent.SetChild(side, id)
	require.NoError(t, f.store.Binary().Update(f.ctx, parent))
}

func (f *fixture) node(t *testing.T, id int64) *models.BinaryNode {
	t.Helper()
	n, err := f.store.Binary().Get(f.ctx, id)
	require.NoError(t, err)
	return n
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name        string
		left, right float64
		ceiling     float64
		want        Match
	}{
		{
			name: "потолок ограничивает доход",
			left: 300, right: 800, ceiling: 20,
			want: Match{MatchingVolume: 300, RawIncome: 30, Ceiling: 20, Income: 20, CeilingApplied: true, NewLeft: 0, NewRight: 500},
		},
		{
			name: "доход ниже потолка",
			left: 1000, right: 400, ceiling: 1000,
			want: Match{MatchingVolume: 400, RawIncome: 40, Ceiling: 1000, Income: 40, NewLeft: 600, NewRight: 0},
		},
		{
			name: "при равенстве обнуляется левая нога",
			left: 500, right: 500, ceiling: 1000,
			want: Match{MatchingVolume: 500, RawIncome: 50, Ceiling: 1000, Income: 50, NewLeft: 0, NewRight: 0},
		},
		{
			name: "пустая нога",
			left: 0, right: 700, ceiling: 1000,
			want: Match{Ceiling: 1000, NewLeft: 0, NewRight: 700},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.left, tt.right, 10, tt.ceiling)
			assert.InDelta(t, tt.want.MatchingVolume, got.MatchingVolume, 1e-9)
			assert.InDelta(t, tt.want.RawIncome, got.RawIncome, 1e-9)
			assert.InDelta(t, tt.want.Income, got.Income, 1e-9)
			assert.Equal(t, tt.want.CeilingApplied, got.CeilingApplied)
			assert.InDelta(t, tt.want.NewLeft, got.NewLeft, 1e-9)
			assert.InDelta(t, tt.want.NewRight, got.NewRight, 1e-9)
			assert.LessOrEqual(t, got.Income, tt.ceiling)
			assert.Zero(t, min(got.NewLeft, got.NewRight), "одна из ног должна обнулиться")
		})
	}
}

func TestPlaceExtremeSlot(t *testing.T) {
	f := newFixture(t, "0.5")
	f.addNode(t, 1, 0, models.SideLeft)
	f.addNode(t, 2, 1, models.SideLeft)

	for _, id := range []int64{3, 4} {
		user := &models.User{ID: id, ReferrerID: 1, IsActive: true}
		require.NoError(t, f.store.User().Create(f.ctx, user))
		require.NoError(t, f.store.Binary().Create(f.ctx, &models.BinaryNode{UserID: id}))

		err := f.store.InTx(f.ctx, func(tx store.Store) error {
			_, err := f.engine.Place(f.ctx, tx, user, models.SideLeft, settings.DefaultReferralID)
			return err
		})
		require.NoError(t, err)
	}

	// 3 встает под крайний левый узел 2, затем 4 под 3
	assert.Equal(t, int64(2), f.node(t, 3).ParentID)
	assert.Equal(t, int64(3), f.node(t, 4).ParentID)
	assert.Equal(t, int64(3), f.node(t, 2).LeftChildID)
	assert.Equal(t, 2, f.node(t, 1).LeftCount)
	assert.Equal(t, 2, f.node(t, 2).LeftCount)
	assert.Equal(t, 1, f.node(t, 3).LeftCount)
}

func TestPlaceRootForSentinelReferrer(t *testing.T) {
	f := newFixture(t, "0.5")
	user := &models.User{ID: 7, ReferrerID: settings.DefaultReferralID, IsActive: true}
	require.NoError(t, f.store.User().Create(f.ctx, user))
	require.NoError(t, f.store.Binary().Create(f.ctx, &models.BinaryNode{UserID: 7}))

	node, err := f.engine.Place(f.ctx, f.store, user, models.SideRight, settings.DefaultReferralID)
	require.NoError(t, err)
	assert.True(t, node.Placed)
	assert.Zero(t, node.ParentID)
}

func TestPropagateVolume(t *testing.T) {
	f := newFixture(t, "0.5")
	f.addNode(t, 1, 0, models.SideLeft)
	f.addNode(t, 2, 1, models.SideRight)
	f.addNode(t, 3, 2, models.SideLeft)

	updated, err := f.engine.PropagateVolume(f.ctx, f.store, 3, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	assert.Equal(t, 100.0, f.node(t, 2).LeftVolume)
	assert.Equal(t, 100.0, f.node(t, 1).RightVolume)
	assert.Equal(t, 100.0, f.node(t, 1).TotalRightVolume)
	assert.Zero(t, f.node(t, 1).LeftVolume)
}

func TestPropagateVolumeStopsOnCycle(t *testing.T) {
	f := newFixture(t, "0.5")
	f.addNode(t, 1, 0, models.SideLeft)
	f.addNode(t, 2, 1, models.SideLeft)
	f.addNode(t, 3, 2, models.SideLeft)

	// 1 ссылается на своего потомка 3
	root := f.node(t, 1)
	root.ParentID = 3
	require.NoError(t, f.store.Binary().Update(f.ctx, root))

	updated, err := f.engine.PropagateVolume(f.ctx, f.store, 3, 50)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)
	assert.Equal(t, 50.0, f.node(t, 2).LeftVolume)
	assert.Equal(t, 50.0, f.node(t, 1).LeftVolume)
	assert.Zero(t, f.node(t, 3).LeftVolume)

	assert.Equal(t, []string{alert.KindCycle}, f.alarms.kinds())
}

func TestPropagateVolumeMissingParent(t *testing.T) {
	f := newFixture(t, "0.5")
	f.addNode(t, 1, 0, models.SideLeft)
	node := f.node(t, 1)
	node.ParentID = 999
	require.NoError(t, f.store.Binary().Update(f.ctx, node))

	updated, err := f.engine.PropagateVolume(f.ctx, f.store, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, updated)
	assert.Equal(t, []string{alert.KindMissingParent}, f.alarms.kinds())
}

func TestRunCycleAppliesCeiling(t *testing.T) {
	f := newFixture(t, "0.5")
	f.addNode(t, 1, 0, models.SideLeft)

	node := f.node(t, 1)
	node.LeftVolume, node.RightVolume = 300, 800
	require.NoError(t, f.store.Binary().Update(f.ctx, node))

	// 10 USD при курсе 0.5 дают потолок 20 токенов
	require.NoError(t, f.store.Package().CreateUserPackage(f.ctx, &models.UserPackage{
		UserID: 1, AmountPaid: 10, TokenAmount: 20, CeilingLimit: 80, IsActive: true, PurchasedAt: f.now,
	}))

	result, err := f.engine.RunCycle(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 20.0, result.Total)

	node = f.node(t, 1)
	assert.Zero(t, node.LeftVolume)
	assert.Equal(t, 500.0, node.RightVolume)
	assert.Equal(t, 500.0, node.RightCarryForward)
	require.NotNil(t, node.LastBinaryProcess)

	user, err := f.store.User().GetByID(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 20.0, user.Earned.Binary)
	assert.Equal(t, f.now, user.LastBinaryDistributed)

	incomes, err := f.store.Income().ListUnpaid(f.ctx, 1, models.IncomeBinary)
	require.NoError(t, err)
	require.Len(t, incomes, 1)
	assert.Equal(t, true, incomes[0].Metadata["ceiling_applied"])

	// повторный запуск в том же интервале ничего не начисляет
	again, err := f.engine.ProcessUser(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.CycleSkipped, again.Status)
	assert.Equal(t, models.ReasonIntervalNotElapsed, again.Reason)
}

func TestRunCycleSkips(t *testing.T) {
	f := newFixture(t, "0.5")
	f.addNode(t, 1, 0, models.SideLeft)
	f.addNode(t, 2, 1, models.SideLeft)

	// у 2 только одна нога, у 1 нет пакетов
	n1 := f.node(t, 1)
	n1.LeftVolume, n1.RightVolume = 100, 100
	require.NoError(t, f.store.Binary().Update(f.ctx, n1))
	n2 := f.node(t, 2)
	n2.LeftVolume = 100
	require.NoError(t, f.store.Binary().Update(f.ctx, n2))

	result, err := f.engine.RunCycle(f.ctx)
	require.NoError(t, err)
	require.Len(t, result.Results, 2)
	assert.Equal(t, models.ReasonNoActivePackages, result.Results[0].Reason)
	assert.Equal(t, models.ReasonNoMatchingVolume, result.Results[1].Reason)
	assert.Equal(t, 100.0, f.node(t, 1).LeftVolume)
}

func TestLegsAndTree(t *testing.T) {
	f := newFixture(t, "0.5")
	f.addNode(t, 1, 0, models.SideLeft)
	f.addNode(t, 2, 1, models.SideLeft)
	f.addNode(t, 3, 1, models.SideRight)

	_, err := f.engine.PropagateVolume(f.ctx, f.store, 2, 40)
	require.NoError(t, err)

	legs, err := f.engine.Legs(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 40.0, legs.LeftVolume)
	assert.Equal(t, 40.0, legs.StrongerLeg)
	assert.Zero(t, legs.WeakerLeg)

	tree, err := f.engine.Tree(f.ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tree.Left.UserID)
	assert.Equal(t, int64(3), tree.Right.UserID)
	assert.True(t, tree.Left.Left.IsEmpty)

	preview, err := f.engine.Preview(f.ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, preview.Income)
}
