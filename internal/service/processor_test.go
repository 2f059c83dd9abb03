package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurehub/approvald/internal/models"
	"github.com/procurehub/approvald/internal/service"
	"github.com/procurehub/approvald/internal/store"
)

type fakeDispatcher struct {
	mu     sync.Mutex
	events []models.Notification
}

func (f *fakeDispatcher) Notify(ctx context.Context, n models.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, n)
}

func (f *fakeDispatcher) all() []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Notification(nil), f.events...)
}

func plantPtr(s string) *string { return &s }

func seedOrder(st *store.MemStore, id int64, current, required int) {
	status := models.StatusPending
	switch {
	case current == models.RejectedLevel:
		status = models.StatusRejected
	case current >= required:
		status = models.StatusApproved
	}
	st.PutOrder(models.Order{
		ID:                    id,
		Plant:                 plantPtr("MX1"),
		Amount:                decimal.NewFromInt(100),
		RequesterEmail:        "requester@example.com",
		RequiredApprovalLevel: required,
		CurrentApprovalLevel:  current,
		Status:                status,
	})
}

func freshToken(t *testing.T, st *store.MemStore, token string, orderID int64, action models.Action) {
	t.Helper()
	require.NoError(t, st.CreateActionToken(context.Background(), models.ActionToken{
		Token:     token,
		OrderID:   orderID,
		UserID:    55,
		Action:    action,
		CreatedAt: time.Now().UTC(),
	}))
}

func TestProcess_ApproveAdvances(t *testing.T) {
	st := store.NewMemStore()
	seedOrder(st, 7, 0, 2)
	st.PutApprover(models.Approver{ID: 2, Name: "Tier Two", Email: "t2@example.com", AuthorizationLevel: 2, Plant: plantPtr("MX1")})
	freshToken(t, st, "tok-a", 7, models.ActionApprove)
	disp := &fakeDispatcher{}
	p := service.NewProcessor(st, disp)

	res := p.Process(context.Background(), "tok-a", models.ActionApprove)

	assert.Equal(t, service.CodeApplied, res.Code)
	assert.True(t, res.Ok)
	require.NotNil(t, res.Order)
	assert.Equal(t, 1, res.Order.CurrentApprovalLevel)
	assert.Equal(t, models.StatusPending, res.Order.Status)

	// Token consumed atomically with the level change.
	tok, err := st.GetActionToken(context.Background(), "tok-a")
	require.NoError(t, err)
	assert.True(t, tok.IsUsed)

	events := disp.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventOrderAdvanced, events[0].Type)
	assert.Equal(t, int64(55), events[0].ActorID)
	require.Len(t, events[0].NextApprovers, 1)
	assert.Equal(t, int64(2), events[0].NextApprovers[0].ID)
}

func TestProcess_FinalApprovalEmitsApprovedEvent(t *testing.T) {
	st := store.NewMemStore()
	seedOrder(st, 7, 1, 2)
	freshToken(t, st, "tok-final", 7, models.ActionApprove)
	disp := &fakeDispatcher{}
	p := service.NewProcessor(st, disp)

	res := p.Process(context.Background(), "tok-final", models.ActionApprove)

	require.True(t, res.Ok)
	assert.Equal(t, 2, res.Order.CurrentApprovalLevel)
	assert.Equal(t, models.StatusApproved, res.Order.Status)

	events := disp.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventOrderApproved, events[0].Type)
	assert.Empty(t, events[0].NextApprovers)
}

func TestProcess_ReplayReturnsAlreadyUsed(t *testing.T) {
	st := store.NewMemStore()
	seedOrder(st, 7, 0, 2)
	freshToken(t, st, "tok-a", 7, models.ActionApprove)
	disp := &fakeDispatcher{}
	p := service.NewProcessor(st, disp)

	first := p.Process(context.Background(), "tok-a", models.ActionApprove)
	require.True(t, first.Ok)

	second := p.Process(context.Background(), "tok-a", models.ActionApprove)
	assert.Equal(t, service.CodeTokenAlreadyUsed, second.Code)
	assert.True(t, second.Ok)

	// The replay must not have moved the order.
	o, err := st.GetOrder(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, o.CurrentApprovalLevel)
	assert.Len(t, disp.all(), 1)
}

func TestProcess_ActionMismatch(t *testing.T) {
	st := store.NewMemStore()
	seedOrder(st, 7, 0, 2)
	freshToken(t, st, "tok-a", 7, models.ActionApprove)
	p := service.NewProcessor(st, &fakeDispatcher{})

	res := p.Process(context.Background(), "tok-a", models.ActionReject)

	assert.Equal(t, service.CodeActionMismatch, res.Code)
	assert.False(t, res.Ok)

	o, _ := st.GetOrder(context.Background(), 7)
	assert.Equal(t, 0, o.CurrentApprovalLevel)
	tok, _ := st.GetActionToken(context.Background(), "tok-a")
	assert.False(t, tok.IsUsed)
}

func TestProcess_RejectSetsSentinelLevel(t *testing.T) {
	st := store.NewMemStore()
	seedOrder(st, 7, 1, 3)
	freshToken(t, st, "tok-r", 7, models.ActionReject)
	disp := &fakeDispatcher{}
	p := service.NewProcessor(st, disp)

	res := p.Process(context.Background(), "tok-r", models.ActionReject)

	require.True(t, res.Ok)
	assert.Equal(t, models.RejectedLevel, res.Order.CurrentApprovalLevel)
	assert.Equal(t, models.StatusRejected, res.Order.Status)

	events := disp.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventOrderRejected, events[0].Type)
}

func TestProcess_ApproveTokenAfterRejectionIsMoot(t *testing.T) {
	st := store.NewMemStore()
	seedOrder(st, 7, models.RejectedLevel, 3)
	freshToken(t, st, "tok-late", 7, models.ActionApprove)
	p := service.NewProcessor(st, &fakeDispatcher{})

	res := p.Process(context.Background(), "tok-late", models.ActionApprove)

	assert.Equal(t, service.CodeOrderRejected, res.Code)
	assert.False(t, res.Ok)

	o, _ := st.GetOrder(context.Background(), 7)
	assert.Equal(t, models.RejectedLevel, o.CurrentApprovalLevel)
	// The unit of work rolled back, so the token stays unused.
	tok, _ := st.GetActionToken(context.Background(), "tok-late")
	assert.False(t, tok.IsUsed)
}

func TestProcess_OrderMissing(t *testing.T) {
	st := store.NewMemStore()
	freshToken(t, st, "tok-x", 404, models.ActionApprove)
	p := service.NewProcessor(st, &fakeDispatcher{})

	res := p.Process(context.Background(), "tok-x", models.ActionApprove)
	assert.Equal(t, service.CodeOrderNotFound, res.Code)
}

func TestProcess_TokenNotFound(t *testing.T) {
	p := service.NewProcessor(store.NewMemStore(), &fakeDispatcher{})
	res := p.Process(context.Background(), "ghost", models.ActionApprove)
	assert.Equal(t, service.CodeTokenNotFound, res.Code)
	assert.False(t, res.Ok)
}

func TestProcess_ThreeTokensDriveFullApproval(t *testing.T) {
	st := store.NewMemStore()
	seedOrder(st, 9, 0, 3)
	disp := &fakeDispatcher{}
	p := service.NewProcessor(st, disp)

	for i, tok := range []string{"t1", "t2", "t3"} {
		freshToken(t, st, tok, 9, models.ActionApprove)
		res := p.Process(context.Background(), tok, models.ActionApprove)
		require.True(t, res.Ok)
		assert.Equal(t, i+1, res.Order.CurrentApprovalLevel)
	}

	o, _ := st.GetOrder(context.Background(), 9)
	assert.Equal(t, models.StatusApproved, o.Status)

	// A fourth approval, however it got re-tokenized, is a no-op.
	freshToken(t, st, "t4", 9, models.ActionApprove)
	res := p.Process(context.Background(), "t4", models.ActionApprove)
	assert.Equal(t, service.CodeAlreadyApplied, res.Code)
	assert.True(t, res.Ok)
	o, _ = st.GetOrder(context.Background(), 9)
	assert.Equal(t, 3, o.CurrentApprovalLevel)

	events := disp.all()
	require.Len(t, events, 3)
	assert.Equal(t, models.EventOrderApproved, events[2].Type)
}
