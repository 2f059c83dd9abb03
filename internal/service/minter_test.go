package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurehub/approvald/internal/models"
	"github.com/procurehub/approvald/internal/service"
	"github.com/procurehub/approvald/internal/store"
)

func TestMintDecisionTokens(t *testing.T) {
	st := store.NewMemStore()
	seedOrder(st, 10, 1, 3)
	st.PutApprover(models.Approver{ID: 8, Name: "Tier Two", Email: "t2@example.com", AuthorizationLevel: 2, Plant: plantPtr("MX1")})
	m := service.NewMinter(st)

	pair, err := m.MintDecisionTokens(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(8), pair.Approver.ID)
	assert.Len(t, pair.ApproveToken, 64)
	assert.Len(t, pair.RejectToken, 64)
	assert.NotEqual(t, pair.ApproveToken, pair.RejectToken)

	// Both tokens persisted, bound to the resolved approver and their action.
	at, err := st.GetActionToken(context.Background(), pair.ApproveToken)
	require.NoError(t, err)
	assert.Equal(t, int64(10), at.OrderID)
	assert.Equal(t, int64(8), at.UserID)
	assert.Equal(t, models.ActionApprove, at.Action)
	assert.False(t, at.IsUsed)

	rt, err := st.GetActionToken(context.Background(), pair.RejectToken)
	require.NoError(t, err)
	assert.Equal(t, models.ActionReject, rt.Action)
}

func TestMintDecisionTokens_OrderMissing(t *testing.T) {
	m := service.NewMinter(store.NewMemStore())
	_, err := m.MintDecisionTokens(context.Background(), 404)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMintDecisionTokens_TerminalOrder(t *testing.T) {
	st := store.NewMemStore()
	seedOrder(st, 10, 2, 2)
	m := service.NewMinter(st)

	_, err := m.MintDecisionTokens(context.Background(), 10)
	assert.ErrorIs(t, err, service.ErrOrderTerminal)
}

func TestMintDecisionTokens_NoApprover(t *testing.T) {
	st := store.NewMemStore()
	seedOrder(st, 10, 1, 3)
	m := service.NewMinter(st)

	_, err := m.MintDecisionTokens(context.Background(), 10)
	assert.ErrorIs(t, err, service.ErrNoApprover)
}

func TestMintBulkToken(t *testing.T) {
	st := store.NewMemStore()
	seedOrder(st, 21, 0, 2)
	seedOrder(st, 22, 1, 2)
	st.PutApprover(models.Approver{ID: 8, Name: "Tier Two", Email: "t2@example.com", AuthorizationLevel: 2})
	m := service.NewMinter(st)

	tok, err := m.MintBulkToken(context.Background(), 8, models.ActionApprove, models.OrderIDList{21, 22})
	require.NoError(t, err)
	assert.Len(t, tok, 64)

	bt, err := st.GetBulkActionToken(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, models.OrderIDList{21, 22}, bt.OrderIDs)
	assert.Equal(t, int64(8), bt.UserID)
}

func TestMintBulkToken_RejectsTerminalMember(t *testing.T) {
	st := store.NewMemStore()
	seedOrder(st, 21, 0, 2)
	seedOrder(st, 22, models.RejectedLevel, 2)
	st.PutApprover(models.Approver{ID: 8, Name: "Tier Two", Email: "t2@example.com", AuthorizationLevel: 2})
	m := service.NewMinter(st)

	_, err := m.MintBulkToken(context.Background(), 8, models.ActionApprove, models.OrderIDList{21, 22})
	assert.ErrorIs(t, err, service.ErrOrderTerminal)
}

func TestMintBulkToken_UnknownApprover(t *testing.T) {
	st := store.NewMemStore()
	seedOrder(st, 21, 0, 2)
	m := service.NewMinter(st)

	_, err := m.MintBulkToken(context.Background(), 99, models.ActionApprove, models.OrderIDList{21})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMintBulkToken_EmptyList(t *testing.T) {
	m := service.NewMinter(store.NewMemStore())
	_, err := m.MintBulkToken(context.Background(), 8, models.ActionApprove, nil)
	assert.Error(t, err)
}
