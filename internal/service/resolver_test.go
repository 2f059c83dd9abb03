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

func TestNextApprovers_PlantLocalFirst(t *testing.T) {
	st := store.NewMemStore()
	st.PutApprover(models.Approver{ID: 1, Name: "Global One", Email: "g1@example.com", AuthorizationLevel: 2})
	st.PutApprover(models.Approver{ID: 2, Name: "MX1 Lead", Email: "mx1@example.com", AuthorizationLevel: 2, Plant: plantPtr("MX1")})
	st.PutApprover(models.Approver{ID: 3, Name: "DE2 Lead", Email: "de2@example.com", AuthorizationLevel: 2, Plant: plantPtr("DE2")})
	st.PutApprover(models.Approver{ID: 4, Name: "Wrong Tier", Email: "t3@example.com", AuthorizationLevel: 3, Plant: plantPtr("MX1")})
	r := service.NewResolver(st)

	order := models.Order{ID: 1, Plant: plantPtr("MX1"), CurrentApprovalLevel: 1, RequiredApprovalLevel: 3, Status: models.StatusPending}
	got, err := r.NextApprovers(context.Background(), order)
	require.NoError(t, err)

	// Same-plant candidate first, plant-agnostic fallback after, other plants
	// excluded entirely.
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, int64(1), got[1].ID)
}

func TestNextApprovers_NilPlantMatchesOnlyGlobal(t *testing.T) {
	st := store.NewMemStore()
	st.PutApprover(models.Approver{ID: 1, Name: "Global One", Email: "g1@example.com", AuthorizationLevel: 1})
	st.PutApprover(models.Approver{ID: 2, Name: "MX1 Lead", Email: "mx1@example.com", AuthorizationLevel: 1, Plant: plantPtr("MX1")})
	r := service.NewResolver(st)

	order := models.Order{ID: 1, CurrentApprovalLevel: 0, RequiredApprovalLevel: 2, Status: models.StatusPending}
	got, err := r.NextApprovers(context.Background(), order)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
}

func TestNextApprovers_TerminalOrdersResolveEmpty(t *testing.T) {
	st := store.NewMemStore()
	st.PutApprover(models.Approver{ID: 1, Name: "Global One", Email: "g1@example.com", AuthorizationLevel: 100})
	r := service.NewResolver(st)

	approved := models.Order{ID: 1, CurrentApprovalLevel: 2, RequiredApprovalLevel: 2, Status: models.StatusApproved}
	got, err := r.NextApprovers(context.Background(), approved)
	require.NoError(t, err)
	assert.Empty(t, got)

	rejected := models.Order{ID: 2, CurrentApprovalLevel: models.RejectedLevel, RequiredApprovalLevel: 2, Status: models.StatusRejected}
	got, err = r.NextApprovers(context.Background(), rejected)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNextApprovers_NobodyAtTier(t *testing.T) {
	st := store.NewMemStore()
	st.PutApprover(models.Approver{ID: 1, Name: "Tier One", Email: "t1@example.com", AuthorizationLevel: 1})
	r := service.NewResolver(st)

	order := models.Order{ID: 1, CurrentApprovalLevel: 1, RequiredApprovalLevel: 3, Status: models.StatusPending}
	got, err := r.NextApprovers(context.Background(), order)
	require.NoError(t, err)
	assert.Empty(t, got)
}
