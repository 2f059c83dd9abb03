package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurehub/approvald/internal/models"
	"github.com/procurehub/approvald/internal/service"
)

func order(current, required int) models.Order {
	status := models.StatusPending
	switch {
	case current == models.RejectedLevel:
		status = models.StatusRejected
	case current >= required:
		status = models.StatusApproved
	}
	return models.Order{
		ID:                    42,
		RequiredApprovalLevel: required,
		CurrentApprovalLevel:  current,
		Status:                status,
	}
}

func TestApplyApprove_AdvancesThroughAllLevels(t *testing.T) {
	o := order(0, 3)

	tr, err := service.ApplyApprove(o)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Order.CurrentApprovalLevel)
	assert.Equal(t, models.StatusPending, tr.Order.Status)
	assert.Equal(t, models.EventOrderAdvanced, tr.Event)
	assert.False(t, tr.NoOp)

	tr, err = service.ApplyApprove(tr.Order)
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Order.CurrentApprovalLevel)
	assert.Equal(t, models.EventOrderAdvanced, tr.Event)

	tr, err = service.ApplyApprove(tr.Order)
	require.NoError(t, err)
	assert.Equal(t, 3, tr.Order.CurrentApprovalLevel)
	assert.Equal(t, models.StatusApproved, tr.Order.Status)
	assert.Equal(t, models.EventOrderApproved, tr.Event)
	assert.True(t, tr.Order.FullyApproved())
}

func TestApplyApprove_IdempotentOnceFullyApproved(t *testing.T) {
	tr, err := service.ApplyApprove(order(3, 3))
	require.NoError(t, err)
	assert.True(t, tr.NoOp)
	assert.Equal(t, 3, tr.Order.CurrentApprovalLevel)
	assert.Equal(t, models.StatusApproved, tr.Order.Status)
	assert.Empty(t, tr.Event)
}

func TestApplyApprove_RejectedOrderFailsDistinctly(t *testing.T) {
	_, err := service.ApplyApprove(order(models.RejectedLevel, 3))
	assert.ErrorIs(t, err, service.ErrOrderRejected)
}

func TestApplyReject_WinsAtAnyLevel(t *testing.T) {
	for _, level := range []int{0, 1, 2} {
		tr, err := service.ApplyReject(order(level, 3))
		require.NoError(t, err)
		assert.Equal(t, models.RejectedLevel, tr.Order.CurrentApprovalLevel)
		assert.Equal(t, models.StatusRejected, tr.Order.Status)
		assert.Equal(t, models.EventOrderRejected, tr.Event)
	}

	// Rejecting a fully approved order still wins.
	tr, err := service.ApplyReject(order(3, 3))
	require.NoError(t, err)
	assert.Equal(t, models.RejectedLevel, tr.Order.CurrentApprovalLevel)
}

func TestApplyReject_IdempotentWhenAlreadyRejected(t *testing.T) {
	tr, err := service.ApplyReject(order(models.RejectedLevel, 3))
	require.NoError(t, err)
	assert.True(t, tr.NoOp)
	assert.Equal(t, models.RejectedLevel, tr.Order.CurrentApprovalLevel)
	assert.Empty(t, tr.Event)
}

func TestApply_InvalidStoredState(t *testing.T) {
	cases := []struct {
		name     string
		current  int
		required int
	}{
		{"level above required", 5, 3},
		{"negative level", -1, 3},
		{"required below one", 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.ApplyApprove(order(tc.current, tc.required))
			assert.ErrorIs(t, err, service.ErrOrderStateInvalid)
		})
	}
}

func TestApply_UnknownAction(t *testing.T) {
	_, err := service.Apply(order(0, 1), models.Action("escalate"))
	assert.Error(t, err)
}
