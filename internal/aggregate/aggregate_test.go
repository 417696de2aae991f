package aggregate

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/payops-sentinel/internal/model"
)

func ev(region, gateway string, status model.TxStatus, code string) model.TransactionEvent {
	return model.TransactionEvent{Region: region, Gateway: gateway, Status: status, ErrorCode: code}
}

func ukOutageWindow() []model.TransactionEvent {
	var events []model.TransactionEvent
	for i := 0; i < 40; i++ {
		events = append(events, ev("US", "stripe", model.TxStatusSuccess, "00"))
	}
	for i := 0; i < 10; i++ {
		events = append(events, ev("UK", "stripe", model.TxStatusFailed, "91"))
	}
	return events
}

func TestCompute_Empty(t *testing.T) {
	t.Parallel()

	snap := Compute(nil)
	assert.Equal(t, 1.0, snap.SuccessRate)
	assert.Equal(t, 0, snap.TotalCount)
	assert.Empty(t, snap.FailureClusters)
	assert.True(t, snap.Empty())
}

func TestCompute_UKOutage(t *testing.T) {
	t.Parallel()

	snap := Compute(ukOutageWindow())
	assert.InDelta(t, 0.80, snap.SuccessRate, 1e-9)
	assert.Equal(t, 50, snap.TotalCount)
	assert.Equal(t, 10, snap.FailedCount)
	assert.Equal(t, map[string]int{"UK_stripe_91": 10}, snap.FailureClusters)
}

func TestCompute_ScatteredFailure(t *testing.T) {
	t.Parallel()

	var events []model.TransactionEvent
	for i := 0; i < 49; i++ {
		events = append(events, ev("EU", "adyen", model.TxStatusSuccess, "00"))
	}
	events = append(events, ev("IN", "stripe", model.TxStatusFailed, "51"))

	snap := Compute(events)
	assert.InDelta(t, 0.98, snap.SuccessRate, 1e-9)
	assert.Equal(t, map[string]int{"IN_stripe_51": 1}, snap.FailureClusters)
	assert.Empty(t, ClustersAbove(snap, 5))
}

func TestCompute_MissingFieldsUsePlaceholders(t *testing.T) {
	t.Parallel()

	snap := Compute([]model.TransactionEvent{{Status: model.TxStatusFailed}})
	assert.Equal(t, map[string]int{"UNK_UNK_00": 1}, snap.FailureClusters)
}

func TestCompute_Invariants(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	regions := []string{"US", "UK", "IN", "EU"}
	gateways := []string{"stripe", "adyen"}
	codes := []string{"00", "05", "51", "91", "401"}

	for round := 0; round < 200; round++ {
		n := rng.IntN(80)
		events := make([]model.TransactionEvent, n)
		failed := 0
		for i := range events {
			status := model.TxStatusSuccess
			if rng.Float64() < 0.3 {
				status = model.TxStatusFailed
				failed++
			}
			events[i] = ev(regions[rng.IntN(len(regions))], gateways[rng.IntN(len(gateways))], status, codes[rng.IntN(len(codes))])
		}

		snap := Compute(events)
		require.Equal(t, n, snap.TotalCount, "round %d", round)
		require.GreaterOrEqual(t, snap.SuccessRate, 0.0)
		require.LessOrEqual(t, snap.SuccessRate, 1.0)
		if n == 0 {
			require.Equal(t, 1.0, snap.SuccessRate)
		}

		sum := 0
		for _, c := range snap.FailureClusters {
			sum += c
		}
		require.Equal(t, failed, sum, "round %d", round)
		require.Equal(t, failed, snap.FailedCount)
	}
}

func TestSplitClusterKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key                   string
		region, gateway, code string
		ok                    bool
	}{
		{"UK_stripe_91", "UK", "stripe", "91", true},
		{"US_pay_pal_05", "US", "pay_pal", "05", true},
		{"UK_stripe", "", "", "", false},
		{"nounderscore", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Parallel()
			r, g, c, ok := SplitClusterKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.region, r)
			assert.Equal(t, tt.gateway, g)
			assert.Equal(t, tt.code, c)
		})
	}
}

func TestTopCluster_TieBreaksByKey(t *testing.T) {
	t.Parallel()

	snap := model.MetricsSnapshot{FailureClusters: map[string]int{
		"US_stripe_05":  3,
		"IN_stripe_401": 7,
		"EU_adyen_51":   7,
	}}
	top, ok := TopCluster(snap)
	require.True(t, ok)
	assert.Equal(t, "EU_adyen_51", top.Key)
	assert.Equal(t, "EU", top.Region)
	assert.Equal(t, 7, top.Count)

	_, ok = TopCluster(model.MetricsSnapshot{})
	assert.False(t, ok)
}

func TestClustersAbove(t *testing.T) {
	t.Parallel()

	snap := Compute(ukOutageWindow())
	above := ClustersAbove(snap, 5)
	require.Len(t, above, 1)
	assert.Equal(t, "UK", above[0].Region)
	assert.Equal(t, "stripe", above[0].Gateway)
	assert.Equal(t, "91", above[0].ErrorCode)

	assert.Empty(t, ClustersAbove(snap, 10))
	assert.Equal(t, 10, above[0].Count)
}
