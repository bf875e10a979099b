package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlan_DefaultPartSize(t *testing.T) {
	plan, err := Plan(25 * MiB)

	require.NoError(t, err)
	require.Equal(t, int64(10*MiB), plan.PartSize)
	require.Equal(t, 3, plan.TotalParts)
}

func TestPlan_SingleSmallPart(t *testing.T) {
	plan, err := Plan(3 * MiB)

	require.NoError(t, err)
	require.Equal(t, int64(10*MiB), plan.PartSize)
	require.Equal(t, 1, plan.TotalParts)
}

func TestPlan_ExactMultiple(t *testing.T) {
	plan, err := Plan(100 * MiB)

	require.NoError(t, err)
	require.Equal(t, int64(10*MiB), plan.PartSize)
	require.Equal(t, 10, plan.TotalParts)
}

func TestPlan_RecomputesWhenExceedingMaxParts(t *testing.T) {
	// 150,000 MiB at the 10 MiB default would need 15,000 parts.
	fileSize := int64(150000) * MiB

	plan, err := Plan(fileSize)

	require.NoError(t, err)
	require.Equal(t, int64(15*MiB), plan.PartSize)
	require.Equal(t, 10000, plan.TotalParts)
	require.LessOrEqual(t, plan.TotalParts, MaxPartCount)
}

func TestPlan_RoundsUpToMiB(t *testing.T) {
	// 150,000 MiB + 1 byte forces ceil(size/10000) just above 15 MiB,
	// which must round up to 16 MiB.
	fileSize := int64(150000)*MiB + 1

	plan, err := Plan(fileSize)

	require.NoError(t, err)
	require.Equal(t, int64(16*MiB), plan.PartSize)
	require.Equal(t, int(ceilDiv(fileSize, plan.PartSize)), plan.TotalParts)
}

func TestPlan_Deterministic(t *testing.T) {
	sizes := []int64{1, MiB, 5 * MiB, 25 * MiB, 10 * 1024 * MiB}

	for _, size := range sizes {
		first, err := Plan(size)
		require.NoError(t, err)

		second, err := Plan(size)
		require.NoError(t, err)

		require.Equal(t, first, second)
		require.Equal(t, int(ceilDiv(size, first.PartSize)), first.TotalParts)
		require.GreaterOrEqual(t, first.PartSize, MinPartSize)
		require.LessOrEqual(t, first.PartSize, MaxPartSize)
	}
}

func TestPlan_InvalidSize(t *testing.T) {
	_, err := Plan(0)
	require.ErrorIs(t, err, ErrFileSizeInvalid)

	_, err = Plan(-1)
	require.ErrorIs(t, err, ErrFileSizeInvalid)
}

func TestPlan_TenGiBFile(t *testing.T) {
	plan, err := Plan(10 * 1024 * MiB)

	require.NoError(t, err)
	require.Equal(t, int64(10*MiB), plan.PartSize)
	require.Equal(t, 1024, plan.TotalParts)
}
