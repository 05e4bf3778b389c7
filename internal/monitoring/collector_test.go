package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"licensehub/backend/internal/domain"
	"licensehub/backend/internal/storage/memory"
)

// promauto 指标只能注册一次，包内测试共享同一个实例
var collectorMetrics = NewMetrics()

func TestGaugeCollector_Collect(t *testing.T) {
	store := memory.NewStore()

	now := time.Now().UTC()
	for _, id := range []string{"lic-1", "lic-2"} {
		require.NoError(t, store.SaveLicense(&domain.License{
			ID:             id,
			LicenseKey:     "KEY-" + id,
			ProductName:    "Widget Pro",
			Status:         domain.LicenseStatusActive,
			MaxActivations: 5,
			CreatedAt:      now,
			UpdatedAt:      now,
		}))
	}

	_, _, err := store.AllocateSlot("lic-1", "a.example.com", "token-a", "")
	require.NoError(t, err)
	_, _, err = store.AllocateSlot("lic-1", "b.example.com", "token-b", "")
	require.NoError(t, err)
	_, _, err = store.AllocateSlot("lic-2", "c.example.com", "token-c", "")
	require.NoError(t, err)

	// c.example.com 的心跳停在两小时前，落入失联窗口
	require.NoError(t, store.TouchActivation("token-c", now.Add(-2*time.Hour)))

	collector := NewGaugeCollector(store, collectorMetrics, zap.NewNop(), time.Hour)
	collector.Collect()

	assert.Equal(t, 3.0, testutil.ToFloat64(collectorMetrics.SlotsOccupied))
	assert.Equal(t, 2.0, testutil.ToFloat64(collectorMetrics.LicensesActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectorMetrics.StaleActivations))
	assert.Greater(t, testutil.ToFloat64(collectorMetrics.SystemUptime), 0.0)

	// 槽位释放后重新采样，gauge 回落
	released, err := store.ReleaseSlot("lic-1", "a.example.com")
	require.NoError(t, err)
	require.True(t, released)

	collector.Collect()
	assert.Equal(t, 2.0, testutil.ToFloat64(collectorMetrics.SlotsOccupied))
}
