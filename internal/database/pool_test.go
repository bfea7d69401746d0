package database

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "test.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	return db
}

func TestNewPoolManager(t *testing.T) {
	config := PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}

	manager, err := NewPoolManager(setupTestDB(t), config, zap.NewNop(), nil)
	require.NoError(t, err)
	defer manager.Close()

	assert.NotNil(t, manager.DB())
	assert.Equal(t, config, manager.config)
	assert.Equal(t, 10, manager.GetStats().MaxOpenConnections)
}

func TestNewPoolManager_NilDB(t *testing.T) {
	_, err := NewPoolManager(nil, DefaultPoolConfig(), zap.NewNop(), nil)
	assert.Error(t, err)
}

func TestNewPoolManager_InvalidConfig(t *testing.T) {
	config := DefaultPoolConfig()
	config.MaxIdleConns = 50
	config.MaxOpenConns = 10

	_, err := NewPoolManager(setupTestDB(t), config, zap.NewNop(), nil)
	assert.Error(t, err)
}

func TestPoolManager_PingAndClose(t *testing.T) {
	config := DefaultPoolConfig()
	config.HealthCheckInterval = 0
	manager, err := NewPoolManager(setupTestDB(t), config, zap.NewNop(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, manager.Ping(ctx))

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())
	assert.Error(t, manager.Ping(ctx))
}

func TestPoolManager_HealthCheckReportsStats(t *testing.T) {
	config := DefaultPoolConfig()
	config.HealthCheckInterval = 10 * time.Millisecond

	var reports atomic.Int32
	manager, err := NewPoolManager(setupTestDB(t), config, zaptest.NewLogger(t), func(s PoolStats) {
		if s.MaxOpenConnections == config.MaxOpenConns {
			reports.Add(1)
		}
	})
	require.NoError(t, err)
	defer manager.Close()

	assert.Eventually(t, func() bool { return reports.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{name: "defaults", config: DefaultPoolConfig()},
		{name: "unlimited open", config: PoolConfig{MaxIdleConns: 5}},
		{name: "negative", config: PoolConfig{MaxOpenConns: -1}, wantErr: true},
		{name: "idle exceeds open", config: PoolConfig{MaxOpenConns: 2, MaxIdleConns: 3}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =============================================================================
// 🧪 Open 测试
// =============================================================================

func TestDialector(t *testing.T) {
	for _, driver := range []string{DriverPostgres, DriverMySQL, DriverSQLite} {
		d, err := Dialector(driver, "dsn")
		require.NoError(t, err, driver)
		assert.NotNil(t, d)
	}

	_, err := Dialector("", "dsn")
	assert.ErrorContains(t, err, "not configured")

	_, err = Dialector("oracle", "dsn")
	assert.ErrorContains(t, err, "unsupported")
}

func TestOpen_SQLite(t *testing.T) {
	db := setupTestDB(t)

	type probe struct {
		ID   uint
		Name string
	}
	require.NoError(t, db.AutoMigrate(&probe{}))
	require.NoError(t, db.Create(&probe{Name: "x"}).Error)

	var got probe
	require.NoError(t, db.First(&got).Error)
	assert.Equal(t, "x", got.Name)
}
