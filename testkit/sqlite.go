package testkit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ceyewan/filelock/connector"
)

// NewSQLiteConfig 返回存放在 t.TempDir() 中的 SQLite 配置
func NewSQLiteConfig(t *testing.T) *connector.SQLiteConfig {
	t.Helper()
	return &connector.SQLiteConfig{
		Name: "test-" + NewID(),
		Path: filepath.Join(t.TempDir(), "test.db"),
	}
}

// NewSQLiteConnector 获取已连接的 SQLite 连接器
// 生命周期由 t.Cleanup 管理
func NewSQLiteConnector(t *testing.T) connector.SQLiteConnector {
	t.Helper()
	conn, err := connector.NewSQLite(NewSQLiteConfig(t), connector.WithLogger(NewLogger()))
	require.NoError(t, err, "failed to create sqlite connector")
	require.NoError(t, conn.Connect(context.Background()), "failed to connect to sqlite")

	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

// NewSQLiteDB 获取 GORM DB 实例
func NewSQLiteDB(t *testing.T) *gorm.DB {
	return NewSQLiteConnector(t).GetClient()
}
