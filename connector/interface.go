// Package connector 提供统一的连接管理能力。
//
// 当前只包含 SQLite 连接器，读写锁的持有者表存放在锁文件旁的 SQLite 数据库中，
// 由本包负责打开、调优与健康检查。
//
// 基本使用：
//
//	conn, err := connector.NewSQLite(&connector.SQLiteConfig{
//		Path:        "/tmp/app.lock.rwlock",
//		BusyTimeout: 100 * time.Millisecond,
//	}, connector.WithLogger(logger))
//	if err != nil {
//		panic(err)
//	}
//	defer conn.Close()
//
//	if err := conn.Connect(ctx); err != nil {
//		panic(err)
//	}
//	db := conn.GetClient()
//
// 资源所有权：
//
//	Connector 拥有底层连接的生命周期。借用 Connector 的组件（如 rwlock）
//	只有在自己创建 Connector 时才负责 Close。
package connector

import (
	"context"

	"gorm.io/gorm"
)

// Connector 定义所有连接器的通用行为，方法均为并发安全。
type Connector interface {
	// Connect 建立连接，幂等
	Connect(ctx context.Context) error

	// Close 关闭连接并释放资源，幂等
	Close() error

	// HealthCheck 通过一次 Ping 检查连接可用性，并更新 IsHealthy 的缓存结果
	HealthCheck(ctx context.Context) error

	// IsHealthy 返回最后一次健康检查的结果
	IsHealthy() bool

	// Name 返回连接实例名称，用于日志标识
	Name() string
}

// TypedConnector 提供类型安全的客户端访问。
type TypedConnector[T any] interface {
	Connector

	// GetClient 返回底层客户端实例
	// 在 Connect 之前或 Close 之后返回 nil
	GetClient() T
}

// SQLiteConnector SQLite 连接器接口，基于 GORM。
type SQLiteConnector interface {
	TypedConnector[*gorm.DB]
}
