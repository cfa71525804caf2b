package metrics

// Label 指标标签，为指标添加维度信息
//
// 标签值应保持低基数：锁的后端类型、读写模式可以作为标签，锁文件路径不可以。
type Label struct {
	Key   string
	Value string
}

// L 便捷构造函数，创建一个 Label 实例
//
//	counter.Inc(ctx, metrics.L("backend", "soft"))
func L(key, value string) Label {
	return Label{
		Key:   key,
		Value: value,
	}
}
