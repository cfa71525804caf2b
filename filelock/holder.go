package filelock

import (
	"context"

	"github.com/google/uuid"
)

// Holder 标识一个逻辑持有者，相当于其他语言中的线程标识
//
// 零值表示进程级默认持有者。
type Holder struct {
	id uuid.UUID
}

type holderKey struct{}

var processHolder = Holder{id: uuid.New()}

// NewHolder 创建一个新的持有者
func NewHolder() Holder {
	return Holder{id: uuid.New()}
}

// ProcessHolder 返回进程级默认持有者
func ProcessHolder() Holder {
	return processHolder
}

// WithHolder 返回携带新 Holder 的 ctx
func WithHolder(ctx context.Context) context.Context {
	return ContextWithHolder(ctx, NewHolder())
}

// ContextWithHolder 返回携带指定 Holder 的 ctx
func ContextWithHolder(ctx context.Context, h Holder) context.Context {
	return context.WithValue(ctx, holderKey{}, h)
}

// HolderFrom 取出 ctx 中的 Holder，未携带时返回进程默认持有者且 explicit 为 false
func HolderFrom(ctx context.Context) (h Holder, explicit bool) {
	if ctx != nil {
		if h, ok := ctx.Value(holderKey{}).(Holder); ok && h.id != uuid.Nil {
			return h, true
		}
	}
	return processHolder, false
}

// String 返回持有者的 UUID 字符串
func (h Holder) String() string {
	if h.id == uuid.Nil {
		return processHolder.id.String()
	}
	return h.id.String()
}
