package xerrors

import (
	"errors"
	"testing"
)

func TestWrap(t *testing.T) {
	// nil 错误应返回 nil
	if err := Wrap(nil, "context"); err != nil {
		t.Errorf("Wrap(nil) = %v，期望 nil", err)
	}

	base := errors.New("base error")
	wrapped := Wrap(base, "context")
	if wrapped.Error() != "context: base error" {
		t.Errorf("Wrap(err).Error() = %q，期望 %q", wrapped.Error(), "context: base error")
	}
	if !errors.Is(wrapped, base) {
		t.Error("errors.Is(wrapped, base) = false，期望 true")
	}
}

func TestWrapf(t *testing.T) {
	if err := Wrapf(nil, "path %s", "/tmp/a.lock"); err != nil {
		t.Errorf("Wrapf(nil) = %v，期望 nil", err)
	}

	base := errors.New("timeout")
	wrapped := Wrapf(base, "path %s", "/tmp/a.lock")
	if wrapped.Error() != "path /tmp/a.lock: timeout" {
		t.Errorf("Wrapf(err).Error() = %q", wrapped.Error())
	}
}

func TestWithCode(t *testing.T) {
	if err := WithCode(nil, "CODE"); err != nil {
		t.Errorf("WithCode(nil) = %v，期望 nil", err)
	}

	base := errors.New("lock busy")
	coded := WithCode(base, "busy")
	if coded.Error() != "[busy] lock busy" {
		t.Errorf("WithCode(err).Error() = %q", coded.Error())
	}
	if code := GetCode(Wrap(coded, "outer")); code != "busy" {
		t.Errorf("GetCode() = %q，期望 %q", code, "busy")
	}
	if !errors.Is(coded, base) {
		t.Error("WithCode 应保留错误链")
	}
}

func TestCodeOf(t *testing.T) {
	errA := New("a")
	errB := New("b")
	table := []Code{{errA, "code_a"}, {errB, "code_b"}}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "sentinel", err: Wrap(errA, "ctx"), want: "code_a"},
		{name: "explicit code wins", err: WithCode(errB, "explicit"), want: "explicit"},
		{name: "fallback", err: errors.New("other"), want: "io"},
		{name: "first entry wins", err: Combine(errB, errA), want: "code_a"},
		{name: "first entry wins reversed", err: Combine(errA, errB), want: "code_a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err, "io", table); got != tt.want {
				t.Errorf("CodeOf() = %q，期望 %q", got, tt.want)
			}
		})
	}
}

func TestCombine(t *testing.T) {
	if err := Combine(nil, nil); err != nil {
		t.Errorf("Combine(nil, nil) = %v，期望 nil", err)
	}

	single := errors.New("single")
	if err := Combine(nil, single); err != single {
		t.Errorf("Combine 单个错误应原样返回，得到 %v", err)
	}

	e1 := errors.New("e1")
	e2 := errors.New("e2")
	err := Combine(e1, nil, e2)
	if err.Error() != "e1 (and 1 more errors)" {
		t.Errorf("Combine().Error() = %q", err.Error())
	}
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Error("Combine 结果应同时匹配 e1 和 e2")
	}
}
