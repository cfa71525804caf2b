package testkit

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// HelperEnv 子进程通过该环境变量识别自己是测试辅助进程，值为运行模式
const HelperEnv = "FILELOCK_TEST_HELPER"

// Helper 以子进程方式重新执行当前测试二进制，用于跨进程加锁测试
//
// 被测包需要提供一个入口测试：
//
//	func TestHelperProcess(t *testing.T) {
//		mode, args, ok := testkit.HelperMode()
//		if !ok {
//			return
//		}
//		...
//	}
type Helper struct {
	t      *testing.T
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan string
	waited bool
}

// StartHelper 启动辅助子进程，mode 和 args 会传给子进程的 TestHelperProcess
// 测试结束时会自动关闭 stdin 并等待子进程退出
func StartHelper(t *testing.T, mode string, args ...string) *Helper {
	t.Helper()
	cmdArgs := append([]string{"-test.run=^TestHelperProcess$", "--"}, args...)
	cmd := exec.Command(os.Args[0], cmdArgs...)
	cmd.Env = append(os.Environ(), HelperEnv+"="+mode)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	require.NoError(t, err)
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	h := &Helper{t: t, cmd: cmd, stdin: stdin, lines: make(chan string, 16)}
	go func() {
		defer close(h.lines)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			h.lines <- strings.TrimSpace(scanner.Text())
		}
	}()
	t.Cleanup(h.Stop)
	return h
}

// WaitFor 等待子进程输出以 prefix 开头的一行，返回整行内容
func (h *Helper) WaitFor(prefix string, timeout time.Duration) (string, error) {
	deadline := time.After(timeout)
	for {
		select {
		case line, ok := <-h.lines:
			if !ok {
				return "", fmt.Errorf("helper exited before printing %q", prefix)
			}
			if strings.HasPrefix(line, prefix) {
				return line, nil
			}
		case <-deadline:
			return "", fmt.Errorf("timeout waiting for helper to print %q", prefix)
		}
	}
}

// Pid 返回子进程 pid
func (h *Helper) Pid() int {
	return h.cmd.Process.Pid
}

// Stop 关闭子进程 stdin 通知其退出，并等待结束
func (h *Helper) Stop() {
	if h.waited {
		return
	}
	h.waited = true
	_ = h.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		_ = h.cmd.Process.Kill()
		<-done
	}
}

// Kill 强制结束子进程，模拟持有者崩溃
func (h *Helper) Kill() {
	if h.waited {
		return
	}
	h.waited = true
	_ = h.cmd.Process.Kill()
	_ = h.cmd.Wait()
}

// HelperMode 在子进程中返回运行模式和参数，ok 为 false 表示当前不是辅助进程
func HelperMode() (mode string, args []string, ok bool) {
	mode = os.Getenv(HelperEnv)
	if mode == "" {
		return "", nil, false
	}
	for i, a := range os.Args {
		if a == "--" {
			return mode, os.Args[i+1:], true
		}
	}
	return mode, nil, true
}

// WaitForStdinClose 在子进程中阻塞，直到父进程关闭 stdin
func WaitForStdinClose() {
	_, _ = io.Copy(io.Discard, os.Stdin)
}

// DeadPID 启动一个立即退出的子进程并返回它的 pid，用于模拟已崩溃的持有者
func DeadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	require.NoError(t, cmd.Run())
	return cmd.ProcessState.Pid()
}
