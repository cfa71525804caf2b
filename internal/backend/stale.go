package backend

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// StaleMinAge 比这更新的标记不做陈旧检测，正常竞争时标记的年龄通常不足一秒
const StaleMinAge = 2 * time.Second

// maxRecordSize 读取标记时的上限，更长的内容视为无法识别
const maxRecordSize = 256

// Record 软锁标记文件中记录的持有者信息
//
// 文件格式为按行分隔的纯文本："<pid>\n<host>\n<unix 纳秒>\n"。
// 只有前两行的旧格式同样可以识别。
type Record struct {
	PID     int
	Host    string
	Created time.Time
}

// CurrentRecord 返回描述当前进程的记录
func CurrentRecord() Record {
	return Record{PID: os.Getpid(), Host: Hostname(), Created: time.Now()}
}

// Encode 序列化为标记文件内容
func (r Record) Encode() []byte {
	return fmt.Appendf(nil, "%d\n%s\n%d\n", r.PID, r.Host, r.Created.UnixNano())
}

// ParseRecord 解析标记文件内容，无法识别时 ok 为 false
func ParseRecord(data []byte) (rec Record, ok bool) {
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 && len(lines) != 3 {
		return Record{}, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || pid <= 0 || pid > math.MaxInt32 {
		return Record{}, false
	}
	host := strings.TrimSpace(lines[1])
	if host == "" {
		return Record{}, false
	}
	rec = Record{PID: pid, Host: host}
	if len(lines) == 3 {
		ns, err := strconv.ParseInt(strings.TrimSpace(lines[2]), 10, 64)
		if err != nil {
			return Record{}, false
		}
		rec.Created = time.Unix(0, ns)
	}
	return rec, true
}

// readMarker 读取标记文件的前 maxRecordSize+1 个字节
func readMarker(path string) ([]byte, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|oNoFollow, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxRecordSize+1))
}

// Verdict 陈旧检测的结论
type Verdict int

const (
	// VerdictHeld 持有者可能存活或无法判断，按正常竞争处理
	VerdictHeld Verdict = iota
	// VerdictStale 持有者在本机且已退出
	VerdictStale
	// VerdictGone 标记已经不存在
	VerdictGone
)

// Detector 判断已有的软锁标记是否陈旧
type Detector struct {
	// Alive 探测本机进程是否存活，出错时应返回 true
	Alive func(pid int) bool
	Host  string
	Now   func() time.Time
}

// Inspect 读取 path 处的标记并给出结论
//
// 不认识的内容、其他主机的记录、年龄不足 StaleMinAge 的标记都视为被持有。
func (d Detector) Inspect(path string) Verdict {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return VerdictGone
		}
		return VerdictHeld
	}
	if d.Now().Sub(info.ModTime()) < StaleMinAge {
		return VerdictHeld
	}

	data, err := readMarker(path)
	if err != nil {
		if os.IsNotExist(err) {
			return VerdictGone
		}
		return VerdictHeld
	}
	if len(data) > maxRecordSize || bytes.IndexByte(data, 0) >= 0 {
		return VerdictHeld
	}
	rec, ok := ParseRecord(data)
	if !ok || rec.Host != d.Host {
		return VerdictHeld
	}
	if d.Alive(rec.PID) {
		return VerdictHeld
	}
	return VerdictStale
}
