package store

import (
	"errors"
	"fmt"
	"time"
)

// Class 区分可清理的临时层与永不参与清理的永久层。
type Class int

const (
	// ClassTemporary 存放可被容量清理淘汰的条目。
	ClassTemporary Class = iota
	// ClassPermanent 存放永不计入清理阈值、也永不被清理的条目。
	ClassPermanent
)

// String 返回层级的稳定标签，参与标识符派生与日志字段。
func (c Class) String() string {
	if c == ClassPermanent {
		return "permanent"
	}
	return "temporary"
}

// dirName 返回层级对应的磁盘子目录名。
func (c Class) dirName() string {
	if c == ClassPermanent {
		return "permanent"
	}
	return "cache"
}

// Entry 描述一个已落盘的缓存条目及其清理排序所需的元数据。
type Entry struct {
	Identifier string
	Path       string
	Class      Class
	SizeBytes  int64
	LastAccess time.Time
}

// ErrNotFound 表示对应标识符在磁盘上不存在。
var ErrNotFound = errors.New("cache entry not found")

// WriteError 表示落盘失败（磁盘满、权限不足等），调用方原样透传给请求者。
type WriteError struct {
	Identifier string
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Identifier, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
