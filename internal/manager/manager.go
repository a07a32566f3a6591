// Package manager is the consumer-facing façade over the naming, lock table,
// store and fetch pipeline components. One Manager is built per configuration
// and passed explicitly to its consumers; there is no package-level singleton.
// The ordering contract lives here: Acquire registers the consumer's lock
// before any suspending operation, so pruning triggered by another
// identifier's persist can never observe a false unlocked state for an asset
// that is mid-acquisition.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/img-vault/img-vault/internal/locktable"
	"github.com/img-vault/img-vault/internal/naming"
	"github.com/img-vault/img-vault/internal/pipeline"
	"github.com/img-vault/img-vault/internal/store"
)

// DefaultPruneTriggerLimitBytes 是未配置时的清理触发阈值。
const DefaultPruneTriggerLimitBytes int64 = 15 * 1024 * 1024

// ValidationError 表示入参不合法，在任何 I/O 之前拒绝，永不重试。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Options 描述构建 Manager 所需的全部依赖，按配置显式注入。
type Options struct {
	// RootDir 是缓存根目录，其下自动创建 cache/ 与 permanent/ 两个层级。
	RootDir string
	// PruneTriggerLimitBytes 为 0 时使用 DefaultPruneTriggerLimitBytes。
	PruneTriggerLimitBytes int64
	// Fetch 是外部网络协作方，所有回源经由它完成。
	Fetch pipeline.FetchFunc
	Logger *logrus.Logger
}

// Manager 组合锁表、磁盘存储与回源管线，暴露消费者使用的公开操作。
type Manager struct {
	locks      *locktable.Table
	store      *store.Store
	pipe       *pipeline.Pipeline
	fetch      pipeline.FetchFunc
	logger     *logrus.Logger
	pruneLimit int64
}

// FlushResult 逐目录报告 FlushAll 的结果，单个目录失败不影响另一个。
type FlushResult struct {
	CacheDirFlushed     bool `json:"cache_dir_flushed"`
	PermanentDirFlushed bool `json:"permanent_dir_flushed"`
}

// New 按 Options 构建 Manager，创建磁盘目录并重建容量账本。
func New(opts Options) (*Manager, error) {
	if opts.RootDir == "" {
		return nil, errors.New("root directory is required")
	}
	if opts.Fetch == nil {
		return nil, errors.New("fetch collaborator is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	limit := opts.PruneTriggerLimitBytes
	if limit <= 0 {
		limit = DefaultPruneTriggerLimitBytes
	}

	st, err := store.New(opts.RootDir, logger)
	if err != nil {
		return nil, err
	}

	locks := locktable.New()

	return &Manager{
		locks:      locks,
		store:      st,
		pipe:       pipeline.New(st, limit, locks.IsLocked, logger),
		fetch:      opts.Fetch,
		logger:     logger,
		pruneLimit: limit,
	}, nil
}

// Acquire 锁定标识符并返回本地文件路径，必要时回源。锁在任何挂起点之前
// 同步登记，并一直保持到 Release，与管线成败完全解耦。
func (m *Manager) Acquire(ctx context.Context, url string, class store.Class, consumerID string) (string, error) {
	if url == "" {
		return "", &ValidationError{Field: "url", Reason: "不能为空"}
	}
	if consumerID == "" {
		return "", &ValidationError{Field: "consumerID", Reason: "不能为空"}
	}

	id := naming.Identifier(url, class.String())
	m.locks.Lock(id, consumerID)

	entry, err := m.pipe.Get(ctx, url, class, m.fetch)
	if err != nil {
		return "", err
	}
	return entry.Path, nil
}

// Release 解除消费者对 URL 的持有。消费者从未加锁时是无害的 no-op。
func (m *Manager) Release(url string, class store.Class, consumerID string) {
	if url == "" || consumerID == "" {
		return
	}
	m.locks.Unlock(naming.Identifier(url, class.String()), consumerID)
}

// PreWarm 一次性预取：回源落盘但事后不持有任何锁，返回条目元数据。
// 元数据直接取自管线本次操作，即使条目随后立刻被清理也能完整返回。
func (m *Manager) PreWarm(ctx context.Context, url string, class store.Class) (*store.Entry, error) {
	if url == "" {
		return nil, &ValidationError{Field: "url", Reason: "不能为空"}
	}

	return m.pipe.Get(ctx, url, class, m.fetch)
}

// FlushAll 无条件清空两个层级目录。两个操作相互独立并行执行，
// 任一失败不阻塞另一个，结果逐目录上报。
func (m *Manager) FlushAll() FlushResult {
	var result FlushResult
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		result.CacheDirFlushed = m.store.Flush(store.ClassTemporary)
	}()
	go func() {
		defer wg.Done()
		result.PermanentDirFlushed = m.store.Flush(store.ClassPermanent)
	}()
	wg.Wait()

	m.logger.WithFields(logrus.Fields{
		"action":        "flush_all",
		"cache_dir":     result.CacheDirFlushed,
		"permanent_dir": result.PermanentDirFlushed,
	}).Info("缓存目录已清空")

	return result
}

// CacheSize 返回临时层当前字节总量，供诊断接口使用。
func (m *Manager) CacheSize() int64 {
	return m.store.TotalCacheSize()
}

// HeldCount 返回当前被持有的标识符数量，供诊断接口使用。
func (m *Manager) HeldCount() int {
	return m.locks.HeldCount()
}

// PruneTriggerLimitBytes 返回生效的清理触发阈值。
func (m *Manager) PruneTriggerLimitBytes() int64 {
	return m.pruneLimit
}
