// Package pipeline orchestrates the fetch-or-read path for a single
// identifier: check the store, fall back to the network collaborator, persist
// the bytes, then prune. Concurrent requests for the same identifier attach
// to one in-flight operation instead of fetching twice. A waiter that cancels
// detaches only itself; the shared fetch always runs to completion so the
// store is updated for everyone else (and for future requests).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/img-vault/img-vault/internal/naming"
	"github.com/img-vault/img-vault/internal/store"
)

// FetchFunc 是外部网络协作方：按 URL 取回原始字节或失败。
// 管线将其视作黑盒，不做重试。
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// FetchError 表示网络协作方失败，同一标识符的所有等待者收到同一个错误。
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Pipeline 按标识符去重地执行 “查磁盘 → 回源 → 落盘 → 清理” 流程。
type Pipeline struct {
	store      *store.Store
	pruneLimit int64
	isLocked   func(id string) bool
	logger     *logrus.Logger

	mu      sync.Mutex
	pending map[string]*flight
}

// flight 是单个标识符的在途操作：done 关闭后 entry/err 不再变化。
type flight struct {
	done  chan struct{}
	entry *store.Entry
	err   error
}

// New 构建管线。isLocked 供落盘后的同步清理查询锁表。
func New(st *store.Store, pruneLimit int64, isLocked func(id string) bool, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{
		store:      st,
		pruneLimit: pruneLimit,
		isLocked:   isLocked,
		logger:     logger,
		pending:    make(map[string]*flight),
	}
}

// Get 返回 URL 对应的缓存条目（含本地文件路径），必要时回源获取。
// 同一标识符并发调用只触发一次底层操作；ctx 取消只让当前调用方立即返回
// ctx.Err()，共享的回源/落盘仍会完成并更新 Store。返回的条目来自本次
// 在途操作自身，不做二次查询，之后的清理不影响结果。
func (p *Pipeline) Get(ctx context.Context, url string, class store.Class, fetch FetchFunc) (*store.Entry, error) {
	id := naming.Identifier(url, class.String())

	p.mu.Lock()
	f, attached := p.pending[id]
	if !attached {
		f = &flight{done: make(chan struct{})}
		p.pending[id] = f
	}
	p.mu.Unlock()

	if !attached {
		go p.run(f, id, url, class, fetch)
	}

	select {
	case <-f.done:
		return f.entry, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run 执行在途操作并通知所有等待者。无论成败，pending 条目在通知前移除，
// 失败后的新请求会开启全新管线而不是复用旧错误。
func (p *Pipeline) run(f *flight, id, url string, class store.Class, fetch FetchFunc) {
	f.entry, f.err = p.execute(id, url, class, fetch)

	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()

	close(f.done)
}

func (p *Pipeline) execute(id, url string, class store.Class, fetch FetchFunc) (*store.Entry, error) {
	entry, err := p.store.Resolve(id, class)
	if err == nil {
		p.store.Touch(id)
		return entry, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// 回源使用独立 context：个别等待者取消不得中断共享操作。
	data, fetchErr := fetch(context.Background(), url)
	if fetchErr != nil {
		return nil, &FetchError{URL: url, Err: fetchErr}
	}

	persisted, err := p.store.Persist(id, class, data)
	if err != nil {
		return nil, err
	}

	p.store.Prune(p.pruneLimit, p.isLocked)

	p.logger.WithFields(logrus.Fields{
		"action":     "asset_fetched",
		"identifier": id,
		"class":      class.String(),
		"size_bytes": persisted.SizeBytes,
	}).Debug("资源已回源并落盘")

	return persisted, nil
}
