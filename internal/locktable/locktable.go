// Package locktable tracks which consumers currently hold which cache
// identifiers. A held identifier is never eligible for pruning. All
// operations are O(1) map updates behind a single mutex and never perform
// I/O, so "mark locked" can happen strictly before any fetch suspends and a
// concurrent prune can never observe a false unlocked state.
package locktable

import "sync"

// Table 记录每个标识符当前的持有者集合，持有期间对应文件不可被清理。
type Table struct {
	mu   sync.Mutex
	held map[string]map[string]struct{}
}

// New 返回空的锁表。
func New() *Table {
	return &Table{held: make(map[string]map[string]struct{})}
}

// Lock 将 consumerID 加入 id 的持有者集合，重复加锁幂等。
func (t *Table) Lock(id, consumerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	holders := t.held[id]
	if holders == nil {
		holders = make(map[string]struct{})
		t.held[id] = holders
	}
	holders[consumerID] = struct{}{}
}

// Unlock 将 consumerID 从持有者集合移除，集合清空后删除整个条目。
// 对从未加锁的 id/consumer 组合调用是无害的 no-op（消费者可能在
// 加锁前就已消失）。
func (t *Table) Unlock(id, consumerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	holders, ok := t.held[id]
	if !ok {
		return
	}
	delete(holders, consumerID)
	if len(holders) == 0 {
		delete(t.held, id)
	}
}

// IsLocked 报告 id 当前是否仍有持有者，清理流程据此跳过在用文件。
func (t *Table) IsLocked(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.held[id]) > 0
}

// HeldCount 返回当前被持有的标识符数量，用于诊断输出。
func (t *Table) HeldCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.held)
}
