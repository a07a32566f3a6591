package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Store 负责缓存文件的读写、容量账本与清理。同一根目录整个进程复用一份实例。
type Store struct {
	cacheRoot     string
	permanentRoot string
	logger        *logrus.Logger

	mu        sync.Mutex
	entries   map[string]*Entry
	cacheSize int64

	now func() time.Time
}

// New 以 baseDir 为根目录构建磁盘缓存，创建 cache/permanent 两个子目录，
// 并扫描已有文件重建内存账本，使缓存跨进程重启继续生效。
func New(baseDir string, logger *logrus.Logger) (*Store, error) {
	if baseDir == "" {
		return nil, errors.New("storage path required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	s := &Store{
		cacheRoot:     filepath.Join(abs, ClassTemporary.dirName()),
		permanentRoot: filepath.Join(abs, ClassPermanent.dirName()),
		logger:        logger,
		entries:       make(map[string]*Entry),
		now:           time.Now,
	}

	for _, root := range []string{s.cacheRoot, s.permanentRoot} {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create storage path: %w", err)
		}
	}

	if err := s.rebuildLedger(); err != nil {
		return nil, fmt.Errorf("scan existing cache: %w", err)
	}

	return s, nil
}

// rebuildLedger 从磁盘恢复账本，LastAccess 取文件 ModTime 近似。
func (s *Store) rebuildLedger() error {
	for _, class := range []Class{ClassTemporary, ClassPermanent} {
		root := s.root(class)
		dirEntries, err := os.ReadDir(root)
		if err != nil {
			return err
		}
		for _, de := range dirEntries {
			if de.IsDir() {
				continue
			}
			info, err := de.Info()
			if err != nil {
				continue
			}
			s.register(&Entry{
				Identifier: de.Name(),
				Path:       filepath.Join(root, de.Name()),
				Class:      class,
				SizeBytes:  info.Size(),
				LastAccess: info.ModTime(),
			})
		}
	}
	return nil
}

func (s *Store) root(class Class) string {
	if class == ClassPermanent {
		return s.permanentRoot
	}
	return s.cacheRoot
}

// entryPath 返回标识符在对应层级下的绝对路径。
func (s *Store) entryPath(id string, class Class) string {
	return filepath.Join(s.root(class), id)
}

// register 写入或替换账本条目并维护临时层容量，调用方需持有 s.mu 或保证独占。
func (s *Store) register(e *Entry) {
	if prev, ok := s.entries[e.Identifier]; ok && prev.Class == ClassTemporary {
		s.cacheSize -= prev.SizeBytes
	}
	s.entries[e.Identifier] = e
	if e.Class == ClassTemporary {
		s.cacheSize += e.SizeBytes
	}
}

// Resolve 检查磁盘上是否存在对应文件，命中返回元数据副本，不触网。
// 未命中返回 ErrNotFound。
func (s *Store) Resolve(id string, class Class) (*Entry, error) {
	path := s.entryPath(id, class)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		// 文件存在但账本缺失（例如外部放置），补登记。
		e = &Entry{
			Identifier: id,
			Path:       path,
			Class:      class,
			SizeBytes:  info.Size(),
			LastAccess: info.ModTime(),
		}
		s.register(e)
	}

	copied := *e
	return &copied, nil
}

// Persist 通过临时文件 + rename 原子写入，成功后更新账本并返回条目副本。
// 失败以 *WriteError 返回，磁盘上不会留下可见的半成品文件。
func (s *Store) Persist(id string, class Class, data []byte) (*Entry, error) {
	root := s.root(class)
	path := s.entryPath(id, class)

	tempFile, err := os.CreateTemp(root, ".persist-*")
	if err != nil {
		return nil, &WriteError{Identifier: id, Err: err}
	}
	tempName := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempName)
		return nil, &WriteError{Identifier: id, Err: writeErr}
	}

	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return nil, &WriteError{Identifier: id, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := &Entry{
		Identifier: id,
		Path:       path,
		Class:      class,
		SizeBytes:  int64(len(data)),
		LastAccess: s.now(),
	}
	s.register(e)

	copied := *e
	return &copied, nil
}

// Touch 更新条目的最近访问时间，命中与写入后都会调用，用于 LRU 排序。
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok {
		e.LastAccess = s.now()
	}
}

// TotalCacheSize 返回临时层字节总量，永久层永不计入清理阈值。
func (s *Store) TotalCacheSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cacheSize
}

// Prune 在临时层超过 limit 时，按最近访问时间从旧到新淘汰未被持有的条目，
// 直到容量达标或仅剩被持有的条目为止。删除失败只记日志并跳过该条目，
// 永远不向调用方抛错；全部条目被持有时允许容量暂时超限。
func (s *Store) Prune(limit int64, isLocked func(id string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	skipped := make(map[string]struct{})

	for s.cacheSize > limit {
		victim := s.oldestEvictable(isLocked, skipped)
		if victim == nil {
			return
		}

		if err := os.Remove(victim.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.WithFields(logrus.Fields{
				"action":     "prune_skip",
				"identifier": victim.Identifier,
			}).Warn(err.Error())
			skipped[victim.Identifier] = struct{}{}
			continue
		}

		delete(s.entries, victim.Identifier)
		s.cacheSize -= victim.SizeBytes

		s.logger.WithFields(logrus.Fields{
			"action":      "prune_evict",
			"identifier":  victim.Identifier,
			"size_bytes":  victim.SizeBytes,
			"cache_bytes": s.cacheSize,
		}).Debug("缓存条目已淘汰")
	}
}

// oldestEvictable 选出可淘汰的最旧临时条目；访问时间相同按标识符字典序
// 保证结果确定。调用方需持有 s.mu。
func (s *Store) oldestEvictable(isLocked func(id string) bool, skipped map[string]struct{}) *Entry {
	var victim *Entry
	for id, e := range s.entries {
		if e.Class != ClassTemporary {
			continue
		}
		if _, skip := skipped[id]; skip {
			continue
		}
		if isLocked != nil && isLocked(id) {
			continue
		}
		if victim == nil ||
			e.LastAccess.Before(victim.LastAccess) ||
			(e.LastAccess.Equal(victim.LastAccess) && id < victim.Identifier) {
			victim = e
		}
	}
	return victim
}

// Flush 无条件删除整个层级目录（忽略锁，属于显式的应用级操作），
// 随后重建空目录，返回两步是否都成功。
func (s *Store) Flush(class Class) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := s.root(class)
	removed := os.RemoveAll(root) == nil
	recreated := os.MkdirAll(root, 0o755) == nil

	for id, e := range s.entries {
		if e.Class != class {
			continue
		}
		delete(s.entries, id)
		if class == ClassTemporary {
			s.cacheSize -= e.SizeBytes
		}
	}
	if class == ClassTemporary {
		s.cacheSize = 0
	}

	return removed && recreated
}
