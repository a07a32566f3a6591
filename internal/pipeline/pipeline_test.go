package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/img-vault/img-vault/internal/naming"
	"github.com/img-vault/img-vault/internal/store"
)

func TestConcurrentRequestsShareOneFetch(t *testing.T) {
	p, _ := newTestPipeline(t)

	var fetchCalls int32
	gate := make(chan struct{})
	fetch := func(ctx context.Context, url string) ([]byte, error) {
		atomic.AddInt32(&fetchCalls, 1)
		<-gate
		return []byte("shared-bytes"), nil
	}

	const waiters = 8
	entries := make([]*store.Entry, waiters)
	errs := make([]error, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			entries[n], errs[n] = p.Get(context.Background(), "https://cdn.example.com/a.png", store.ClassTemporary, fetch)
		}(i)
	}

	// 留出让所有等待者挂到同一在途操作的时间窗口。
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := atomic.LoadInt32(&fetchCalls); got != 1 {
		t.Fatalf("并发请求应只触发一次回源，实际 %d 次", got)
	}
	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Fatalf("等待者 %d 出错: %v", i, errs[i])
		}
		if entries[i].Path != entries[0].Path {
			t.Fatalf("所有等待者应得到同一路径: %s != %s", entries[i].Path, entries[0].Path)
		}
	}
}

func TestCacheHitSkipsFetch(t *testing.T) {
	p, _ := newTestPipeline(t)

	var fetchCalls int32
	fetch := func(ctx context.Context, url string) ([]byte, error) {
		atomic.AddInt32(&fetchCalls, 1)
		return []byte("bytes"), nil
	}

	for i := 0; i < 3; i++ {
		if _, err := p.Get(context.Background(), "https://cdn.example.com/hit.png", store.ClassTemporary, fetch); err != nil {
			t.Fatalf("get error: %v", err)
		}
	}

	if got := atomic.LoadInt32(&fetchCalls); got != 1 {
		t.Fatalf("命中后不应再回源，实际回源 %d 次", got)
	}
}

func TestFetchErrorReachesEveryWaiterAndClearsPending(t *testing.T) {
	p, _ := newTestPipeline(t)

	boom := errors.New("connection reset")
	gate := make(chan struct{})
	failing := func(ctx context.Context, url string) ([]byte, error) {
		<-gate
		return nil, boom
	}

	const waiters = 4
	errs := make([]error, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = p.Get(context.Background(), "https://cdn.example.com/bad.png", store.ClassTemporary, failing)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i := 0; i < waiters; i++ {
		var fe *FetchError
		if !errors.As(errs[i], &fe) {
			t.Fatalf("等待者 %d 应收到 FetchError，得到 %v", i, errs[i])
		}
		if !errors.Is(errs[i], boom) {
			t.Fatalf("FetchError 应包装底层错误，得到 %v", errs[i])
		}
	}

	// 失败不应残留 PendingFetch：下一次请求开启全新管线并成功。
	ok := func(ctx context.Context, url string) ([]byte, error) {
		return []byte("recovered"), nil
	}
	if _, err := p.Get(context.Background(), "https://cdn.example.com/bad.png", store.ClassTemporary, ok); err != nil {
		t.Fatalf("失败后的新请求应成功: %v", err)
	}
}

func TestCancelDetachesWaiterButFetchCompletes(t *testing.T) {
	p, st := newTestPipeline(t)

	gate := make(chan struct{})
	fetch := func(ctx context.Context, url string) ([]byte, error) {
		<-gate
		return []byte("late-bytes"), nil
	}

	url := "https://cdn.example.com/slow.png"
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() {
		_, err := p.Get(ctx, url, store.ClassTemporary, fetch)
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("取消后应立即返回 context.Canceled，得到 %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("取消后调用应立即返回")
	}

	// 底层回源继续完成并更新 Store，供后续请求受益。
	close(gate)
	id := naming.Identifier(url, store.ClassTemporary.String())
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := st.Resolve(id, store.ClassTemporary); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("取消后文件仍应被写入")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// 同一在途操作上有多个等待者时，取消只影响发起取消的那一个，
// 其余等待者照常收到结果。
func TestCancelDetachesOnlyCancelingWaiter(t *testing.T) {
	p, _ := newTestPipeline(t)

	gate := make(chan struct{})
	fetch := func(ctx context.Context, url string) ([]byte, error) {
		<-gate
		return []byte("shared-bytes"), nil
	}

	url := "https://cdn.example.com/shared.png"
	ctx, cancel := context.WithCancel(context.Background())

	canceled := make(chan error, 1)
	go func() {
		_, err := p.Get(ctx, url, store.ClassTemporary, fetch)
		canceled <- err
	}()

	const survivors = 3
	entries := make([]*store.Entry, survivors)
	errs := make([]error, survivors)
	var wg sync.WaitGroup
	for i := 0; i < survivors; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			entries[n], errs[n] = p.Get(context.Background(), url, store.ClassTemporary, fetch)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-canceled:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("取消方应收到 context.Canceled，得到 %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("取消方应立即返回")
	}

	close(gate)
	wg.Wait()

	for i := 0; i < survivors; i++ {
		if errs[i] != nil {
			t.Fatalf("未取消的等待者 %d 不应受影响: %v", i, errs[i])
		}
		if entries[i] == nil || entries[i].Path != entries[0].Path {
			t.Fatalf("未取消的等待者应收到同一结果")
		}
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	st, err := store.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	return New(st, 15*1024*1024, nil, logger), st
}
