package linker

import (
	"sync"
	"testing"
	"time"

	rt "github.com/tangzhangming/solar/internal/runtime"
)

// ============================================================================
// 类监视器测试
// ============================================================================

func TestMonitorReentrancy(t *testing.T) {
	m := newMonitor()
	self := rt.NewThread()

	m.Lock(self)
	m.Lock(self) // 重入
	m.Unlock(self)
	m.Unlock(self)

	// 完全释放后其它线程能拿到
	done := make(chan struct{})
	go func() {
		other := rt.NewThread()
		m.Lock(other)
		m.Unlock(other)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor not released after balanced unlocks")
	}
}

func TestMonitorWaitNotify(t *testing.T) {
	m := newMonitor()
	var flag bool

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		self := rt.NewThread()
		m.Lock(self)
		for !flag {
			m.WaitIgnoringInterrupts(self)
		}
		m.Unlock(self)
	}()

	time.Sleep(10 * time.Millisecond)
	setter := rt.NewThread()
	m.Lock(setter)
	flag = true
	m.Unlock(setter)
	m.NotifyAll()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not wake up")
	}
}

func TestMonitorWaitReleasesRecursiveHold(t *testing.T) {
	m := newMonitor()
	acquired := make(chan struct{})
	release := make(chan struct{})

	go func() {
		self := rt.NewThread()
		m.Lock(self)
		m.Lock(self) // 两层持有
		close(acquired)
		m.WaitIgnoringInterrupts(self) // 等待期间必须完全让出
		m.Unlock(self)
		m.Unlock(self)
	}()

	<-acquired
	go func() {
		other := rt.NewThread()
		m.Lock(other)
		m.Unlock(other)
		m.NotifyAll()
		close(release)
	}()
	select {
	case <-release:
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not release the recursive hold")
	}
}
