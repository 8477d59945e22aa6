package consumer

import (
	"sync"
	"time"
)

// WorkerPool 有界工作池
//
// 固定数量的工作协程消费一个有界任务队列；队列满时 Submit 阻塞，
// 对上游（MQTT回调）形成显式背压。关闭后 Submit 返回 false，
// 新消息依赖传输层重投递。
type WorkerPool struct {
	jobs chan func()
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool 创建工作池并启动工作协程
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	pool := &WorkerPool{
		jobs: make(chan func(), queueSize),
	}

	pool.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}

	return pool
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for job := range wp.jobs {
		job()
	}
}

// Submit 提交一个任务，队列满时阻塞；池已关闭返回 false
func (wp *WorkerPool) Submit(job func()) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return false
	}

	wp.jobs <- job
	return true
}

// Shutdown 关闭工作池
//
// 停止接收新任务后等待在途任务完成，最多等 grace；
// 超时返回 false，未完成的任务由调用方取消其上下文。
func (wp *WorkerPool) Shutdown(grace time.Duration) bool {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return true
	}
	wp.closed = true
	close(wp.jobs)
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}
