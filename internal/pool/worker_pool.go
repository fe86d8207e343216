// Package pool 提供一个有界的协程池，编排层用它限制同时探测的账号数。
package pool

import (
	"context"
	"sync"
)

// WorkerPool 协程池
//
// 每个账号的探测是一条阻塞的网络流水线，池大小即同时在途的探测数。
// 任务之间没有共享可变状态，池只负责限流，不负责结果传递。
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan func()
	wg         sync.WaitGroup
}

// New 创建协程池。
//
// 参数:
//   - maxWorkers: 最大并发任务数（1 表示严格串行）
//   - queueSize: 任务队列大小
func New(maxWorkers, queueSize int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan func(), queueSize),
	}
}

// Start 启动工作协程。忽略 ctx 取消前已经开始执行的任务。
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit 提交任务，队列已满时阻塞直到有空位。
func (p *WorkerPool) Submit(task func()) {
	p.taskQueue <- task
}

// Stop 关闭队列并等待在途任务结束。
func (p *WorkerPool) Stop() {
	close(p.taskQueue)
	p.wg.Wait()
}

func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		// 取消优先于取任务，保证收到信号后不再开始新任务
		select {
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			task()
		}
	}
}
