package workerpool

import (
	"context"
	"sync"

	"chat_relay_service/pkg/logger"

	"go.uber.org/zap"
)

// Task 任务函数
type Task func()

// Pool bounded worker pool for best-effort side work
type Pool struct {
	workers   int
	taskQueue chan Task
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New 创建 Worker Pool
func New(workers int, queueSize int) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		workers:   workers,
		taskQueue: make(chan Task, queueSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	logger.Log.Info("Worker pool started", zap.Int("workers", workers), zap.Int("queue_size", queueSize))
	return pool
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			// drain whatever is already queued
			for {
				select {
				case task := <-p.taskQueue:
					p.run(id, task)
				default:
					return
				}
			}
		case task := <-p.taskQueue:
			p.run(id, task)
		}
	}
}

func (p *Pool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("Task panic recovered", zap.Int("worker_id", id), zap.Any("panic", r))
		}
	}()
	task()
}

// TrySubmit 尝试提交任务, 队列满了立即返回 false
func (p *Pool) TrySubmit(task Task) bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}
	select {
	case p.taskQueue <- task:
		return true
	default:
		return false
	}
}

// Shutdown stop accepting tasks, run what is queued, wait for workers
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		logger.Log.Info("Worker pool shutdown completed")
	})
}
