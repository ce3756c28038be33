// internal/pkg/async/pool.go
package async

import (
	"context"
	"fmt"
	"sync"
)

// Task is one named unit of work. Run receives the pool's context.
type Task struct {
	Name string
	Run  func(ctx context.Context) (any, error)
}

type Result struct {
	Name string
	Data any
	Err  error
}

// Pool runs tasks on a bounded number of goroutines. A Pool is reusable:
// each Execute call gets its own channels.
type Pool struct {
	workerCount int
}

func NewPool(workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{workerCount: workerCount}
}

func (p *Pool) worker(ctx context.Context, tasks <-chan Task, results chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()
	for task := range tasks {
		if err := ctx.Err(); err != nil {
			results <- Result{Name: task.Name, Err: err}
			continue
		}
		results <- runTask(ctx, task)
	}
}

func runTask(ctx context.Context, task Task) (result Result) {
	result.Name = task.Name
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	result.Data, result.Err = task.Run(ctx)
	return result
}

// Execute runs every task and returns their results keyed by task name.
// Tasks that have not started when ctx is cancelled report ctx.Err().
func (p *Pool) Execute(ctx context.Context, tasks []Task) map[string]Result {
	taskCh := make(chan Task)
	resultCh := make(chan Result, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go p.worker(ctx, taskCh, resultCh, &wg)
	}

	for _, task := range tasks {
		taskCh <- task
	}
	close(taskCh)

	wg.Wait()
	close(resultCh)

	results := make(map[string]Result, len(tasks))
	for result := range resultCh {
		results[result.Name] = result
	}
	return results
}

// FirstError returns the first failed result in task order, or nil.
func FirstError(tasks []Task, results map[string]Result) error {
	for _, task := range tasks {
		if r, ok := results[task.Name]; ok && r.Err != nil {
			return fmt.Errorf("%s: %w", task.Name, r.Err)
		}
	}
	return nil
}
