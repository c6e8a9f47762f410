package telegram

import "sync"

// chatQueues runs the updates of each chat one at a time in the order they
// were enqueued, while different chats proceed concurrently. A chat's
// worker exits and its entry is dropped as soon as its queue drains.
type chatQueues struct {
	mu     sync.Mutex
	queues map[int64]*chatQueue
	wg     sync.WaitGroup
}

type chatQueue struct {
	pending []func()
}

func (q *chatQueues) enqueue(chatID int64, task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if queue, ok := q.queues[chatID]; ok {
		queue.pending = append(queue.pending, task)
		return
	}
	if q.queues == nil {
		q.queues = make(map[int64]*chatQueue)
	}
	queue := &chatQueue{pending: []func(){task}}
	q.queues[chatID] = queue
	q.wg.Add(1)
	go q.drain(chatID, queue)
}

func (q *chatQueues) drain(chatID int64, queue *chatQueue) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(queue.pending) == 0 {
			delete(q.queues, chatID)
			q.mu.Unlock()
			return
		}
		task := queue.pending[0]
		queue.pending[0] = nil
		queue.pending = queue.pending[1:]
		q.mu.Unlock()

		task()
	}
}

// active returns the number of chats with queued or running updates.
func (q *chatQueues) active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues)
}

// wait blocks until every queue has drained.
func (q *chatQueues) wait() {
	q.wg.Wait()
}
