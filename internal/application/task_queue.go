package application

// Task is a unit of work that needs a live session. It runs on the client
// worker goroutine and must eventually be matched by one FinishTask call.
type Task func()

// taskQueue holds the tasks waiting for a login and counts the started ones
// that have not finished. It is owned by the worker goroutine.
type taskQueue struct {
	pending []Task
	active  int
}

func (q *taskQueue) enqueue(task Task) (first bool) {
	q.pending = append(q.pending, task)
	return len(q.pending) == 1
}

// drain hands out the pending tasks in submission order and counts each of
// them as active.
func (q *taskQueue) drain() []Task {
	tasks := q.pending
	q.pending = nil
	q.active += len(tasks)
	return tasks
}

func (q *taskQueue) discard() int {
	n := len(q.pending)
	q.pending = nil
	return n
}

func (q *taskQueue) start() {
	q.active++
}

// finish reports whether the active count went from one to zero. A finish
// without a matching start is ignored and reported as unmatched.
func (q *taskQueue) finish() (reachedZero bool, unmatched bool) {
	if q.active == 0 {
		return false, true
	}

	q.active--
	return q.active == 0, false
}

func (q *taskQueue) reset() {
	q.active = 0
}
