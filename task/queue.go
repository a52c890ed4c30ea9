package task

// fifo holds the ids of queued tasks in submission order. A task is pushed
// when it becomes queued and popped when it is promoted; canceled or removed
// tasks are taken out eagerly so a later re-queue goes to the back.
type fifo struct {
	ids []string
}

func (q *fifo) push(id string) {
	q.remove(id)
	q.ids = append(q.ids, id)
}

func (q *fifo) pop() (string, bool) {
	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids[0] = ""
	q.ids = q.ids[1:]
	return id, true
}

func (q *fifo) remove(id string) bool {
	for i, v := range q.ids {
		if v == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			return true
		}
	}
	return false
}

func (q *fifo) len() int { return len(q.ids) }

func (q *fifo) reset() { q.ids = nil }
