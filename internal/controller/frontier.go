package controller

import "sync"

// taskKind tags a frontier entry with the parse state that handles its
// fetched document. The tag replaces callback dispatch: workers look the
// kind up in a dispatch table.
type taskKind int

const (
	taskCategoryPage taskKind = iota
	taskProductPage
)

// task is one discovered-but-not-yet-fetched URL plus its association
// metadata (the originating category name).
type task struct {
	kind     taskKind
	url      string
	category string
}

// frontier is the controller-owned work queue. It grows only from
// discovery and shrinks only on dequeue; pending counts entries that are
// queued or still being processed, so workers know the difference between
// "momentarily empty" and "exhausted".
type frontier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []task
	pending int
}

func newFrontier() *frontier {
	f := &frontier{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// push appends a task. The caller must eventually balance it with done().
func (f *frontier) push(t task) {
	f.mu.Lock()
	f.items = append(f.items, t)
	f.pending++
	f.mu.Unlock()
	f.cond.Signal()
}

// pop blocks until a task is available or the frontier is exhausted. The
// second return value is false only when no task is queued and none is in
// flight, meaning no new work can appear.
func (f *frontier) pop() (task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.items) == 0 && f.pending > 0 {
		f.cond.Wait()
	}
	if len(f.items) == 0 {
		return task{}, false
	}
	t := f.items[0]
	f.items = f.items[1:]
	return t, true
}

// done marks one popped task as fully processed, including any pushes it
// made. When the last in-flight task finishes, blocked workers wake up and
// drain out.
func (f *frontier) done() {
	f.mu.Lock()
	f.pending--
	exhausted := f.pending == 0
	f.mu.Unlock()
	if exhausted {
		f.cond.Broadcast()
	}
}
