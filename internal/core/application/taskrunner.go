package application

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Task is one atomic protocol step bound to a trade. Run signals its outcome
// through the handler, either synchronously or later from a callback, and
// must translate every internal failure into Failed instead of letting it
// escape.
type Task struct {
	Name string
	Run  func(h *TaskHandler)
}

// TaskHandler is the completion signal of one running task. Complete and
// Failed are safe to call more than once and from any goroutine; only the
// first call has an effect.
type TaskHandler struct {
	runner *TaskRunner
	fired  bool
}

// Complete signals that the task finished and the runner may advance.
func (h *TaskHandler) Complete() {
	h.runner.advance(h)
}

// Failed signals that the task failed. The remaining tasks are aborted and
// the fault callback is invoked exactly once with the given cause.
func (h *TaskHandler) Failed(cause error) {
	h.runner.abort(h, cause)
}

// TaskRunner executes an ordered list of protocol steps against one trade.
// Task i+1 starts only after task i signaled Complete. The first Failed
// observed terminates the run; signals arriving after termination are
// ignored.
type TaskRunner struct {
	tradeId   string
	onSuccess func()
	onFault   func(cause error)

	mtx   sync.Mutex
	tasks []Task
	next  int
	done  bool
}

// NewTaskRunner returns a runner bound to one trade with a single success
// and a single fault callback.
func NewTaskRunner(tradeId string, onSuccess func(), onFault func(cause error)) *TaskRunner {
	return &TaskRunner{
		tradeId:   tradeId,
		onSuccess: onSuccess,
		onFault:   onFault,
	}
}

// AddTasks appends tasks to the ordered list. It must be called before Run.
func (r *TaskRunner) AddTasks(tasks ...Task) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.tasks = append(r.tasks, tasks...)
}

// Run starts executing the task list. It must be called at most once.
func (r *TaskRunner) Run() {
	r.runNext()
}

func (r *TaskRunner) runNext() {
	r.mtx.Lock()
	if r.done {
		r.mtx.Unlock()
		return
	}
	if r.next >= len(r.tasks) {
		r.done = true
		r.mtx.Unlock()
		r.onSuccess()
		return
	}
	task := r.tasks[r.next]
	r.next++
	handler := &TaskHandler{runner: r}
	r.mtx.Unlock()

	log.WithField("trade", r.tradeId).Debugf("running task %s", task.Name)
	task.Run(handler)
}

func (r *TaskRunner) advance(h *TaskHandler) {
	r.mtx.Lock()
	if h.fired || r.done {
		r.mtx.Unlock()
		return
	}
	h.fired = true
	r.mtx.Unlock()
	r.runNext()
}

func (r *TaskRunner) abort(h *TaskHandler, cause error) {
	r.mtx.Lock()
	if h.fired || r.done {
		r.mtx.Unlock()
		return
	}
	h.fired = true
	r.done = true
	r.mtx.Unlock()

	log.WithField("trade", r.tradeId).WithError(cause).Debug("task runner aborted")
	r.onFault(cause)
}
