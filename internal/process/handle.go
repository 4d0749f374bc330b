package process

import (
	"github.com/oriys/wasmkernel/internal/engine"
	"github.com/oriys/wasmkernel/internal/vm"
)

// ProcessHandle is a transient, non-owning accessor for one process within
// a Collection. It becomes stale the instant its process terminates; using
// one after that is a programming error.
type ProcessHandle[TExtr, TPud, TTud any] struct {
	c   *Collection[TExtr, TPud, TTud]
	pid uint64
}

func (h *ProcessHandle[TExtr, TPud, TTud]) entry() *processEntry[TPud, TTud] {
	e, ok := h.c.processes[h.pid]
	if !ok {
		panic("process: handle used after its process terminated")
	}
	return e
}

// PID returns the process's identifier.
func (h *ProcessHandle[TExtr, TPud, TTud]) PID() uint64 { return h.pid }

// UserData returns the process-level user data.
func (h *ProcessHandle[TExtr, TPud, TTud]) UserData() TPud { return h.entry().userData }

// MainThread returns a handle to the process's thread index 0.
func (h *ProcessHandle[TExtr, TPud, TTud]) MainThread() *ThreadHandle[TExtr, TPud, TTud] {
	return &ThreadHandle[TExtr, TPud, TTud]{c: h.c, pid: h.pid, threadIndex: 0}
}

// StartThread starts a new, non-main thread at the given function-table
// index (see engine.Instance.FunctionAt), returning a handle to it.
func (h *ProcessHandle[TExtr, TPud, TTud]) StartThread(fnIndex int, params []engine.Value, userData TTud) (*ThreadHandle[TExtr, TPud, TTud], error) {
	e := h.entry()
	if _, err := e.sm.StartThreadByID(fnIndex, params, userData, h.c.tidPool.Assign); err != nil {
		return nil, err
	}
	idx := e.sm.NumThreads() - 1
	return &ThreadHandle[TExtr, TPud, TTud]{c: h.c, pid: h.pid, threadIndex: idx}, nil
}

// ReadMemory copies [offset, offset+size) out of the process's linear
// memory.
func (h *ProcessHandle[TExtr, TPud, TTud]) ReadMemory(offset, size uint32) ([]byte, bool) {
	return h.entry().sm.ReadMemory(offset, size)
}

// WriteMemory writes data into the process's linear memory starting at
// offset.
func (h *ProcessHandle[TExtr, TPud, TTud]) WriteMemory(offset uint32, data []byte) bool {
	return h.entry().sm.WriteMemory(offset, data)
}

// ThreadIDs returns the identifier of every thread still attached to the
// process, main thread first.
func (h *ProcessHandle[TExtr, TPud, TTud]) ThreadIDs() []uint64 {
	e := h.entry()
	ids := make([]uint64, 0, e.sm.NumThreads())
	for i := 0; i < e.sm.NumThreads(); i++ {
		if t := e.sm.Thread(i); t != nil {
			ids = append(ids, t.ID())
		}
	}
	return ids
}

// Abort unconditionally and synchronously tears the process down,
// returning its user data and every thread's (ID, user data) pair, main
// thread first.
func (h *ProcessHandle[TExtr, TPud, TTud]) Abort() (TPud, []DeadThread[TTud]) {
	e := h.entry()
	userDatas := e.sm.IntoUserDatas()

	dead := make([]DeadThread[TTud], len(userDatas))
	for i, td := range userDatas {
		dead[i] = DeadThread[TTud]{ThreadID: td.ID, UserData: td.UserData}
	}

	procUserData := e.userData
	delete(h.c.processes, h.pid)
	return procUserData, dead
}

// ThreadHandle is a transient, non-owning accessor for one thread within a
// Collection.
type ThreadHandle[TExtr, TPud, TTud any] struct {
	c           *Collection[TExtr, TPud, TTud]
	pid         uint64
	threadIndex int
}

func (h *ThreadHandle[TExtr, TPud, TTud]) record() *vm.ThreadRecord[TTud] {
	e, ok := h.c.processes[h.pid]
	if !ok {
		panic("process: handle used after its process terminated")
	}
	t := e.sm.Thread(h.threadIndex)
	if t == nil {
		panic("process: handle used after its thread terminated")
	}
	return t
}

// TID returns the thread's identifier.
func (h *ThreadHandle[TExtr, TPud, TTud]) TID() uint64 { return h.record().ID() }

// PID returns the identifier of the process this thread belongs to.
func (h *ThreadHandle[TExtr, TPud, TTud]) PID() uint64 { return h.pid }

// ProcessUserData returns the owning process's user data.
func (h *ThreadHandle[TExtr, TPud, TTud]) ProcessUserData() TPud {
	e, ok := h.c.processes[h.pid]
	if !ok {
		panic("process: handle used after its process terminated")
	}
	return e.userData
}

// UserData returns this thread's own user data.
func (h *ThreadHandle[TExtr, TPud, TTud]) UserData() TTud { return h.record().UserData }

// Resume implements the post-Interrupted protocol: it stores value as the
// thread's value_back, making it eligible for a future Collection.Run.
// Panics if value_back is already set (a double resume).
func (h *ThreadHandle[TExtr, TPud, TTud]) Resume(value []engine.Value) {
	h.record().SetValueBack(value)
}

// NextThread returns a handle to the next thread (by position) within the
// same process, or nil if this is the last one.
func (h *ThreadHandle[TExtr, TPud, TTud]) NextThread() *ThreadHandle[TExtr, TPud, TTud] {
	e, ok := h.c.processes[h.pid]
	if !ok {
		panic("process: handle used after its process terminated")
	}
	if h.threadIndex+1 >= e.sm.NumThreads() {
		return nil
	}
	return &ThreadHandle[TExtr, TPud, TTud]{c: h.c, pid: h.pid, threadIndex: h.threadIndex + 1}
}

// ReadMemory addresses the owning process's linear memory — WebAssembly
// linear memory is per-instance, not per-thread.
func (h *ThreadHandle[TExtr, TPud, TTud]) ReadMemory(offset, size uint32) ([]byte, bool) {
	e, ok := h.c.processes[h.pid]
	if !ok {
		panic("process: handle used after its process terminated")
	}
	return e.sm.ReadMemory(offset, size)
}

// WriteMemory addresses the owning process's linear memory.
func (h *ThreadHandle[TExtr, TPud, TTud]) WriteMemory(offset uint32, data []byte) bool {
	e, ok := h.c.processes[h.pid]
	if !ok {
		panic("process: handle used after its process terminated")
	}
	return e.sm.WriteMemory(offset, data)
}
