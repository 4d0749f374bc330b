package process

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/oriys/wasmkernel/internal/engine"
	"github.com/oriys/wasmkernel/internal/hostabi"
	"github.com/oriys/wasmkernel/internal/idpool"
	"github.com/oriys/wasmkernel/internal/interfaceid"
	"github.com/oriys/wasmkernel/internal/logging"
	"github.com/oriys/wasmkernel/internal/observability"
	"github.com/oriys/wasmkernel/internal/signature"
	"github.com/oriys/wasmkernel/internal/vm"
)

// minCapacity is the floor the process map is reallocated down to during
// periodic shrinking, so that a burst of short-lived processes doesn't
// leave the map permanently oversized.
const minCapacity = 128

// shrinkEvery is how many successful Execute calls pass between shrink
// attempts.
const shrinkEvery = 256

type processEntry[TPud, TTud any] struct {
	pid      uint64
	sm       *vm.StateMachine[TTud]
	userData TPud
	rt       *engine.Runtime
}

// Collection owns every live process's VMStateMachine, the host function
// table processes resolve imports against, and the ID pools that hand out
// unique process and thread identifiers. It is not safe for concurrent use
// — per the scheduling model it implements, it's meant to be driven by one
// goroutine that loops on Run.
type Collection[TExtr, TPud, TTud any] struct {
	pidPool idpool.Pool
	tidPool idpool.Pool
	tokens  *hostabi.Table[TExtr]

	processes  map[uint64]*processEntry[TPud, TTud]
	executions uint64

	shrinkEvery       int
	shrinkMinCapacity int
}

// Execute instantiates module as a new process: resolves its imports
// against the collection's host function table, gives it a fresh PID, and
// returns a handle to it. The new process starts paused at its main entry
// point (or with no threads at all, if the module exports no "main").
func (c *Collection[TExtr, TPud, TTud]) Execute(ctx context.Context, module *engine.Module, procUserData TPud, mainThreadUserData TTud) (*ProcessHandle[TExtr, TPud, TTud], error) {
	ctx, span := observability.StartSpan(ctx, "process.execute")
	defer span.End()

	rt := engine.NewRuntime(ctx)

	sm, err := vm.New[TTud](ctx, rt, module, mainThreadUserData, c.tidPool.Assign, func(iface interfaceid.ID, funcName string, sig signature.EngineSignature) (int, error) {
		return c.tokens.Resolve(iface, funcName, sig)
	})
	if err != nil {
		_ = rt.Close(ctx)
		observability.SetSpanError(span, err)
		return nil, err
	}

	pid := c.pidPool.Assign()
	c.processes[pid] = &processEntry[TPud, TTud]{pid: pid, sm: sm, userData: procUserData, rt: rt}

	c.executions++
	if c.executions%uint64(c.shrinkEvery) == 0 {
		c.shrink()
	}

	span.SetAttributes(observability.AttrPID.Int64(int64(pid)))
	observability.SetSpanOK(span)
	logging.Op().Debug("process constructed", "pid", pid, "threads", sm.NumThreads())

	return &ProcessHandle[TExtr, TPud, TTud]{c: c, pid: pid}, nil
}

func (c *Collection[TExtr, TPud, TTud]) shrink() {
	if len(c.processes) >= c.shrinkMinCapacity {
		return
	}
	fresh := make(map[uint64]*processEntry[TPud, TTud], c.shrinkMinCapacity)
	for k, v := range c.processes {
		fresh[k] = v
	}
	c.processes = fresh
}

type readyCandidate struct {
	pid uint64
	idx int
}

// pickReadyThread scans every process for threads with a value_back set
// and picks uniformly at random among them, guaranteeing no thread is
// starved by always losing out to some other thread.
func (c *Collection[TExtr, TPud, TTud]) pickReadyThread() (readyCandidate, bool) {
	var candidates []readyCandidate
	for pid, entry := range c.processes {
		for i := 0; i < entry.sm.NumThreads(); i++ {
			if t := entry.sm.Thread(i); t != nil && t.Ready() {
				candidates = append(candidates, readyCandidate{pid: pid, idx: i})
			}
		}
	}
	if len(candidates) == 0 {
		return readyCandidate{}, false
	}
	return candidates[rand.N(len(candidates))], true
}

// Run executes at most one thread of one process to its next suspension
// point: a host call, a thread exit, a process exit, or a trap. It returns
// RunIdle if no thread anywhere is ready to run.
func (c *Collection[TExtr, TPud, TTud]) Run(ctx context.Context) RunOutcome[TExtr, TPud, TTud] {
	choice, ok := c.pickReadyThread()
	if !ok {
		return RunOutcome[TExtr, TPud, TTud]{Kind: RunIdle}
	}

	ctx, span := observability.StartSpan(ctx, "process.run",
		observability.AttrPID.Int64(int64(choice.pid)),
	)
	defer span.End()

	entry := c.processes[choice.pid]
	threadRec := entry.sm.Thread(choice.idx)
	threadID := threadRec.ID()
	threadUserData := threadRec.UserData
	span.SetAttributes(observability.AttrThreadID.Int64(int64(threadID)))

	outcome, err := entry.sm.RunThread(choice.idx)
	if err != nil {
		// pickReadyThread only ever selects threads with value_back set,
		// so RunThread rejecting the call here means an internal
		// invariant was violated, not a condition callers can act on.
		observability.SetSpanError(span, err)
		panic(fmt.Sprintf("process: internal invariant violated running thread %d: %v", threadID, err))
	}
	observability.SetSpanOK(span)

	switch outcome.Kind {
	case vm.OutcomeThreadFinished:
		if choice.idx == 0 {
			return c.finishProcess(ctx, choice.pid, entry, []DeadThread[TTud]{{ThreadID: threadID, UserData: threadUserData}}, outcome.Return, nil)
		}
		return RunOutcome[TExtr, TPud, TTud]{
			Kind:           RunThreadFinished,
			ThreadID:       threadID,
			ThreadUserData: threadUserData,
			Process:        &ProcessHandle[TExtr, TPud, TTud]{c: c, pid: choice.pid},
			ReturnValue:    outcome.Return,
		}

	case vm.OutcomeInterrupted:
		return RunOutcome[TExtr, TPud, TTud]{
			Kind: RunInterrupted,
			Thread: &ThreadHandle[TExtr, TPud, TTud]{
				c: c, pid: choice.pid, threadIndex: choice.idx,
			},
			Token:  c.tokens.Token(outcome.TokenIndex),
			Params: outcome.Params,
		}

	case vm.OutcomeErrored:
		return c.finishProcess(ctx, choice.pid, entry, nil, nil, outcome.Err)

	default:
		panic("process: unreachable vm outcome kind")
	}
}

// finishProcess tears a process down, collecting the user data of every
// thread still attached to it (mainFirst, if given, is prepended — used
// when the main thread just finished and was already spliced out of the
// state machine before this call).
func (c *Collection[TExtr, TPud, TTud]) finishProcess(ctx context.Context, pid uint64, entry *processEntry[TPud, TTud], mainFirst []DeadThread[TTud], returnValue []engine.Value, runErr error) RunOutcome[TExtr, TPud, TTud] {
	remaining := entry.sm.IntoUserDatas()
	dead := make([]DeadThread[TTud], 0, len(mainFirst)+len(remaining))
	dead = append(dead, mainFirst...)
	for _, td := range remaining {
		dead = append(dead, DeadThread[TTud]{ThreadID: td.ID, UserData: td.UserData})
	}

	_ = entry.sm.Close(ctx)
	_ = entry.rt.Close(ctx)
	delete(c.processes, pid)

	if runErr != nil {
		logging.Op().Warn("process aborted by trap", "pid", pid, "error", runErr, "dead_threads", len(dead))
	} else {
		logging.Op().Debug("process finished", "pid", pid, "dead_threads", len(dead))
	}

	return RunOutcome[TExtr, TPud, TTud]{
		Kind:         RunProcessFinished,
		PID:          pid,
		ProcUserData: entry.userData,
		DeadThreads:  dead,
		ReturnValue:  returnValue,
		Err:          runErr,
	}
}

// Pids returns the PID of every live process.
func (c *Collection[TExtr, TPud, TTud]) Pids() []uint64 {
	pids := make([]uint64, 0, len(c.processes))
	for pid := range c.processes {
		pids = append(pids, pid)
	}
	return pids
}

// ProcessByID looks up a process by PID.
func (c *Collection[TExtr, TPud, TTud]) ProcessByID(pid uint64) (*ProcessHandle[TExtr, TPud, TTud], bool) {
	if _, ok := c.processes[pid]; !ok {
		return nil, false
	}
	return &ProcessHandle[TExtr, TPud, TTud]{c: c, pid: pid}, true
}

// ThreadByID looks up a thread by ID across every process in the
// collection. O(total threads); per spec this operation need not be fast.
func (c *Collection[TExtr, TPud, TTud]) ThreadByID(tid uint64) (*ThreadHandle[TExtr, TPud, TTud], bool) {
	for pid, entry := range c.processes {
		for i := 0; i < entry.sm.NumThreads(); i++ {
			if t := entry.sm.Thread(i); t != nil && t.ID() == tid {
				return &ThreadHandle[TExtr, TPud, TTud]{c: c, pid: pid, threadIndex: i}, true
			}
		}
	}
	return nil, false
}
