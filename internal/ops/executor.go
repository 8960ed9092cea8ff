package ops

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helmboard/helmboard/internal/auth"
	"github.com/helmboard/helmboard/internal/fault"
	"github.com/helmboard/helmboard/internal/protocol"
)

// Publisher fans one event out to an operation room's current members.
// Implemented by the hub; an empty room makes delivery a no-op, never an
// error — operations are detached background tasks.
type Publisher interface {
	BroadcastOperation(operationID, msgType string, payload any)
}

// Executor owns all live operations.
type Executor struct {
	log       zerolog.Logger
	pub       Publisher
	db        *sql.DB
	logs      *LogStore
	dockerBin string
	killGrace time.Duration

	kinds map[string]kindSpec

	mu  sync.Mutex
	ops map[string]*Operation
}

// kindSpec binds an operation kind to its type and driver.
type kindSpec struct {
	typ Type
	// prepare validates params synchronously and returns the async driver.
	prepare func(e *Executor, params json.RawMessage) (func(op *Operation), error)
}

// NewExecutor creates the executor. db and logs may be nil (history and log
// files are then skipped); pub must not be.
func NewExecutor(log zerolog.Logger, pub Publisher, db *sql.DB, logs *LogStore, dockerBin string, killGrace time.Duration) *Executor {
	e := &Executor{
		log:       log.With().Str("component", "ops").Logger(),
		pub:       pub,
		db:        db,
		logs:      logs,
		dockerBin: dockerBin,
		killGrace: killGrace,
		ops:       make(map[string]*Operation),
	}
	e.kinds = map[string]kindSpec{
		"image-pull":        {typ: TypeUnmanaged, prepare: prepareImagePull},
		"container-upgrade": {typ: TypeManaged, prepare: prepareContainerUpgrade},
		"compose-deploy":    {typ: TypeManaged, prepare: prepareComposeDeploy},
		"compose-teardown":  {typ: TypeManaged, prepare: prepareComposeTeardown},
	}
	return e
}

// Start begins an operation. Admin role required. The returned id is
// assigned before any work runs; the driver proceeds asynchronously on a
// context detached from the requesting connection.
func (e *Executor) Start(kind string, params json.RawMessage, user *auth.UserContext) (string, error) {
	if user == nil {
		return "", fault.New(fault.KindAuth, "not authenticated")
	}
	if !user.IsAdmin() {
		return "", fault.New(fault.KindAuth, "operation %s requires the admin role", kind)
	}

	spec, ok := e.kinds[kind]
	if !ok {
		return "", fault.New(fault.KindValidation, "unknown operation kind %q", kind)
	}

	run, err := spec.prepare(e, params)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	op := &Operation{
		ID:        uuid.NewString(),
		Kind:      kind,
		Type:      spec.typ,
		Params:    params,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateStarted,
		pgids:     make(map[int]bool),
	}

	e.mu.Lock()
	e.ops[op.ID] = op
	e.mu.Unlock()

	if e.logs != nil {
		if err := e.logs.Start(op.ID, kind, params); err != nil {
			e.log.Warn().Err(err).Str("operation_id", op.ID).Msg("failed to open operation log")
		}
	}
	e.recordStart(op)

	e.log.Info().Str("operation_id", op.ID).Str("kind", kind).Str("user", user.Username).Msg("operation started")
	e.broadcastState(op, protocol.StatusStarted, "")

	go run(op)

	return op.ID, nil
}

// Cancel signals termination to an operation's attached processes and
// removes the record. Unknown ids are a NotFoundError with no side effects.
func (e *Executor) Cancel(operationID string, user *auth.UserContext) error {
	if user == nil {
		return fault.New(fault.KindAuth, "not authenticated")
	}
	if !user.IsAdmin() {
		return fault.New(fault.KindAuth, "cancel requires the admin role")
	}

	e.mu.Lock()
	op, ok := e.ops[operationID]
	e.mu.Unlock()
	if !ok {
		return fault.New(fault.KindNotFound, "unknown operation %q", operationID)
	}

	// Signal first, then transition and remove the record.
	op.cancel()
	pgids := op.processGroups()
	for _, pgid := range pgids {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	}
	if len(pgids) > 0 {
		go e.escalateKill(op, pgids)
	}

	e.log.Info().Str("operation_id", op.ID).Int("processes", len(pgids)).Msg("operation cancelled")
	e.finish(op, StateCancelled, "cancelled by "+user.Username)
	return nil
}

// escalateKill SIGKILLs process groups that ignored the cooperative SIGTERM.
// Only groups still attached to the operation are signalled: a pgid whose
// process already exited may have been recycled for an unrelated process.
func (e *Executor) escalateKill(op *Operation, pgids []int) {
	time.Sleep(e.killGrace)
	attached := make(map[int]bool, len(pgids))
	for _, pgid := range op.processGroups() {
		attached[pgid] = true
	}
	for _, pgid := range pgids {
		if attached[pgid] {
			e.log.Warn().Str("operation_id", op.ID).Int("pgid", pgid).Msg("process ignored SIGTERM, sending SIGKILL")
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		}
	}
}

// ListActive returns summaries of every non-terminal operation.
// Requires authentication only.
func (e *Executor) ListActive(user *auth.UserContext) ([]protocol.OperationSummary, error) {
	if user == nil {
		return nil, fault.New(fault.KindAuth, "not authenticated")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	summaries := make([]protocol.OperationSummary, 0, len(e.ops))
	for _, op := range e.ops {
		summaries = append(summaries, protocol.OperationSummary{
			OperationID: op.ID,
			Kind:        op.Kind,
			Type:        string(op.Type),
			Params:      op.Params,
			ElapsedMS:   now.Sub(op.StartedAt).Milliseconds(),
		})
	}
	return summaries, nil
}

// Exists reports whether an operation id is live. Used by the gateway to
// validate room joins.
func (e *Executor) Exists(operationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.ops[operationID]
	return ok
}

// finish moves an operation to a terminal state, notifies the room, records
// history, and destroys the record. No-op if another path already finished
// the operation.
func (e *Executor) finish(op *Operation, state State, result string) {
	if !op.transition(state) {
		return
	}

	var status string
	switch state {
	case StateCompleted:
		status = protocol.StatusCompleted
	case StateCancelled:
		status = protocol.StatusCancelled
	default:
		status = protocol.StatusError
	}

	e.broadcastState(op, status, result)
	e.recordFinish(op, state, result)
	if e.logs != nil {
		_ = e.logs.Complete(op.ID, string(state), result)
	}

	e.mu.Lock()
	delete(e.ops, op.ID)
	e.mu.Unlock()

	e.log.Info().Str("operation_id", op.ID).Str("kind", op.Kind).Str("state", string(state)).Str("result", result).Msg("operation finished")
}

// emit streams one output line to the operation room and the log file.
// Best-effort: clients that joined late receive only subsequent lines.
func (e *Executor) emit(op *Operation, line, stream string) {
	e.pub.BroadcastOperation(op.ID, protocol.TypeOperationUpdate, protocol.OperationUpdatePayload{
		OperationID: op.ID,
		Status:      protocol.StatusRunning,
		Output:      line,
		Stream:      stream,
		Timestamp:   time.Now(),
	})
	if e.logs != nil {
		_ = e.logs.Append(op.ID, line, stream == "stderr")
	}
}

func (e *Executor) broadcastState(op *Operation, status, result string) {
	e.pub.BroadcastOperation(op.ID, protocol.TypeOperationUpdate, protocol.OperationUpdatePayload{
		OperationID: op.ID,
		Status:      status,
		Result:      result,
		Timestamp:   time.Now(),
	})
}

func (e *Executor) recordStart(op *Operation) {
	if e.db == nil {
		return
	}
	_, err := e.db.Exec(
		`INSERT INTO operation_logs (id, kind, op_type, params, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		op.ID, op.Kind, string(op.Type), string(op.Params), string(StateStarted), op.StartedAt,
	)
	if err != nil {
		e.log.Warn().Err(err).Str("operation_id", op.ID).Msg("failed to record operation start")
	}
}

func (e *Executor) recordFinish(op *Operation, state State, result string) {
	if e.db == nil {
		return
	}
	_, err := e.db.Exec(
		`UPDATE operation_logs SET status = ?, summary = ?, completed_at = ? WHERE id = ?`,
		string(state), result, time.Now(), op.ID,
	)
	if err != nil {
		e.log.Warn().Err(err).Str("operation_id", op.ID).Msg("failed to record operation result")
	}
}
