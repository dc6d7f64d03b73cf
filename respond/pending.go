package respond

import (
	"log/slog"
	"sync"
	"time"

	"github.com/NickEvans4130/Ransomware-Detection-System/model"
)

// DefaultPendingExpiry is how long a safe-mode confirmation stays open.
const DefaultPendingExpiry = 5 * time.Minute

// expiryTick is the queue's expiry scan interval. No handler ever sleeps;
// expiry is driven from this one timer.
const expiryTick = time.Second

// DecisionFunc is invoked when a pending action reaches a terminal state.
// confirmed is true only for an explicit confirmation; expiry and denial
// both arrive with confirmed == false.
type DecisionFunc func(action model.PendingAction, confirmed bool)

// PendingQueue holds safe-mode confirmations awaiting a human decision.
// At most one non-terminal action exists per (PID, action).
type PendingQueue struct {
	expiry time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	nextID  int64
	actions map[int64]*pendingSlot

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

type pendingSlot struct {
	action   model.PendingAction
	decision DecisionFunc
}

// NewPendingQueue creates the queue and starts its expiry loop.
func NewPendingQueue(expiry time.Duration, logger *slog.Logger) *PendingQueue {
	if expiry <= 0 {
		expiry = DefaultPendingExpiry
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &PendingQueue{
		expiry:  expiry,
		logger:  logger,
		actions: make(map[int64]*pendingSlot),
		stop:    make(chan struct{}),
	}
	q.wg.Add(1)
	go q.expiryLoop()
	return q
}

// Close stops the expiry loop. Open actions stay pending.
func (q *PendingQueue) Close() {
	q.once.Do(func() { close(q.stop) })
	q.wg.Wait()
}

// Enqueue registers a proposed action. If a non-terminal action for the same
// (PID, action) already exists, that one is returned and created is false.
func (q *PendingQueue) Enqueue(threatID int64, action model.ProposedAction, pid int32, process string, decision DecisionFunc) (model.PendingAction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, slot := range q.actions {
		if slot.action.PID == pid && slot.action.Action == action && !slot.action.Status.Terminal() {
			return slot.action, false
		}
	}
	q.nextID++
	now := time.Now().UTC()
	pa := model.PendingAction{
		ID:       q.nextID,
		Created:  now,
		ThreatID: threatID,
		Action:   action,
		PID:      pid,
		Process:  process,
		Expiry:   now.Add(q.expiry),
		Status:   model.PendingOpen,
	}
	q.actions[pa.ID] = &pendingSlot{action: pa, decision: decision}
	q.logger.Info("pending action queued",
		"id", pa.ID, "action", string(action), "pid", pid, "expires", pa.Expiry)
	return pa, true
}

// Confirm marks an open action confirmed and fires its decision callback.
func (q *PendingQueue) Confirm(id int64) bool {
	return q.resolve(id, model.PendingConfirmed)
}

// Deny marks an open action denied.
func (q *PendingQueue) Deny(id int64) bool {
	return q.resolve(id, model.PendingDenied)
}

func (q *PendingQueue) resolve(id int64, status model.PendingStatus) bool {
	q.mu.Lock()
	slot, ok := q.actions[id]
	if !ok || slot.action.Status.Terminal() {
		q.mu.Unlock()
		return false
	}
	slot.action.Status = status
	action := slot.action
	decision := slot.decision
	q.mu.Unlock()

	q.logger.Info("pending action resolved", "id", id, "status", string(status))
	if decision != nil {
		decision(action, status == model.PendingConfirmed)
	}
	return true
}

// Get returns a copy of the action with the given id.
func (q *PendingQueue) Get(id int64) (model.PendingAction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	slot, ok := q.actions[id]
	if !ok {
		return model.PendingAction{}, false
	}
	return slot.action, true
}

// Open returns every non-terminal action.
func (q *PendingQueue) Open() []model.PendingAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []model.PendingAction
	for _, slot := range q.actions {
		if !slot.action.Status.Terminal() {
			out = append(out, slot.action)
		}
	}
	return out
}

func (q *PendingQueue) expiryLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(expiryTick)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case now := <-ticker.C:
			q.expire(now.UTC())
		}
	}
}

// expire transitions overdue open actions to Expired, which counts as a
// denial.
func (q *PendingQueue) expire(now time.Time) {
	q.mu.Lock()
	var expired []*pendingSlot
	for _, slot := range q.actions {
		if !slot.action.Status.Terminal() && now.After(slot.action.Expiry) {
			slot.action.Status = model.PendingExpired
			expired = append(expired, slot)
		}
	}
	q.mu.Unlock()

	for _, slot := range expired {
		q.logger.Info("pending action expired", "id", slot.action.ID, "action", string(slot.action.Action))
		if slot.decision != nil {
			slot.decision(slot.action, false)
		}
	}
}
