package sync

import (
	"sync"
	"time"
)

const syncEventBufferSize = 16

// State of the sync orchestrator
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateError    State = "error"
)

// Status is a snapshot of the orchestrator, safe to hand to callers
type Status struct {
	State            State      `json:"state"`
	Running          bool       `json:"running"`
	SyncDir          string     `json:"syncDir,omitempty"`
	LastLocalEventAt *time.Time `json:"lastLocalEventAt,omitempty"`
	LastRemoteSyncAt *time.Time `json:"lastRemoteSyncAt,omitempty"`
	LastError        string     `json:"lastError,omitempty"`
	Cursor           *int64     `json:"cursor,omitempty"`
}

// SyncEventType of a display notification
type SyncEventType string

const (
	EventLocalBatch     SyncEventType = "local_batch"
	EventCursorAdvanced SyncEventType = "cursor_advanced"
	EventStateChanged   SyncEventType = "state_changed"
	EventError          SyncEventType = "error"
)

// SyncEvent is broadcast to subscribers. It is informational only.
type SyncEvent struct {
	Type    SyncEventType `json:"type"`
	Time    time.Time     `json:"time"`
	Changes []ChangeEvent `json:"changes,omitempty"`
	Cursor  *int64        `json:"cursor,omitempty"`
	State   State         `json:"state,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// SyncStatus holds the orchestrator status and fans events out to subscribers
type SyncStatus struct {
	status Status
	mu     sync.RWMutex

	eventSubs []chan *SyncEvent
	eventMu   sync.RWMutex
}

func NewSyncStatus() *SyncStatus {
	return &SyncStatus{
		status:    Status{State: StateStopped},
		eventSubs: make([]chan *SyncEvent, 0),
	}
}

// Snapshot returns a copy of the current status
func (s *SyncStatus) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.status
	if snap.LastLocalEventAt != nil {
		t := *snap.LastLocalEventAt
		snap.LastLocalEventAt = &t
	}
	if snap.LastRemoteSyncAt != nil {
		t := *snap.LastRemoteSyncAt
		snap.LastRemoteSyncAt = &t
	}
	if snap.Cursor != nil {
		c := *snap.Cursor
		snap.Cursor = &c
	}
	return snap
}

func (s *SyncStatus) SetState(state State, syncDir string) {
	s.mu.Lock()
	s.status.State = state
	s.status.Running = state == StateRunning
	if syncDir != "" {
		s.status.SyncDir = syncDir
	}
	s.mu.Unlock()

	s.broadcast(&SyncEvent{Type: EventStateChanged, Time: time.Now(), State: state})
}

// SetError records err as the last error. With fatal the state moves to Error.
func (s *SyncStatus) SetError(err error, fatal bool) {
	if err == nil {
		return
	}

	s.mu.Lock()
	s.status.LastError = err.Error()
	if fatal {
		s.status.State = StateError
		s.status.Running = false
	}
	s.mu.Unlock()

	s.broadcast(&SyncEvent{Type: EventError, Time: time.Now(), Error: err.Error()})
}

// ClearError forgets the last error, after a successful (re)start
func (s *SyncStatus) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastError = ""
}

func (s *SyncStatus) LocalBatch(changes []ChangeEvent) {
	now := time.Now()
	s.mu.Lock()
	s.status.LastLocalEventAt = &now
	s.mu.Unlock()

	s.broadcast(&SyncEvent{Type: EventLocalBatch, Time: now, Changes: changes})
}

// RemoteSynced marks a finished poll. A non-nil cursor is also broadcast as advanced.
func (s *SyncStatus) RemoteSynced(cursor *int64, advanced bool) {
	now := time.Now()
	s.mu.Lock()
	s.status.LastRemoteSyncAt = &now
	if cursor != nil {
		c := *cursor
		s.status.Cursor = &c
	}
	s.mu.Unlock()

	if advanced && cursor != nil {
		c := *cursor
		s.broadcast(&SyncEvent{Type: EventCursorAdvanced, Time: now, Cursor: &c})
	}
}

// SetCursor loads the persisted cursor into the status without broadcasting
func (s *SyncStatus) SetCursor(cursor *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Cursor = cursor
}

// Subscribe returns a channel for receiving sync events
func (s *SyncStatus) Subscribe() <-chan *SyncEvent {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	ch := make(chan *SyncEvent, syncEventBufferSize)
	s.eventSubs = append(s.eventSubs, ch)
	return ch
}

// Unsubscribe removes a subscription channel
func (s *SyncStatus) Unsubscribe(ch <-chan *SyncEvent) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	for i, sub := range s.eventSubs {
		if sub == ch {
			close(sub)
			s.eventSubs = append(s.eventSubs[:i], s.eventSubs[i+1:]...)
			break
		}
	}
}

func (s *SyncStatus) broadcast(event *SyncEvent) {
	s.eventMu.RLock()
	defer s.eventMu.RUnlock()

	for _, sub := range s.eventSubs {
		select {
		case sub <- event:
		default:
			// Channel is full, skip to avoid blocking
		}
	}
}

func (s *SyncStatus) Close() {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	for _, sub := range s.eventSubs {
		close(sub)
	}
	s.eventSubs = make([]chan *SyncEvent, 0)
}
