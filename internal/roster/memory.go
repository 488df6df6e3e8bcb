package roster

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryMaster is an in-memory MasterRoster for dev and tests.
type MemoryMaster struct {
	mu   sync.Mutex
	rows []StudentRecord
}

// NewMemoryMaster creates an empty in-memory master roster.
func NewMemoryMaster() *MemoryMaster {
	return &MemoryMaster{}
}

// ListRows returns a copy of all rows in insertion order.
func (m *MemoryMaster) ListRows(ctx context.Context) ([]StudentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StudentRecord, len(m.rows))
	copy(out, m.rows)
	return out, nil
}

// AppendStudent appends a row.
func (m *MemoryMaster) AppendStudent(ctx context.Context, rec StudentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.MatricNo = strings.TrimSpace(rec.MatricNo)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.rows = append(m.rows, rec)
	return nil
}

// MemoryAttendance is an in-memory AttendanceRoster for dev and tests.
type MemoryAttendance struct {
	mu      sync.Mutex
	rows    map[string]AttendanceRow
	classes map[string]bool
	marks   map[string]map[string]bool // matricNo -> classTitle -> present
}

// NewMemoryAttendance creates an empty in-memory lecturer roster.
func NewMemoryAttendance() *MemoryAttendance {
	return &MemoryAttendance{
		rows:    make(map[string]AttendanceRow),
		classes: make(map[string]bool),
		marks:   make(map[string]map[string]bool),
	}
}

// AppendSeed inserts the student's base row.
func (m *MemoryAttendance) AppendSeed(ctx context.Context, row AttendanceRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row.MatricNo = strings.TrimSpace(row.MatricNo)
	if _, ok := m.rows[row.MatricNo]; !ok {
		m.rows[row.MatricNo] = row
	}
	return nil
}

// EnsureClass registers a class session.
func (m *MemoryAttendance) EnsureClass(ctx context.Context, classTitle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[classTitle] = true
	return nil
}

// SetPresent flips the presence flag for (matricNo, classTitle).
func (m *MemoryAttendance) SetPresent(ctx context.Context, matricNo, classTitle string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matricNo = strings.TrimSpace(matricNo)
	if _, ok := m.rows[matricNo]; !ok {
		return false, ErrStudentNotFound
	}
	if !m.classes[classTitle] {
		return false, ErrClassNotFound
	}
	if m.marks[matricNo] == nil {
		m.marks[matricNo] = make(map[string]bool)
	}
	if m.marks[matricNo][classTitle] {
		return true, nil
	}
	m.marks[matricNo][classTitle] = true
	return false, nil
}

// Present reports the current flag state; test helper.
func (m *MemoryAttendance) Present(matricNo, classTitle string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marks[strings.TrimSpace(matricNo)][classTitle]
}

// MemoryAuditLog collects audit events in memory.
type MemoryAuditLog struct {
	mu     sync.Mutex
	events []AuditEvent
}

// NewMemoryAuditLog creates an empty in-memory audit log.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

// AppendEvent records one event.
func (m *MemoryAuditLog) AppendEvent(ctx context.Context, evt AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	m.events = append(m.events, evt)
	return nil
}

// Events returns a copy of recorded events; test helper.
func (m *MemoryAuditLog) Events() []AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEvent, len(m.events))
	copy(out, m.events)
	return out
}
