package roster

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PostgresMaster implements MasterRoster on Postgres.
type PostgresMaster struct {
	db *sql.DB
}

// NewPostgresMaster creates a master roster repo.
func NewPostgresMaster(db *sql.DB) *PostgresMaster {
	return &PostgresMaster{db: db}
}

// ListRows reads the full master roster in insertion order.
func (r *PostgresMaster) ListRows(ctx context.Context) ([]StudentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, matric_no, email, face_data, created_at
		FROM students
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var out []StudentRecord
	for rows.Next() {
		var rec StudentRecord
		if err := rows.Scan(&rec.Name, &rec.MatricNo, &rec.Email, &rec.FaceData, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendStudent inserts a new master roster row. The matric number is
// stored trimmed so the identity returned by verification matches the
// stored key exactly.
func (r *PostgresMaster) AppendStudent(ctx context.Context, rec StudentRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, name, matric_no, email, face_data)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), rec.Name, strings.TrimSpace(rec.MatricNo), rec.Email, rec.FaceData)
	if err != nil {
		return fmt.Errorf("append student: %w", err)
	}
	return nil
}

// PostgresAttendance implements AttendanceRoster on Postgres. Presence is a
// row in attendance_marks per (matric_no, class_title); the primary key makes
// the mark write conditional, which is what keeps re-marking idempotent even
// when two requests race past the read check.
type PostgresAttendance struct {
	db *sql.DB
}

// NewPostgresAttendance creates a lecturer roster repo.
func NewPostgresAttendance(db *sql.DB) *PostgresAttendance {
	return &PostgresAttendance{db: db}
}

// AppendSeed inserts the student's base row on the lecturer roster.
func (r *PostgresAttendance) AppendSeed(ctx context.Context, row AttendanceRow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_roster (matric_no, name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (matric_no) DO NOTHING
	`, strings.TrimSpace(row.MatricNo), row.Name, row.Email)
	if err != nil {
		return fmt.Errorf("append roster seed: %w", err)
	}
	return nil
}

// EnsureClass registers a class session.
func (r *PostgresAttendance) EnsureClass(ctx context.Context, classTitle string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO class_sessions (class_title)
		VALUES ($1)
		ON CONFLICT (class_title) DO NOTHING
	`, classTitle)
	if err != nil {
		return fmt.Errorf("ensure class: %w", err)
	}
	return nil
}

// SetPresent flips the presence flag for (matricNo, classTitle).
func (r *PostgresAttendance) SetPresent(ctx context.Context, matricNo, classTitle string) (bool, error) {
	matricNo = strings.TrimSpace(matricNo)
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM attendance_roster WHERE matric_no = $1)`,
		matricNo,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup student: %w", err)
	}
	if !exists {
		return false, ErrStudentNotFound
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM class_sessions WHERE class_title = $1)`,
		classTitle,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup class: %w", err)
	}
	if !exists {
		return false, ErrClassNotFound
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_marks (matric_no, class_title, marked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (matric_no, class_title) DO NOTHING
	`, matricNo, classTitle, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark present: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark present: %w", err)
	}
	return n == 0, nil
}

// PostgresAuditLog implements AuditLog on Postgres.
type PostgresAuditLog struct {
	db *sql.DB
}

// NewPostgresAuditLog creates an audit log repo.
func NewPostgresAuditLog(db *sql.DB) *PostgresAuditLog {
	return &PostgresAuditLog{db: db}
}

// AppendEvent writes one audit row.
func (r *PostgresAuditLog) AppendEvent(ctx context.Context, evt AuditEvent) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, kind, matric_no, class_title, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, evt.ID, evt.Kind, evt.MatricNo, evt.ClassTitle, evt.OccurredAt)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
