package roster

import (
	"context"
	"errors"
	"strings"
	"time"

	"rollcall/internal/face"
)

// StudentRecord is a master roster row. FaceData holds the JSON-serialized
// embedding captured at registration; it is written once and never mutated.
type StudentRecord struct {
	Name      string
	MatricNo  string
	Email     string
	FaceData  string
	CreatedAt time.Time
}

// AttendanceRow seeds a student into the per-lecturer roster. Per-class
// presence lives alongside it, keyed by class title.
type AttendanceRow struct {
	MatricNo string
	Name     string
	Email    string
}

// EnrolledFace pairs a matric number with its parsed embedding.
type EnrolledFace struct {
	MatricNo  string
	Embedding face.Embedding
}

var (
	// ErrStudentNotFound means no roster row exists for the matric number.
	ErrStudentNotFound = errors.New("student not found in roster")
	// ErrClassNotFound means the class session was never registered on the
	// lecturer roster, so there is no column to mark.
	ErrClassNotFound = errors.New("class session not found in roster")
)

// MasterRoster is the student registry carrying face data.
type MasterRoster interface {
	// ListRows returns every row, malformed face data included. Callers
	// decide what to do with rows that fail to parse.
	ListRows(ctx context.Context) ([]StudentRecord, error)
	AppendStudent(ctx context.Context, rec StudentRecord) error
}

// AttendanceRoster is the per-lecturer roster holding one presence flag per
// (student, class session).
type AttendanceRoster interface {
	AppendSeed(ctx context.Context, row AttendanceRow) error
	// EnsureClass registers a class session so marks against it are legal.
	// Idempotent.
	EnsureClass(ctx context.Context, classTitle string) error
	// SetPresent flips the presence flag for (matricNo, classTitle).
	// Returns already=true without writing when the flag is set. Fails with
	// ErrStudentNotFound or ErrClassNotFound as appropriate.
	SetPresent(ctx context.Context, matricNo, classTitle string) (already bool, err error)
}

// AuditEvent records a registration or attendance mark for the audit trail.
type AuditEvent struct {
	ID         string
	Kind       string
	MatricNo   string
	ClassTitle string
	OccurredAt time.Time
}

// AuditLog persists audit events appended by the worker.
type AuditLog interface {
	AppendEvent(ctx context.Context, evt AuditEvent) error
}

// NormalizeMatric canonicalizes a matric number for comparisons: trimmed
// and lowercased. Stored rows keep the form the student typed.
func NormalizeMatric(matricNo string) string {
	return strings.ToLower(strings.TrimSpace(matricNo))
}

// Faces parses the face data of every row, discarding rows whose embedding
// is absent, unparseable, or the wrong shape. One corrupt row must never
// block matching for the rest of the roster; skipped counts how many were
// dropped so callers can log and meter it.
func Faces(rows []StudentRecord) (faces []EnrolledFace, skipped int) {
	for _, row := range rows {
		emb, err := face.ParseEmbedding(row.FaceData)
		if err != nil {
			skipped++
			continue
		}
		faces = append(faces, EnrolledFace{
			MatricNo:  strings.TrimSpace(row.MatricNo),
			Embedding: emb,
		})
	}
	return faces, skipped
}
