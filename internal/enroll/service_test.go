package enroll

import (
	"context"
	"errors"
	"math"
	"testing"

	"rollcall/internal/face"
	"rollcall/internal/lock"
	"rollcall/internal/roster"
)

func embeddingAt(base float64) face.Embedding {
	e := make(face.Embedding, face.EmbeddingSize)
	for i := range e {
		e[i] = base + float64(i)*0.001
	}
	return e
}

// orthogonal returns an embedding whose cosine similarity against
// embeddingAt vectors is negative.
func orthogonal() face.Embedding {
	e := make(face.Embedding, face.EmbeddingSize)
	for i := range e {
		if i%2 == 0 {
			e[i] = 1
		} else {
			e[i] = -1
		}
	}
	return e
}

func newService() (*Service, *roster.MemoryMaster, *roster.MemoryAttendance) {
	master := roster.NewMemoryMaster()
	lecturer := roster.NewMemoryAttendance()
	svc := NewService(master, lecturer, face.NewMatcher(0.6), lock.NewKeyed())
	return svc, master, lecturer
}

func TestRegister_Success(t *testing.T) {
	svc, master, _ := newService()
	ctx := context.Background()

	if err := svc.Register(ctx, "Ada", "A123", "ada@example.edu", embeddingAt(0.1)); err != nil {
		t.Fatalf("register: %v", err)
	}

	rows, err := master.ListRows(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 master row, got %d", len(rows))
	}
	if rows[0].MatricNo != "A123" {
		t.Errorf("expected stored matric A123, got %q", rows[0].MatricNo)
	}
	if _, err := face.ParseEmbedding(rows[0].FaceData); err != nil {
		t.Errorf("stored face data does not parse: %v", err)
	}
}

func TestRegister_SeedsLecturerRoster(t *testing.T) {
	svc, _, lecturer := newService()
	ctx := context.Background()

	if err := svc.Register(ctx, "Ada", "A123", "ada@example.edu", embeddingAt(0.1)); err != nil {
		t.Fatalf("register: %v", err)
	}

	_ = lecturer.EnsureClass(ctx, "CS101")
	if _, err := lecturer.SetPresent(ctx, "A123", "CS101"); err != nil {
		t.Errorf("expected seeded lecturer row, got %v", err)
	}
}

func TestRegister_MissingFields(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()
	emb := embeddingAt(0.1)

	cases := []struct {
		name, matric, email string
		emb                 face.Embedding
	}{
		{"", "A123", "a@e.edu", emb},
		{"Ada", "", "a@e.edu", emb},
		{"Ada", "A123", "", emb},
		{"Ada", "A123", "a@e.edu", nil},
	}
	for _, tc := range cases {
		if err := svc.Register(ctx, tc.name, tc.matric, tc.email, tc.emb); err != ErrMissingFields {
			t.Errorf("expected ErrMissingFields, got %v", err)
		}
	}
}

func TestRegister_InvalidEmbedding(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	short := make(face.Embedding, 64)
	for i := range short {
		short[i] = 0.1
	}
	if err := svc.Register(ctx, "Ada", "A123", "a@e.edu", short); err != face.ErrBadLength {
		t.Errorf("expected ErrBadLength, got %v", err)
	}

	bad := embeddingAt(0.1)
	bad[50] = math.NaN()
	if err := svc.Register(ctx, "Ada", "A123", "a@e.edu", bad); err != face.ErrNotFinite {
		t.Errorf("expected ErrNotFinite, got %v", err)
	}
}

func TestRegister_DuplicateFace(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	if err := svc.Register(ctx, "Ada", "A123", "ada@e.edu", embeddingAt(0.1)); err != nil {
		t.Fatalf("first register: %v", err)
	}

	// Same face, different claimed identity: still a conflict.
	err := svc.Register(ctx, "Eve", "B999", "eve@e.edu", embeddingAt(0.1))
	if !errors.Is(err, ErrDuplicateFace) {
		t.Errorf("expected ErrDuplicateFace, got %v", err)
	}
}

func TestRegister_DuplicateMatric(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	if err := svc.Register(ctx, "Ada", "A123", "ada@e.edu", embeddingAt(0.1)); err != nil {
		t.Fatalf("first register: %v", err)
	}

	// Different face, same matric modulo case and whitespace.
	err := svc.Register(ctx, "Eve", " a123 ", "eve@e.edu", orthogonal())
	if !errors.Is(err, ErrDuplicateMatric) {
		t.Errorf("expected ErrDuplicateMatric, got %v", err)
	}
}

func TestRegister_DistinctStudents(t *testing.T) {
	svc, master, _ := newService()
	ctx := context.Background()

	if err := svc.Register(ctx, "Ada", "A123", "ada@e.edu", embeddingAt(0.1)); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := svc.Register(ctx, "Bob", "B456", "bob@e.edu", orthogonal()); err != nil {
		t.Fatalf("second register: %v", err)
	}

	rows, _ := master.ListRows(ctx)
	if len(rows) != 2 {
		t.Errorf("expected 2 rows, got %d", len(rows))
	}
}

func TestRegister_MalformedRowsDoNotBlock(t *testing.T) {
	svc, master, _ := newService()
	ctx := context.Background()

	// A corrupt row must not abort registration for everyone else.
	_ = master.AppendStudent(ctx, roster.StudentRecord{
		Name: "Ghost", MatricNo: "G000", Email: "g@e.edu", FaceData: "corrupt",
	})

	if err := svc.Register(ctx, "Ada", "A123", "ada@e.edu", embeddingAt(0.1)); err != nil {
		t.Errorf("register with corrupt row present: %v", err)
	}
}
