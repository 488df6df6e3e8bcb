package attendance

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"rollcall/internal/face"
	"rollcall/internal/lock"
	"rollcall/internal/roster"
	"rollcall/internal/token"
)

const testIP = "10.0.0.5"

func embeddingAt(base float64) face.Embedding {
	e := make(face.Embedding, face.EmbeddingSize)
	for i := range e {
		e[i] = base + float64(i)*0.001
	}
	return e
}

func mustSerialize(t *testing.T, e face.Embedding) string {
	t.Helper()
	raw, err := e.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return raw
}

func setup(t *testing.T) (*Verifier, *Marker, *roster.MemoryMaster, *roster.MemoryAttendance, *token.Service) {
	t.Helper()
	master := roster.NewMemoryMaster()
	lecturer := roster.NewMemoryAttendance()
	tokens := token.NewService("test-secret", "rollcall")
	verifier := NewVerifier(master, tokens, face.NewMatcher(0.6))
	marker := NewMarker(lecturer, tokens, lock.NewKeyed())
	return verifier, marker, master, lecturer, tokens
}

func issueCurrent(t *testing.T, tokens *token.Service, class string) string {
	t.Helper()
	tok, err := tokens.Issue(class, testIP, time.Now().Add(-time.Minute), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func enroll(t *testing.T, master *roster.MemoryMaster, matric, name string, emb face.Embedding) {
	t.Helper()
	err := master.AppendStudent(context.Background(), roster.StudentRecord{
		Name:     name,
		MatricNo: matric,
		Email:    name + "@example.edu",
		FaceData: mustSerialize(t, emb),
	})
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
}

func TestVerifyFace_Match(t *testing.T) {
	verifier, _, master, _, tokens := setup(t)
	enroll(t, master, "A123", "ada", embeddingAt(0.1))
	tok := issueCurrent(t, tokens, "CS101")

	ident, claims, err := verifier.VerifyFace(context.Background(), tok, embeddingAt(0.1), testIP)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ident.MatricNo != "A123" {
		t.Errorf("expected A123, got %q", ident.MatricNo)
	}
	if ident.Name != "ada" {
		t.Errorf("expected name ada, got %q", ident.Name)
	}
	if claims.ClassTitle != "CS101" {
		t.Errorf("expected class CS101, got %q", claims.ClassTitle)
	}
}

func TestVerifyFace_NoMatch(t *testing.T) {
	verifier, _, master, _, tokens := setup(t)
	enroll(t, master, "A123", "ada", embeddingAt(0.1))
	tok := issueCurrent(t, tokens, "CS101")

	// Orthogonal-ish vector: alternating signs, negative similarity.
	stranger := make(face.Embedding, face.EmbeddingSize)
	for i := range stranger {
		if i%2 == 0 {
			stranger[i] = 1
		} else {
			stranger[i] = -1
		}
	}

	_, _, err := verifier.VerifyFace(context.Background(), tok, stranger, testIP)
	if !errors.Is(err, ErrNoMatch) {
		t.Errorf("expected ErrNoMatch, got %v", err)
	}
}

func TestVerifyFace_BestMatchWins(t *testing.T) {
	verifier, _, master, _, tokens := setup(t)

	presented := embeddingAt(0.1)

	// Both enrolled faces clear the threshold against the presented one,
	// but the second is an exact copy. Row order must not decide.
	near := embeddingAt(0.1)
	near[0] += 0.5
	enroll(t, master, "B456", "near", near)
	enroll(t, master, "A123", "exact", presented)

	tok := issueCurrent(t, tokens, "CS101")
	ident, _, err := verifier.VerifyFace(context.Background(), tok, presented, testIP)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ident.MatricNo != "A123" {
		t.Errorf("expected best match A123, got %q", ident.MatricNo)
	}
}

func TestVerifyFace_InvalidToken(t *testing.T) {
	verifier, _, master, _, _ := setup(t)
	enroll(t, master, "A123", "ada", embeddingAt(0.1))

	_, _, err := verifier.VerifyFace(context.Background(), "garbage", embeddingAt(0.1), testIP)
	if !errors.Is(err, token.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyFace_WrongOrigin(t *testing.T) {
	verifier, _, master, _, tokens := setup(t)
	enroll(t, master, "A123", "ada", embeddingAt(0.1))
	tok := issueCurrent(t, tokens, "CS101")

	_, _, err := verifier.VerifyFace(context.Background(), tok, embeddingAt(0.1), "192.168.1.9")
	if !errors.Is(err, ErrWrongNetwork) {
		t.Errorf("expected ErrWrongNetwork, got %v", err)
	}
}

func TestVerifyFace_OutsideWindow(t *testing.T) {
	verifier, _, master, _, tokens := setup(t)
	enroll(t, master, "A123", "ada", embeddingAt(0.1))

	expired, err := tokens.Issue("CS101", testIP, time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := verifier.VerifyFace(context.Background(), expired, embeddingAt(0.1), testIP); !errors.Is(err, ErrOutsideWindow) {
		t.Errorf("expected ErrOutsideWindow after window, got %v", err)
	}

	early, err := tokens.Issue("CS101", testIP, time.Now().Add(time.Hour), time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := verifier.VerifyFace(context.Background(), early, embeddingAt(0.1), testIP); !errors.Is(err, ErrOutsideWindow) {
		t.Errorf("expected ErrOutsideWindow before window, got %v", err)
	}
}

func TestVerifyFace_InvalidEmbedding(t *testing.T) {
	verifier, _, _, _, tokens := setup(t)
	tok := issueCurrent(t, tokens, "CS101")

	short := make(face.Embedding, 10)
	if _, _, err := verifier.VerifyFace(context.Background(), tok, short, testIP); !errors.Is(err, face.ErrBadLength) {
		t.Errorf("expected ErrBadLength, got %v", err)
	}

	bad := embeddingAt(0.1)
	bad[7] = math.Inf(-1)
	if _, _, err := verifier.VerifyFace(context.Background(), tok, bad, testIP); !errors.Is(err, face.ErrNotFinite) {
		t.Errorf("expected ErrNotFinite, got %v", err)
	}
}

func TestVerifyFace_SkipsCorruptRows(t *testing.T) {
	verifier, _, master, _, tokens := setup(t)

	_ = master.AppendStudent(context.Background(), roster.StudentRecord{
		Name: "ghost", MatricNo: "G000", FaceData: "{broken",
	})
	enroll(t, master, "A123", "ada", embeddingAt(0.1))

	tok := issueCurrent(t, tokens, "CS101")
	ident, _, err := verifier.VerifyFace(context.Background(), tok, embeddingAt(0.1), testIP)
	if err != nil {
		t.Fatalf("verify with corrupt row: %v", err)
	}
	if ident.MatricNo != "A123" {
		t.Errorf("expected A123, got %q", ident.MatricNo)
	}
}

func TestNormalizeOrigin(t *testing.T) {
	cases := []struct{ in, want string }{
		{"10.0.0.5", "10.0.0.5"},
		{"::ffff:10.0.0.5", "10.0.0.5"},
		{"10.0.0.5, 172.16.0.1", "10.0.0.5"},
		{" ::ffff:10.0.0.5 , 172.16.0.1", "10.0.0.5"},
	}
	for _, tc := range cases {
		if got := NormalizeOrigin(tc.in); got != tc.want {
			t.Errorf("NormalizeOrigin(%q): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestMark_Idempotent(t *testing.T) {
	_, marker, _, lecturer, tokens := setup(t)
	ctx := context.Background()

	_ = lecturer.AppendSeed(ctx, roster.AttendanceRow{MatricNo: "A123", Name: "ada"})
	_ = lecturer.EnsureClass(ctx, "CS101")
	tok := issueCurrent(t, tokens, "CS101")

	res, err := marker.Mark(ctx, "A123", tok)
	if err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if res.Already {
		t.Error("first mark reported alreadyMarked")
	}
	if res.ClassTitle != "CS101" {
		t.Errorf("expected class CS101, got %q", res.ClassTitle)
	}
	if !lecturer.Present("A123", "CS101") {
		t.Error("presence flag not set")
	}

	res, err = marker.Mark(ctx, "A123", tok)
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if !res.Already {
		t.Error("second mark did not report alreadyMarked")
	}
}

func TestMark_InvalidToken(t *testing.T) {
	_, marker, _, _, _ := setup(t)
	if _, err := marker.Mark(context.Background(), "A123", "garbage"); !errors.Is(err, token.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestMark_StudentNotFound(t *testing.T) {
	_, marker, _, lecturer, tokens := setup(t)
	_ = lecturer.EnsureClass(context.Background(), "CS101")
	tok := issueCurrent(t, tokens, "CS101")

	if _, err := marker.Mark(context.Background(), "missing", tok); !errors.Is(err, roster.ErrStudentNotFound) {
		t.Errorf("expected ErrStudentNotFound, got %v", err)
	}
}

func TestMark_ClassNotFound(t *testing.T) {
	_, marker, _, lecturer, tokens := setup(t)
	_ = lecturer.AppendSeed(context.Background(), roster.AttendanceRow{MatricNo: "A123"})
	tok := issueCurrent(t, tokens, "PHY999")

	if _, err := marker.Mark(context.Background(), "A123", tok); !errors.Is(err, roster.ErrClassNotFound) {
		t.Errorf("expected ErrClassNotFound, got %v", err)
	}
}
