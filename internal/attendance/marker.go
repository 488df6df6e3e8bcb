package attendance

import (
	"context"
	"fmt"

	"rollcall/internal/lock"
	"rollcall/internal/roster"
	"rollcall/internal/token"
)

// Marker commits the presence flag for a confirmed identity. The same class
// token is shared by the whole session; consumption is per student, so the
// lock key is (matric, class), not the token.
type Marker struct {
	lecturer roster.AttendanceRoster
	tokens   *token.Service
	locks    lock.Locker
}

// NewMarker creates an attendance marker.
func NewMarker(lecturer roster.AttendanceRoster, tokens *token.Service, locks lock.Locker) *Marker {
	return &Marker{lecturer: lecturer, tokens: tokens, locks: locks}
}

// MarkResult reports what a Mark call did.
type MarkResult struct {
	Already    bool
	ClassTitle string
}

// Mark sets the presence flag for (matricNo, token's class). Safe to call
// repeatedly: a second call reports Already=true and changes nothing.
// Returns roster.ErrStudentNotFound or roster.ErrClassNotFound when the row
// or class session is absent, token.ErrInvalidToken for a bad token.
func (m *Marker) Mark(ctx context.Context, matricNo, tokenStr string) (MarkResult, error) {
	claims, err := m.tokens.Validate(tokenStr)
	if err != nil {
		return MarkResult{}, err
	}

	key := "mark:" + roster.NormalizeMatric(matricNo) + ":" + claims.ClassTitle
	release, err := m.locks.Acquire(ctx, key)
	if err != nil {
		return MarkResult{}, fmt.Errorf("acquire mark lock: %w", err)
	}
	defer release()

	already, err := m.lecturer.SetPresent(ctx, matricNo, claims.ClassTitle)
	if err != nil {
		return MarkResult{}, err
	}
	return MarkResult{Already: already, ClassTitle: claims.ClassTitle}, nil
}
