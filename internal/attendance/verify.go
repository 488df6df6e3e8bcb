// Package attendance holds the two halves of the confirmation protocol:
// identifying the student behind a presented embedding, and idempotently
// committing the presence flag once they confirm.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"rollcall/internal/face"
	"rollcall/internal/metrics"
	"rollcall/internal/roster"
	"rollcall/internal/token"
)

var (
	ErrNoMatch       = errors.New("face not recognized")
	ErrWrongNetwork  = errors.New("access denied: invalid network")
	ErrOutsideWindow = errors.New("access denied: not within allowed time")
)

// Identity is the candidate student returned for the confirm step. Nothing
// is committed until they accept it.
type Identity struct {
	MatricNo string `json:"matricNo"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

// Verifier matches a presented embedding against the master roster, gated
// by the token's network and time scope.
type Verifier struct {
	master  roster.MasterRoster
	tokens  *token.Service
	matcher *face.Matcher
}

// NewVerifier creates a verification service.
func NewVerifier(master roster.MasterRoster, tokens *token.Service, matcher *face.Matcher) *Verifier {
	return &Verifier{master: master, tokens: tokens, matcher: matcher}
}

// NormalizeOrigin canonicalizes a client address for comparison against the
// token scope: only the first entry of a forwarded list counts, and the
// IPv4-mapped-IPv6 prefix is stripped.
func NormalizeOrigin(addr string) string {
	if i := strings.IndexByte(addr, ','); i >= 0 {
		addr = addr[:i]
	}
	addr = strings.TrimSpace(addr)
	return strings.TrimPrefix(addr, "::ffff:")
}

// CheckScope verifies the request origin and current time against the
// token's claims. Exact address match after normalization.
func CheckScope(claims token.Claims, origin string, now time.Time) error {
	if NormalizeOrigin(origin) != claims.AllowedIP {
		return ErrWrongNetwork
	}
	if !claims.InWindow(now) {
		return ErrOutsideWindow
	}
	return nil
}

// VerifyFace validates the token and scope, then scans the roster for the
// best match at or above the similarity threshold. It identifies the
// candidate only; Marker.Mark commits attendance after the student
// confirms.
func (v *Verifier) VerifyFace(ctx context.Context, tokenStr string, emb face.Embedding, origin string) (Identity, token.Claims, error) {
	if err := emb.Validate(); err != nil {
		return Identity{}, token.Claims{}, err
	}

	claims, err := v.tokens.Validate(tokenStr)
	if err != nil {
		return Identity{}, token.Claims{}, err
	}
	if err := CheckScope(claims, origin, time.Now()); err != nil {
		return Identity{}, claims, err
	}

	rows, err := v.master.ListRows(ctx)
	if err != nil {
		return Identity{}, claims, fmt.Errorf("load roster: %w", err)
	}

	faces, skipped := roster.Faces(rows)
	if skipped > 0 {
		log.Printf("verification scan skipped %d malformed roster rows", skipped)
		metrics.SkippedRosterRows.Add(float64(skipped))
	}

	// Best match above threshold, not first match: when two enrolled faces
	// both clear the cutoff, row order must not decide who gets marked.
	bestIdx := -1
	bestSim := v.matcher.Threshold()
	for i, enrolled := range faces {
		sim := v.matcher.Similarity(emb, enrolled.Embedding)
		if sim >= bestSim {
			bestIdx, bestSim = i, sim
		}
	}
	if bestIdx == -1 {
		return Identity{}, claims, ErrNoMatch
	}

	matric := faces[bestIdx].MatricNo
	for _, row := range rows {
		if strings.TrimSpace(row.MatricNo) == matric {
			return Identity{
				MatricNo: matric,
				Name:     row.Name,
				Email:    row.Email,
			}, claims, nil
		}
	}
	// Unreachable: faces derive from rows.
	return Identity{MatricNo: matric}, claims, nil
}
