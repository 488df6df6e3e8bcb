// Package token issues and validates the signed class-session capability
// embedded in attendance links. Tokens are stateless: the server keeps no
// record of what it issued, so any replica can validate one from the
// signature alone.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the signed token payload: which class session, which network,
// and when. The time window is carried as explicit bounds rather than a
// registered expiry so that an elapsed window is reported as an
// out-of-scope failure, distinct from a forged or malformed token.
type Claims struct {
	ClassTitle string `json:"classTitle"`
	AllowedIP  string `json:"allowedIP"`
	StartTime  int64  `json:"startTime"`
	EndTime    int64  `json:"endTime"`
	jwt.RegisteredClaims
}

// Window returns the validity bounds.
func (c Claims) Window() (start, end time.Time) {
	return time.Unix(c.StartTime, 0), time.Unix(c.EndTime, 0)
}

// InWindow reports whether now falls inside [start, end].
func (c Claims) InWindow(now time.Time) bool {
	start, end := c.Window()
	return !now.Before(start) && !now.After(end)
}

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingFields = errors.New("class title and allowed IP required")
	ErrBadWindow     = errors.New("window end must be after start")
)

// Service signs and validates attendance tokens with a server-held HS256 key.
type Service struct {
	signingKey string
	issuer     string
}

// NewService creates a token service.
func NewService(signingKey, issuer string) *Service {
	return &Service{signingKey: signingKey, issuer: issuer}
}

// Issue signs a token scoping attendance to a class session, a client
// address, and a time window.
func (s *Service) Issue(classTitle, allowedIP string, start, end time.Time) (string, error) {
	if classTitle == "" || allowedIP == "" {
		return "", ErrMissingFields
	}
	if !end.After(start) {
		return "", ErrBadWindow
	}
	claims := Claims{
		ClassTitle: classTitle,
		AllowedIP:  allowedIP,
		StartTime:  start.Unix(),
		EndTime:    end.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.signingKey))
}

// Validate checks signature, structure, and issuer, and returns the decoded
// claims. Time-window and network scoping are the caller's concern; a token
// outside its window still validates here.
func (s *Service) Validate(tokenStr string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.signingKey), nil
	})
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return Claims{}, ErrInvalidToken
	}
	if claims.ClassTitle == "" || claims.AllowedIP == "" || claims.EndTime == 0 {
		return Claims{}, ErrInvalidToken
	}
	return *claims, nil
}
