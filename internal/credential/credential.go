package credential

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrCredentialDecode  = errors.New("credential could not be decoded")
	ErrCredentialExpired = errors.New("credential has expired")
)

// Credential is a bearer token together with the claims read from its
// payload. The signature is never verified here, that is the backend's job.
type Credential struct {
	Raw       string
	SubjectID string
	RoleClaim string
	Role      Role
	ExpiresAt time.Time
}

// Valid reports whether the credential is still usable at the given instant.
func (c Credential) Valid(now time.Time) bool {
	return c.Raw != "" && c.ExpiresAt.After(now)
}

// Key identifies the session the credential belongs to without exposing the token.
func (c Credential) Key() string {
	return HashToken(c.Raw)
}

// Claims mirrors the payload issued by the interventoría backend on sign-in.
type Claims struct {
	UserID subjectID `json:"id"`
	Rol    string    `json:"rol"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

// subjectID accepts both numeric and string identifiers.
type subjectID string

func (s *subjectID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = subjectID(str)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("subject id must be a string or a number: %w", err)
	}
	*s = subjectID(num.String())
	return nil
}

// Decode reads the middle segment of a three-part token. It fails with
// ErrCredentialDecode for anything unparseable and ErrCredentialExpired when
// the expiry is not after now.
func Decode(raw string, now time.Time) (Credential, error) {
	if raw == "" {
		return Credential{}, fmt.Errorf("%w: empty token", ErrCredentialDecode)
	}

	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return Credential{}, fmt.Errorf("%w: %w", ErrCredentialDecode, err)
	}

	if claims.ExpiresAt == nil {
		return Credential{}, fmt.Errorf("%w: missing expiry", ErrCredentialDecode)
	}

	subject := string(claims.UserID)
	if subject == "" {
		subject = claims.Subject
	}

	roleClaim := claims.Rol
	if roleClaim == "" {
		roleClaim = claims.Role
	}

	cred := Credential{
		Raw:       raw,
		SubjectID: subject,
		RoleClaim: roleClaim,
		Role:      NormalizeRole(roleClaim),
		ExpiresAt: claims.ExpiresAt.Time,
	}

	if !cred.ExpiresAt.After(now) {
		return Credential{}, fmt.Errorf("%w: expired at %s", ErrCredentialExpired, cred.ExpiresAt.Format(time.RFC3339))
	}

	return cred, nil
}

// HashToken returns the SHA256 hash of the token as base64 string
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return base64.StdEncoding.EncodeToString(hash[:])
}
