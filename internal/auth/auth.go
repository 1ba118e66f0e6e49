package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinNameLength     = 3
	MaxNameLength     = 32
	MinPasswordLength = 3
)

var namePattern = regexp.MustCompile(`^[A-Za-z_-]+$`)

// ValidName reports whether name is acceptable for a new account.
func ValidName(name string) bool {
	return len(name) >= MinNameLength && len(name) <= MaxNameLength && namePattern.MatchString(name)
}

// prehash folds any password length into bcrypt's 72-byte input limit.
func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

// HashPassword returns a salted bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword(prehash(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// IsLegacyHash reports whether hash is an unsalted hex SHA-256 digest, the
// form found in dumps written before bcrypt was adopted.
func IsLegacyHash(hash string) bool {
	if len(hash) != 2*sha256.Size {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

// CheckPassword compares password against a hash from HashPassword or a
// legacy SHA-256 digest.
func CheckPassword(hash, password string) bool {
	if IsLegacyHash(hash) {
		sum := sha256.Sum256([]byte(password))
		want := hex.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(strings.ToLower(hash)), []byte(want)) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(password)) == nil
}

// NewToken returns an opaque bearer token. Tokens are never rotated.
func NewToken() string {
	return uuid.NewString()
}
