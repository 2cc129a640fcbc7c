// Package credential issues per-sandbox SSH credentials and the capture flag.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	appErr "github.com/ExxiDauS/CyberCTF/pkg/errors"

	"golang.org/x/crypto/sha3"
)

const (
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	FlagLength = 10

	// hardened secrets are drawn with a length in [MinSecretLength, MaxSecretLength)
	MinSecretLength = 10
	MaxSecretLength = 25
)

// Mode selects how SSH credentials are produced.
type Mode string

const (
	// ModeSimple derives predictable credentials from the user id. Intended for local labs.
	ModeSimple Mode = "simple"
	// ModeHardened draws independent random user and password strings.
	ModeHardened Mode = "hardened"
)

// ParseMode maps a config value to a Mode; unknown or empty values fall back to hardened.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSimple:
		return ModeSimple
	default:
		return ModeHardened
	}
}

// Credentials are the secrets handed to one sandbox.
type Credentials struct {
	SSHUser     string
	SSHPassword string
	FlagValue   string
	FlagDigest  string
}

// Issuer generates Credentials. It is safe for concurrent use when its source is.
type Issuer struct {
	mode   Mode
	source io.Reader
}

// NewIssuer creates an issuer reading randomness from source, or crypto/rand when source is nil.
func NewIssuer(mode Mode, source io.Reader) *Issuer {
	if source == nil {
		source = rand.Reader
	}
	if mode != ModeSimple {
		mode = ModeHardened
	}
	return &Issuer{mode: mode, source: source}
}

// Mode returns the configured credential mode.
func (i *Issuer) Mode() Mode {
	return i.mode
}

// Issue produces fresh credentials and flag for userID.
func (i *Issuer) Issue(userID int64) (Credentials, error) {
	var creds Credentials
	switch i.mode {
	case ModeSimple:
		creds.SSHUser = fmt.Sprintf("user%d", userID)
		creds.SSHPassword = fmt.Sprintf("pass%d", userID)
	default:
		user, err := i.randomSecret()
		if err != nil {
			return Credentials{}, err
		}
		password, err := i.randomSecret()
		if err != nil {
			return Credentials{}, err
		}
		creds.SSHUser = user
		creds.SSHPassword = password
	}

	flag, err := i.randomString(FlagLength)
	if err != nil {
		return Credentials{}, err
	}
	creds.FlagValue = flag
	creds.FlagDigest = Digest(flag)
	return creds, nil
}

func (i *Issuer) randomSecret() (string, error) {
	span := MaxSecretLength - MinSecretLength
	// largest multiple of span that fits in a byte keeps the draw unbiased
	limit := byte(256 / span * span)
	var b [1]byte
	for {
		if _, err := io.ReadFull(i.source, b[:]); err != nil {
			return "", appErr.Wrapf(err, appErr.InternalServerError, "read random source failed")
		}
		if b[0] < limit {
			return i.randomString(MinSecretLength + int(b[0])%span)
		}
	}
}

func (i *Issuer) randomString(n int) (string, error) {
	limit := byte(256 / len(alphabet) * len(alphabet))
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := io.ReadFull(i.source, buf); err != nil {
			return "", appErr.Wrapf(err, appErr.InternalServerError, "read random source failed")
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// Digest returns the lowercase hex SHA3-256 of flag.
func Digest(flag string) string {
	sum := sha3.Sum256([]byte(flag))
	return hex.EncodeToString(sum[:])
}

// VerifyFlag reports whether submitted hashes to digest, comparing in constant time.
func VerifyFlag(digest, submitted string) bool {
	want, err := hex.DecodeString(strings.ToLower(digest))
	if err != nil || len(want) != 32 {
		return false
	}
	got := sha3.Sum256([]byte(submitted))
	return subtle.ConstantTimeCompare(want, got[:]) == 1
}
