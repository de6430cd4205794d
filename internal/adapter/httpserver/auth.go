package httpserver

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/lexatlas/lexatlas/internal/domain"
)

// Argon2Params defines parameters for Argon2id key hashing.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

var defaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLen:     16,
	KeyLen:      32,
}

// HashAPIKey creates an Argon2id hash of a partner API key. Used by the
// key-provisioning tooling, never on the request path.
func HashAPIKey(key string, params Argon2Params) (string, error) {
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(key), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLen)
	// Format: argon2id$iterations$memory$parallelism$salt$hash
	return fmt.Sprintf("argon2id$%d$%d$%d$%s$%s",
		params.Iterations,
		params.Memory,
		params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyAPIKey verifies a key against its encoded Argon2id hash in constant
// time.
func VerifyAPIKey(key, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return false
	}
	iters, err1 := parseUint32(parts[1])
	mem, err2 := parseUint32(parts[2])
	par64, err3 := parseUint32(parts[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	var par uint8
	if par64 > math.MaxUint8 {
		par = math.MaxUint8
	} else {
		par = uint8(par64)
	}
	actual := argon2.IDKey([]byte(key), salt, iters, mem, par, uint32(len(expected)))
	return subtle.ConstantTimeCompare(actual, expected) == 1
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

type partnerKey struct{}

// PartnerFrom returns the authenticated partner id, if any.
func PartnerFrom(ctx context.Context) string {
	if v, ok := ctx.Value(partnerKey{}).(string); ok {
		return v
	}
	return ""
}

// PartnerAuth guards B2B routes. Credentials arrive as the X-Partner-Id and
// X-Api-Key headers; the key is checked against the provisioned argon2id hash
// for that partner.
func (s *Server) PartnerAuth() func(http.Handler) http.Handler {
	hashes := make(map[string]string, len(s.Cfg.PartnerAPIKeys))
	for _, pair := range s.Cfg.PartnerAPIKeys {
		id, hash, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		hashes[id] = hash
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			partnerID := r.Header.Get("X-Partner-Id")
			key := r.Header.Get("X-Api-Key")
			hash, ok := hashes[partnerID]
			if partnerID == "" || key == "" || !ok || !VerifyAPIKey(key, hash) {
				writeError(w, r, fmt.Errorf("%w: invalid partner credentials", domain.ErrUnauthorized), nil)
				return
			}
			ctx := context.WithValue(r.Context(), partnerKey{}, partnerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
