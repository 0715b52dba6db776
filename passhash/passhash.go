// Package passhash hashes and verifies passwords in a self-describing format:
//
//	<algorithm>:<iterations>:<salt-hex>:<key-hex>
//
// Every malformed or tampered hash verifies as false. Verification never
// panics and never tells the caller which part of the input was wrong.
package passhash

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// Supported algorithm tags
const (
	PBKDF2SHA256 = "pbkdf2-sha256"
	PBKDF2SHA512 = "pbkdf2-sha512"
	Argon2ID     = "argon2id"
)

const (
	// MinPBKDF2Iterations is the floor applied to both pbkdf2 variants.
	MinPBKDF2Iterations = 600_000

	// MinArgon2Iterations is the floor for the argon2id time cost.
	MinArgon2Iterations = 3

	KeyLength  = 32
	SaltLength = 16

	argon2MemoryKB = 64 * 1024
	argon2Threads  = 4

	// Upper bounds on stored iteration counts so a crafted hash cannot pin a CPU.
	maxPBKDF2Iterations = 10_000_000
	maxArgon2Iterations = 64
)

// Hasher produces new hashes with a fixed algorithm and cost.
// It is safe for concurrent use.
type Hasher struct {
	algorithm  string
	iterations int
}

// New returns a Hasher for the given algorithm. An empty algorithm selects
// pbkdf2-sha256. Iteration counts below the algorithm's minimum are raised to it.
func New(algorithm string, iterations int) (*Hasher, error) {
	if algorithm == "" {
		algorithm = PBKDF2SHA256
	}
	floor, ok := minIterations(algorithm)
	if !ok {
		return nil, fmt.Errorf("passhash: unsupported algorithm %q", algorithm)
	}
	if iterations < floor {
		iterations = floor
	}
	return &Hasher{algorithm: algorithm, iterations: iterations}, nil
}

// Default returns a pbkdf2-sha256 hasher at the minimum iteration count.
func Default() *Hasher {
	return &Hasher{algorithm: PBKDF2SHA256, iterations: MinPBKDF2Iterations}
}

func (h *Hasher) Algorithm() string { return h.algorithm }
func (h *Hasher) Iterations() int   { return h.iterations }

// Hash derives a key from password with a fresh random salt.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key, ok := derive(h.algorithm, password, salt, h.iterations, KeyLength)
	if !ok {
		return "", fmt.Errorf("passhash: unsupported algorithm %q", h.algorithm)
	}
	return strings.Join([]string{
		h.algorithm,
		strconv.Itoa(h.iterations),
		hex.EncodeToString(salt),
		hex.EncodeToString(key),
	}, ":"), nil
}

// NeedsRehash reports whether encoded was produced with a different
// algorithm or a lower cost than this hasher would use today.
// Unparsable hashes and legacy bcrypt hashes always need a rehash.
func (h *Hasher) NeedsRehash(encoded string) bool {
	p, ok := parse(encoded)
	if !ok {
		return true
	}
	return p.algorithm != h.algorithm || p.iterations < h.iterations
}

// Verify reports whether password matches encoded.
func Verify(password, encoded string) bool {
	if isBcrypt(encoded) {
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)) == nil
	}
	p, ok := parse(encoded)
	if !ok {
		return false
	}
	computed, ok := derive(p.algorithm, password, p.salt, p.iterations, len(p.key))
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare(computed, p.key) == 1
}

type parsed struct {
	algorithm  string
	iterations int
	salt       []byte
	key        []byte
}

func parse(encoded string) (p parsed, ok bool) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 4 {
		return p, false
	}
	if _, known := minIterations(parts[0]); !known {
		return p, false
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations < 1 || iterations > maxIterations(parts[0]) {
		return p, false
	}
	// Hashes below today's floor still verify; NeedsRehash flags them.
	salt, err := hex.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return p, false
	}
	key, err := hex.DecodeString(parts[3])
	if err != nil || len(key) == 0 || len(key) > 64 {
		return p, false
	}
	return parsed{algorithm: parts[0], iterations: iterations, salt: salt, key: key}, true
}

func derive(algorithm, password string, salt []byte, iterations, keyLen int) ([]byte, bool) {
	var h func() hash.Hash
	switch algorithm {
	case PBKDF2SHA256:
		h = sha256.New
	case PBKDF2SHA512:
		h = sha512.New
	case Argon2ID:
		return argon2.IDKey([]byte(password), salt, uint32(iterations), argon2MemoryKB, argon2Threads, uint32(keyLen)), true
	default:
		return nil, false
	}
	return pbkdf2.Key([]byte(password), salt, iterations, keyLen, h), true
}

func minIterations(algorithm string) (int, bool) {
	switch algorithm {
	case PBKDF2SHA256, PBKDF2SHA512:
		return MinPBKDF2Iterations, true
	case Argon2ID:
		return MinArgon2Iterations, true
	}
	return 0, false
}

func maxIterations(algorithm string) int {
	if algorithm == Argon2ID {
		return maxArgon2Iterations
	}
	return maxPBKDF2Iterations
}

// Hashes written by earlier bcrypt-based deployments
func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}
