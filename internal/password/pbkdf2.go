package password

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"golang.org/x/crypto/pbkdf2"
)

// PHC strings use unpadded standard base64.
var b64 = base64.RawStdEncoding

type pbkdf2Hash struct {
	alg        string
	iterations int
	salt       []byte
	key        []byte
}

func pbkdf2Digest(alg string) (func() hash.Hash, error) {
	switch alg {
	case "pbkdf2":
		return sha1.New, nil
	case "pbkdf2-sha256":
		return sha256.New, nil
	case "pbkdf2-sha512":
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", common.ErrorMalformed, alg)
	}
}

// parsePBKDF2 parses "$pbkdf2-sha256$i=600000,l=32$<salt>$<hash>".
func parsePBKDF2(encoded string) (*pbkdf2Hash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "" {
		return nil, fmt.Errorf("%w: pbkdf2 hash has %d fields", common.ErrorMalformed, len(parts))
	}

	h := &pbkdf2Hash{alg: parts[1]}
	for _, kv := range strings.Split(parts[2], ",") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("%w: bad pbkdf2 parameter %q", common.ErrorMalformed, kv)
		}
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: bad pbkdf2 parameter %q", common.ErrorMalformed, kv)
		}
		switch name {
		case "i":
			h.iterations = n
		case "l":
			// output length is implied by the decoded key
		default:
			return nil, fmt.Errorf("%w: unknown pbkdf2 parameter %q", common.ErrorMalformed, name)
		}
	}
	if h.iterations == 0 {
		return nil, fmt.Errorf("%w: pbkdf2 iterations missing", common.ErrorMalformed)
	}

	// The salt field is itself a B64 salt string; fall back to its raw bytes.
	salt, err := b64.DecodeString(parts[3])
	if err != nil {
		salt = []byte(parts[3])
	}
	h.salt = salt

	key, err := b64.DecodeString(parts[4])
	if err != nil {
		return nil, fmt.Errorf("%w: pbkdf2 hash: %v", common.ErrorMalformed, err)
	}
	h.key = key
	return h, nil
}

func verifyPBKDF2(plain, encoded string) (bool, error) {
	h, err := parsePBKDF2(encoded)
	if err != nil {
		return false, err
	}
	digest, err := pbkdf2Digest(h.alg)
	if err != nil {
		return false, err
	}
	derived := pbkdf2.Key([]byte(plain), h.salt, h.iterations, len(h.key), digest)
	return subtle.ConstantTimeCompare(derived, h.key) == 1, nil
}
