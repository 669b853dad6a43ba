package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrHashingFailed = errors.New("service key hashing failed")

// KeyVerifier checks internal service keys against a stored hash. Internal
// endpoints (queue processing, delivery webhook) run with elevated
// credentials, so the raw key never lives in config.
type KeyVerifier interface {
	Hash(key string) (string, error)
	Verify(hashedKey, key string) error
}

type bcryptVerifier struct {
	cost int
}

func NewBcryptVerifier(cost int) KeyVerifier {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &bcryptVerifier{cost: cost}
}

func (b *bcryptVerifier) Hash(key string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(key), b.cost)
	if err != nil {
		return "", ErrHashingFailed
	}
	return string(bytes), nil
}

func (b *bcryptVerifier) Verify(hashedKey, key string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedKey), []byte(key))
}
