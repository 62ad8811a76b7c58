package game

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	consonants = "bcdfghjklmnprstvz"
	vowels     = "aeiou"
)

// generateToken builds a pronounceable token that mostly alternates consonants
// and vowels. One step in five keeps the same letter class.
func generateToken(length int) (string, error) {
	out := make([]byte, length)
	vowel := false
	for i := range out {
		set := consonants
		if vowel {
			set = vowels
		}
		n, err := randInt(len(set))
		if err != nil {
			return "", err
		}
		out[i] = set[n]

		keep, err := randInt(5)
		if err != nil {
			return "", err
		}
		if keep != 0 {
			vowel = !vowel
		}
	}
	return string(out), nil
}

func randInt(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

// newUniqueTokenLocked retries until the token collides with no existing record
func (s *State) newUniqueTokenLocked() (string, error) {
	for attempts := 0; attempts < 10; attempts++ {
		token, err := generateToken(s.tokenLength)
		if err != nil {
			return "", fmt.Errorf("generating token: %w", err)
		}
		if _, exists := s.users[token]; !exists {
			return token, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique token after 10 attempts")
}
