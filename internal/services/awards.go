package services

import (
	"math/rand/v2"

	"github.com/tbourn/go-promo-bot/internal/domain"
)

// AwardSampler draws award labels from a weighted table.
type AwardSampler struct {
	table []domain.WeightedAward
	total int

	// Intn returns a uniform int in [0, n). Defaults to rand.IntN.
	Intn func(n int) int
}

// NewAwardSampler builds a sampler over table. Entries with a non-positive
// weight are never drawn.
func NewAwardSampler(table []domain.WeightedAward) *AwardSampler {
	s := &AwardSampler{Intn: rand.IntN}
	for _, a := range table {
		if a.Weight <= 0 {
			continue
		}
		s.table = append(s.table, a)
		s.total += a.Weight
	}
	return s
}

// Draw returns one label with probability weight/total.
func (s *AwardSampler) Draw() string {
	if s.total == 0 {
		return ""
	}
	n := s.Intn(s.total)
	for _, a := range s.table {
		if n < a.Weight {
			return a.Label
		}
		n -= a.Weight
	}
	return s.table[len(s.table)-1].Label
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// CodeLength is the number of characters in a promo code.
const CodeLength = 10

// newCode draws CodeLength characters uniformly with replacement.
func newCode(intn func(int) int) string {
	b := make([]byte, CodeLength)
	for i := range b {
		b[i] = codeAlphabet[intn(len(codeAlphabet))]
	}
	return string(b)
}
