package peerroll

import (
	"sort"

	"github.com/google/uuid"
)

// NewRoundToken returns a fresh opaque token identifying one rolling-operation
// campaign. Whichever unit first requests an operation picks the token; every
// other unit adopts it when it observes the request.
func NewRoundToken() string {
	return uuid.New().String()
}

// TokenPolicy deterministically selects the winning round token when
// concurrent requests observe distinct tokens for what the operator intends
// as the same logical round. Every unit must apply the same policy to the
// same set of tokens and reach the same answer, independent of observation
// order. The slice is never empty.
type TokenPolicy func(tokens []string) string

// LowestToken picks the lexicographically smallest token. It is the default
// policy.
func LowestToken(tokens []string) string {
	winner := tokens[0]
	for _, t := range tokens[1:] {
		if t < winner {
			winner = t
		}
	}
	return winner
}

// sortedUnits returns the identities in lexicographic order, the fixed
// ordering every grant decision is computed over.
func sortedUnits(units []string) []string {
	out := make([]string, len(units))
	copy(out, units)
	sort.Strings(out)
	return out
}
