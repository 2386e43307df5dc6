package model

import (
	"fmt"
	"strings"
)

// Rank is a card rank from 2 (deuce) to 14 (ace).
type Rank uint8

// Suit is a lower-case suit letter: c, d, h or s.
type Suit byte

// Card rank bounds.
const (
	RankTwo Rank = 2
	RankAce Rank = 14
)

// Suits lists all suits in a stable order.
var Suits = [4]Suit{'c', 'd', 'h', 's'}

const rankSymbols = "23456789TJQKA"

// Card is a parsed card symbol.
type Card struct {
	Rank Rank
	Suit Suit
}

// ParseCard parses symbols such as "Ah", "td" or "10s".
func ParseCard(s string) (Card, error) {
	sym := strings.TrimSpace(s)
	if strings.HasPrefix(sym, "10") {
		sym = "T" + sym[2:]
	}
	if len(sym) != 2 {
		return Card{}, fmt.Errorf("%w: %q", ErrInvalidCard, s)
	}
	idx := strings.IndexByte(rankSymbols, upper(sym[0]))
	if idx < 0 {
		return Card{}, fmt.Errorf("%w: %q", ErrInvalidCard, s)
	}
	suit := Suit(lower(sym[1]))
	switch suit {
	case 'c', 'd', 'h', 's':
	default:
		return Card{}, fmt.Errorf("%w: %q", ErrInvalidCard, s)
	}
	return Card{Rank: Rank(idx) + RankTwo, Suit: suit}, nil
}

// ParseCards parses every symbol, stopping at the first invalid one.
func ParseCards(symbols []string) ([]Card, error) {
	cards := make([]Card, 0, len(symbols))
	for _, s := range symbols {
		c, err := ParseCard(s)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, nil
}

// String returns the canonical two-letter symbol, e.g. "Th".
func (c Card) String() string {
	if c.Rank < RankTwo || c.Rank > RankAce {
		return "??"
	}
	return string([]byte{rankSymbols[c.Rank-RankTwo], byte(c.Suit)})
}

// CanonicalCards normalises symbols so that "10H" and "Th" compare equal.
// Invalid symbols are kept as-is for the sanity checker to report.
func CanonicalCards(symbols []string) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		if c, err := ParseCard(s); err == nil {
			out[i] = c.String()
		} else {
			out[i] = s
		}
	}
	return out
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b - 'A' + 'a'
	}
	return b
}
