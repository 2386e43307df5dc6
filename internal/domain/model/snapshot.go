package model

import (
	"slices"
	"time"
)

// Board and hand limits.
const (
	MaxBoardCards = 5
	MaxHeroCards  = 2
)

// Snapshot is the latest accepted value of every field for one session.
// A Snapshot value is never mutated once published; With returns a copy.
type Snapshot struct {
	Pot         float64         `json:"pot"`
	BoardCards  []string        `json:"board_cards"`
	HeroCards   []string        `json:"hero_cards"`
	Players     []Player        `json:"players"`
	ButtonSeat  int             `json:"button_seat"`
	LastUpdated time.Time       `json:"last_updated"`
	HandNumber  int             `json:"hand_number,omitempty"`
	RecentBets  map[int]float64 `json:"recent_bets,omitempty"`
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.BoardCards = slices.Clone(s.BoardCards)
	out.HeroCards = slices.Clone(s.HeroCards)
	out.Players = slices.Clone(s.Players)
	if s.RecentBets != nil {
		out.RecentBets = make(map[int]float64, len(s.RecentBets))
		for k, v := range s.RecentBets {
			out.RecentBets[k] = v
		}
	}
	return out
}

// PlayerBySeat returns the player occupying seat.
func (s Snapshot) PlayerBySeat(seat int) (Player, bool) {
	for _, p := range s.Players {
		if p.Seat == seat {
			return p, true
		}
	}
	return Player{}, false
}

// ActivePlayers counts players marked active.
func (s Snapshot) ActivePlayers() int {
	n := 0
	for _, p := range s.Players {
		if p.Active {
			n++
		}
	}
	return n
}

// StartHand returns a copy with the per-hand fields cleared.
func (s Snapshot) StartHand() Snapshot {
	out := s.Clone()
	out.BoardCards = nil
	out.HeroCards = nil
	out.RecentBets = nil
	out.HandNumber++
	return out
}

// With returns a copy of s with m applied. It does not validate; callers run
// the sanity checker first.
func (s Snapshot) With(m Measurement) Snapshot {
	out := s.Clone()
	if m.NewHand {
		out = out.StartHand()
	}
	switch p := m.Payload.(type) {
	case Pot:
		out.Pot = p.Amount
	case Board:
		out.BoardCards = CanonicalCards(p.Cards)
	case HeroCards:
		out.HeroCards = CanonicalCards(p.Cards)
	case Player:
		out.Players = upsertPlayer(out.Players, p)
	case Button:
		out.ButtonSeat = p.Seat
	case Action:
		out = out.withAction(p)
	}
	if !m.Timestamp.IsZero() {
		out.LastUpdated = m.Timestamp
	}
	return out
}

func (s Snapshot) withAction(a Action) Snapshot {
	if a.Kind.Commits() {
		if s.RecentBets == nil {
			s.RecentBets = make(map[int]float64)
		}
		s.RecentBets[a.Seat] = a.Amount
	}
	if a.Kind == ActionFold {
		for i := range s.Players {
			if s.Players[i].Seat == a.Seat {
				s.Players[i].Active = false
			}
		}
	}
	return s
}

func upsertPlayer(players []Player, p Player) []Player {
	for i := range players {
		if players[i].Seat == p.Seat {
			players[i] = p
			return players
		}
	}
	players = append(players, p)
	slices.SortFunc(players, func(a, b Player) int { return a.Seat - b.Seat })
	return players
}

// LastKnown returns the snapshot's current value for field t as a payload,
// or nil when the field has no state. hint selects the seat for players.
func (s Snapshot) LastKnown(t FieldType, hint Payload) Payload {
	switch t {
	case FieldPot:
		return Pot{Amount: s.Pot}
	case FieldBoard:
		return Board{Cards: slices.Clone(s.BoardCards)}
	case FieldCard:
		return HeroCards{Cards: slices.Clone(s.HeroCards)}
	case FieldButton:
		return Button{Seat: s.ButtonSeat}
	case FieldPlayer:
		if hp, ok := hint.(Player); ok {
			if p, found := s.PlayerBySeat(hp.Seat); found {
				return p
			}
		}
	case FieldAction:
	}
	return nil
}
