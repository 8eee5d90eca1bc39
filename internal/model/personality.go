package model

import (
	"errors"
	"fmt"
)

// Personality is the behavioral tag handed to the Decision Policy. The
// negotiation core never branches on it.
type Personality string

const (
	AggressiveTrader Personality = "Aggressive_Trader"
	PatientInvestor  Personality = "Patient_Investor"
	Opportunist      Personality = "Opportunist"
	RiskTaker        Personality = "Risk_Taker"
	Conservative     Personality = "Conservative"
	Specialist       Personality = "Specialist"
	Emotional        Personality = "Emotional"
	DataDriven       Personality = "Data_Driven"
	Social           Personality = "Social"
	Chaotic          Personality = "Chaotic"
)

var ErrUnknownPersonality = errors.New("model: unknown personality")

var personalities = []Personality{
	AggressiveTrader,
	PatientInvestor,
	Opportunist,
	RiskTaker,
	Conservative,
	Specialist,
	Emotional,
	DataDriven,
	Social,
	Chaotic,
}

// Personalities returns the closed set of personalities in canonical order.
func Personalities() []Personality {
	out := make([]Personality, len(personalities))
	copy(out, personalities)
	return out
}

// Valid reports whether p is one of the enumerated personalities.
func (p Personality) Valid() bool {
	for _, known := range personalities {
		if p == known {
			return true
		}
	}
	return false
}

// ParsePersonality converts a tag into a Personality.
func ParsePersonality(s string) (Personality, error) {
	p := Personality(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPersonality, s)
	}
	return p, nil
}
