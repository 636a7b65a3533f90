package models

import "time"

// PhenomenonStatus is the registry entry lifecycle status. Transitions are
// monotone: pending -> (matched|minted) -> active, or -> failed, never
// backward (I5).
type PhenomenonStatus string

const (
	PhenomenonPending     PhenomenonStatus = "pending"
	PhenomenonProvisional PhenomenonStatus = "provisional"
	PhenomenonMatched     PhenomenonStatus = "matched"
	PhenomenonMinted      PhenomenonStatus = "minted"
	PhenomenonActive      PhenomenonStatus = "active"
	PhenomenonFailed      PhenomenonStatus = "failed"
	PhenomenonOther       PhenomenonStatus = "other"
)

func ParsePhenomenonStatus(s string) PhenomenonStatus {
	switch PhenomenonStatus(s) {
	case PhenomenonPending, PhenomenonProvisional, PhenomenonMatched, PhenomenonMinted, PhenomenonActive, PhenomenonFailed:
		return PhenomenonStatus(s)
	default:
		return PhenomenonOther
	}
}

// Phenomenon is a global narrative registry entry (C3).
type Phenomenon struct {
	ID              string
	CanonicalName   *string
	Description     *string
	Status          PhenomenonStatus
	Embedding       []float64
	OccurrenceCount int
	MintedByCaseID  *string
	CreatedAt       time.Time
}

// MatchOutcome is the result of the match-or-mint protocol.
type MatchOutcome string

const (
	OutcomeMatched MatchOutcome = "matched"
	OutcomeMinted  MatchOutcome = "minted"
)

// MatchResult is the outcome of Registry.MatchOrMint.
type MatchResult struct {
	Outcome      MatchOutcome
	PhenomenonID string
	Confidence   float64
	CaseID       string
}
