package model

// MatchStrength ranks how a job was correlated with an upload batch.
type MatchStrength string

const (
	MatchNone               MatchStrength = ""
	MatchExact              MatchStrength = "exact"
	MatchHeuristicFilename  MatchStrength = "heuristicFilename"
	MatchTimeWindow         MatchStrength = "timeWindow"
	MatchMostRecentFallback MatchStrength = "mostRecentFallback"
)

// MatchCandidate is the ephemeral result of a lookup; it is never persisted.
type MatchCandidate struct {
	Job      JobRecord
	Strength MatchStrength
}
