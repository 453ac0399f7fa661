package ir

import (
	"fmt"
	"time"
)

// ElectionParliamentary is the election type of Storting elections.
const ElectionParliamentary = "parliamentary"

// ElectionDay returns the day of the parliamentary election held in year:
// the second Monday of September, every fourth year from 1973.
func ElectionDay(year int) (Date, error) {
	if year < 1973 || (year-1973)%4 != 0 {
		return Date{}, NewValidationError("year", fmt.Sprint(year), "not a parliamentary election year")
	}
	d := NewDate(year, time.September, 1)
	for d.Time().Weekday() != time.Monday {
		d = d.AddDays(1)
	}
	return d.AddDays(7), nil
}

// ElectionResult is one unit's election result in the common schema.
type ElectionResult struct {
	Year             int          `json:"year"`
	ElectionType     string       `json:"election_type"`
	UnitCode         string       `json:"unit_code"`
	UnitName         string       `json:"unit_name"`
	LevelCode        string       `json:"level_code"`
	RetrievedOn      string       `json:"retrieved_on"`
	LastUpdated      string       `json:"last_updated"`
	ValidVotesCast   int          `json:"valid_votes_cast"`
	DiscardedVotes   int          `json:"discarded_votes"`
	BlankVotes       int          `json:"blank_votes"`
	Turnout          float64      `json:"turnout"` // share of the electorate, 0..1
	VotesByType      VotesByType  `json:"votes_by_type"`
	Results          []PartyVotes `json:"results"`
	SeatDistribution []PartySeats `json:"seat_distribution,omitempty"`
}

// VotesByType splits the ballots by when they were cast.
type VotesByType struct {
	ElectionDay BallotCount `json:"election_day_vote"`
	Early       BallotCount `json:"early_vote"`
}

// BallotCount counts ballots by outcome.
type BallotCount struct {
	Valid     int `json:"valid"`
	Discarded int `json:"discarded"`
	Blank     int `json:"blank"`
}

// PartyVotes is a party's share of the valid votes.
type PartyVotes struct {
	PartyCode string `json:"party_code"`
	PartyName string `json:"party_name"`
	Votes     int    `json:"votes"`
}

// PartySeats is a party's seats won in a district.
type PartySeats struct {
	PartyCode string `json:"party_code"`
	PartyName string `json:"party_name"`
	Seats     int    `json:"seats"`
}

// Validate checks that the totals agree with the split by ballot type.
func (r ElectionResult) Validate() error {
	if r.UnitCode == "" {
		return NewValidationError("unit_code", "", "must not be empty")
	}
	if r.Turnout < 0 || r.Turnout > 1 {
		return NewValidationError("turnout", fmt.Sprint(r.Turnout), "want a share between 0 and 1")
	}
	day, early := r.VotesByType.ElectionDay, r.VotesByType.Early
	if r.ValidVotesCast != day.Valid+early.Valid ||
		r.DiscardedVotes != day.Discarded+early.Discarded ||
		r.BlankVotes != day.Blank+early.Blank {
		return NewValidationError("votes_by_type", r.UnitCode, "does not add up to the totals")
	}
	return nil
}
