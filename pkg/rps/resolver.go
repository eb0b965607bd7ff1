package rps

// Outcome is the result of resolving two choices.
type Outcome string

const (
	OutcomeTie        Outcome = "tie"
	OutcomeHostWins   Outcome = "host_wins"
	OutcomeClientWins Outcome = "client_wins"
)

// String returns the stored representation.
func (outcome Outcome) String() string {
	return string(outcome)
}

// beats maps each choice onto the choice it defeats.
var beats = map[Choice]Choice{
	ChoiceRock:     ChoiceScissors,
	ChoicePaper:    ChoiceRock,
	ChoiceScissors: ChoicePaper,
}

// Resolve applies the cyclic dominance table to two submitted choices. It is
// deterministic and side-effect-free; both choices must be set.
func Resolve(hostChoice Choice, clientChoice Choice) Outcome {
	if hostChoice == clientChoice {
		return OutcomeTie
	}
	if beats[hostChoice] == clientChoice {
		return OutcomeHostWins
	}
	return OutcomeClientWins
}

// Winner maps an outcome onto the winning participant id, empty for a tie.
func (outcome Outcome) Winner(hostID string, clientID string) string {
	switch outcome {
	case OutcomeHostWins:
		return hostID
	case OutcomeClientWins:
		return clientID
	}
	return ""
}
