package notify

import (
	"fmt"

	"github.com/MarkoPoloResearchLab/rps/pkg/rps"
)

var choiceLabels = map[rps.Choice]string{
	rps.ChoiceRock:     "🗿 Rock",
	rps.ChoicePaper:    "📝 Paper",
	rps.ChoiceScissors: "✂️ Scissors",
}

// ChoiceLabel renders a choice with its emoji tag. Unknown choices fall
// back to the raw value so a message is never dropped over formatting.
func ChoiceLabel(choice rps.Choice) string {
	if label, found := choiceLabels[choice]; found {
		return label
	}
	return string(choice)
}

// FormatResult renders the outcome message sent to one participant.
func FormatResult(notice rps.ResultNotice) string {
	ownLabel := ChoiceLabel(notice.OwnChoice)
	opponentLabel := ChoiceLabel(notice.OpponentChoice)
	stake := notice.StakeCents.Int64()
	switch notice.Result {
	case rps.ResultWon:
		return fmt.Sprintf("You have won the game vs %s - %s VS %s # +%d Coins",
			notice.OpponentName, ownLabel, opponentLabel, stake)
	case rps.ResultLost:
		return fmt.Sprintf("You have lost the game vs %s - %s VS %s # -%d Coins",
			notice.OpponentName, ownLabel, opponentLabel, stake)
	default:
		return fmt.Sprintf("the game vs %s is even - %s VS %s # +0 Coins",
			notice.OpponentName, ownLabel, opponentLabel)
	}
}
