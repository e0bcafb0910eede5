package engine

// ScoreForGuess is the reward for a correct guess: the first correct guesser
// of a round earns FirstCorrectScore, everyone after earns OtherCorrectScore.
func (r Rules) ScoreForGuess(isFirstCorrect bool) int {
	if isFirstCorrect {
		return r.FirstCorrectScore
	}
	return r.OtherCorrectScore
}

// WriterBonusScore is credited to the writer once every guesser is correct.
func (r Rules) WriterBonusScore() int {
	return r.WriterBonus
}

func hasCorrectGuess(round *Round, playerID string) bool {
	for _, g := range round.Guesses {
		if g.PlayerID == playerID && g.IsCorrect {
			return true
		}
	}
	return false
}

// allGuessersCorrect reports whether every non-writer player has a correct
// guess recorded. It is false when there are no guessers at all.
func allGuessersCorrect(players []Player, round *Round) bool {
	guessers := 0
	for _, p := range players {
		if p.ID == round.WriterID {
			continue
		}
		guessers++
		if !hasCorrectGuess(round, p.ID) {
			return false
		}
	}
	return guessers > 0
}

func addScore(players []Player, playerID string, points int) bool {
	if i := playerIndex(players, playerID); i >= 0 {
		players[i].Score += points
		return true
	}
	return false
}
