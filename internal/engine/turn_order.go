package engine

// NextWriter picks the writer following previousWriterID in the current
// player order. An empty or unknown previous writer yields the first player.
func NextWriter(players []Player, previousWriterID string) (string, error) {
	idx, err := NextWriterIndex(players, previousWriterID, -1)
	if err != nil {
		return "", err
	}
	return players[idx].ID, nil
}

// NextWriterIndex walks the player order cyclically. When the previous
// writer is no longer present, rotation continues from lastIndex: after a
// removal the player who followed the writer has shifted into that slot.
// A negative lastIndex restarts from the first player.
func NextWriterIndex(players []Player, previousWriterID string, lastIndex int) (int, error) {
	if len(players) == 0 {
		return 0, ErrNoPlayers
	}
	if previousWriterID == "" {
		return 0, nil
	}
	if i := playerIndex(players, previousWriterID); i >= 0 {
		return (i + 1) % len(players), nil
	}
	if lastIndex >= 0 {
		return lastIndex % len(players), nil
	}
	return 0, nil
}
