// Package collector assembles the window of prior conversation turns
// that a reply is generated from.
package collector

import (
	"errors"
	"fmt"

	"github.com/replybot/replybot/internal/storage"
)

// TurnSource is the read-only view of conversation history the
// collector traverses.
type TurnSource interface {
	GetTurn(id int64) (storage.Turn, error)
	PriorTurn(channelID, beforeID int64) (storage.Turn, error)
}

// Collect walks backwards from the seed turn and returns up to max
// turns, newest first. Each step follows the reply link when the
// current turn has one, otherwise it takes the most recent non-deleted
// turn in the same channel with a smaller id. The walk stops early when
// no predecessor exists, and a revisited turn id (a malformed reply
// graph) terminates the walk with the partial window built so far.
func Collect(src TurnSource, seedID int64, max int) ([]storage.Turn, error) {
	if max < 1 {
		max = 1
	}

	current, err := src.GetTurn(seedID)
	if err != nil {
		return nil, fmt.Errorf("loading seed turn %d: %w", seedID, err)
	}

	window := []storage.Turn{current}
	seen := map[int64]bool{current.ID: true}

	for len(window) < max {
		var next storage.Turn
		if current.InReplyToID != nil {
			next, err = src.GetTurn(*current.InReplyToID)
		} else {
			next, err = src.PriorTurn(current.ChannelID, current.ID)
		}
		if errors.Is(err, storage.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("walking back from turn %d: %w", current.ID, err)
		}
		if seen[next.ID] {
			break
		}

		window = append(window, next)
		seen[next.ID] = true
		current = next
	}

	return window, nil
}
