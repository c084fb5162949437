package transcript

import (
	"fmt"

	"brewchat/internal/agent/session"
	"brewchat/internal/agui"
)

// Replay folds a transcript through the reducer and returns the resulting state.
// Meta entries and unknown entry types are skipped.
func Replay(entries []Entry) (session.State, error) {
	state := session.Initial()
	for _, entry := range entries {
		switch entry.Type {
		case EntryUser:
			if entry.Message != nil {
				state = session.AppendMessage(state, *entry.Message)
			}
		case EntryEvent:
			ev, err := agui.Decode(entry.Event)
			if err != nil {
				return session.State{}, fmt.Errorf("replay entry %s: %w", entry.ID, err)
			}
			state = session.Reduce(state, ev)
		}
	}
	return state, nil
}
