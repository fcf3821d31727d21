package bot

import (
	"errors"

	"github.com/replybot/replybot/internal/settings"
)

// Mode is the request shape a model is called with.
type Mode int

const (
	ModeChat Mode = iota
	ModeCompletions
)

func (m Mode) String() string {
	switch m {
	case ModeChat:
		return "chat"
	case ModeCompletions:
		return "completions"
	default:
		return "unknown"
	}
}

// ErrModeUnresolved is returned when the configured model name matches
// neither known model table and no explicit type is configured. The
// orchestrator maps it onto the ordinary failure branch.
var ErrModeUnresolved = errors.New("model resolves to neither chat nor completions mode")

var chatModels = map[string]bool{
	"gpt-3.5-turbo":     true,
	"gpt-3.5-turbo-16k": true,
	"gpt-4":             true,
	"gpt-4-32k":         true,
}

var completionModels = map[string]bool{
	"text-davinci-003": true,
	"text-davinci-002": true,
}

// Selection is a resolved model name plus the request mode to call it
// with.
type Selection struct {
	Model string
	Mode  Mode
}

// SelectModel resolves which model to use for an invocation. Resolution
// order, first match wins: membership in a privileged group selects the
// privileged-access model; an enabled custom model selects it with its
// explicitly configured type; otherwise the default model is used. Mode
// comes from the static model tables except for custom models, whose
// type is explicit. The result is a pure function of the snapshot and
// the user's group memberships.
func SelectModel(snap settings.Snapshot, userGroupIDs []int64) (Selection, error) {
	if hasPrivilegedAccess(snap.PrivilegedGroupIDs, userGroupIDs) {
		mode, err := modeForModel(snap.PrivilegedModel)
		if err != nil {
			return Selection{}, err
		}
		return Selection{Model: snap.PrivilegedModel, Mode: mode}, nil
	}

	if snap.ModelCustom {
		switch snap.ModelCustomType {
		case "chat":
			return Selection{Model: snap.ModelCustomName, Mode: ModeChat}, nil
		case "completions":
			return Selection{Model: snap.ModelCustomName, Mode: ModeCompletions}, nil
		default:
			return Selection{}, ErrModeUnresolved
		}
	}

	mode, err := modeForModel(snap.Model)
	if err != nil {
		return Selection{}, err
	}
	return Selection{Model: snap.Model, Mode: mode}, nil
}

func modeForModel(name string) (Mode, error) {
	switch {
	case chatModels[name]:
		return ModeChat, nil
	case completionModels[name]:
		return ModeCompletions, nil
	default:
		return 0, ErrModeUnresolved
	}
}

func hasPrivilegedAccess(privileged, memberships []int64) bool {
	if len(privileged) == 0 || len(memberships) == 0 {
		return false
	}
	member := make(map[int64]bool, len(memberships))
	for _, id := range memberships {
		member[id] = true
	}
	for _, id := range privileged {
		if member[id] {
			return true
		}
	}
	return false
}
