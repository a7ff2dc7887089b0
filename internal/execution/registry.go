package execution

import (
	"fmt"

	"yqhp/load-engine/pkg/types"
)

// modes maps each supported executor to its factory.
var modes = map[types.ExecutionMode]func() Mode{
	types.ModeRampingVUs: func() Mode { return NewRampingVUsMode() },
}

// GetMode returns a new instance of the given mode. An empty name selects ramping-vus.
func GetMode(mode types.ExecutionMode) (Mode, error) {
	if mode == "" {
		mode = types.ModeRampingVUs
	}
	factory, ok := modes[mode]
	if !ok {
		return nil, fmt.Errorf("unknown execution mode: %s", mode)
	}
	return factory(), nil
}
