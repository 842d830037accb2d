package config

import "errors"

var (
	// ErrUnknownAgent is returned when an agent identifier is not configured.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrNoAgents is returned when the agents document has an empty list.
	ErrNoAgents = errors.New("no agents configured")
)
