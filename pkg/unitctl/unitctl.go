// Package unitctl starts, stops and restarts systemd units over D-Bus and
// waits for the queued job to finish.
package unitctl

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupported = errors.New("unitctl: unsupported OS (linux only)")

type Action string

const (
	Start   Action = "start"
	Stop    Action = "stop"
	Restart Action = "restart"
)

// ParseAction accepts start, stop or restart. Empty means restart.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return Restart, nil
	case Start, Stop, Restart:
		return a, nil
	}
	return "", fmt.Errorf("unknown unit action %q (use start, stop or restart)", s)
}

// UnitName appends ".service" when unit has no type suffix.
func UnitName(unit string) string {
	unit = strings.TrimSpace(unit)
	if unit == "" || strings.Contains(unit, ".") {
		return unit
	}
	return unit + ".service"
}
