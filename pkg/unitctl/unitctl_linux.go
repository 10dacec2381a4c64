//go:build linux

package unitctl

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

type Controller struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

// Open connects to the system bus.
func Open(ctx context.Context) (*Controller, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &Controller{conn: conn}, nil
}

func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}

// Do queues action for unit in "replace" mode and waits for the job
// result. Any result other than "done" is an error.
func (c *Controller) Do(ctx context.Context, action Action, unit string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("systemd connection is closed")
	}

	name := UnitName(unit)
	done := make(chan string, 1)
	var err error
	switch action {
	case Start:
		_, err = conn.StartUnitContext(ctx, name, "replace", done)
	case Stop:
		_, err = conn.StopUnitContext(ctx, name, "replace", done)
	case Restart:
		_, err = conn.RestartUnitContext(ctx, name, "replace", done)
	default:
		return fmt.Errorf("unknown unit action %q", action)
	}
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", action, name, err)
	}

	select {
	case res := <-done:
		if res != "done" {
			return fmt.Errorf("%s %s: job %s", action, name, res)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
