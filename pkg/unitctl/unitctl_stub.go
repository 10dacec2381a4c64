//go:build !linux

package unitctl

import "context"

type Controller struct{}

func Open(ctx context.Context) (*Controller, error) { return nil, ErrUnsupported }

func (c *Controller) Close() error { return nil }

func (c *Controller) Do(ctx context.Context, action Action, unit string) error {
	return ErrUnsupported
}
