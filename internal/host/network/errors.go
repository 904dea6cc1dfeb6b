package network

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// Precondition errors. They are returned before any host state is touched
// and all match errdefs.IsInvalidArgument.
var (
	ErrInvalidInstanceID = fmt.Errorf("invalid instance id: %w", errdefs.ErrInvalidArgument)
	ErrInvalidPrefix     = fmt.Errorf("invalid subnet prefix: %w", errdefs.ErrInvalidArgument)
	ErrNoAddressFamily   = fmt.Errorf("no address family selected: %w", errdefs.ErrInvalidArgument)
	ErrInvalidName       = fmt.Errorf("invalid interface name: %w", errdefs.ErrInvalidArgument)
)
