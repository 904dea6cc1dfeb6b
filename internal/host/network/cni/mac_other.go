//go:build !linux

package cni

import "github.com/containerd/errdefs"

// InterfaceMAC is only implemented on Linux.
func InterfaceMAC(string) (string, error) {
	return "", errdefs.ErrNotImplemented
}
