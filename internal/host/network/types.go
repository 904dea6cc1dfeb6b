// Package network assembles tap devices, bridges, bridge filtering rules,
// NAT and DHCP into the per-instance network attachments of a VM.
//
// Builders are synchronous. A failed create rolls back exactly the steps it
// completed before returning, and every destroy is safe on resources that
// were never created. The package holds no lock over the host namespace:
// callers must not reuse an instance id or interface name concurrently.
package network

import (
	"slices"

	"github.com/spin-stack/cvdnet/internal/host/network/ebtables"
)

// EthernetStep is one completed step of an ethernet attachment.
type EthernetStep int

const (
	StepTap EthernetStep = iota
	StepLinked
	StepEbtablesIPv4
	StepEbtablesIPv6
)

func (s EthernetStep) String() string {
	switch s {
	case StepTap:
		return "tap"
	case StepLinked:
		return "linked"
	case StepEbtablesIPv4:
		return "ebtables-ipv4"
	case StepEbtablesIPv6:
		return "ebtables-ipv6"
	}
	return "unknown"
}

// EthernetNetworkConfig records what CreateEthernetIface completed, in
// order. It is a value: copies never share their step list.
type EthernetNetworkConfig struct {
	name   string
	bridge string
	tool   ebtables.Tool
	steps  []EthernetStep
}

// FullEthernetConfig assumes every step was completed, for destroying an
// attachment whose record was lost.
func FullEthernetConfig(name, bridge string, tool ebtables.Tool) EthernetNetworkConfig {
	return EthernetNetworkConfig{
		name:   name,
		bridge: bridge,
		tool:   tool,
		steps:  []EthernetStep{StepTap, StepLinked, StepEbtablesIPv4, StepEbtablesIPv6},
	}
}

func (c EthernetNetworkConfig) with(step EthernetStep) EthernetNetworkConfig {
	c.steps = append(slices.Clone(c.steps), step)
	return c
}

func (c EthernetNetworkConfig) Name() string        { return c.name }
func (c EthernetNetworkConfig) Bridge() string      { return c.bridge }
func (c EthernetNetworkConfig) Tool() ebtables.Tool { return c.tool }

// Steps returns the completed steps in creation order.
func (c EthernetNetworkConfig) Steps() []EthernetStep {
	return slices.Clone(c.steps)
}

// Has reports whether step was completed.
func (c EthernetNetworkConfig) Has(step EthernetStep) bool {
	return slices.Contains(c.steps, step)
}

// GatewayStep is one completed step of a bridge gateway.
type GatewayStep int

const (
	StepGateway GatewayStep = iota
	StepDnsmasq
	StepNAT
)

func (s GatewayStep) String() string {
	switch s {
	case StepGateway:
		return "gateway"
	case StepDnsmasq:
		return "dnsmasq"
	case StepNAT:
		return "nat"
	}
	return "unknown"
}

// GatewayConfig records what SetupBridgeGateway completed, in order.
type GatewayConfig struct {
	bridge  string
	address BridgeAddress
	steps   []GatewayStep
}

// FullGatewayConfig assumes every gateway step was completed.
func FullGatewayConfig(bridge string, address BridgeAddress) GatewayConfig {
	return GatewayConfig{
		bridge:  bridge,
		address: address,
		steps:   []GatewayStep{StepGateway, StepDnsmasq, StepNAT},
	}
}

func (c GatewayConfig) with(step GatewayStep) GatewayConfig {
	c.steps = append(slices.Clone(c.steps), step)
	return c
}

func (c GatewayConfig) Bridge() string         { return c.bridge }
func (c GatewayConfig) Address() BridgeAddress { return c.address }

// Steps returns the completed steps in creation order.
func (c GatewayConfig) Steps() []GatewayStep {
	return slices.Clone(c.steps)
}

// Has reports whether step was completed.
func (c GatewayConfig) Has(step GatewayStep) bool {
	return slices.Contains(c.steps, step)
}

// MobileAttachment describes a created mobile interface.
type MobileAttachment struct {
	Name    string
	Address MobileAddress
}

// EthernetRequest describes an ethernet attachment to an existing bridge.
type EthernetRequest struct {
	Name   string
	Bridge string
	// Families are the address families the bridge carries. Traffic of the
	// other families is filtered off the tap.
	Families Families
	Tool     ebtables.Tool
}
