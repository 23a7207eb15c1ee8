// Package im carries commissioning commands between a controller and a
// device.
//
// It is a reduced Interaction Model: a single Invoke interaction where the
// initiator sends an InvokeRequest naming one command and the responder
// answers with an InvokeResponse carrying a status and optional response
// fields. Requests and responses are CBOR encoded and travel on an
// exchange of the Interaction Model protocol.
package im

import (
	"fmt"

	"github.com/Orzech99/matter.js/pkg/codec"
)

// Opcode is an Interaction Model message opcode.
type Opcode uint8

const (
	OpcodeStatusResponse Opcode = 0x01
	OpcodeInvokeRequest  Opcode = 0x08
	OpcodeInvokeResponse Opcode = 0x09
)

// String returns the name of the opcode.
func (o Opcode) String() string {
	switch o {
	case OpcodeStatusResponse:
		return "StatusResponse"
	case OpcodeInvokeRequest:
		return "InvokeRequest"
	case OpcodeInvokeResponse:
		return "InvokeResponse"
	default:
		return fmt.Sprintf("Opcode(0x%02x)", uint8(o))
	}
}

// ClusterID identifies a cluster.
type ClusterID uint32

// CommandID identifies a command within a cluster.
type CommandID uint32

// EndpointID identifies an endpoint. Commissioning runs on the root endpoint.
type EndpointID uint16

// RootEndpoint is the endpoint of every commissioning cluster.
const RootEndpoint EndpointID = 0

// CommandPath names one command.
type CommandPath struct {
	Endpoint EndpointID `cbor:"1,keyasint"`
	Cluster  ClusterID  `cbor:"2,keyasint"`
	Command  CommandID  `cbor:"3,keyasint"`
}

// NewCommandPath returns a path on the root endpoint.
func NewCommandPath(cluster ClusterID, command CommandID) CommandPath {
	return CommandPath{Endpoint: RootEndpoint, Cluster: cluster, Command: command}
}

func (p CommandPath) String() string {
	return fmt.Sprintf("%d/0x%04X/0x%02X", p.Endpoint, uint32(p.Cluster), uint32(p.Command))
}

type invokeRequest struct {
	Path   CommandPath      `cbor:"1,keyasint"`
	Fields codec.RawMessage `cbor:"2,keyasint,omitempty"`
}

type invokeResponse struct {
	Path   CommandPath      `cbor:"1,keyasint"`
	Status Status           `cbor:"2,keyasint"`
	Fields codec.RawMessage `cbor:"3,keyasint,omitempty"`
}

type statusResponse struct {
	Status Status `cbor:"1,keyasint"`
}
