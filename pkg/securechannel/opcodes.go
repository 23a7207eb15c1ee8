// Package securechannel holds the pieces shared by the PASE and CASE
// handshakes: opcodes, status reports, MRP parameter exchange and the
// Dispatcher that routes peer-initiated secure channel exchanges to the
// right responder.
package securechannel

import (
	"fmt"

	"github.com/Orzech99/matter.js/pkg/message"
)

// ProtocolID is the secure channel protocol.
const ProtocolID = message.ProtocolSecureChannel

// Opcode is a secure channel message type.
type Opcode uint8

// Counter sync and standalone acks are handled by the exchange layer and
// only named here for logging.
const (
	OpcodeMsgCounterSyncReq  Opcode = 0x00
	OpcodeMsgCounterSyncResp Opcode = 0x01
	OpcodeStandaloneAck      Opcode = 0x10

	OpcodePBKDFParamRequest  Opcode = 0x20
	OpcodePBKDFParamResponse Opcode = 0x21
	OpcodePASEPake1          Opcode = 0x22
	OpcodePASEPake2          Opcode = 0x23
	OpcodePASEPake3          Opcode = 0x24

	OpcodeCASESigma1       Opcode = 0x30
	OpcodeCASESigma2       Opcode = 0x31
	OpcodeCASESigma3       Opcode = 0x32
	OpcodeCASESigma2Resume Opcode = 0x33

	OpcodeStatusReport Opcode = 0x40
)

var opcodeNames = map[Opcode]string{
	OpcodeMsgCounterSyncReq:  "MsgCounterSyncReq",
	OpcodeMsgCounterSyncResp: "MsgCounterSyncResp",
	OpcodeStandaloneAck:      "StandaloneAck",
	OpcodePBKDFParamRequest:  "PBKDFParamRequest",
	OpcodePBKDFParamResponse: "PBKDFParamResponse",
	OpcodePASEPake1:          "Pake1",
	OpcodePASEPake2:          "Pake2",
	OpcodePASEPake3:          "Pake3",
	OpcodeCASESigma1:         "Sigma1",
	OpcodeCASESigma2:         "Sigma2",
	OpcodeCASESigma3:         "Sigma3",
	OpcodeCASESigma2Resume:   "Sigma2Resume",
	OpcodeStatusReport:       "StatusReport",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(0x%02x)", uint8(o))
}

// GeneralCode is the protocol independent part of a status report.
type GeneralCode uint16

const (
	GeneralCodeSuccess GeneralCode = iota
	GeneralCodeFailure
	GeneralCodeBadPrecondition
	GeneralCodeOutOfRange
	GeneralCodeBadRequest
	GeneralCodeUnsupported
	GeneralCodeUnexpected
	GeneralCodeResourceExhausted
	GeneralCodeBusy
	GeneralCodeTimeout
	GeneralCodeContinue
	GeneralCodeAborted
	GeneralCodeInvalidArgument
	GeneralCodeNotFound
	GeneralCodeAlreadyExists
	GeneralCodePermissionDenied
	GeneralCodeDataLoss
)

var generalCodeNames = [...]string{
	"SUCCESS", "FAILURE", "BAD_PRECONDITION", "OUT_OF_RANGE", "BAD_REQUEST",
	"UNSUPPORTED", "UNEXPECTED", "RESOURCE_EXHAUSTED", "BUSY", "TIMEOUT",
	"CONTINUE", "ABORTED", "INVALID_ARGUMENT", "NOT_FOUND", "ALREADY_EXISTS",
	"PERMISSION_DENIED", "DATA_LOSS",
}

func (g GeneralCode) String() string {
	if int(g) < len(generalCodeNames) {
		return generalCodeNames[g]
	}
	return fmt.Sprintf("GeneralCode(%d)", uint16(g))
}

// ProtocolCode is the secure channel specific part of a status report.
type ProtocolCode uint16

const (
	ProtocolCodeSuccess         ProtocolCode = 0x0000
	ProtocolCodeNoSharedRoot    ProtocolCode = 0x0001
	ProtocolCodeInvalidParam    ProtocolCode = 0x0002
	ProtocolCodeCloseSession    ProtocolCode = 0x0003
	ProtocolCodeBusy            ProtocolCode = 0x0004
	ProtocolCodeSessionNotFound ProtocolCode = 0x0005
	ProtocolCodeGeneralFailure  ProtocolCode = 0xFFFF
)

var protocolCodeNames = map[ProtocolCode]string{
	ProtocolCodeSuccess:         "SESSION_ESTABLISHED",
	ProtocolCodeNoSharedRoot:    "NO_SHARED_TRUST_ROOTS",
	ProtocolCodeInvalidParam:    "INVALID_PARAMETER",
	ProtocolCodeCloseSession:    "CLOSE_SESSION",
	ProtocolCodeBusy:            "BUSY",
	ProtocolCodeSessionNotFound: "SESSION_NOT_FOUND",
	ProtocolCodeGeneralFailure:  "GENERAL_FAILURE",
}

func (p ProtocolCode) String() string {
	if name, ok := protocolCodeNames[p]; ok {
		return name
	}
	return fmt.Sprintf("ProtocolCode(0x%04x)", uint16(p))
}
