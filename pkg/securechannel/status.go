package securechannel

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// StatusReportMinSize is GeneralCode(2) + ProtocolID(4) + ProtocolCode(2).
const StatusReportMinSize = 8

// ErrStatusReportTooShort is returned when decoding a truncated report.
var ErrStatusReportTooShort = errors.New("securechannel: status report too short")

// StatusReport ends a handshake or reports a session event. It is also an
// error: a failure report received from a peer is returned as-is.
type StatusReport struct {
	GeneralCode GeneralCode
	// ProtocolID is VendorID (upper 16 bits) | ProtocolID (lower 16 bits).
	ProtocolID   uint32
	ProtocolCode uint16
	ProtocolData []byte
}

// NewStatusReport creates a secure channel status report.
func NewStatusReport(general GeneralCode, code ProtocolCode) *StatusReport {
	return &StatusReport{
		GeneralCode:  general,
		ProtocolID:   uint32(ProtocolID),
		ProtocolCode: uint16(code),
	}
}

// Success reports an established session.
func Success() *StatusReport {
	return NewStatusReport(GeneralCodeSuccess, ProtocolCodeSuccess)
}

// InvalidParam reports a malformed or unverifiable handshake message.
func InvalidParam() *StatusReport {
	return NewStatusReport(GeneralCodeFailure, ProtocolCodeInvalidParam)
}

// NoSharedRoot reports that no fabric matched the CASE destination.
func NoSharedRoot() *StatusReport {
	return NewStatusReport(GeneralCodeFailure, ProtocolCodeNoSharedRoot)
}

// Busy asks the peer to retry after waitMs milliseconds.
func Busy(waitMs uint16) *StatusReport {
	s := NewStatusReport(GeneralCodeBusy, ProtocolCodeBusy)
	s.ProtocolData = binary.LittleEndian.AppendUint16(nil, waitMs)
	return s
}

// CloseSession tells the peer that the sending side closed the session.
func CloseSession() *StatusReport {
	return NewStatusReport(GeneralCodeSuccess, ProtocolCodeCloseSession)
}

// Encode serializes the report.
func (s *StatusReport) Encode() []byte {
	buf := make([]byte, 0, StatusReportMinSize+len(s.ProtocolData))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(s.GeneralCode))
	buf = binary.LittleEndian.AppendUint32(buf, s.ProtocolID)
	buf = binary.LittleEndian.AppendUint16(buf, s.ProtocolCode)
	return append(buf, s.ProtocolData...)
}

// DecodeStatusReport parses a report.
func DecodeStatusReport(data []byte) (*StatusReport, error) {
	if len(data) < StatusReportMinSize {
		return nil, ErrStatusReportTooShort
	}
	s := &StatusReport{
		GeneralCode:  GeneralCode(binary.LittleEndian.Uint16(data[0:2])),
		ProtocolID:   binary.LittleEndian.Uint32(data[2:6]),
		ProtocolCode: binary.LittleEndian.Uint16(data[6:8]),
	}
	if len(data) > StatusReportMinSize {
		s.ProtocolData = append([]byte(nil), data[StatusReportMinSize:]...)
	}
	return s, nil
}

// IsSuccess reports a success general code.
func (s *StatusReport) IsSuccess() bool {
	return s.GeneralCode == GeneralCodeSuccess
}

// IsSecureChannel reports whether ProtocolCode is a secure channel code.
func (s *StatusReport) IsSecureChannel() bool {
	return s.ProtocolID == uint32(ProtocolID)
}

// SecureChannelCode returns ProtocolCode as a secure channel code.
func (s *StatusReport) SecureChannelCode() ProtocolCode {
	return ProtocolCode(s.ProtocolCode)
}

// IsBusy reports a secure channel Busy response.
func (s *StatusReport) IsBusy() bool {
	return s.GeneralCode == GeneralCodeBusy && s.IsSecureChannel() &&
		s.SecureChannelCode() == ProtocolCodeBusy
}

// IsCloseSession reports a CloseSession notification.
func (s *StatusReport) IsCloseSession() bool {
	return s.IsSuccess() && s.IsSecureChannel() && s.SecureChannelCode() == ProtocolCodeCloseSession
}

// BusyWaitTime returns the requested back-off of a Busy response in
// milliseconds, or 0.
func (s *StatusReport) BusyWaitTime() uint16 {
	if !s.IsBusy() || len(s.ProtocolData) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(s.ProtocolData)
}

func (s *StatusReport) String() string {
	if s.IsSecureChannel() {
		return fmt.Sprintf("StatusReport{%s, SecureChannel, %s}", s.GeneralCode, s.SecureChannelCode())
	}
	return fmt.Sprintf("StatusReport{%s, 0x%08X, 0x%04X}", s.GeneralCode, s.ProtocolID, s.ProtocolCode)
}

func (s *StatusReport) Error() string {
	return "securechannel: peer reported " + s.String()
}
