package securechannel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/exchange"
)

// DefaultBusyWait is the back-off announced in Busy responses.
const DefaultBusyWait = 500 * time.Millisecond

// BusyWait reports whether err carries a Busy response and how long the
// peer asked to wait before retrying.
func BusyWait(err error) (time.Duration, bool) {
	var sr *StatusReport
	if !errors.As(err, &sr) || !sr.IsBusy() {
		return 0, false
	}
	wait := time.Duration(sr.BusyWaitTime()) * time.Millisecond
	if wait == 0 {
		wait = DefaultBusyWait
	}
	return wait, true
}

// Send transmits one handshake message and waits for its acknowledgement.
func Send(ctx context.Context, ex *exchange.Exchange, op Opcode, payload []byte) error {
	return ex.Send(ctx, uint8(op), payload)
}

// SendStatus transmits a status report.
func SendStatus(ctx context.Context, ex *exchange.Exchange, sr *StatusReport) error {
	return Send(ctx, ex, OpcodeStatusReport, sr.Encode())
}

// Receive waits for the next message and requires it to be expected.
// A status report in its place is returned as a PairingFailed error
// wrapping the *StatusReport. Timeouts keep their RetransmissionLimit kind.
func Receive(ctx context.Context, ex *exchange.Exchange, op string, expected ...Opcode) (Opcode, []byte, error) {
	msg, err := ex.NextMessage(ctx)
	if err != nil {
		return 0, nil, err
	}
	if msg.ProtocolID != ProtocolID {
		return 0, nil, errs.Errorf(errs.KindPairingFailed, op, "unexpected protocol %s", msg.ProtocolID)
	}

	got := Opcode(msg.Opcode)
	for _, want := range expected {
		if got == want {
			return got, msg.Payload, nil
		}
	}
	if got == OpcodeStatusReport {
		sr, err := DecodeStatusReport(msg.Payload)
		if err != nil {
			return 0, nil, errs.E(errs.KindPairingFailed, op, err)
		}
		return 0, nil, errs.E(errs.KindPairingFailed, op, sr)
	}
	return 0, nil, errs.Errorf(errs.KindPairingFailed, op, "unexpected %s, want %v", got, expected)
}

// ExpectSuccess waits for the status report that completes a handshake.
func ExpectSuccess(ctx context.Context, ex *exchange.Exchange, op string) error {
	_, payload, err := Receive(ctx, ex, op, OpcodeStatusReport)
	if err != nil {
		return err
	}
	sr, err := DecodeStatusReport(payload)
	if err != nil {
		return errs.E(errs.KindPairingFailed, op, err)
	}
	if !sr.IsSuccess() || !sr.IsSecureChannel() || sr.SecureChannelCode() != ProtocolCodeSuccess {
		return errs.E(errs.KindPairingFailed, op, sr)
	}
	return nil
}

// Classify tags a handshake failure. Errors that already carry a kind keep
// it, deadlines become RetransmissionLimit and everything else is a
// PairingFailed.
func Classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errs.KindOf(err) != errs.KindUnknown:
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return errs.E(errs.KindRetransmissionLimit, op, err)
	default:
		return errs.E(errs.KindPairingFailed, op, err)
	}
}

// Abort sends a failure report on a best-effort basis. Errors are
// returned for logging only.
func Abort(ex *exchange.Exchange, sr *StatusReport) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := SendStatus(ctx, ex, sr); err != nil {
		return fmt.Errorf("securechannel: sending %s: %w", sr, err)
	}
	return nil
}
