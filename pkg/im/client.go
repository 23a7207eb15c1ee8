package im

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/logging"

	"github.com/Orzech99/matter.js/pkg/codec"
	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/exchange"
	"github.com/Orzech99/matter.js/pkg/message"
)

// DefaultRequestTimeout bounds one Invoke when the context has no deadline.
const DefaultRequestTimeout = 30 * time.Second

// ClientConfig configures a Client.
type ClientConfig struct {
	// Exchanges is required.
	Exchanges *exchange.Manager

	// Timeout defaults to DefaultRequestTimeout.
	Timeout time.Duration

	LoggerFactory logging.LoggerFactory
}

// Client invokes commands on a peer.
//
// Usage:
//
//	client, _ := im.NewClient(im.ClientConfig{Exchanges: exchanges})
//	var resp ArmFailSafeResponse
//	err := client.Invoke(ctx, ch, path, &ArmFailSafeRequest{...}, &resp)
type Client struct {
	log       logging.LeveledLogger
	exchanges *exchange.Manager
	timeout   time.Duration
}

// NewClient creates a client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Exchanges == nil {
		return nil, errs.New(errs.KindImplementation, "im: Exchanges is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultRequestTimeout
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Client{
		log:       config.LoggerFactory.NewLogger("im"),
		exchanges: config.Exchanges,
		timeout:   config.Timeout,
	}, nil
}

// Invoke sends the command at path with req as its fields and decodes the
// response fields into resp. A nil req sends no fields; a nil resp ignores
// them. A non-success status is returned as a *StatusError.
func (c *Client) Invoke(ctx context.Context, ch *exchange.MessageChannel, path CommandPath, req, resp any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	request := invokeRequest{Path: path}
	if req != nil {
		fields, err := codec.Marshal(req)
		if err != nil {
			return fmt.Errorf("im: encode %s: %w", path, err)
		}
		request.Fields = fields
	}
	payload, err := codec.Marshal(&request)
	if err != nil {
		return fmt.Errorf("im: encode %s: %w", path, err)
	}

	ex, err := c.exchanges.InitiateExchangeWithChannel(ch, message.ProtocolInteractionModel)
	if err != nil {
		return err
	}
	defer ex.Close()

	c.log.Tracef("Invoke %s on %s", path, ch.Name())
	if err := ex.Send(ctx, uint8(OpcodeInvokeRequest), payload); err != nil {
		return fmt.Errorf("im: invoke %s: %w", path, err)
	}
	msg, err := ex.NextMessage(ctx)
	if err != nil {
		return fmt.Errorf("im: invoke %s: %w", path, err)
	}
	if msg.ProtocolID != message.ProtocolInteractionModel {
		return fmt.Errorf("%w: %s opcode 0x%02x", ErrUnexpectedResponse, msg.ProtocolID, msg.Opcode)
	}

	switch Opcode(msg.Opcode) {
	case OpcodeStatusResponse:
		var status statusResponse
		if err := codec.Unmarshal(msg.Payload, &status); err != nil {
			return fmt.Errorf("im: decode status of %s: %w", path, err)
		}
		return &StatusError{Path: path, Status: status.Status}

	case OpcodeInvokeResponse:
		var response invokeResponse
		if err := codec.Unmarshal(msg.Payload, &response); err != nil {
			return fmt.Errorf("im: decode response of %s: %w", path, err)
		}
		if response.Path != path {
			return fmt.Errorf("%w: response for %s", ErrUnexpectedResponse, response.Path)
		}
		if response.Status != StatusSuccess {
			return &StatusError{Path: path, Status: response.Status}
		}
		if resp == nil {
			return nil
		}
		if err := codec.Unmarshal(response.Fields, resp); err != nil {
			return fmt.Errorf("im: decode fields of %s: %w", path, err)
		}
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedResponse, Opcode(msg.Opcode))
	}
}
