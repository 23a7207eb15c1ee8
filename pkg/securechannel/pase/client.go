package pase

import (
	"context"
	"time"

	"github.com/pion/logging"

	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/exchange"
	"github.com/Orzech99/matter.js/pkg/metrics"
	"github.com/Orzech99/matter.js/pkg/securechannel"
	"github.com/Orzech99/matter.js/pkg/session"
)

// ClientConfig configures a PASE Client.
type ClientConfig struct {
	// Exchanges is required.
	Exchanges *exchange.Manager

	// Params are the local MRP parameters announced to the device.
	// Zero fields use defaults.
	Params session.Params

	// BusyRetries is how often a Busy device is asked again after the
	// wait it announced. Default: DefaultBusyRetries. Negative disables.
	BusyRetries int

	Metrics       *metrics.Metrics
	LoggerFactory logging.LoggerFactory
}

// DefaultBusyRetries is the number of retries after a Busy response.
const DefaultBusyRetries = 2

// Client runs PASE as the commissioner.
type Client struct {
	log         logging.LeveledLogger
	exchanges   *exchange.Manager
	params      session.Params
	busyRetries int
	metrics     *metrics.Metrics
}

// NewClient creates a PASE client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Exchanges == nil {
		return nil, errs.Errorf(errs.KindImplementation, "pase.NewClient", "no exchange manager")
	}
	if err := config.Params.Validate(); err != nil {
		return nil, errs.E(errs.KindValidation, "pase.NewClient", err)
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	switch {
	case config.BusyRetries == 0:
		config.BusyRetries = DefaultBusyRetries
	case config.BusyRetries < 0:
		config.BusyRetries = 0
	}
	return &Client{
		log:         config.LoggerFactory.NewLogger("pase"),
		exchanges:   config.Exchanges,
		params:      config.Params.WithDefaults(),
		busyRetries: config.BusyRetries,
		metrics:     config.Metrics,
	}, nil
}

// Pair runs the handshake over the unsecured channel ch and returns a
// channel bound to the new PASE session. ch is consumed: its exchange and
// unsecured session are closed whether or not pairing succeeds.
//
// A silent device yields a RetransmissionLimit error. A confirmation
// mismatch or a failure report yields PairingFailed. A Busy device is
// retried after the wait it announced, up to BusyRetries times.
func (c *Client) Pair(ctx context.Context, ch *exchange.MessageChannel, passcode uint32) (*exchange.MessageChannel, error) {
	const op = "pase.Pair"
	sessions := c.exchanges.SessionManager()

	localID, err := sessions.GetNextAvailableSessionID()
	if err != nil {
		_ = ch.Close()
		return nil, errs.E(errs.KindImplementation, op, err)
	}

	secure, err := c.handshakeRetryBusy(ctx, ch, localID, passcode)
	// Closing the unsecured channel also closes the handshake exchange.
	_ = ch.Close()
	c.metrics.Handshake("pase", RoleInitiator.String(), err)
	if err != nil {
		sessions.ReleaseSessionID(localID)
		c.log.Debugf("Pairing with %s failed: %v", ch.RemoteAddress(), err)
		return nil, securechannel.Classify(op, err)
	}

	c.log.Infof("Paired with %s: %s", ch.RemoteAddress(), secure)
	return c.exchanges.NewMessageChannel(ch.Channel(), secure), nil
}

func (c *Client) handshakeRetryBusy(ctx context.Context, ch *exchange.MessageChannel, localID uint16, passcode uint32) (*session.SecureSession, error) {
	for retry := 0; ; retry++ {
		secure, err := c.handshake(ctx, ch, localID, passcode)
		wait, busy := securechannel.BusyWait(err)
		if !busy || retry >= c.busyRetries {
			return secure, err
		}
		c.log.Debugf("%s is busy, retrying in %s", ch.RemoteAddress(), wait)
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(wait):
		}
	}
}

func (c *Client) handshake(ctx context.Context, ch *exchange.MessageChannel, localID uint16, passcode uint32) (*session.SecureSession, error) {
	const op = "pase.Pair"

	ex, err := c.exchanges.InitiateExchangeWithChannel(ch, securechannel.ProtocolID)
	if err != nil {
		return nil, err
	}
	defer ex.Close()

	s := NewInitiator(passcode)
	s.SetLocalParams(c.params)

	req, err := s.Start(localID)
	if err != nil {
		return nil, err
	}
	if err := securechannel.Send(ctx, ex, securechannel.OpcodePBKDFParamRequest, req); err != nil {
		return nil, err
	}

	_, resp, err := securechannel.Receive(ctx, ex, op, securechannel.OpcodePBKDFParamResponse)
	if err != nil {
		return nil, err
	}
	pake1, err := s.HandlePBKDFParamResponse(resp)
	if err != nil {
		abort(c.log, ex)
		return nil, err
	}
	if err := securechannel.Send(ctx, ex, securechannel.OpcodePASEPake1, pake1); err != nil {
		return nil, err
	}

	_, pake2, err := securechannel.Receive(ctx, ex, op, securechannel.OpcodePASEPake2)
	if err != nil {
		return nil, err
	}
	pake3, err := s.HandlePake2(pake2)
	if err != nil {
		abort(c.log, ex)
		return nil, err
	}
	if err := securechannel.Send(ctx, ex, securechannel.OpcodePASEPake3, pake3); err != nil {
		return nil, err
	}

	if err := securechannel.ExpectSuccess(ctx, ex, op); err != nil {
		return nil, err
	}
	if err := s.Complete(); err != nil {
		return nil, err
	}

	return c.exchanges.SessionManager().CreateSecureSession(session.SecureSessionParams{
		Type:          session.TypePASE,
		SessionID:     localID,
		PeerSessionID: s.PeerSessionID(),
		SharedSecret:  s.SharedSecret(),
		IsInitiator:   true,
		PeerParams:    s.PeerParams(),
	})
}

func abort(log logging.LeveledLogger, ex *exchange.Exchange) {
	if err := securechannel.Abort(ex, securechannel.InvalidParam()); err != nil {
		log.Debugf("%v", err)
	}
}
