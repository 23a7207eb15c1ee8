package casesession

import (
	"context"

	"github.com/pion/logging"

	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/exchange"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/metrics"
	"github.com/Orzech99/matter.js/pkg/securechannel"
	"github.com/Orzech99/matter.js/pkg/session"
)

// ClientConfig configures a CASE Client.
type ClientConfig struct {
	// Exchanges is required.
	Exchanges *exchange.Manager

	// Params are the local MRP parameters announced to the peer.
	Params session.Params

	Metrics       *metrics.Metrics
	LoggerFactory logging.LoggerFactory
}

// Client runs CASE as the initiator.
type Client struct {
	log       logging.LeveledLogger
	exchanges *exchange.Manager
	params    session.Params
	metrics   *metrics.Metrics
}

// NewClient creates a CASE client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Exchanges == nil {
		return nil, errs.Errorf(errs.KindImplementation, "casesession.NewClient", "no exchange manager")
	}
	if err := config.Params.Validate(); err != nil {
		return nil, errs.E(errs.KindValidation, "casesession.NewClient", err)
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Client{
		log:       config.LoggerFactory.NewLogger("case"),
		exchanges: config.Exchanges,
		params:    config.Params.WithDefaults(),
		metrics:   config.Metrics,
	}, nil
}

// Pair establishes an operational session with peerNodeID over the
// unsecured channel ch, resuming a stored session when possible. ch is
// consumed whether or not the handshake succeeds.
//
// Every failure is reported as RetransmissionLimit, with the cause kept in
// the chain, so callers iterating over addresses treat them alike.
func (c *Client) Pair(ctx context.Context, ch *exchange.MessageChannel, f *fabric.Fabric, peerNodeID fabric.NodeID) (*exchange.MessageChannel, error) {
	const op = "casesession.Pair"
	sessions := c.exchanges.SessionManager()

	localID, err := sessions.GetNextAvailableSessionID()
	if err != nil {
		_ = ch.Close()
		return nil, errs.E(errs.KindImplementation, op, err)
	}

	record, _ := sessions.FindResumptionRecordByNodeID(peerNodeID)
	hs, err := NewInitiator(f, peerNodeID, record)
	if err != nil {
		_ = ch.Close()
		sessions.ReleaseSessionID(localID)
		return nil, errs.E(errs.KindImplementation, op, err)
	}
	hs.SetLocalParams(c.params)

	secure, err := c.handshake(ctx, ch, hs, localID)
	_ = ch.Close()
	c.metrics.Handshake("case", RoleInitiator.String(), err)
	if err != nil {
		sessions.ReleaseSessionID(localID)
		c.log.Debugf("CASE with %s at %s failed: %v", peerNodeID, ch.RemoteAddress(), err)
		return nil, errs.E(errs.KindRetransmissionLimit, op, securechannel.Classify(op, err))
	}

	if rec, err := hs.ResumptionRecord(); err == nil {
		if err := sessions.SaveResumptionRecord(rec); err != nil {
			c.log.Warnf("Saving %s: %v", rec, err)
		}
	}
	c.log.Infof("CASE session with %s established (resumed=%t): %s", peerNodeID, hs.IsResumption(), secure)
	return c.exchanges.NewMessageChannel(ch.Channel(), secure), nil
}

func (c *Client) handshake(ctx context.Context, ch *exchange.MessageChannel, hs *Session, localID uint16) (*session.SecureSession, error) {
	const op = "casesession.Pair"

	ex, err := c.exchanges.InitiateExchangeWithChannel(ch, securechannel.ProtocolID)
	if err != nil {
		return nil, err
	}
	defer ex.Close()

	sigma1, err := hs.Start(localID)
	if err != nil {
		return nil, err
	}
	if err := securechannel.Send(ctx, ex, securechannel.OpcodeCASESigma1, sigma1); err != nil {
		return nil, err
	}

	opcode, reply, err := securechannel.Receive(ctx, ex, op,
		securechannel.OpcodeCASESigma2, securechannel.OpcodeCASESigma2Resume)
	if err != nil {
		return nil, err
	}

	if opcode == securechannel.OpcodeCASESigma2Resume {
		if err := hs.HandleSigma2Resume(reply); err != nil {
			abort(c.log, ex)
			return nil, err
		}
		if err := securechannel.SendStatus(ctx, ex, securechannel.Success()); err != nil {
			return nil, err
		}
	} else {
		sigma3, err := hs.HandleSigma2(reply)
		if err != nil {
			abort(c.log, ex)
			return nil, err
		}
		if err := securechannel.Send(ctx, ex, securechannel.OpcodeCASESigma3, sigma3); err != nil {
			return nil, err
		}
		if err := securechannel.ExpectSuccess(ctx, ex, op); err != nil {
			return nil, err
		}
		if err := hs.Complete(); err != nil {
			return nil, err
		}
	}

	params, err := hs.SecureSessionParams()
	if err != nil {
		return nil, err
	}
	return c.exchanges.SessionManager().CreateSecureSession(params)
}

func abort(log logging.LeveledLogger, ex *exchange.Exchange) {
	if err := securechannel.Abort(ex, securechannel.InvalidParam()); err != nil {
		log.Debugf("%v", err)
	}
}
