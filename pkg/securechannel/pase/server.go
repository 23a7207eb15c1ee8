package pase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/exchange"
	"github.com/Orzech99/matter.js/pkg/metrics"
	"github.com/Orzech99/matter.js/pkg/securechannel"
	"github.com/Orzech99/matter.js/pkg/session"
)

// DefaultHandshakeTimeout bounds one responder handshake.
const DefaultHandshakeTimeout = time.Minute

// ServerConfig configures a PASE Server.
type ServerConfig struct {
	// Exchanges is required.
	Exchanges *exchange.Manager

	// Verifier, Salt and Iterations are the commissioning window's
	// passcode material. Use GenerateVerifier to derive them.
	Verifier   *Verifier
	Salt       []byte
	Iterations uint32

	// Params are the local MRP parameters announced to the commissioner.
	Params session.Params

	// HandshakeTimeout defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// OnSession is called with every established session.
	OnSession func(ch *exchange.MessageChannel)

	Metrics       *metrics.Metrics
	LoggerFactory logging.LoggerFactory
}

// Server answers PASE handshakes as the commissionee. It serves one
// handshake at a time; concurrent attempts are answered with Busy.
type Server struct {
	log     logging.LeveledLogger
	config  ServerConfig
	metrics *metrics.Metrics
	busy    atomic.Bool
}

// NewServer validates config and creates a server.
func NewServer(config ServerConfig) (*Server, error) {
	const op = "pase.NewServer"
	if config.Exchanges == nil {
		return nil, errs.Errorf(errs.KindImplementation, op, "no exchange manager")
	}
	if config.Verifier == nil {
		return nil, errs.E(errs.KindValidation, op, ErrNoVerifier)
	}
	if err := ValidatePBKDFParams(config.Salt, config.Iterations); err != nil {
		return nil, errs.E(errs.KindValidation, op, err)
	}
	if err := config.Params.Validate(); err != nil {
		return nil, errs.E(errs.KindValidation, op, err)
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	config.Params = config.Params.WithDefaults()
	return &Server{
		log:     config.LoggerFactory.NewLogger("pase"),
		config:  config,
		metrics: config.Metrics,
	}, nil
}

// Register routes PBKDFParamRequests from d to the server.
func (s *Server) Register(d *securechannel.Dispatcher) {
	d.Handle(securechannel.OpcodePBKDFParamRequest, s)
}

// Unregister stops serving PASE on d.
func (s *Server) Unregister(d *securechannel.Dispatcher) {
	d.Handle(securechannel.OpcodePBKDFParamRequest, nil)
}

// HandleHandshake implements securechannel.Responder.
func (s *Server) HandleHandshake(ex *exchange.Exchange, first *exchange.Message) {
	unsecured := ex.Channel()
	if ex.Session().IsSecure() {
		s.log.Warnf("Rejecting PASE over secure %s", ex.Session())
		abort(s.log, ex)
		_ = ex.Close()
		return
	}

	if !s.busy.CompareAndSwap(false, true) {
		s.log.Debugf("Busy, rejecting PASE from %s", unsecured.RemoteAddress())
		if err := securechannel.Abort(ex, securechannel.Busy(uint16(securechannel.DefaultBusyWait.Milliseconds()))); err != nil {
			s.log.Debugf("%v", err)
		}
		_ = unsecured.Close()
		return
	}
	// The next commissioner may start as soon as it sees our Success, so
	// the slot is freed once the session exists rather than on return.
	release := sync.OnceFunc(func() { s.busy.Store(false) })
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.HandshakeTimeout)
	defer cancel()

	ch, err := s.respond(ctx, ex, first, release)
	_ = unsecured.Close()
	s.metrics.Handshake("pase", RoleResponder.String(), err)
	if err != nil {
		s.log.Infof("PASE with %s failed: %v", unsecured.RemoteAddress(), err)
		return
	}

	s.log.Infof("PASE session established: %s", ch.Session())
	if s.config.OnSession != nil {
		s.config.OnSession(ch)
	}
}

func (s *Server) respond(ctx context.Context, ex *exchange.Exchange, first *exchange.Message, release func()) (*exchange.MessageChannel, error) {
	const op = "pase.Server"
	sessions := s.config.Exchanges.SessionManager()

	localID, err := sessions.GetNextAvailableSessionID()
	if err != nil {
		if err := securechannel.Abort(ex, securechannel.Busy(uint16(securechannel.DefaultBusyWait.Milliseconds()))); err != nil {
			s.log.Debugf("%v", err)
		}
		return nil, err
	}
	established := false
	defer func() {
		if !established {
			sessions.ReleaseSessionID(localID)
		}
	}()

	hs, err := NewResponder(s.config.Verifier, s.config.Salt, s.config.Iterations)
	if err != nil {
		return nil, err
	}
	hs.SetLocalParams(s.config.Params)

	resp, err := hs.HandlePBKDFParamRequest(first.Payload, localID)
	if err != nil {
		abort(s.log, ex)
		return nil, securechannel.Classify(op, err)
	}
	if err := securechannel.Send(ctx, ex, securechannel.OpcodePBKDFParamResponse, resp); err != nil {
		return nil, securechannel.Classify(op, err)
	}

	_, pake1, err := securechannel.Receive(ctx, ex, op, securechannel.OpcodePASEPake1)
	if err != nil {
		return nil, securechannel.Classify(op, err)
	}
	pake2, err := hs.HandlePake1(pake1)
	if err != nil {
		abort(s.log, ex)
		return nil, securechannel.Classify(op, err)
	}
	if err := securechannel.Send(ctx, ex, securechannel.OpcodePASEPake2, pake2); err != nil {
		return nil, securechannel.Classify(op, err)
	}

	_, pake3, err := securechannel.Receive(ctx, ex, op, securechannel.OpcodePASEPake3)
	if err != nil {
		return nil, securechannel.Classify(op, err)
	}
	if err := hs.HandlePake3(pake3); err != nil {
		abort(s.log, ex)
		return nil, securechannel.Classify(op, err)
	}

	secure, err := sessions.CreateSecureSession(session.SecureSessionParams{
		Type:          session.TypePASE,
		SessionID:     localID,
		PeerSessionID: hs.PeerSessionID(),
		SharedSecret:  hs.SharedSecret(),
		PeerParams:    hs.PeerParams(),
	})
	if err != nil {
		abort(s.log, ex)
		return nil, errs.E(errs.KindImplementation, op, err)
	}
	established = true
	release()

	if err := securechannel.SendStatus(ctx, ex, securechannel.Success()); err != nil {
		_ = s.config.Exchanges.CloseSession(secure)
		return nil, securechannel.Classify(op, err)
	}
	_ = ex.Close()
	return s.config.Exchanges.NewMessageChannel(ex.Channel().Channel(), secure), nil
}
