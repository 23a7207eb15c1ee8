package casesession

import (
	"context"
	"errors"
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
const DefaultHandshakeTimeout = 30 * time.Second

// ServerConfig configures a CASE Server.
type ServerConfig struct {
	// Exchanges is required.
	Exchanges *exchange.Manager

	// Fabrics resolves Sigma1 destinations. Required.
	Fabrics FabricFinder

	// Params are the local MRP parameters announced to the initiator.
	Params session.Params

	// HandshakeTimeout defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// OnSession is called with every established session.
	OnSession func(ch *exchange.MessageChannel)

	Metrics       *metrics.Metrics
	LoggerFactory logging.LoggerFactory
}

// Server answers CASE handshakes, one at a time.
type Server struct {
	log     logging.LeveledLogger
	config  ServerConfig
	metrics *metrics.Metrics
	busy    atomic.Bool
}

// NewServer validates config and creates a server.
func NewServer(config ServerConfig) (*Server, error) {
	const op = "casesession.NewServer"
	if config.Exchanges == nil || config.Fabrics == nil {
		return nil, errs.Errorf(errs.KindImplementation, op, "exchange manager and fabrics are required")
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
		log:     config.LoggerFactory.NewLogger("case"),
		config:  config,
		metrics: config.Metrics,
	}, nil
}

// Register routes Sigma1 messages from d to the server.
func (s *Server) Register(d *securechannel.Dispatcher) {
	d.Handle(securechannel.OpcodeCASESigma1, s)
}

// HandleHandshake implements securechannel.Responder.
func (s *Server) HandleHandshake(ex *exchange.Exchange, first *exchange.Message) {
	unsecured := ex.Channel()
	if !s.busy.CompareAndSwap(false, true) {
		if err := securechannel.Abort(ex, securechannel.Busy(uint16(securechannel.DefaultBusyWait.Milliseconds()))); err != nil {
			s.log.Debugf("%v", err)
		}
		_ = unsecured.Close()
		return
	}
	defer s.busy.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.HandshakeTimeout)
	defer cancel()

	ch, err := s.respond(ctx, ex, first)
	_ = unsecured.Close()
	s.metrics.Handshake("case", RoleResponder.String(), err)
	if err != nil {
		s.log.Infof("CASE with %s failed: %v", unsecured.RemoteAddress(), err)
		return
	}

	s.log.Infof("CASE session established: %s", ch.Session())
	if s.config.OnSession != nil {
		s.config.OnSession(ch)
	}
}

func (s *Server) respond(ctx context.Context, ex *exchange.Exchange, first *exchange.Message) (*exchange.MessageChannel, error) {
	const op = "casesession.Server"
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

	hs := NewResponder(s.config.Fabrics, sessions)
	hs.SetLocalParams(s.config.Params)

	opcode, reply, err := hs.HandleSigma1(first.Payload, localID)
	if err != nil {
		report := securechannel.InvalidParam()
		if errors.Is(err, ErrNoSharedRoot) {
			report = securechannel.NoSharedRoot()
		}
		if err := securechannel.Abort(ex, report); err != nil {
			s.log.Debugf("%v", err)
		}
		return nil, securechannel.Classify(op, err)
	}
	if err := securechannel.Send(ctx, ex, opcode, reply); err != nil {
		return nil, securechannel.Classify(op, err)
	}

	if opcode == securechannel.OpcodeCASESigma2Resume {
		if err := securechannel.ExpectSuccess(ctx, ex, op); err != nil {
			return nil, securechannel.Classify(op, err)
		}
		if err := hs.Complete(); err != nil {
			return nil, err
		}
	} else {
		_, sigma3, err := securechannel.Receive(ctx, ex, op, securechannel.OpcodeCASESigma3)
		if err != nil {
			return nil, securechannel.Classify(op, err)
		}
		if err := hs.HandleSigma3(sigma3); err != nil {
			abort(s.log, ex)
			return nil, securechannel.Classify(op, err)
		}
	}

	params, err := hs.SecureSessionParams()
	if err != nil {
		return nil, err
	}
	secure, err := sessions.CreateSecureSession(params)
	if err != nil {
		abort(s.log, ex)
		return nil, errs.E(errs.KindImplementation, op, err)
	}
	established = true

	if !hs.IsResumption() {
		if err := securechannel.SendStatus(ctx, ex, securechannel.Success()); err != nil {
			_ = s.config.Exchanges.CloseSession(secure)
			return nil, securechannel.Classify(op, err)
		}
	}
	_ = ex.Close()

	if rec, err := hs.ResumptionRecord(); err == nil {
		if err := sessions.SaveResumptionRecord(rec); err != nil {
			s.log.Warnf("Saving %s: %v", rec, err)
		}
	}
	return s.config.Exchanges.NewMessageChannel(ex.Channel().Channel(), secure), nil
}
