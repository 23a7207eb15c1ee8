package im

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/Orzech99/matter.js/pkg/codec"
	"github.com/Orzech99/matter.js/pkg/exchange"
	"github.com/Orzech99/matter.js/pkg/message"
	"github.com/Orzech99/matter.js/pkg/session"
)

// DefaultHandlerTimeout bounds one inbound interaction.
const DefaultHandlerTimeout = 30 * time.Second

// Request is an inbound command.
type Request struct {
	Path    CommandPath
	Channel *exchange.MessageChannel
	fields  codec.RawMessage
}

// Session returns the session the command arrived on.
func (r *Request) Session() session.Session { return r.Channel.Session() }

// Decode decodes the command fields into v. Missing or malformed fields
// are reported as ErrInvalidCommand.
func (r *Request) Decode(v any) error {
	if err := codec.Unmarshal(r.fields, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidCommand, r.Path, err)
	}
	return nil
}

// HandlerFunc serves one command. The returned value, if not nil, is
// encoded as the response fields. The error selects the status through
// ErrorToStatus.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Timeout defaults to DefaultHandlerTimeout.
	Timeout time.Duration

	LoggerFactory logging.LoggerFactory
}

// Server dispatches inbound commands to handlers by path.
//
// Thread Safety: All methods are safe for concurrent use.
type Server struct {
	log     logging.LeveledLogger
	timeout time.Duration

	mu       sync.RWMutex
	handlers map[CommandPath]HandlerFunc
	clusters map[CommandPath]struct{} // Command is always 0
}

// NewServer creates a server without handlers.
func NewServer(config ServerConfig) *Server {
	if config.Timeout <= 0 {
		config.Timeout = DefaultHandlerTimeout
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Server{
		log:      config.LoggerFactory.NewLogger("im"),
		timeout:  config.Timeout,
		handlers: make(map[CommandPath]HandlerFunc),
		clusters: make(map[CommandPath]struct{}),
	}
}

// Handle registers h for path. A nil h removes the registration.
func (s *Server) Handle(path CommandPath, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		delete(s.handlers, path)
		return
	}
	s.handlers[path] = h
}

// AddCluster declares cluster on endpoint without any command, so that
// commands sent to it fail with UnsupportedCommand rather than
// UnsupportedCluster.
func (s *Server) AddCluster(endpoint EndpointID, cluster ClusterID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusters[CommandPath{Endpoint: endpoint, Cluster: cluster}] = struct{}{}
}

// Register serves the Interaction Model protocol of exchanges.
func (s *Server) Register(exchanges *exchange.Manager) {
	exchanges.RegisterProtocol(message.ProtocolInteractionModel, s)
}

func (s *Server) lookup(path CommandPath) (HandlerFunc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.handlers[path]; ok {
		return h, nil
	}
	if _, ok := s.clusters[CommandPath{Endpoint: path.Endpoint, Cluster: path.Cluster}]; ok {
		return nil, ErrCommandNotFound
	}
	for p := range s.handlers {
		if p.Endpoint == path.Endpoint && p.Cluster == path.Cluster {
			return nil, ErrCommandNotFound
		}
	}
	return nil, ErrClusterNotFound
}

// HandleExchange implements exchange.ProtocolHandler.
func (s *Server) HandleExchange(ex *exchange.Exchange) {
	defer ex.Close()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	msg, err := ex.NextMessage(ctx)
	if err != nil {
		s.log.Debugf("Reading request on %s: %v", ex.Channel().Name(), err)
		return
	}
	if Opcode(msg.Opcode) != OpcodeInvokeRequest {
		s.log.Debugf("Unsupported %s from %s", Opcode(msg.Opcode), ex.Channel().Name())
		s.sendStatus(ctx, ex, StatusInvalidAction)
		return
	}

	var request invokeRequest
	if err := codec.Unmarshal(msg.Payload, &request); err != nil {
		s.log.Debugf("Malformed InvokeRequest from %s: %v", ex.Channel().Name(), err)
		s.sendStatus(ctx, ex, StatusInvalidAction)
		return
	}

	response := invokeResponse{Path: request.Path}
	result, err := s.invoke(ctx, ex, &request)
	switch {
	case err != nil:
		response.Status = ErrorToStatus(err)
		s.log.Infof("Command %s failed: %v", request.Path, err)
	case result != nil:
		fields, err := codec.Marshal(result)
		if err != nil {
			s.log.Errorf("Encoding response of %s: %v", request.Path, err)
			response.Status = StatusFailure
			break
		}
		response.Fields = fields
	}

	payload, err := codec.Marshal(&response)
	if err != nil {
		s.log.Errorf("Encoding InvokeResponse: %v", err)
		return
	}
	if err := ex.Send(ctx, uint8(OpcodeInvokeResponse), payload); err != nil {
		s.log.Debugf("Sending response of %s: %v", request.Path, err)
	}
}

func (s *Server) invoke(ctx context.Context, ex *exchange.Exchange, request *invokeRequest) (any, error) {
	h, err := s.lookup(request.Path)
	if err != nil {
		return nil, err
	}
	s.log.Debugf("Invoke %s on %s", request.Path, ex.Channel().Name())
	return h(ctx, &Request{Path: request.Path, Channel: ex.Channel(), fields: request.Fields})
}

func (s *Server) sendStatus(ctx context.Context, ex *exchange.Exchange, status Status) {
	payload := codec.MustMarshal(&statusResponse{Status: status})
	if err := ex.Send(ctx, uint8(OpcodeStatusResponse), payload); err != nil {
		s.log.Debugf("Sending status %s: %v", status, err)
	}
}
