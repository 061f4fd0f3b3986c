// Package router decodes inbound UDP frames by their wire community/service
// prefix and dispatches each to whichever subsystem owns its message type:
// the handshake manager for introduction/puncture traffic, the circuit
// network client and tunnel proxy for onion-routing traffic.
package router

import (
	"github.com/tribler-go/tunnelcore/pkg/circuit"
	"github.com/tribler-go/tunnelcore/pkg/handshake"
	"github.com/tribler-go/tunnelcore/pkg/logger"
	"github.com/tribler-go/tunnelcore/pkg/tunnel"
	"github.com/tribler-go/tunnelcore/pkg/wire"
)

// Router holds no mutable state of its own; Handle is safe to call
// concurrently from the transport's receive loop (it is called serially in
// practice, since Transport owns a single receive goroutine).
type Router struct {
	handshake *handshake.Manager
	netClient *circuit.NetworkClient
	circuits  *circuit.Table
	proxy     *tunnel.Proxy
	logger    *logger.Logger
}

// Config holds Router construction parameters. Handshake and NetworkClient
// are required to route handshake and CREATE/EXTEND traffic respectively;
// Circuits and Proxy are required to route DESTROY and DATA respectively.
// A nil dependency simply causes frames addressed to it to be dropped and
// logged, rather than panicking.
type Config struct {
	Handshake     *handshake.Manager
	NetworkClient *circuit.NetworkClient
	Circuits      *circuit.Table
	Proxy         *tunnel.Proxy
	Logger        *logger.Logger
}

// New builds a Router from cfg.
func New(cfg Config) *Router {
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault()
	}
	return &Router{
		handshake: cfg.Handshake,
		netClient: cfg.NetworkClient,
		circuits:  cfg.Circuits,
		proxy:     cfg.Proxy,
		logger:    log.Component("router"),
	}
}

// Handle implements transport.FrameHandler. It decodes data's wire prefix
// and dispatches the remaining payload by Service byte and message type.
// Any decode failure or unroutable frame is logged and dropped; Handle
// never returns an error since the transport's receive loop treats it as
// fire-and-forget.
func (r *Router) Handle(data []byte, src circuit.Endpoint) {
	prefix, msgType, payload, err := wire.DecodePrefix(data)
	if err != nil {
		r.logger.Debug("dropped undecodable frame", "src_ipv4", src.IPv4, "src_port", src.Port, "error", err)
		return
	}

	switch prefix.Service {
	case wire.ServiceHandshake:
		r.handleHandshake(wire.IntroMsgType(msgType), payload, src)
	case wire.ServiceCircuit:
		r.handleCircuit(wire.CircuitMsgType(msgType), payload, src)
	default:
		r.logger.Debug("dropped frame with unrecognized service byte", "service", prefix.Service)
	}
}

func (r *Router) handleHandshake(msgType wire.IntroMsgType, payload []byte, src circuit.Endpoint) {
	if r.handshake == nil {
		r.logger.Debug("dropped handshake frame, no handshake manager configured", "msg_type", msgType.String())
		return
	}

	switch msgType {
	case wire.MsgIntroResponse:
		p, err := wire.DecodeIntroResponse(payload)
		if err != nil {
			r.logger.Debug("dropped malformed IntroResponse", "error", err)
			return
		}
		r.handshake.HandleIntroResponse(p)

	case wire.MsgPuncture:
		p, err := wire.DecodePuncture(payload)
		if err != nil {
			r.logger.Debug("dropped malformed Puncture", "error", err)
			return
		}
		r.handshake.HandlePuncture(p, src)

	case wire.MsgIntroRequest, wire.MsgPunctureRequest:
		// Answering an inbound IntroRequest/PunctureRequest requires a
		// responder-side handshake role the manager does not implement
		// yet; drop rather than silently half-answer the exchange.
		r.logger.Debug("dropped unsupported handshake request", "msg_type", msgType.String(), "src_ipv4", src.IPv4, "src_port", src.Port)

	default:
		r.logger.Debug("dropped frame with unknown handshake message type", "msg_type", byte(msgType))
	}
}

func (r *Router) handleCircuit(msgType wire.CircuitMsgType, payload []byte, src circuit.Endpoint) {
	switch msgType {
	case wire.MsgCreated:
		if r.netClient == nil {
			r.logger.Debug("dropped CREATED, no network client configured")
			return
		}
		p, err := wire.DecodeCreated(payload)
		if err != nil {
			r.logger.Debug("dropped malformed CREATED", "error", err)
			return
		}
		r.netClient.DeliverCreated(p)

	case wire.MsgExtended:
		if r.netClient == nil {
			r.logger.Debug("dropped EXTENDED, no network client configured")
			return
		}
		p, err := wire.DecodeCreated(payload)
		if err != nil {
			r.logger.Debug("dropped malformed EXTENDED", "error", err)
			return
		}
		r.netClient.DeliverExtended(p)

	case wire.MsgData:
		if r.proxy == nil {
			r.logger.Debug("dropped DATA, no tunnel proxy configured")
			return
		}
		p, err := wire.DecodeData(payload)
		if err != nil {
			r.logger.Debug("dropped malformed DATA", "error", err)
			return
		}
		if err := r.proxy.Dispatch(p); err != nil {
			r.logger.Debug("DATA frame dispatch failed", "error", err)
		}

	case wire.MsgDestroy:
		if r.circuits == nil {
			r.logger.Debug("dropped DESTROY, no circuit table configured")
			return
		}
		p, err := wire.DecodeDestroy(payload)
		if err != nil {
			r.logger.Debug("dropped malformed DESTROY", "error", err)
			return
		}
		if c, ok := r.circuits.Get(p.CircuitID); ok {
			c.Close()
		}

	case wire.MsgCreate, wire.MsgExtend:
		// This build only initiates CREATE/EXTEND; answering them as a
		// relay is out of scope here.
		r.logger.Debug("dropped unsupported circuit message type", "msg_type", msgType.String(), "src_ipv4", src.IPv4, "src_port", src.Port)

	default:
		r.logger.Debug("dropped frame with unknown circuit message type", "msg_type", byte(msgType))
	}
}
