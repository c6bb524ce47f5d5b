package rpc

import (
	"net"
	"net/rpc"
)

// Emu is the set of emulator controls callable from any goroutine.
type Emu interface {
	SetPause(pause bool)
	IsPaused() bool
	Stop()
	TapReset() error
	SetOverclock(enabled bool, factor float64) error

	Ticks() uint64
	DrawnFields() uint64
	AudioSamples() uint64
}

type emuProxy struct {
	emu Emu
}

func (ep *emuProxy) TapReset(_, _ *struct{}) error           { return ep.emu.TapReset() }
func (ep *emuProxy) SetPause(pause bool, _ *struct{}) error { ep.emu.SetPause(pause); return nil }
func (ep *emuProxy) Stop(_ *struct{}, _ *struct{}) error    { ep.emu.Stop(); return nil }

func (ep *emuProxy) SetOverclock(oc Overclock, _ *struct{}) error {
	return ep.emu.SetOverclock(oc.Enabled, oc.Factor)
}

func (ep *emuProxy) Status(_ *struct{}, reply *Status) error {
	*reply = Status{
		Ticks:        ep.emu.Ticks(),
		Paused:       ep.emu.IsPaused(),
		DrawnFields:  ep.emu.DrawnFields(),
		AudioSamples: ep.emu.AudioSamples(),
	}
	return nil
}

type Server struct {
	l net.Listener
}

// NewServer starts serving emu on addr (host:port).
func NewServer(addr string, emu Emu) (*Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName("emu", &emuProxy{emu: emu}); err != nil {
		return nil, err
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	modRPC.InfoZ("rpc server listening").String("addr", l.Addr().String()).End()
	go srv.Accept(l)
	return &Server{l: l}, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string { return s.l.Addr().String() }

func (s *Server) Close() error { return s.l.Close() }
