// Package control — server.go
//
// Unix domain socket server for pokeagent operator control.
//
// Protocol: newline-delimited JSON over a Unix domain socket.
// Socket path: /run/pokeagent/control.sock (configurable).
// Permissions: 0600.
//
// Commands (JSON request → JSON response):
//
//	{"cmd":"status"}
//	  → Returns the scheduler's current tick, mode, and recovery tier.
//	  → Response: {"ok":true,"tick":12345,"mode":"OVERWORLD.WALKING","recovery_tier":"none"}
//	    (zero-valued fields such as "paused":false are omitted)
//
//	{"cmd":"pause"}
//	  → Pauses the tick loop before its next iteration.
//	  → Response: {"ok":true,"paused":true}
//
//	{"cmd":"resume"}
//	  → Resumes a paused tick loop.
//	  → Response: {"ok":true}
//
//	{"cmd":"stop"}
//	  → Requests a graceful shutdown of the tick loop.
//	  → Response: {"ok":true}
//
// Security:
//   - Socket is created with 0600 permissions.
//   - Each connection is handled in a separate goroutine.
//   - Max concurrent connections: 4 (operator use only, not high-throughput).
//   - Max request size: 4096 bytes.
//   - Connection timeout: 10s read, 10s write.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/pokeloop/pokeagent/internal/scheduler"
)

const (
	maxConcurrentConns = 4
	maxRequestBytes    = 4096
	connTimeout        = 10 * time.Second
)

// SchedulerControl is the interface the control server uses to pause,
// resume, stop, and inspect the tick loop. Implemented by
// *scheduler.Scheduler.
type SchedulerControl interface {
	Pause()
	Resume()
	RequestStop()
	Status() scheduler.Status
}

// Request is the JSON structure for control commands.
type Request struct {
	Cmd string `json:"cmd"` // status | pause | resume | stop
}

// Response is the JSON structure for control command responses.
type Response struct {
	OK            bool    `json:"ok"`
	Error         string  `json:"error,omitempty"`
	Tick          uint64  `json:"tick,omitempty"`
	Mode          string  `json:"mode,omitempty"`
	RecoveryTier  string  `json:"recovery_tier,omitempty"`
	Paused        bool    `json:"paused,omitempty"`
	Degraded      bool    `json:"degraded,omitempty"`
	LastTickMS    float64 `json:"last_tick_ms,omitempty"`
	OverBudgetRun int     `json:"over_budget_run,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
	CurrentGoal   string  `json:"current_goal,omitempty"`
	LastEvent     string  `json:"last_event,omitempty"`
}

// Server is the control Unix domain socket server.
type Server struct {
	socketPath string
	sched      SchedulerControl
	log        *zap.Logger
	sem        chan struct{}
}

// NewServer creates a control Server.
func NewServer(socketPath string, sched SchedulerControl, log *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		sched:      sched,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe starts the control socket server. Removes any stale
// socket file before binding. Blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("control: remove stale socket %q: %w", s.socketPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("control: mkdir %q: %w", filepath.Dir(s.socketPath), err)
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("control: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("control: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("control socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("control: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("control: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("control: read error", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	resp := s.dispatch(req)
	s.writeResponse(conn, resp)
}

func (s *Server) dispatch(req Request) Response {
	switch req.Cmd {
	case "status":
		return s.cmdStatus()
	case "pause":
		s.sched.Pause()
		s.log.Info("control: pause requested")
		return Response{OK: true, Paused: true}
	case "resume":
		s.sched.Resume()
		s.log.Info("control: resume requested")
		return Response{OK: true, Paused: false}
	case "stop":
		s.sched.RequestStop()
		s.log.Info("control: stop requested")
		return Response{OK: true}
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) cmdStatus() Response {
	st := s.sched.Status()
	return Response{
		OK:            true,
		Tick:          st.Tick,
		Mode:          st.CurrentMode,
		RecoveryTier:  st.RecoveryTier,
		Paused:        st.Paused,
		Degraded:      st.Degraded,
		LastTickMS:    st.LastTickMS,
		OverBudgetRun: st.OverBudgetRun,
		Confidence:    st.Confidence,
		CurrentGoal:   st.CurrentGoal,
		LastEvent:     st.LastEvent,
	}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
