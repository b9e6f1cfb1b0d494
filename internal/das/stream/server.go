package stream

import (
	"sync/atomic"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/das-waterfall/internal/das/pipeline"
	"github.com/banshee-data/das-waterfall/internal/monitoring"
)

// Server streams every onNewData notification published on a hub. A slow
// client skips frames rather than delaying the scheduler.
type Server struct {
	hub     *pipeline.Hub
	clients atomic.Int64
	sent    atomic.Uint64
}

// NewServer streams notifications from hub.
func NewServer(hub *pipeline.Hub) *Server {
	return &Server{hub: hub}
}

func (s *Server) StreamFrames(req *StreamRequest, out FrameSender) error {
	id, ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)
	n := s.clients.Add(1)
	defer s.clients.Add(-1)
	monitoring.Logf("[stream] client %s connected (%d active)", id, n)

	ctx := out.Context()
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("[stream] client %s disconnected", id)
			return nil
		case note, ok := <-ch:
			if !ok {
				return status.Error(codes.Unavailable, "waterfall stream closed")
			}
			if err := out.Send(FrameFromNotification(note, req.MaxRows)); err != nil {
				return err
			}
			s.sent.Add(1)
		}
	}
}

// Clients returns the number of connected streams.
func (s *Server) Clients() int64 { return s.clients.Load() }

// Sent counts frames written across all streams.
func (s *Server) Sent() uint64 { return s.sent.Load() }
