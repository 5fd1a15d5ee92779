package status

import (
	"context"
	"net/http"

	"github.com/labstack/echo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	catman "github.com/shanexu/catman-election"
)

// Source is what the status server reports on.
type Source interface {
	Participant() *catman.Participant
	ConnectionState() catman.ConnectionState
}

// Server serves the state of the local participant over HTTP.
type Server struct {
	source Source
	echo   *echo.Echo
}

// Status is the body of GET /status.
type Status struct {
	Candidate  string `json:"candidate"`
	State      string `json:"state"`
	Leader     bool   `json:"leader"`
	Watching   string `json:"watching,omitempty"`
	Connection string `json:"connection"`
}

// Leader is the body of GET /leader.
type Leader struct {
	Candidate string `json:"candidate"`
	Data      string `json:"data"`
}

// NewServer returns a Server. gatherer may be nil, in which case /metrics is
// not served.
func NewServer(source Source, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		source: source,
		echo:   echo.New(),
	}
	s.echo.HideBanner = true

	s.echo.GET("/_health", s.HealthCheck)
	s.echo.GET("/status", s.Status)
	s.echo.GET("/leader", s.Leader)
	if gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

// Start serves on addr until Shutdown. It always returns a non-nil error.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// HealthCheck answers 200 while the participant is still in the election.
func (s *Server) HealthCheck(c echo.Context) error {
	if s.source.Participant().State() == catman.ElectionStateTerminal {
		return c.String(http.StatusServiceUnavailable, "terminated")
	}
	return c.String(http.StatusOK, "ok")
}

func (s *Server) Status(c echo.Context) error {
	p := s.source.Participant()
	return c.JSON(http.StatusOK, Status{
		Candidate:  p.ID().String(),
		State:      p.State().String(),
		Leader:     p.IsLeader(),
		Watching:   p.WatchTarget().String(),
		Connection: s.source.ConnectionState().String(),
	})
}

// Leader reports the current leader as seen by the coordination service.
func (s *Server) Leader(c echo.Context) error {
	offer, err := s.source.Participant().Leader()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if offer == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no leader")
	}
	return c.JSON(http.StatusOK, Leader{
		Candidate: offer.ID().String(),
		Data:      string(offer.Data()),
	})
}
