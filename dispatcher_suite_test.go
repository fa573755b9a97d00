//go:build linux || darwin

package svcgroup

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// backendFixture builds a dispatcher and reports what reached the manager,
// one "<op> <member>" string per request
type backendFixture struct {
	name    string
	setup   func(t *testing.T) Dispatcher
	observe func(t *testing.T) []string
}

// DispatcherContractSuite runs the group lifecycle against one backend
type DispatcherContractSuite struct {
	suite.Suite
	fixture backendFixture

	dispatcher Dispatcher
	controller *Controller
}

func (s *DispatcherContractSuite) SetupTest() {
	s.dispatcher = s.fixture.setup(s.T())
	g, err := NewGroup("grr-server", grrMembers...)
	s.Require().NoError(err)
	s.controller, err = NewController(g, s.dispatcher)
	s.Require().NoError(err)
}

func (s *DispatcherContractSuite) TearDownTest() {
	s.Require().NoError(s.controller.Close())
}

func (s *DispatcherContractSuite) expect(op Operation) []string {
	out := make([]string, 0, len(grrMembers))
	for _, m := range grrMembers {
		out = append(out, op.String()+" "+m)
	}
	return out
}

func (s *DispatcherContractSuite) TestLifecycle() {
	ctx := context.Background()

	s.Require().NoError(s.controller.Start(ctx))
	s.Equal(StateStarted, s.controller.State())
	want := s.expect(OpStart)

	s.Require().NoError(s.controller.Reload(ctx))
	s.Equal(StateStarted, s.controller.State())
	want = append(want, s.expect(OpReload)...)

	s.Require().NoError(s.controller.Stop(ctx))
	s.Equal(StateStopped, s.controller.State())
	want = append(want, s.expect(OpStop)...)

	s.Equal(want, s.fixture.observe(s.T()))
}

func (s *DispatcherContractSuite) TestStartTwice() {
	ctx := context.Background()
	s.Require().NoError(s.controller.Start(ctx))
	s.Require().NoError(s.controller.Start(ctx))
	s.Equal(StateStarted, s.controller.State())
	s.Len(s.fixture.observe(s.T()), 2*len(grrMembers))
}

func TestDispatcherContract(t *testing.T) {
	var (
		logPath string
		conn    *fakeDBusConn
		sv      *SuperviseDispatcher
		svLog   []string
	)

	fixtures := []backendFixture{
		{
			name: "systemctl",
			setup: func(t *testing.T) Dispatcher {
				var bin string
				bin, logPath = fakeSystemctl(t)
				d := NewSystemctlDispatcher()
				d.Command = []string{bin}
				return d
			},
			observe: func(t *testing.T) []string {
				var out []string
				for _, call := range readCalls(t, logPath) {
					// "--no-block <verb> <member>.service"
					fields := strings.Fields(call)
					require.Len(t, fields, 3)
					out = append(out, fields[1]+" "+strings.TrimSuffix(fields[2], ".service"))
				}
				return out
			},
		},
		{
			name: "dbus",
			setup: func(t *testing.T) Dispatcher {
				conn = &fakeDBusConn{result: "done"}
				var dials int
				return NewDBusDispatcher(newFakeBus(conn, &dials)).WithUnitPattern("grr-server@%s")
			},
			observe: func(t *testing.T) []string {
				var out []string
				for _, call := range conn.calls {
					out = append(out, call.method+" "+call.unit[len("grr-server@"):])
				}
				return out
			},
		},
		{
			name: "runit",
			setup: func(t *testing.T) Dispatcher {
				svLog = nil
				sv = NewSuperviseDispatcher(BackendRunit, makeServiceDirs(t, grrMembers...))
				for _, m := range grrMembers {
					require.NoError(t, os.WriteFile(sv.ControlPath(m), nil, FileMode))
				}
				// Record each control byte as it lands, then clear the file
				return DispatcherFunc(func(ctx context.Context, req Request) error {
					if err := sv.Dispatch(ctx, req); err != nil {
						return err
					}
					data, err := os.ReadFile(sv.ControlPath(req.Member))
					if err != nil {
						return err
					}
					op := map[byte]Operation{'u': OpStart, 'd': OpStop, 'h': OpReload}[data[0]]
					svLog = append(svLog, op.String()+" "+req.Member)
					return os.WriteFile(sv.ControlPath(req.Member), nil, FileMode)
				})
			},
			observe: func(t *testing.T) []string {
				return svLog
			},
		},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			suite.Run(t, &DispatcherContractSuite{fixture: f})
		})
	}
}
