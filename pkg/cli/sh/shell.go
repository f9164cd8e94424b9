package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/robotalks/uartrpc/pkg/env"
	"github.com/robotalks/uartrpc/pkg/link"
	"github.com/robotalks/uartrpc/pkg/phys"
	"github.com/robotalks/uartrpc/pkg/transport"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool

	Shell  *ishell.Shell
	Config *env.Config
	Conn   *Conn
}

// Conn is a connected peer with its dispatch loop running.
type Conn struct {
	Endpoint  string
	Link      *link.Link
	Transport *transport.Transport

	cancel func()
	doneCh chan error
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&ConnectCmd,
		&DisconnectCmd,
		&CallCmd,
		&SumCmd,
		&EchoCmd,
		&IDCmd,
		&StatsCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Conn == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// Connect opens endpoint and starts the dispatch loop on it.
func (s *Shell) Connect(endpoint string) error {
	stream, err := phys.Open(endpoint, s.Config.PhysOptions(false))
	if err != nil {
		return err
	}
	conn := s.NewConn(endpoint, stream)
	s.Disconnect()
	s.Conn = conn
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", endpoint))
	return nil
}

// NewConn creates a Conn over stream and starts its dispatch loop.
func (s *Shell) NewConn(endpoint string, stream io.ReadWriteCloser) *Conn {
	conn := &Conn{
		Endpoint: endpoint,
		Link:     link.New(stream),
		doneCh:   make(chan error, 1),
	}
	conn.Transport = transport.New(conn.Link, transport.NewRegistry(s.Config.RegistryCapacity)).
		WithBufferSize(s.Config.BufferSize).
		WithTimeout(s.Config.CallTimeout.Duration)
	var ctx context.Context
	ctx, conn.cancel = context.WithCancel(context.Background())
	go func() {
		err := conn.Transport.Run(ctx)
		if err != nil && err != context.Canceled {
			glog.Warningf("link %s stopped: %v", endpoint, err)
		}
		conn.doneCh <- err
	}()
	return conn
}

// Close stops the dispatch loop and closes the link.
func (c *Conn) Close() error {
	c.cancel()
	err := <-c.doneCh
	c.doneCh <- err
	return c.Link.Close()
}

// Disconnect disconnects current peer.
func (s *Shell) Disconnect() {
	if s.Conn != nil {
		s.Conn.Close()
		s.Conn = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// Call invokes a function on the connected peer.
func (s *Shell) Call(name string, args []byte) ([]byte, error) {
	if s.Conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	return s.Conn.Transport.Call(context.Background(), name, args)
}

// PrintResult prints a call result, as JSON when OutputJSON is set.
func (s *Shell) PrintResult(c *ishell.Context, name string, result []byte, err error) {
	if s.OutputJSON {
		out := Result{Function: name, Data: string(result), Hex: fmt.Sprintf("%x", result)}
		if err != nil {
			out.Error = err.Error()
			out.Code = int(transport.CodeOf(err))
		}
		printJSON(c, &out)
		return
	}
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(FormatData(result))
}

// Result is the JSON output of a call.
type Result struct {
	Function string `json:"function"`
	Data     string `json:"data,omitempty"`
	Hex      string `json:"hex,omitempty"`
	Error    string `json:"error,omitempty"`
	Code     int    `json:"code,omitempty"`
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect && s.Config.Endpoint != "" {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.Endpoint)
		}
		if err := s.Connect(s.Config.Endpoint); err != nil {
			log.Fatalf("connect %q failed: %v", s.Config.Endpoint, err)
		}
		defer s.Disconnect()
	}

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	conf, err := env.NewConfig()
	if err != nil {
		log.Fatalln(err)
	}
	New(conf).WithAutoConnect(true).Run(flag.Args()...)
}

func printJSON(c *ishell.Context, v interface{}) {
	out, err := json.Marshal(v)
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(string(out))
}
