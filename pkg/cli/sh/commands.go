package sh

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/uartrpc/pkg/handlers"
)

// ParseCallArgs parses arguments of the call command: [-x] NAME [ARG...].
// ARGs are joined by spaces, or decoded as hex when -x is given.
func ParseCallArgs(args []string) (name string, data []byte, err error) {
	var hexArgs bool
	if len(args) > 0 && args[0] == "-x" {
		hexArgs, args = true, args[1:]
	}
	if len(args) == 0 {
		return "", nil, fmt.Errorf("function name expected")
	}
	name, args = args[0], args[1:]
	if hexArgs {
		data, err = hex.DecodeString(strings.Join(args, ""))
		if err != nil {
			return "", nil, fmt.Errorf("invalid hex arguments: %w", err)
		}
		return
	}
	if len(args) > 0 {
		data = []byte(strings.Join(args, " "))
	}
	return
}

// ParseSumArgs parses the two uint32 operands of sum.
func ParseSumArgs(args []string) ([]byte, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("two numbers expected")
	}
	var operands [2]uint32
	for n, arg := range args {
		val, err := strconv.ParseUint(arg, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", arg)
		}
		operands[n] = uint32(val)
	}
	return handlers.SumArgs(operands[0], operands[1]), nil
}

// FormatData prints printable results as text and others as hex.
func FormatData(data []byte) string {
	if len(data) == 0 {
		return "OK"
	}
	if utf8.Valid(data) {
		printable := true
		for _, r := range string(data) {
			if r < 0x20 && r != '\n' && r != '\t' {
				printable = false
				break
			}
		}
		if printable {
			return string(data)
		}
	}
	return hex.EncodeToString(data)
}

func doCall(c *ishell.Context, name string, args []byte) {
	s := ShellFrom(c)
	result, err := s.Call(name, args)
	s.PrintResult(c, name, result, err)
}

var (
	// ConnectCmd connects an endpoint.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "ENDPOINT",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			endpoint := s.Config.Endpoint
			if len(c.Args) > 0 {
				endpoint = c.Args[0]
			}
			if err := s.Connect(endpoint); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects current endpoint.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// CallCmd calls any function.
	CallCmd = ishell.Cmd{
		Name: "call",
		Help: "[-x] NAME [ARG...]",
		Func: MustBeConnected(func(c *ishell.Context) {
			name, args, err := ParseCallArgs(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			doCall(c, name, args)
		}),
	}

	// SumCmd calls sum.
	SumCmd = ishell.Cmd{
		Name: "sum",
		Help: "A B",
		Func: MustBeConnected(func(c *ishell.Context) {
			args, err := ParseSumArgs(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			doCall(c, "sum", args)
		}),
	}

	// EchoCmd calls echo.
	EchoCmd = ishell.Cmd{
		Name: "echo",
		Help: "TEXT...",
		Func: MustBeConnected(func(c *ishell.Context) {
			doCall(c, "echo", []byte(strings.Join(c.Args, " ")))
		}),
	}

	// IDCmd calls id.
	IDCmd = ishell.Cmd{
		Name: "id",
		Help: "",
		Func: MustBeConnected(func(c *ishell.Context) {
			doCall(c, "id", nil)
		}),
	}

	// StatsCmd prints link and transport counters.
	StatsCmd = ishell.Cmd{
		Name: "stats",
		Help: "",
		Func: MustBeConnected(func(c *ishell.Context) {
			s := ShellFrom(c)
			ls, ts := s.Conn.Link.Stats(), s.Conn.Transport.Stats()
			if s.OutputJSON {
				printJSON(c, map[string]interface{}{"link": ls, "transport": ts})
				return
			}
			c.Printf("link: sent=%d received=%d skipped=%d hdr-crc=%d marker=%d frame-crc=%d oversize=%d\n",
				ls.FramesSent, ls.FramesReceived, ls.BytesSkipped,
				ls.HeaderCRCErrors, ls.MarkerErrors, ls.FrameCRCErrors, ls.OversizeFrames)
			c.Printf("calls: started=%d completed=%d failed=%d timeout=%d rejected=%d\n",
				ts.CallsStarted, ts.CallsCompleted, ts.CallsFailed, ts.CallsTimedOut, ts.CallsRejected)
			c.Printf("dispatch: requests=%d unknown=%d errors=%d dropped=%d\n",
				ts.RequestsDispatched, ts.UnknownFunctions, ts.HandlerErrors, ts.RepliesDropped)
		}),
	}
)
