package phys

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/tarm/serial"
	"golang.org/x/net/websocket"

	"github.com/robotalks/uartrpc/pkg/phys/mqtt"
)

// DefaultBaud is used when a serial endpoint doesn't specify one.
const DefaultBaud = 115200

// DefaultDialTimeout bounds connecting to network endpoints.
const DefaultDialTimeout = 5 * time.Second

var (
	// ErrUnsupportedScheme indicates the endpoint scheme is unknown.
	ErrUnsupportedScheme = errors.New("unsupported endpoint scheme")
	// ErrNoDevice indicates an MQTT endpoint without a device ID.
	ErrNoDevice = errors.New("device ID required")
)

// Options provides defaults for values an endpoint URL leaves out.
type Options struct {
	Baud     int
	DeviceID string
	// Device opens the device side of an MQTT topic pair.
	Device bool
}

// Open opens the byte stream described by endpoint.
func Open(endpoint string, opts Options) (io.ReadWriteCloser, error) {
	if strings.HasPrefix(endpoint, "/") {
		endpoint = "serial://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "serial":
		return openSerial(u, opts)
	case "tcp":
		return net.DialTimeout("tcp", u.Host, DefaultDialTimeout)
	case "ws", "wss":
		return openWebsocket(u)
	case "mqtt", "mqtts":
		return openMQTT(u, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// SerialConfig builds the serial port configuration from an endpoint URL.
func SerialConfig(u *url.URL, opts Options) (*serial.Config, error) {
	conf := &serial.Config{Name: u.Path, Baud: opts.Baud}
	if conf.Name == "" {
		conf.Name = u.Opaque
	}
	if conf.Name == "" {
		return nil, fmt.Errorf("serial device missing in %q", u.String())
	}
	if val := u.Query().Get("baud"); val != "" {
		baud, err := strconv.Atoi(val)
		if err != nil || baud <= 0 {
			return nil, fmt.Errorf("invalid baud %q", val)
		}
		conf.Baud = baud
	}
	if conf.Baud <= 0 {
		conf.Baud = DefaultBaud
	}
	return conf, nil
}

func openSerial(u *url.URL, opts Options) (io.ReadWriteCloser, error) {
	conf, err := SerialConfig(u, opts)
	if err != nil {
		return nil, err
	}
	port, err := serial.OpenPort(conf)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", conf.Name, err)
	}
	glog.Infof("serial %s opened at %d baud", conf.Name, conf.Baud)
	return port, nil
}

func openWebsocket(u *url.URL) (io.ReadWriteCloser, error) {
	origin := "http://" + u.Host + "/"
	if u.Scheme == "wss" {
		origin = "https://" + u.Host + "/"
	}
	conn, err := websocket.Dial(u.String(), "", origin)
	if err != nil {
		return nil, err
	}
	conn.PayloadType = websocket.BinaryFrame
	return conn, nil
}

// WebsocketHandler serves each websocket connection as a byte stream.
// The connection is closed when serve returns.
func WebsocketHandler(serve func(io.ReadWriteCloser)) http.Handler {
	return websocket.Handler(func(conn *websocket.Conn) {
		conn.PayloadType = websocket.BinaryFrame
		glog.Infof("websocket peer %s connected", conn.Request().RemoteAddr)
		serve(conn)
		glog.Infof("websocket peer %s disconnected", conn.Request().RemoteAddr)
	})
}

type mqttStream struct {
	*mqtt.Stream
	queue *mqtt.Queue
}

func (s *mqttStream) Close() error {
	err := s.Stream.Close()
	s.queue.Close()
	return err
}

func openMQTT(u *url.URL, opts Options) (io.ReadWriteCloser, error) {
	device := u.Query().Get("device")
	if device == "" {
		device = opts.DeviceID
	}
	if device == "" {
		return nil, ErrNoDevice
	}
	role := mqtt.RoleHost
	if opts.Device {
		role = mqtt.RoleDevice
	}
	options, prefix, err := mqtt.ClientOptionsFromURL(u.String())
	if err != nil {
		return nil, err
	}
	if options.ClientID == "" {
		side := "host"
		if opts.Device {
			side = "device"
		}
		options.SetClientID("uartrpc:" + device + ":" + side)
	}
	q := mqtt.NewQueue(options, prefix)
	stream := mqtt.NewStream(q, device, role)
	if err := q.Connect(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("connect MQTT broker: %w", err)
	}
	return &mqttStream{Stream: stream, queue: q}, nil
}
