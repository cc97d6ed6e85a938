package cmd

import (
	"net"

	"github.com/bitforge/swdprobe/pkg/gdbserver"
	"github.com/bitforge/swdprobe/pkg/transport"
	"github.com/spf13/cobra"
)

// serveCmd represents the GDB remote debug server command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the GDB remote debug server",
	Long: `Bring up the SWD link to both cores and serve the GDB remote protocol
over TCP and, if configured, a USB-CDC serial port.

Every accepted connection gets its own Session sharing the same dual-core
Controller, so a GDB client attaching over TCP observes the same target
state as one attaching over serial.

Example:
  swdprobe serve --listen :2331`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve() error {
	printInfo("Bringing up SWD link on %s/%s at %d Hz...\n", cfg.SWCLKPin, cfg.SWDIOPin, cfg.ClockDividerHz)

	tgt, err := bringUpTarget(cfg)
	if err != nil {
		return err
	}

	session := gdbserver.NewSession(tgt.Controller, tgt.Mem, tgt.Flash, cfg.PacketSize)

	errCh := make(chan error, 2)
	started := false

	if cfg.ListenTCP != "" {
		listener, err := transport.ListenTCP(cfg.ListenTCP)
		if err != nil {
			return err
		}
		printInfo("Listening for GDB connections on %s\n", cfg.ListenTCP)
		started = true
		go serveTCP(listener, session, errCh)
	}

	if cfg.SerialPort != "" {
		printInfo("Listening for GDB connections on serial port %s\n", cfg.SerialPort)
		started = true
		go serveSerial(cfg.SerialPort, session, errCh)
	}

	if !started {
		printError("no listen address or serial port configured; nothing to serve")
		return nil
	}

	return <-errCh
}

// serveTCP accepts connections forever, serving each one on its own
// goroutine with its own Session built on the shared session's Controller,
// memory layers and flash programmer.
func serveTCP(listener net.Listener, session *gdbserver.Session, errCh chan<- error) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			errCh <- err
			return
		}
		printInfo("GDB client connected from %s\n", conn.RemoteAddr())
		stream := transport.NewTCPStream(conn)
		connSession := gdbserver.NewSession(session.Controller, session.Mem, session.Flash, session.PacketSize)
		go func() {
			if err := gdbserver.Serve(connSession, stream); err != nil {
				printError("session on %s: %v", conn.RemoteAddr(), err)
			}
			stream.Close()
			printInfo("GDB client %s disconnected\n", conn.RemoteAddr())
		}()
	}
}

// serveSerial opens the configured serial port once and serves a single
// GDB session on it; a USB-CDC link has no notion of re-accepting a new
// peer the way a TCP listener does.
func serveSerial(portName string, session *gdbserver.Session, errCh chan<- error) {
	stream, err := transport.OpenSerialStream(portName, 115200)
	if err != nil {
		errCh <- err
		return
	}
	defer stream.Close()

	printInfo("GDB client attached on %s\n", portName)
	if err := gdbserver.Serve(session, stream); err != nil {
		errCh <- err
		return
	}
	printInfo("Serial GDB session on %s ended\n", portName)
}
