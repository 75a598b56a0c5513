// rtc-host talks to an RTC board over a serial port, or to the simulated
// board with -sim
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/shlex"

	"rtclock/host/config"
	"rtclock/host/mcu"
	"rtclock/sim"
)

var (
	configPath = flag.String("config", "rtc-host.yaml", "Configuration file")
	device     = flag.String("device", "", "Serial device path (overrides config)")
	baud       = flag.Int("baud", 0, "Baud rate (overrides config)")
	useSim     = flag.Bool("sim", false, "Run against the in-process simulated board")
	verbose    = flag.Bool("verbose", false, "Print dictionary transfer progress")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *device != "" {
		cfg.Device = *device
	}
	if *baud != 0 {
		cfg.Baud = *baud
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "rtc> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	conn := mcu.NewMCU()
	conn.SetChunkSize(uint8(cfg.DictChunk))
	conn.SetResponseTimeout(cfg.AckTimeout)
	if *verbose {
		conn.SetOutput(rl.Stdout())
	}

	stop, err := connect(conn, cfg, rl.Stdout())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer stop()
	conn.SetAckTimeout(cfg.AckTimeout)

	if err := conn.RetrieveDictionary(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to retrieve dictionary: %v\n", err)
		os.Exit(1)
	}

	r := &repl{conn: conn, rl: rl, out: rl.Stdout()}
	go r.printTicks()
	r.run()
}

// connect opens the serial port, or starts the simulator and connects to it
// through a pipe. The returned function tears the connection down.
func connect(conn *mcu.MCU, cfg *config.Config, out io.Writer) (func(), error) {
	if !*useSim {
		fmt.Fprintf(out, "Connecting to %s at %d baud...\n", cfg.Device, cfg.Baud)
		if err := conn.ConnectWithConfig(cfg.Serial()); err != nil {
			return nil, err
		}
		return func() { conn.Close() }, nil
	}

	counter := cfg.Sim.Counter
	if counter == 0 {
		counter = uint32(time.Now().Unix())
	}
	fwConn, hostConn := net.Pipe()
	fw, err := sim.NewFirmware(fwConn, sim.FirmwareConfig{
		Registers:    sim.Config{Running: true, Counter: counter},
		TickInterval: cfg.Sim.TickInterval,
		MCU:          "sim",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start simulator: %w", err)
	}
	fw.Start()
	conn.ConnectPort(hostConn)
	fmt.Fprintln(out, "Connected to simulated board")

	return func() {
		conn.Close()
		fw.Close()
	}, nil
}

type repl struct {
	conn *mcu.MCU
	rl   *readline.Instance
	out  io.Writer
}

func (r *repl) run() {
	r.printHelp()
	for {
		line, err := r.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return
		}

		args, err := shlex.Split(line)
		if err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}

		cmd := strings.ToLower(args[0])
		if cmd == "quit" || cmd == "exit" || cmd == "q" {
			return
		}
		if err := r.dispatch(cmd, args[1:]); err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
		}
	}
}

func (r *repl) dispatch(cmd string, args []string) error {
	switch cmd {
	case "help", "?":
		r.printHelp()
	case "now":
		return r.cmdNow()
	case "counter":
		v, err := r.conn.ReadCounter()
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "counter = %d (0x%08x)\n", v, v)
	case "set":
		return r.cmdSet(args)
	case "sync":
		return r.cmdSync()
	case "ticks":
		return r.cmdTicks(args)
	case "status":
		return r.cmdStatus()
	case "dict":
		r.conn.PrintDictionary(r.out)
	case "raw":
		fmt.Fprintf(r.out, "%s\n", r.conn.GetDictionaryRaw())
	case "events":
		return r.conn.DumpEvents()
	case "estop":
		return r.conn.EmergencyStop()
	case "clear":
		return r.conn.ClearShutdown()
	default:
		fmt.Fprintf(r.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return nil
}

func (r *repl) printHelp() {
	fmt.Fprintln(r.out, `
RTC commands:
  now                 - Board date and time, and drift against this host
  counter             - Raw seconds counter
  set <value>         - Set the clock: seconds, RFC 3339, or "YYYY-MM-DD HH:MM:SS" (UTC)
  sync                - Set the clock to this host's time
  ticks on|off        - Stream the per-second interrupt
  status              - Driver state and tick counters
  dict / raw          - Dictionary summary / JSON
  events              - Dump the board's event ring to its debug output
  estop / clear       - Emergency stop / clear shutdown
  quit                - Exit`)
}

func (r *repl) cmdNow() error {
	dt, err := r.conn.ReadDateTime()
	if err != nil {
		return err
	}
	drift := dt.Time().Sub(time.Now().UTC().Truncate(time.Second))
	fmt.Fprintf(r.out, "%s  (drift %v)\n", dt, drift)
	return nil
}

func (r *repl) cmdSet(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: set <seconds|RFC3339|\"YYYY-MM-DD HH:MM:SS\">")
	}
	value := strings.Join(args, " ")

	if secs, err := strconv.ParseUint(value, 10, 32); err == nil {
		v, err := r.conn.SetCounter(uint32(secs))
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "counter = %d\n", v)
		return nil
	}

	t, err := parseTime(value)
	if err != nil {
		return err
	}
	if err := r.conn.SetTime(t); err != nil {
		return err
	}
	return r.cmdNow()
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, time.DateTime} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a time", s)
}

func (r *repl) cmdSync() error {
	if err := r.conn.SetTime(time.Now()); err != nil {
		return err
	}
	return r.cmdNow()
}

func (r *repl) cmdTicks(args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return errors.New("usage: ticks on|off")
	}
	return r.conn.EnableTicks(args[0] == "on")
}

func (r *repl) cmdStatus() error {
	st, err := r.conn.Status()
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "state=%s ticks=%d dropped=%d host-missed=%d\n",
		st.State, st.Ticks, st.Dropped, r.conn.MissedTicks())
	return nil
}

func (r *repl) printTicks() {
	for tick := range r.conn.Ticks() {
		fmt.Fprintf(r.out, "tick #%d counter=%d\n", tick.Seq, tick.Counter)
	}
}
