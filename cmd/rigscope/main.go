package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
	"github.com/wasteheat/rigscope"
	"golang.org/x/term"
)

type options struct {
	Host          string        `long:"host" default:"127.0.0.1" description:"address to serve the dashboard on"`
	Port          uint16        `short:"p" long:"port" default:"5274" description:"port to serve the dashboard on"`
	Tick          time.Duration `long:"tick" default:"20ms" description:"sampling period"`
	WindowSize    int           `short:"n" long:"window-size" default:"100" description:"points kept per plot"`
	LogLines      int           `long:"log-lines" default:"100" description:"lines kept in the console"`
	Source        string        `long:"source" choice:"simulated" choice:"serial" choice:"stdin" default:"simulated" description:"where samples come from"`
	SerialDevice  string        `long:"serial-device" default:"/dev/ttyUSB0" description:"serial port of the rig"`
	Baud          int           `long:"baud" default:"115200" description:"serial baud rate"`
	StrictCsv     bool          `long:"strict-csv" description:"parse serial/stdin lines as strict CSV instead of splitting on spaces and commas"`
	Console       string        `long:"console" choice:"auto" choice:"always" choice:"never" default:"auto" description:"mirror console lines to stdout (auto: only when stdout is a terminal)"`
	FlushInterval time.Duration `long:"flush-interval" default:"50ms" description:"websocket batching interval"`
	LogLevel      string        `long:"log-level" default:"info" description:"logrus level"`
	NoBrowser     bool          `long:"no-browser" description:"do not open the dashboard in a browser"`
}

func parseOptions(args []string) (options, error) {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	_, err := parser.ParseArgs(args)
	return opts, err
}

// buildSource returns the configured sample source. Buffered sources are
// started and stop with ctx.
func buildSource(ctx context.Context, opts options, stdin io.Reader) (rigscope.SampleSource, error) {
	switch opts.Source {
	case "serial":
		source, err := rigscope.OpenSerialSource(rigscope.SerialOptions{
			Device:    opts.SerialDevice,
			Baud:      opts.Baud,
			StrictCsv: opts.StrictCsv,
		})
		if err != nil {
			return nil, err
		}
		source.Start(ctx)
		return source, nil
	case "stdin":
		source := rigscope.NewReaderSource(stdin, opts.StrictCsv)
		source.Start(ctx)
		return source, nil
	default:
		return rigscope.NewSimulatedSource(opts.Tick, nil), nil
	}
}

func consoleTee(mode string, out *os.File) io.Writer {
	switch mode {
	case "always":
		return out
	case "auto":
		if term.IsTerminal(int(out.Fd())) {
			return out
		}
	}
	return nil
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("invalid log level")
	}
	logrus.SetLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	source, err := buildSource(ctx, opts, os.Stdin)
	if err != nil {
		logrus.WithError(err).Fatal("failed to open sample source")
	}

	console := rigscope.NewLogBuffer(opts.LogLines, consoleTee(opts.Console, os.Stdout))
	controller := rigscope.NewTestController(rigscope.NewLoggingHooks())
	dispatcher := rigscope.NewDispatcher(source, opts.Tick, opts.WindowSize, console, controller)

	for _, view := range rigscope.DefaultViews() {
		dispatcher.RegisterView(view)
	}

	dispatcher.Start(ctx)

	server := rigscope.NewHttpServer(dispatcher, opts.Host, opts.Port, opts.FlushInterval)
	server.OpenBrowser = !opts.NoBrowser
	if err := server.Run(ctx); err != nil {
		logrus.WithError(err).Error("HTTP server failed")
		cancel()
	}

	dispatcher.Wait()
}
