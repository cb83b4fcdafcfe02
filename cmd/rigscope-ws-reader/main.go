package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/wasteheat/rigscope"
	"nhooyr.io/websocket"
)

// Config holds the configuration for the WS reader
type Config struct {
	ServerURL string
	Output    io.Writer
	Logger    logrus.FieldLogger

	// Stop after this many rows. Zero reads until the server goes away.
	MaxRows int
}

// errEnough stops the read loop once MaxRows rows were written.
var errEnough = errors.New("row limit reached")

// WSReader reads the rigscope /ws2 stream and writes one CSV row per point.
type WSReader struct {
	config    Config
	csvWriter *csv.Writer
	rows      int
}

func NewWSReader(config Config) *WSReader {
	if config.Logger == nil {
		config.Logger = logrus.WithField("tag", "WSReader")
	}

	return &WSReader{
		config:    config,
		csvWriter: csv.NewWriter(config.Output),
	}
}

// Connect establishes the websocket connection and processes messages until
// the connection closes, ctx ends, or MaxRows is reached.
func (w *WSReader) Connect(ctx context.Context) error {
	u, err := url.Parse(w.config.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws2"

	w.config.Logger.WithField("url", u.String()).Info("connecting to websocket")

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := w.csvWriter.Write([]string{"series_id", "x", "y"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for {
		_, messageData, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				w.config.Logger.Info("connection closed normally")
			} else if ctx.Err() == nil {
				w.config.Logger.WithError(err).Error("error reading message")
			}
			break
		}

		if err := w.processMessage(messageData); err != nil {
			if err == errEnough {
				w.config.Logger.WithField("rows", w.rows).Info("row limit reached")
				break
			}
			w.config.Logger.WithError(err).Error("error processing message")
		}
	}

	w.csvWriter.Flush()
	return w.csvWriter.Error()
}

func (w *WSReader) processMessage(messageData []byte) error {
	msg, err := rigscope.DecodeWSMessage(messageData)
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}

	switch payload := msg.Payload.(type) {
	case rigscope.DataMessage:
		return w.processDataMessage(payload)
	case rigscope.Metadata:
		w.config.Logger.WithField("views", len(payload.Views)).Debug("received metadata")
	case rigscope.LogMessage:
		for _, line := range payload.Lines {
			w.config.Logger.Debug(line)
		}
	case rigscope.StateMessage:
		w.config.Logger.WithFields(logrus.Fields{
			"liveUpdates": payload.LiveUpdates,
			"status":      payload.Recording.Status,
			"cleared":     payload.Cleared,
		}).Info("received state")
	default:
		w.config.Logger.Warnf("unknown message type 0x%02x", msg.Header.Type)
	}

	return nil
}

func (w *WSReader) processDataMessage(dataMsg rigscope.DataMessage) error {
	seriesID := strconv.FormatUint(uint64(dataMsg.SeriesID), 10)

	for i := 0; i < len(dataMsg.X); i++ {
		row := []string{
			seriesID,
			strconv.FormatFloat(dataMsg.X[i], 'g', -1, 64),
			strconv.FormatFloat(dataMsg.Y[i], 'g', -1, 64),
		}
		if err := w.csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}

		w.rows++
		if w.config.MaxRows > 0 && w.rows >= w.config.MaxRows {
			w.csvWriter.Flush()
			return errEnough
		}
	}

	w.csvWriter.Flush()
	return w.csvWriter.Error()
}

func main() {
	var serverURL = flag.String("url", "http://localhost:5274", "URL of the rigscope server")
	var maxRows = flag.Int("rows", 0, "stop after this many rows (0 = until the server closes)")
	var verbose = flag.Bool("v", false, "log console lines and metadata")
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	config := Config{
		ServerURL: *serverURL,
		Output:    os.Stdout,
		Logger:    logger.WithField("tag", "WSReader"),
		MaxRows:   *maxRows,
	}

	reader := NewWSReader(config)
	if err := reader.Connect(context.Background()); err != nil {
		config.Logger.WithError(err).Error("failed to connect")
		os.Exit(1)
	}
}
