package rigscope

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

//go:embed webui
var webuiFiles embed.FS

// Per websocket client. Must hold at least the snapshot event.
const bufferSize = 10000

const DefaultFlushInterval = 50 * time.Millisecond

type HttpServer struct {
	dispatcher    *Dispatcher
	host          string
	port          uint16
	flushInterval time.Duration
	mux           *http.ServeMux
	logger        logrus.FieldLogger

	// Whether Run opens the dashboard in a browser once listening.
	OpenBrowser bool
}

func NewHttpServer(dispatcher *Dispatcher, host string, port uint16, flushInterval time.Duration) *HttpServer {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}

	s := &HttpServer{
		dispatcher:    dispatcher,
		host:          host,
		port:          port,
		flushInterval: flushInterval,
		mux:           http.NewServeMux(),
		logger:        logrus.WithField("tag", "HttpServer"),
	}

	subFS, err := fs.Sub(webuiFiles, "webui")
	if err != nil {
		panic(err)
	}

	s.mux.Handle("GET /", http.FileServer(http.FS(subFS)))
	s.mux.HandleFunc("GET /metadata", s.handleMetadata)
	s.mux.HandleFunc("GET /state", s.handleState)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("GET /series/{id}", s.handleSeries)
	s.mux.HandleFunc("GET /plot/{id}", s.handlePlot)
	s.mux.HandleFunc("GET /log", s.handleLog)
	s.mux.HandleFunc("POST /live/toggle", s.handleToggleLive)
	s.mux.HandleFunc("POST /recording/start", s.handleStartRecording)
	s.mux.HandleFunc("POST /recording/stop", s.handleStopRecording)
	s.mux.HandleFunc("POST /duration", s.handleDuration)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.mux.HandleFunc("GET /ws2", s.handleWebSocket2)

	return s
}

func (s *HttpServer) Handler() http.Handler {
	return s.mux
}

func (s *HttpServer) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(int(s.port)))
}

// Run serves until ctx is canceled. Request contexts, including websocket
// streams, derive from ctx so they end with it.
func (s *HttpServer) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr(), err)
	}

	server := &http.Server{
		Handler:     s.mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	url := fmt.Sprintf("http://%s", listener.Addr())
	s.logger.Infof("starting HTTP server at %s", url)
	if s.OpenBrowser {
		openBrowser(url)
	}

	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *HttpServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("failed to write JSON response")
	}
}

func (s *HttpServer) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"Error": err.Error()})
}

func (s *HttpServer) viewID(w http.ResponseWriter, req *http.Request) (int, bool) {
	id, err := strconv.Atoi(req.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid view id %q", req.PathValue("id")))
		return 0, false
	}
	return id, true
}

func (s *HttpServer) handleMetadata(w http.ResponseWriter, req *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dispatcher.Metadata())
}

func (s *HttpServer) handleState(w http.ResponseWriter, req *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dispatcher.State())
}

func (s *HttpServer) handleStats(w http.ResponseWriter, req *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dispatcher.Stats())
}

func (s *HttpServer) handleSeries(w http.ResponseWriter, req *http.Request) {
	id, ok := s.viewID(w, req)
	if !ok {
		return
	}

	points, _, err := s.dispatcher.SeriesPoints(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	s.writeJSON(w, http.StatusOK, points)
}

// Query parameters: format (png or svg, default png), width, height.
func (s *HttpServer) handlePlot(w http.ResponseWriter, req *http.Request) {
	id, ok := s.viewID(w, req)
	if !ok {
		return
	}

	points, options, err := s.dispatcher.SeriesPoints(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	query := req.URL.Query()
	format := ChartFormat(query.Get("format"))
	if format == "" {
		format = ChartPNG
	}

	width, _ := strconv.Atoi(query.Get("width"))
	height, _ := strconv.Atoi(query.Get("height"))
	if width > MaxChartWidth || height > MaxChartHeight {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("chart size %dx%d exceeds %dx%d", width, height, MaxChartWidth, MaxChartHeight))
		return
	}

	contentType := "image/png"
	if format == ChartSVG {
		contentType = "image/svg+xml"
	} else if format != ChartPNG {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported chart format %q", format))
		return
	}

	w.Header().Add("Content-Type", contentType)
	w.Header().Add("Cache-Control", "no-store")
	if err := RenderSeriesChart(w, format, options, points, width, height); err != nil {
		s.logger.WithError(err).WithField("view", id).Warn("failed to render chart")
	}
}

func (s *HttpServer) handleLog(w http.ResponseWriter, req *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dispatcher.ConsoleLines())
}

// The control handlers respond with the state their own change produced.
func (s *HttpServer) handleToggleLive(w http.ResponseWriter, req *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dispatcher.ToggleLiveUpdates())
}

func (s *HttpServer) handleStartRecording(w http.ResponseWriter, req *http.Request) {
	state, _ := s.dispatcher.StartRecording()
	s.writeJSON(w, http.StatusOK, state)
}

func (s *HttpServer) handleStopRecording(w http.ResponseWriter, req *http.Request) {
	state, _ := s.dispatcher.StopRecording()
	s.writeJSON(w, http.StatusOK, state)
}

func (s *HttpServer) handleDuration(w http.ResponseWriter, req *http.Request) {
	state, err := s.dispatcher.SelectDuration(req.FormValue("duration"))
	if errors.Is(err, ErrUnknownDuration) {
		s.writeError(w, http.StatusBadRequest, err)
		return
	} else if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, state)
}

// JSON stream used by the web UI. Each message is an array of Events.
func (s *HttpServer) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	c, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.WithError(err).Warn("failed to accept new websocket connection")
		return
	}

	ctx := c.CloseRead(req.Context()) // We only write.

	s.streamEvents(ctx, c, func(ctx context.Context, events []Event) error {
		return wsjson.Write(ctx, c, events)
	})
}

// Binary stream, see ws_protocol.go. The first message is always METADATA.
func (s *HttpServer) handleWebSocket2(w http.ResponseWriter, req *http.Request) {
	c, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.WithError(err).Warn("failed to accept new websocket connection")
		return
	}

	ctx := c.CloseRead(req.Context())

	metadata, err := EncodeWSMessage(newWSMessage(MessageTypeMetadata, s.dispatcher.Metadata()))
	if err != nil {
		s.logger.WithError(err).Error("failed to encode metadata")
		c.Close(websocket.StatusInternalError, "metadata encoding failed")
		return
	}

	if err := c.Write(ctx, websocket.MessageBinary, metadata); err != nil {
		s.logger.WithError(err).Warn("websocket write failed and closed")
		return
	}

	s.streamEvents(ctx, c, func(ctx context.Context, events []Event) error {
		for _, event := range events {
			for _, msg := range EventToWSMessages(event) {
				buf, err := EncodeWSMessage(msg)
				if err != nil {
					return err
				}

				if err := c.Write(ctx, websocket.MessageBinary, buf); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// streamEvents subscribes to the dispatcher and hands batched events to write
// every flush interval until the client goes away or ctx ends.
func (s *HttpServer) streamEvents(ctx context.Context, c *websocket.Conn, write func(context.Context, []Event) error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	channel := make(chan Event, bufferSize)
	wg := sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()

		ticker := time.NewTicker(s.flushInterval)
		defer ticker.Stop()

		pending := make([]Event, 0)
		for {
			select {
			case event := <-channel:
				pending = append(pending, event)
			case <-ticker.C:
				if len(pending) == 0 {
					continue
				}

				if err := write(ctx, pending); err != nil {
					// At this point the websocket closed, so we don't even need to send anything
					s.logger.WithError(err).Warn("websocket write failed and closed")
					return
				}
				pending = make([]Event, 0)
			case <-ctx.Done():
				s.logger.Info("client closed connection or context canceled")
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}()

	if err := s.dispatcher.Subscribe(ctx, channel); err != nil {
		s.logger.WithError(err).Error("failed to subscribe websocket client")
		c.Close(websocket.StatusInternalError, "subscribe failed")
		cancel()
		wg.Wait()
		return
	}

	wg.Wait()
	s.dispatcher.Unsubscribe(ctx, channel)
}
