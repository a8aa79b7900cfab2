package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sentinel-service/internal/catalog"
	"sentinel-service/internal/config"
	"sentinel-service/internal/domain/incident"
	"sentinel-service/internal/metrics"
	"sentinel-service/internal/pipeline"
	"sentinel-service/internal/sampler"
	"sentinel-service/internal/service"
)

const (
	writeTimeout = 10 * time.Second

	// sessionEventBuffer absorbs bursts so the pipeline is not stalled by
	// slow clients for short stretches.
	sessionEventBuffer = 32
)

// startCommand is the single message a client sends to begin a session.
type startCommand struct {
	VideoPath string `json:"video_path"`
}

// WSHandler owns the /ws/process streaming channel. Each connection gets its
// own session: one video, one pipeline goroutine, one writer.
type WSHandler struct {
	videos   *catalog.Catalog
	model    pipeline.Vision
	archive  *service.IncidentService
	met      *metrics.Pipeline
	cfg      *config.Config
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler builds the streaming handler. archive may be nil when the
// database is disabled; met may be nil to disable instrumentation.
func NewWSHandler(
	videos *catalog.Catalog,
	model pipeline.Vision,
	archive *service.IncidentService,
	met *metrics.Pipeline,
	cfg *config.Config,
	log zerolog.Logger,
) *WSHandler {
	h := &WSHandler{
		videos:  videos,
		model:   model,
		archive: archive,
		met:     met,
		cfg:     cfg,
		log:     log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.Server.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Process runs one streaming session over the lifetime of the connection.
func (h *WSHandler) Process(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already answered the client.
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	defer conn.WriteMessage(websocket.CloseMessage, []byte{})

	sessionID := uuid.New().String()
	log := h.log.With().Str("session_id", sessionID).Logger()
	log.Info().Str("remote", conn.RemoteAddr().String()).Msg("streaming session opened")

	name, ok := h.awaitStart(conn, log)
	if !ok {
		return
	}

	path, err := h.videos.Resolve(name)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrInvalidName):
			h.send(conn, incident.ErrorEvent(fmt.Sprintf("invalid video name: %s", name)), log)
		case errors.Is(err, catalog.ErrUnknownVideo):
			h.send(conn, incident.ErrorEvent(fmt.Sprintf("video not found: %s", name)), log)
		default:
			log.Error().Err(err).Msg("video lookup failed")
			h.send(conn, incident.ErrorEvent("video lookup failed"), log)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src, err := sampler.NewFFmpegSource(ctx, path, sampler.FFmpegOptions{
		Binary:   h.cfg.Video.FFmpegBinary,
		Interval: h.cfg.Pipeline.SampleInterval,
		Width:    h.cfg.Video.FrameWidth,
	})
	if err != nil {
		h.send(conn, incident.ErrorEvent(fmt.Sprintf("video source failed: %v", err)), log)
		return
	}
	defer src.Close()

	h.met.SessionStarted()
	started := time.Now()
	defer func() { h.met.SessionFinished(time.Since(started)) }()

	if h.archive != nil {
		if err := h.archive.RecordSessionStart(ctx, sessionID, name); err != nil {
			log.Warn().Err(err).Msg("session not recorded in archive")
		}
	}

	h.send(conn, incident.LogEvent(fmt.Sprintf("starting analysis of %s", name)), log)

	orch := pipeline.NewOrchestrator(
		sampler.New(src, h.cfg.Pipeline.SampleInterval),
		pipeline.NewAnalyzer(h.model, log),
		pipeline.NewCritic(h.model, h.cfg.Pipeline.ConfidenceThreshold, log),
		pipeline.NewDispatcher(name, log),
		h.met,
		log,
	)

	// The reader's only jobs after start are detecting disconnects and
	// policing stray client messages.
	protocol := make(chan incident.Event, 4)
	go h.readLoop(conn, cancel, protocol, log)

	events := make(chan incident.Event, sessionEventBuffer)
	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(ctx, events) }()

	// Single writer: pipeline events in generation order, protocol
	// complaints interleaved as they happen.
	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				break
			}
			if !h.send(conn, ev, log) {
				cancel()
				break
			}
			if ev.Kind == incident.EventReport {
				h.archiveReport(ctx, sessionID, name, ev.Report, log)
			}
		case ev := <-protocol:
			if !h.send(conn, ev, log) {
				cancel()
			}
		}
	}

	err = <-runErr
	outcome := "finished"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		outcome = "disconnected"
	default:
		outcome = "failed"
	}
	h.recordSessionEnd(sessionID, outcome, log)
	log.Info().Str("outcome", outcome).Dur("elapsed", time.Since(started)).Msg("streaming session closed")
}

// awaitStart reads messages until a valid start command arrives. The first
// invalid message earns an error event; a second closes the channel.
func (h *WSHandler) awaitStart(conn *websocket.Conn, log zerolog.Logger) (string, bool) {
	violations := 0
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("connection closed before start command")
			return "", false
		}

		var cmd startCommand
		if err := json.Unmarshal(raw, &cmd); err == nil && strings.TrimSpace(cmd.VideoPath) != "" {
			return strings.TrimSpace(cmd.VideoPath), true
		}

		violations++
		if violations >= 2 {
			log.Warn().Msg("repeated invalid start commands, closing channel")
			h.send(conn, incident.ErrorEvent("protocol violation, closing"), log)
			return "", false
		}
		h.send(conn, incident.ErrorEvent(`expected start command: {"video_path": "<name>"}`), log)
	}
}

// readLoop drains the client side of the socket for the rest of the session.
// Any message after start is a protocol violation: the first is answered,
// a repeat tears the session down. A read error means the client is gone.
func (h *WSHandler) readLoop(conn *websocket.Conn, cancel context.CancelFunc, protocol chan<- incident.Event, log zerolog.Logger) {
	defer cancel()
	warned := false
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			log.Debug().Err(err).Msg("client read loop ended")
			return
		}
		if warned {
			log.Warn().Msg("repeated in-session commands, closing channel")
			return
		}
		warned = true
		select {
		case protocol <- incident.ErrorEvent("session already running, command ignored"):
		default:
		}
	}
}

// send writes one event envelope. A false return means the client is
// unreachable and the session should wind down.
func (h *WSHandler) send(conn *websocket.Conn, ev incident.Event, log zerolog.Logger) bool {
	payload, err := ev.Envelope()
	if err != nil {
		log.Error().Err(err).Msg("event encoding failed")
		return true
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Debug().Err(err).Msg("client write failed")
		return false
	}
	return true
}

func (h *WSHandler) archiveReport(ctx context.Context, sessionID, videoName string, report *incident.Report, log zerolog.Logger) {
	if h.archive == nil || report == nil {
		return
	}
	if _, err := h.archive.ArchiveReport(ctx, sessionID, videoName, report.FrameSeq, report.Offset, report); err != nil {
		log.Warn().Err(err).Msg("report not archived")
	}
}

// recordSessionEnd stamps the outcome with its own deadline: archive
// durability must not depend on the client still being connected.
func (h *WSHandler) recordSessionEnd(sessionID, outcome string, log zerolog.Logger) {
	if h.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.archive.RecordSessionEnd(ctx, sessionID, outcome); err != nil {
		log.Warn().Err(err).Msg("session outcome not recorded")
	}
}
