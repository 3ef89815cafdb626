package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/mudra/internal/infer"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// predictionMessage is the JSON payload pushed to WebSocket clients.
type predictionMessage struct {
	Label       string    `json:"label"`
	Confidence  float64   `json:"confidence"`
	Class       int       `json:"class"`
	Probs       []float64 `json:"probs"`
	WindowSize  int       `json:"window_size"`
	FrameTimeMs int64     `json:"frame_time_ms"`
}

// PredictionsHandler broadcasts smoothed predictions to WebSocket clients.
// It receives results by being subscribed to the inference session.
type PredictionsHandler struct {
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
}

// NewPredictionsHandler creates an empty broadcaster.
func NewPredictionsHandler() *PredictionsHandler {
	return &PredictionsHandler{
		clients: make(map[*websocket.Conn]bool),
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *PredictionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Publish sends one classified frame to every connected client. It is the
// observer hooked into the inference session.
func (h *PredictionsHandler) Publish(res infer.Result) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	msg, err := json.Marshal(predictionMessage{
		Label:       res.Smoothed.Label,
		Confidence:  res.Smoothed.Confidence,
		Class:       res.Smoothed.Class,
		Probs:       res.Prediction.Probs,
		WindowSize:  res.Smoothed.Samples,
		FrameTimeMs: res.Frame.Timestamp.UnixMilli(),
	})
	if err != nil {
		return
	}

	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		conn.WriteMessage(websocket.TextMessage, msg)
	}
}
