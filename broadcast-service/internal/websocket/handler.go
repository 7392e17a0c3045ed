package websocket

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The storefront is served from a different origin than the channel
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	manager *Manager
	log     zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(manager *Manager, log zerolog.Logger) *Handler {
	return &Handler{
		manager: manager,
		log:     log,
	}
}

// SetupRoutes configures WebSocket routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Clients connect once and join product rooms with joinAuction frames
	router.HandleFunc("/ws", h.HandleWebSocket)

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/stats/products/{id}", h.GetStats).Methods("GET")

	return router
}

// HandleWebSocket upgrades HTTP connection to WebSocket
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := &Client{
		ID:    uuid.New().String(),
		Conn:  conn,
		Send:  make(chan []byte, sendBuffer), // Buffered channel for non-blocking sends
		rooms: make(map[string]struct{}),
		log:   h.log,
	}

	if !h.manager.RegisterClient(client) {
		conn.Close()
		return
	}
	client.StartReadPump(h.manager)
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "healthy", "service": "broadcast-service"})
}

// GetStats returns the subscriber count of a product room
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["id"]
	respondJSON(w, map[string]any{
		"productId":   productID,
		"subscribers": h.manager.GetSubscriberCount(productID),
	})
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(data)
}
