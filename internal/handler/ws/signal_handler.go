package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"teamboard-backend/internal/domain"
	"teamboard-backend/internal/service/call"
	"teamboard-backend/pkg/env"
	"teamboard-backend/pkg/logger"
	"teamboard-backend/pkg/metrics"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 54 * time.Second
	pongWait     = 60 * time.Second
	maxFrameSize = 64 * 1024
)

// SignalEngine is the slice of the signaling service the socket layer drives
type SignalEngine interface {
	Start(ctx context.Context, chatID, initiatorID uuid.UUID, media domain.MediaKind) (*domain.SignalEvent, error)
	ProcessOffer(ctx context.Context, chatID, sessionID, senderID uuid.UUID, sdp string) (*domain.SignalEvent, error)
	ProcessAnswer(ctx context.Context, chatID, sessionID, senderID uuid.UUID, sdp string) error
	ProcessIceCandidate(ctx context.Context, chatID, sessionID, senderID uuid.UUID, candidate string) error
	End(ctx context.Context, chatID, sessionID, userID uuid.UUID) error
	Invite(ctx context.Context, chatID, sessionID, inviterID, inviteeID uuid.UUID) error
	MediaStatus(ctx context.Context, chatID, sessionID, senderID uuid.UUID, kind domain.SignalKind, enabled bool) error
}

// PresenceTracker records socket liveness so the delivery layer can decide
// between a live push and a mobile ring
type PresenceTracker interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
	RefreshPresence(ctx context.Context, userID uuid.UUID) error
}

// InboundMessage is one client-to-server signaling frame
type InboundMessage struct {
	Type      string    `json:"type"`
	ChatID    uuid.UUID `json:"chat_id"`
	SessionID uuid.UUID `json:"session_id,omitempty"`
	SDP       string    `json:"sdp,omitempty"`
	Candidate string    `json:"candidate,omitempty"`
	InviteeID uuid.UUID `json:"invitee_id,omitempty"`
	Media     string    `json:"media,omitempty"`
	Enabled   bool      `json:"enabled"`
}

// Inbound frame types; server-to-client kinds live in the domain package
const (
	InboundStartCall = "start_call"
	InboundEndCall   = "end_call"
	InboundInvite    = "invite"
)

// SignalHub fans signaling events out to connected sockets. It implements the
// delivery gateway consumed by the signaling engine: events addressed to a
// username or a call topic go through a Redis channel so every service
// instance, not just the one holding the socket, can deliver them.
type SignalHub struct {
	// Connected clients per username (one user may hold several devices)
	clients map[string]map[*SignalClient]bool

	// Clients listening on a call topic
	topics map[string]map[*SignalClient]bool

	subscriptionCancels map[string]context.CancelFunc

	redisClient *redis.Client
	presence    PresenceTracker
	engine      SignalEngine

	mu sync.RWMutex

	register   chan *SignalClient
	unregister chan *SignalClient

	maxConnections int
	semaphore      chan struct{}
}

// SignalClient is one WebSocket connection of a user
type SignalClient struct {
	hub      *SignalHub
	conn     *websocket.Conn
	send     chan []byte
	userID   uuid.UUID
	username string
	topics   []string
	ctx      context.Context
	cancel   context.CancelFunc
}

var signalUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		for _, allowed := range allowedOrigins() {
			if origin == allowed {
				return true
			}
		}
		return false
	},
}

func allowedOrigins() []string {
	raw := env.GetString("WS_ALLOWED_ORIGINS", "http://localhost:3000")
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// NewSignalHub creates a new signaling hub
func NewSignalHub(redisClient *redis.Client, presence PresenceTracker) *SignalHub {
	maxConns := env.GetInt("WS_MAX_SIGNAL_CONNECTIONS", 1000)

	hub := &SignalHub{
		clients:             make(map[string]map[*SignalClient]bool),
		topics:              make(map[string]map[*SignalClient]bool),
		subscriptionCancels: make(map[string]context.CancelFunc),
		redisClient:         redisClient,
		presence:            presence,
		register:            make(chan *SignalClient),
		unregister:          make(chan *SignalClient),
		maxConnections:      maxConns,
		semaphore:           make(chan struct{}, maxConns),
	}

	go hub.run()

	return hub
}

// AttachEngine wires the signaling engine in after construction. The engine
// needs the hub as its gateway and the hub needs the engine for inbound
// frames, so one side has to be set late.
func (h *SignalHub) AttachEngine(engine SignalEngine) {
	h.engine = engine
}

// userChannel is the Redis channel carrying private events for a username
func userChannel(username string) string {
	return "signal:user:" + username
}

// SendToUser implements the delivery gateway: fire-and-forget private
// delivery to every device of the user, on whichever instance they connect to
func (h *SignalHub) SendToUser(username string, event *domain.SignalEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal signal event",
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
		metrics.CallDeliveryDroppedTotal.WithLabelValues("marshal").Inc()
		return
	}

	if err := h.redisClient.Publish(context.Background(), userChannel(username), payload).Err(); err != nil {
		logger.Error("Failed to publish signal event",
			zap.String("username", username),
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
		metrics.SignalRedisPublishErrorTotal.Inc()
		return
	}
	metrics.CallDeliverySentTotal.WithLabelValues("user").Inc()
}

// SendToTopic implements the delivery gateway: fire-and-forget broadcast to
// every socket subscribed to the call topic
func (h *SignalHub) SendToTopic(topicKey string, event *domain.SignalEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal signal event",
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
		metrics.CallDeliveryDroppedTotal.WithLabelValues("marshal").Inc()
		return
	}

	if err := h.redisClient.Publish(context.Background(), topicKey, payload).Err(); err != nil {
		logger.Error("Failed to publish topic event",
			zap.String("topic", topicKey),
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
		metrics.SignalRedisPublishErrorTotal.Inc()
		return
	}
	metrics.CallDeliverySentTotal.WithLabelValues("topic").Inc()
}

func (h *SignalHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.username] == nil {
				h.clients[client.username] = make(map[*SignalClient]bool)
				h.subscribe(userChannel(client.username))
			}
			h.clients[client.username][client] = true

			for _, topic := range client.topics {
				if h.topics[topic] == nil {
					h.topics[topic] = make(map[*SignalClient]bool)
					h.subscribe(topic)
				}
				h.topics[topic][client] = true
			}
			h.mu.Unlock()

			metrics.SignalWebSocketConnections.Inc()
			if err := h.presence.SetUserOnline(context.Background(), client.userID); err != nil {
				logger.Warn("Failed to mark user online",
					zap.String("user_id", client.userID.String()),
					zap.Error(err))
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.username]; ok && clients[client] {
				delete(clients, client)
				close(client.send)
				client.cancel()

				if len(clients) == 0 {
					delete(h.clients, client.username)
					h.unsubscribe(userChannel(client.username))
				}
			}
			for _, topic := range client.topics {
				if subs, ok := h.topics[topic]; ok {
					delete(subs, client)
					if len(subs) == 0 {
						delete(h.topics, topic)
						h.unsubscribe(topic)
					}
				}
			}

			lastDevice := h.clients[client.username] == nil
			h.mu.Unlock()

			metrics.SignalWebSocketConnections.Dec()
			if lastDevice {
				if err := h.presence.SetUserOffline(context.Background(), client.userID); err != nil {
					logger.Warn("Failed to mark user offline",
						zap.String("user_id", client.userID.String()),
						zap.Error(err))
				}
			}
		}
	}
}

// subscribe starts a Redis subscription for the channel. Caller holds h.mu.
func (h *SignalHub) subscribe(channel string) {
	ctx, cancel := context.WithCancel(context.Background())
	h.subscriptionCancels[channel] = cancel
	go h.pumpChannel(ctx, channel)
}

// unsubscribe stops the Redis subscription. Caller holds h.mu.
func (h *SignalHub) unsubscribe(channel string) {
	if cancel, ok := h.subscriptionCancels[channel]; ok {
		cancel()
		delete(h.subscriptionCancels, channel)
	}
}

// pumpChannel relays Redis messages to the local sockets listening on the
// channel, whether it is a per-user channel or a call topic
func (h *SignalHub) pumpChannel(ctx context.Context, channel string) {
	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		logger.Error("Failed to subscribe to Redis channel",
			zap.String("channel", channel),
			zap.Error(err))
		return
	}

	metrics.SignalRedisSubscriptionsActive.Inc()
	defer metrics.SignalRedisSubscriptionsActive.Dec()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			h.deliverLocal(channel, []byte(msg.Payload))
		}
	}
}

// deliverLocal pushes one payload onto all local sockets for the channel
func (h *SignalHub) deliverLocal(channel string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var targets map[*SignalClient]bool
	if strings.HasPrefix(channel, "signal:user:") {
		targets = h.clients[strings.TrimPrefix(channel, "signal:user:")]
	} else {
		targets = h.topics[channel]
	}

	for client := range targets {
		select {
		case client.send <- payload:
			metrics.SignalWebSocketMessagesTotal.WithLabelValues("out").Inc()
		default:
			// Slow consumer; drop the frame rather than block the pump
			metrics.CallDeliveryDroppedTotal.WithLabelValues("slow_consumer").Inc()
		}
	}
}

// ServeWS upgrades an authenticated request to a signaling socket. The
// optional chat_ids query parameter lists chats whose call topics the socket
// wants broadcast events for.
func (h *SignalHub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}
	release := func() { <-h.semaphore }

	userIDVal, exists := c.Get("user_id")
	if !exists {
		release()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		release()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}

	usernameVal, exists := c.Get("username")
	username, ok := usernameVal.(string)
	if !exists || !ok || username == "" {
		release()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var topics []string
	if chatIDs := c.Query("chat_ids"); chatIDs != "" {
		for _, raw := range strings.Split(chatIDs, ",") {
			chatID, err := uuid.Parse(strings.TrimSpace(raw))
			if err != nil {
				release()
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat_ids"})
				return
			}
			topics = append(topics, call.CallTopic(chatID))
		}
	}

	conn, err := signalUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		release()
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &SignalClient{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		userID:   userID,
		username: username,
		topics:   topics,
		ctx:      ctx,
		cancel:   cancel,
	}

	h.register <- client

	go client.writePump(release)
	go client.readPump()
}

func (c *SignalClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := c.hub.presence.RefreshPresence(c.ctx, c.userID); err != nil {
			logger.Debug("Failed to refresh presence",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}
		metrics.SignalWebSocketMessagesTotal.WithLabelValues("in").Inc()

		var msg InboundMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("Invalid signaling frame",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			continue
		}

		c.dispatch(&msg)
	}
}

// dispatch routes one inbound frame to the engine. Engine errors are logged
// only: the socket stays up and the client relies on signal events, not
// acknowledgements.
func (c *SignalClient) dispatch(msg *InboundMessage) {
	engine := c.hub.engine
	if engine == nil {
		logger.Error("Signaling frame received before engine attached")
		return
	}
	if msg.ChatID == uuid.Nil {
		logger.Warn("Signaling frame without chat_id dropped",
			zap.String("type", msg.Type),
			zap.String("user_id", c.userID.String()))
		return
	}

	var err error
	switch msg.Type {
	case InboundStartCall:
		media := domain.MediaVideo
		if msg.Media == string(domain.MediaAudio) {
			media = domain.MediaAudio
		}
		var evt *domain.SignalEvent
		evt, err = engine.Start(c.ctx, msg.ChatID, c.userID, media)
		if err == nil && evt != nil && evt.Mode == domain.CallModeGroup {
			// Group calls announce to the whole chat topic; direct
			// calls stay a private reply whether fresh or attached
			c.hub.SendToTopic(call.CallTopic(msg.ChatID), evt)
		} else if err == nil && evt != nil {
			c.reply(evt)
		}

	case string(domain.SignalOffer):
		var evt *domain.SignalEvent
		evt, err = engine.ProcessOffer(c.ctx, msg.ChatID, msg.SessionID, c.userID, msg.SDP)
		if err == nil && evt != nil {
			// Group offer: engine leaves fan-out to the transport
			c.hub.SendToTopic(call.CallTopic(msg.ChatID), evt)
		}

	case string(domain.SignalAnswer):
		err = engine.ProcessAnswer(c.ctx, msg.ChatID, msg.SessionID, c.userID, msg.SDP)

	case string(domain.SignalIceCandidate):
		err = engine.ProcessIceCandidate(c.ctx, msg.ChatID, msg.SessionID, c.userID, msg.Candidate)

	case InboundEndCall:
		err = engine.End(c.ctx, msg.ChatID, msg.SessionID, c.userID)

	case InboundInvite:
		err = engine.Invite(c.ctx, msg.ChatID, msg.SessionID, c.userID, msg.InviteeID)

	case string(domain.SignalToggleAudio), string(domain.SignalToggleVideo),
		string(domain.SignalScreenShareStarted), string(domain.SignalScreenShareEnded):
		err = engine.MediaStatus(c.ctx, msg.ChatID, msg.SessionID, c.userID, domain.SignalKind(msg.Type), msg.Enabled)

	default:
		logger.Warn("Unknown signaling frame type",
			zap.String("type", msg.Type),
			zap.String("user_id", c.userID.String()))
		return
	}

	if err != nil {
		logger.Error("Signaling frame failed",
			zap.String("type", msg.Type),
			zap.String("chat_id", msg.ChatID.String()),
			zap.String("user_id", c.userID.String()),
			zap.Error(err))
	}
}

// reply pushes an event straight back onto this socket
func (c *SignalClient) reply(evt *domain.SignalEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		logger.Error("Failed to marshal reply event",
			zap.String("kind", string(evt.Kind)),
			zap.Error(err))
		return
	}
	select {
	case c.send <- payload:
		metrics.SignalWebSocketMessagesTotal.WithLabelValues("out").Inc()
	default:
		metrics.CallDeliveryDroppedTotal.WithLabelValues("slow_consumer").Inc()
	}
}

func (c *SignalClient) writePump(release func()) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		release()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
