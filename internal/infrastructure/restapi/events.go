package restapi

import (
	"context"
	"net/http"
	"time"

	"vaultsync/internal/app/port"
	"vaultsync/internal/app/service"
	"vaultsync/internal/domain/entity"
	"vaultsync/internal/infrastructure/notify"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 1024
	wsPriceTimeout = 2 * time.Second
)

type eventFrame struct {
	Type string    `json:"type"`
	Data any       `json:"data"`
	At   time.Time `json:"at"`
}

// EventsHandler streams session events to websocket clients.
type EventsHandler struct {
	hub      *notify.Hub
	session  *service.VaultSession
	prices   port.TokenPriceService
	network  entity.NetworkDefinition
	upgrader websocket.Upgrader
	logger   port.Logger
}

// NewEventsHandler creates the websocket endpoint. An origin list containing "*" accepts any origin.
func NewEventsHandler(
	hub *notify.Hub,
	session *service.VaultSession,
	prices port.TokenPriceService,
	network entity.NetworkDefinition,
	allowedOrigins []string,
	logger port.Logger,
) *EventsHandler {
	return &EventsHandler{
		hub:     hub,
		session: session,
		prices:  prices,
		network: network,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Serve upgrades the connection, sends the current state and then every published event.
func (h *EventsHandler) Serve(c *gin.Context) {
	if h.hub == nil {
		writeJSON(c, http.StatusServiceUnavailable, APIError{Code: "EventsDisabled", Message: errNoEvents.Error()})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "remote", c.ClientIP(), "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := h.hub.Subscribe(0)
	defer unsubscribe()
	h.logger.Debug("Websocket client connected", "remote", c.ClientIP())

	for _, frame := range h.initialFrames() {
		if err := h.write(conn, frame); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go h.readLoop(conn, done)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			h.logger.Debug("Websocket client disconnected", "remote", c.ClientIP())
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := h.write(conn, h.frame(ev)); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains client frames so pongs and close frames are processed.
func (h *EventsHandler) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventsHandler) write(conn *websocket.Conn, frame eventFrame) error {
	body, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("Failed to encode event", "type", frame.Type, "error", err)
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, body)
}

func (h *EventsHandler) initialFrames() []eventFrame {
	now := time.Now()
	frames := []eventFrame{
		{Type: string(notify.EventSession), Data: newSessionView(h.session.Binding().Current()), At: now},
		{Type: string(notify.EventStatus), Data: newOperationStatusView(h.session.Orchestrator().Status(), h.network), At: now},
	}
	if snap := h.session.Snapshot(); !snap.IsZero() {
		frames = append(frames, eventFrame{Type: string(notify.EventSnapshot), Data: h.balanceView(snap), At: now})
	}
	return frames
}

func (h *EventsHandler) frame(ev notify.Event) eventFrame {
	f := eventFrame{Type: string(ev.Type), Data: ev.Data, At: ev.At}
	switch v := ev.Data.(type) {
	case entity.Session:
		f.Data = newSessionView(v)
	case entity.BalanceSnapshot:
		f.Data = h.balanceView(v)
	case entity.OperationStatus:
		f.Data = newOperationStatusView(v, h.network)
	}
	return f
}

// balanceView prices the snapshot from the cache only so the write loop never waits on
// DEXScreener. A miss warms the cache for the next frame.
func (h *EventsHandler) balanceView(s entity.BalanceSnapshot) balanceView {
	var price float64
	if h.prices != nil && s.TokenAddress != "" {
		var ok bool
		if price, ok = h.prices.CachedPriceUSD(h.network.DEXScreenerChainID, s.TokenAddress); !ok {
			go h.warmPrice(s.TokenAddress)
		}
	}
	return newBalanceView(s, price)
}

func (h *EventsHandler) warmPrice(tokenAddress string) {
	ctx, cancel := context.WithTimeout(context.Background(), wsPriceTimeout)
	defer cancel()
	h.prices.GetPriceUSD(ctx, h.network.DEXScreenerChainID, tokenAddress)
}
