package transport

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"zonecast/internal/coordinator"
	"zonecast/internal/logx"
	"zonecast/internal/node"
	"zonecast/internal/session"
)

// WSHandler upgrades subscription requests to websockets and hands them
// off to internal/session, which owns all filtering/heartbeat logic —
// this file only ever copies session frames onto the wire (spec §6
// Non-goals: wire framing is out of scope beyond this thin adapter).
// Grounded on original_source's actix-web-actors `ws` transport, adapted
// to gorilla/websocket (the pack's real websocket library).
type WSHandler struct {
	coord    *coordinator.Coordinator
	upgrader websocket.Upgrader
	log      *logx.Logger
}

func NewWSHandler(coord *coordinator.Coordinator) *WSHandler {
	return &WSHandler{
		coord: coord,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logx.New("WS"),
	}
}

// wsSender adapts a gorilla websocket connection to session.Sender. A
// mutex is required because gorilla/websocket forbids concurrent writes,
// and a session's heartbeat goroutine and its mailbox goroutine may both
// call into it.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsSender) Send(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *wsSender) Ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.PingMessage, []byte("heart-beat"))
}

func parseWantedTags(c *gin.Context) []node.InfoTag {
	var tags []node.InfoTag
	for _, v := range c.QueryArray("want") {
		switch v {
		case "queue":
			tags = append(tags, node.TagQueue)
		case "health":
			tags = append(tags, node.TagHealth)
		case "download":
			tags = append(tags, node.TagDownload)
		case "audio":
			tags = append(tags, node.TagAudioStateInfo)
		}
	}
	return tags
}

// SubscribeNode upgrades and connects a client to one node's broadcast
// stream (spec §4.7).
func (h *WSHandler) SubscribeNode(c *gin.Context) {
	sourceName := c.Param("source")
	n, ok := h.coord.GetNode(c.Request.Context(), sourceName)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no node named " + sourceName + " available"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sess := session.NewNodeSession(n, &wsSender{conn: conn}, parseWantedTags(c))
	if err := sess.Start(c.Request.Context()); err != nil {
		h.log.Error("session failed to connect to node %s: %v", sourceName, err)
		return
	}
	defer sess.Stop(c.Request.Context())

	h.drainUntilClose(conn)
}

// SubscribeCoordinator upgrades and connects a client to the coordinator's
// NodeInfo stream.
func (h *WSHandler) SubscribeCoordinator(c *gin.Context) {
	wantsNodeInfo := len(c.QueryArray("want")) > 0

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sess := session.NewCoordinatorSession(h.coord, &wsSender{conn: conn}, wantsNodeInfo)
	if err := sess.Start(c.Request.Context()); err != nil {
		h.log.Error("session failed to connect to coordinator: %v", err)
		return
	}
	defer sess.Stop(c.Request.Context())

	h.drainUntilClose(conn)
}

// drainUntilClose reads (and discards) inbound frames until the client
// closes the connection, matching the original's StreamHandler that only
// reacts to ws::Message::Close.
func (h *WSHandler) drainUntilClose(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
