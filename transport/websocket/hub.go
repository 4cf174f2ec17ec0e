package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "websocket")

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// 每个客户端的发送队列长度
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message 推送给渲染客户端的消息
type Message struct {
	Event string  `json:"event"`
	Step  int32   `json:"step"`
	T     float64 `json:"t"`
	Data  any     `json:"data,omitempty"`
}

// VehicleState 车辆快照
type VehicleState struct {
	ID       int32   `json:"id"`
	Category string  `json:"category"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Heading  float64 `json:"heading"`
	Speed    float64 `json:"speed"`
	Segment  int32   `json:"segment"`
	Lane     int32   `json:"lane"`
	State    string  `json:"state"`
	Waiting  bool    `json:"waiting,omitempty"`
	Yielding bool    `json:"yielding,omitempty"`
	Color    string  `json:"color"`
	Model    string  `json:"model,omitempty"`
}

// LightState 信号灯快照
type LightState struct {
	NodeID    int32   `json:"node_id"`
	State     string  `json:"state"`
	Remaining float64 `json:"remaining"`
	Override  bool    `json:"override,omitempty"`
}

// Snapshot 一步的仿真快照
type Snapshot struct {
	Vehicles []VehicleState `json:"vehicles"`
	Lights   []LightState   `json:"lights,omitempty"`
}

// Client 一个websocket连接
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub 维护所有连接并广播快照
// 说明：连接的注册、注销与广播都在Run协程中串行处理；发送队列满的慢客户端直接断开，不阻塞仿真
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // Run返回后关闭

	numClients atomic.Int32
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run 事件循环，ctx取消时断开所有连接并返回
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.unregisterClient(client)
			}
			return
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case data := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					h.unregisterClient(client)
				}
			}
		}
	}
}

// NumClients 当前连接数
func (h *Hub) NumClients() int {
	return int(h.numClients.Load())
}

// ServeHTTP 升级为websocket连接并注册
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("websocket upgrade failed: %v", err)
		return
	}
	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

// Broadcast 广播消息
// 说明：广播队列满时丢弃本条消息
func (h *Hub) Broadcast(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("failed to marshal websocket message: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Debugf("broadcast queue is full, drop step %d", msg.Step)
	}
}

func (h *Hub) registerClient(client *Client) {
	h.clients[client] = true
	h.numClients.Store(int32(len(h.clients)))
	log.Infof("client %s connected (total clients: %d)", client.remote(), len(h.clients))
}

func (h *Hub) unregisterClient(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.numClients.Store(int32(len(h.clients)))
		log.Infof("client %s disconnected (remaining clients: %d)", client.remote(), len(h.clients))
	}
}

func (c *Client) remote() string {
	if c.conn == nil {
		return "-"
	}
	return c.conn.RemoteAddr().String()
}

// readPump 只读取控制消息以维持连接
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warnf("websocket error: %v", err)
			}
			break
		}
	}
}

// writePump 将发送队列中的消息写入连接，每条消息单独成帧
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub关闭了发送队列
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
