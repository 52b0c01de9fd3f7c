package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"arbmesh/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const statusPushInterval = 2 * time.Second

// wsFrame 推送帧：type 为 event / status
type wsFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// handleWebsocket 升级连接后持续推送事件与周期性状态快照
func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("⚠️ websocket 升级失败: %v", err)
		return
	}
	defer conn.Close()

	events := s.center.AddListener(128)
	defer s.center.RemoveListener(events)

	// 读协程只负责感知客户端断开
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(wsFrame{Type: "event", Data: e}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteJSON(wsFrame{Type: "status", Data: s.orch.GetSnapshot()}); err != nil {
				return
			}
		}
	}
}
