package inference

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const wsIdlePingInterval = 30 * time.Second

var statsUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// StatsFeed streams the server's counters as JSON text messages, one every
// interval while they change.
func (s *Server) StatsFeed(interval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := statsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()
		log := s.log.With().Str("remote", r.RemoteAddr).Logger()
		log.Info().Msg("stats client connected")

		// Reads only notice the close frame.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		send := make(chan []byte, 1)
		writeErr := make(chan error, 1)
		go func() { writeErr <- writeWithHeartbeat(conn, send) }()
		defer close(send)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var last ServerStats
		first := true
		for {
			if st := s.Stats(); first || st != last {
				msg, _ := json.Marshal(st)
				select {
				case send <- msg:
				case err := <-writeErr:
					log.Warn().Err(err).Msg("stats write failed")
					return
				}
				last, first = st, false
			}
			select {
			case <-ticker.C:
			case <-closed:
				log.Info().Msg("stats client disconnected")
				return
			case err := <-writeErr:
				log.Warn().Err(err).Msg("stats write failed")
				return
			}
		}
	}
}

// writeWithHeartbeat writes queued messages and pings the client when the
// connection has been idle for wsIdlePingInterval.
func writeWithHeartbeat(conn *websocket.Conn, send <-chan []byte) error {
	ticker := time.NewTicker(wsIdlePingInterval)
	defer ticker.Stop()
	lastWrite := time.Now()

	for {
		select {
		case msg, ok := <-send:
			if !ok {
				return nil
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
			lastWrite = time.Now()
		case <-ticker.C:
			if time.Since(lastWrite) < wsIdlePingInterval {
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return err
			}
			lastWrite = time.Now()
		}
	}
}
