package main

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	MsgTypeJoinGame  = 101
	MsgTypeMove      = 102
	MsgTypeResign    = 103
	MsgTypeFindMatch = 121
)

// send formats and sends a message to the WebSocket server.
func send(c *websocket.Conn, msgID uint16, data []byte) error {
	packet := make([]byte, 4+len(data))
	binary.BigEndian.PutUint16(packet[0:2], msgID)
	binary.BigEndian.PutUint16(packet[2:4], uint16(len(data)))
	copy(packet[4:], data)

	return c.WriteMessage(websocket.BinaryMessage, packet)
}

func sendJSON(c *websocket.Conn, msgID uint16, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return send(c, msgID, data)
}

func main() {
	addr := flag.String("addr", "localhost:8080", "server address")
	gameID := flag.String("game", "", "game to join (empty to search for a match)")
	playerID := flag.String("player", "demo-player", "player identity")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			if len(message) < 4 {
				log.Printf("Received invalid packet of size %d", len(message))
				continue
			}
			msgID := binary.BigEndian.Uint16(message[0:2])
			data := message[4:]
			log.Printf("<- RECV (ID: %d): %s", msgID, string(data))
		}
	}()

	if *gameID != "" {
		log.Printf("Joining game %s as %s...", *gameID, *playerID)
		err = sendJSON(c, MsgTypeJoinGame, map[string]string{
			"game_id":   *gameID,
			"player_id": *playerID,
		})
	} else {
		log.Printf("Searching for a 5+3 match as %s...", *playerID)
		err = sendJSON(c, MsgTypeFindMatch, map[string]interface{}{
			"player_id":         *playerID,
			"base_seconds":      300,
			"increment_seconds": 3,
		})
	}
	if err != nil {
		log.Println("Write error:", err)
		return
	}

	log.Println("Client started. Type moves like 'e2e4' (add a piece letter for promotion, e.g. 'e7e8q'), or 'resign'.")

	// Write loop
	reader := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		default:
			text, _ := reader.ReadString('\n')
			text = strings.TrimSpace(text)

			switch {
			case text == "":
			case text == "resign":
				if err := sendJSON(c, MsgTypeResign, map[string]string{"game_id": *gameID}); err != nil {
					log.Println("Write error:", err)
					return
				}
				log.Println("-> SENT: resign")
			case len(text) >= 4 && len(text) <= 5:
				move := map[string]string{
					"game_id": *gameID,
					"from":    text[0:2],
					"to":      text[2:4],
				}
				if len(text) == 5 {
					move["promotion"] = text[4:5]
				}
				if err := sendJSON(c, MsgTypeMove, move); err != nil {
					log.Println("Write error:", err)
					return
				}
				log.Printf("-> SENT: move %s", text)
			default:
				log.Printf("Unrecognized input %q", text)
			}
		}
	}
}
