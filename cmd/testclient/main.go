// Command testclient streams synthetic audio chunks to the relay and prints
// every transcript it receives.
package main

import (
	"flag"
	"os"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"speech-relay-service/internal/models"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:10000/", "relay WebSocket URL")
	chunks := flag.Int("chunks", 100, "number of chunks to send")
	chunkSize := flag.Int("size", 320, "bytes per chunk")
	interval := flag.Duration("interval", 20*time.Millisecond, "delay between chunks")
	linger := flag.Duration("linger", 2*time.Second, "time to wait for transcripts after the last chunk")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatal().Err(err).Str("server", *serverURL).Msg("Failed to connect")
	}
	defer conn.Close()

	log.Info().Str("server", *serverURL).Msg("Connected to relay")

	received := make(chan struct{})
	var count atomic.Int64
	go func() {
		defer close(received)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg models.ClientMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				log.Warn().Err(err).Str("payload", string(payload)).Msg("Unexpected message")
				continue
			}
			n := count.Add(1)
			log.Info().Int64("n", n).Str("transcript", msg.Transcript).Msg("Transcript")
		}
	}()

	chunk := make([]byte, *chunkSize)
	for i := 1; i <= *chunks; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			log.Fatal().Err(err).Int("chunk", i).Msg("Failed to send chunk")
		}
		if i%25 == 0 {
			log.Info().Int("sent", i).Msg("Chunks sent")
		}
		time.Sleep(*interval)
	}

	time.Sleep(*linger)

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	select {
	case <-received:
	case <-time.After(time.Second):
	}

	log.Info().Int("chunks", *chunks).Int64("transcripts", count.Load()).Msg("Done")
}
