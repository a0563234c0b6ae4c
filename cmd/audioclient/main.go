// Command audioclient streams a PCM WAV file to the relay in real time and
// prints the transcripts it receives. Run the relay with STT_ENCODING=linear16
// and STT_SAMPLE_RATE_HZ matching the file.
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"speech-relay-service/internal/models"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

const chunkInterval = 100 * time.Millisecond

// wavFormat is the subset of the fmt chunk the client needs.
type wavFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// bytesPerChunk returns how many bytes cover d of audio.
func (f wavFormat) bytesPerChunk(d time.Duration) int {
	perSecond := int(f.SampleRate) * int(f.Channels) * int(f.BitsPerSample) / 8
	n := perSecond * int(d/time.Millisecond) / 1000
	if n <= 0 {
		n = 1
	}
	return n
}

func parseWAVHeader(header []byte) (wavFormat, error) {
	if len(header) < wavHeaderSize {
		return wavFormat{}, fmt.Errorf("header too short: %d bytes", len(header))
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return wavFormat{}, errors.New("not a valid WAV file")
	}

	f := wavFormat{
		AudioFormat:   binary.LittleEndian.Uint16(header[20:22]),
		Channels:      binary.LittleEndian.Uint16(header[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(header[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(header[34:36]),
	}
	if f.AudioFormat != 1 { // PCM
		return f, fmt.Errorf("only PCM format supported, got format %d", f.AudioFormat)
	}
	return f, nil
}

func main() {
	audioFile := flag.String("audio", "testdata/sample.wav", "Path to a PCM WAV file")
	serverURL := flag.String("server", "ws://localhost:10000/", "relay WebSocket URL")
	linger := flag.Duration("linger", 3*time.Second, "time to wait for transcripts after the last chunk")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audio file")
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatal().Err(err).Msg("Failed to read WAV header")
	}
	format, err := parseWAVHeader(header)
	if err != nil {
		log.Fatal().Err(err).Msg("Unsupported audio file")
	}

	log.Info().
		Uint16("channels", format.Channels).
		Uint32("sampleRate", format.SampleRate).
		Uint16("bitsPerSample", format.BitsPerSample).
		Msg("WAV file")

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatal().Err(err).Str("server", *serverURL).Msg("Failed to connect")
	}
	defer conn.Close()

	log.Info().Str("server", *serverURL).Msg("Connected to relay")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg models.ClientMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				continue
			}
			log.Info().Str("transcript", msg.Transcript).Msg("Transcript")
		}
	}()

	audioChunk := make([]byte, format.bytesPerChunk(chunkInterval))
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := io.ReadFull(f, audioChunk)
		if n > 0 {
			chunkNum++
			totalBytes += int64(n)
			if werr := conn.WriteMessage(websocket.BinaryMessage, audioChunk[:n]); werr != nil {
				log.Fatal().Err(werr).Msg("Failed to send chunk")
			}
			if chunkNum%10 == 0 {
				log.Debug().Int("chunk", chunkNum).Int64("bytes", totalBytes).Msg("Streaming")
			}
			// Simulate real-time streaming
			time.Sleep(chunkInterval)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read audio")
		}
	}

	log.Info().
		Int("chunks", chunkNum).
		Int64("bytes", totalBytes).
		Dur("elapsed", time.Since(startTime)).
		Msg("Finished streaming, waiting for final transcripts")

	time.Sleep(*linger)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	select {
	case <-done:
	case <-time.After(time.Second):
	}
}
