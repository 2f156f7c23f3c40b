package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/sttstream/pkg/transports/ws"
)

func main() {
	server := flag.String("url", "ws://localhost:8080/recognize", "")
	file := flag.String("file", "", "")
	language := flag.String("language", "", "")
	chunk := flag.Int("chunk", 3200, "")
	pace := flag.Duration("pace", 100*time.Millisecond, "")
	flag.Parse()
	if *file == "" {
		fmt.Println("usage: ws_client -file=audio.raw [-url=ws://host/recognize] [-language=en-US]")
		os.Exit(1)
	}

	u, err := url.Parse(*server)
	if err != nil {
		fmt.Println("url error:", err)
		os.Exit(1)
	}
	if *language != "" {
		q := u.Query()
		q.Set("language", *language)
		u.RawQuery = q.Encode()
	}

	audio, err := os.Open(*file)
	if err != nil {
		fmt.Println("audio error:", err)
		os.Exit(1)
	}
	defer audio.Close()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		fmt.Println("dial error:", err)
		os.Exit(1)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var ev ws.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			switch ev.Event {
			case ws.EventResult:
				resp, err := ws.DecodeResult(ev)
				if err != nil {
					fmt.Println("decode error:", err)
					continue
				}
				for _, res := range resp.GetResults() {
					if alts := res.GetAlternatives(); len(alts) > 0 {
						fmt.Printf("final=%v %s\n", res.GetIsFinal(), alts[0].GetTranscript())
					}
				}
			case ws.EventEnd:
				b, _ := json.Marshal(ev.Stats)
				fmt.Printf("end reason=%q stats=%s\n", ev.Reason, b)
				return
			default:
				fmt.Printf("%s %s %s\n", ev.Event, ev.SessionID, ev.Message)
			}
		}
	}()

	buf := make([]byte, *chunk)
	for {
		n, err := io.ReadFull(audio, buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				fmt.Println("write error:", werr)
				break
			}
			time.Sleep(*pace)
		}
		if err != nil {
			break
		}
	}
	_ = conn.WriteJSON(ws.Event{Event: ws.EventStop})
	<-done
}
