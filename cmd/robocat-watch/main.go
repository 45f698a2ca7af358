// robocat-watch connects to a running robocat daemon and logs its status,
// frame rate updates and mask frames.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"image/jpeg"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/teslashibe/robocat/internal/config"
	"github.com/teslashibe/robocat/internal/httpc"
	"github.com/teslashibe/robocat/internal/log"
)

type status struct {
	State   string `json:"state"`
	Preview struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"preview"`
	FPS    float64 `json:"fps"`
	Frames uint64  `json:"frames"`
	Error  string  `json:"error"`
}

func main() {
	host := flag.String("host", "localhost", "robocat host")
	port := flag.String("port", config.ListenPort(config.DefaultListenPort), "robocat HTTP port")
	start := flag.Bool("start", false, "POST /api/start before watching")
	restart := flag.Bool("restart", false, "POST /api/restart before watching")
	masks := flag.Bool("masks", true, "Also watch the mask stream")
	level := flag.String("log-level", config.LogLevel(config.DefaultLogLevel), "Log level")
	flag.Parse()

	log.Init(*level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	base := config.ServerURL(*host, *port)

	if *start || *restart {
		path := "/api/start"
		if *restart {
			path = "/api/restart"
		}
		var st status
		err := httpc.PostJSON(ctx, base+path, nil, &st)
		var se *httpc.StatusError
		switch {
		case err == nil:
			log.Info("processing started", "preview", st.Preview)
		case errors.As(err, &se) && se.Code == 409:
			log.Info("processing already running")
		default:
			log.Error("start failed", "error", err)
			os.Exit(1)
		}
	}

	var st status
	if err := httpc.GetJSON(ctx, base+"/api/status", &st); err != nil {
		log.Error("status request failed", "url", base, "error", err)
		os.Exit(1)
	}
	log.Info("connected", "state", st.State, "width", st.Preview.Width, "height", st.Preview.Height, "frames", st.Frames, "error", st.Error)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		watch(ctx, config.WebSocketURL(*host, *port, "/ws/fps"), logFPS)
	}()
	if *masks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			watch(ctx, config.WebSocketURL(*host, *port, "/ws/mask"), logMask)
		}()
	}
	wg.Wait()
}

// watch reads messages from url until ctx is done or the connection drops.
func watch(ctx context.Context, url string, handle func(kind int, data []byte)) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		log.Error("dial failed", "url", url, "error", err)
		return
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("stream closed", "url", url, "error", err)
			}
			return
		}
		handle(kind, data)
	}
}

func logFPS(_ int, data []byte) {
	var msg struct {
		FPS float64 `json:"fps"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn("bad fps message", "error", err)
		return
	}
	log.Info("fps", "value", msg.FPS)
}

func logMask(kind int, data []byte) {
	if kind != websocket.BinaryMessage {
		return
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		log.Warn("bad mask frame", "bytes", len(data), "error", err)
		return
	}
	log.Debug("mask", "width", cfg.Width, "height", cfg.Height, "bytes", len(data))
}
