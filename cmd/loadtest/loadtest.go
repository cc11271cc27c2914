// Command loadtest opens many connections against a running gateway, sends
// messages from them and reports how many frames of each type came back.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/johndosdos/messenger/internal/auth"
	"github.com/johndosdos/messenger/internal/frame"
)

type counters struct {
	success, errors, messages atomic.Int64
}

func (c *counters) add(t frame.Type) {
	switch t {
	case frame.TypeSuccess:
		c.success.Add(1)
	case frame.TypeError:
		c.errors.Add(1)
	case frame.TypeMessage:
		c.messages.Add(1)
	}
}

func main() {
	var (
		addr        = flag.String("addr", "ws://localhost:8080", "gateway base URL")
		token       = flag.String("token", "", "token to connect with")
		secret      = flag.String("jwt-secret", "", "sign a token for -user with this secret instead of -token")
		userID      = flag.Int64("user", 0, "user id to sign a token for")
		recipient   = flag.Int64("recipient", 0, "recipient user id")
		conns       = flag.Int("conns", 10, "number of connections")
		messages    = flag.Int("messages", 10, "messages sent per connection")
		interval    = flag.Duration("interval", 10*time.Millisecond, "pause between messages on one connection")
		settle      = flag.Duration("settle", 2*time.Second, "how long to keep reading after the last send")
		dialTimeout = flag.Duration("dial-timeout", 5*time.Second, "handshake timeout")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *secret != "" {
		signed, err := auth.MakeJWT(*userID, "loadtest", *secret, time.Hour)
		if err != nil {
			log.Error("failed to sign token", "error", err)
			os.Exit(1)
		}
		*token = signed
	}
	if *token == "" || *recipient == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var c counters
	start := time.Now()
	err := run(context.Background(), config{
		url:         strings.TrimRight(*addr, "/") + "/ws/" + *token,
		recipient:   *recipient,
		conns:       *conns,
		messages:    *messages,
		interval:    *interval,
		settle:      *settle,
		dialTimeout: *dialTimeout,
	}, &c, log)
	if err != nil {
		log.Error("load test failed", "error", err)
	}

	fmt.Printf("connections=%d sent=%d success=%d error=%d message=%d elapsed=%s\n",
		*conns, *conns**messages,
		c.success.Load(), c.errors.Load(), c.messages.Load(),
		time.Since(start).Round(time.Millisecond))
	if err != nil {
		os.Exit(1)
	}
}

type config struct {
	url         string
	recipient   int64
	conns       int
	messages    int
	interval    time.Duration
	settle      time.Duration
	dialTimeout time.Duration
}

func run(ctx context.Context, cfg config, c *counters, log *slog.Logger) error {
	clients := make([]*websocket.Conn, 0, cfg.conns)
	defer func() {
		for _, conn := range clients {
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}
	}()

	for i := 0; i < cfg.conns; i++ {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.dialTimeout)
		conn, _, err := websocket.Dial(dialCtx, cfg.url, nil)
		cancel()
		if err != nil {
			return fmt.Errorf("dial connection %d: %w", i, err)
		}
		clients = append(clients, conn)
	}

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()

	var readers sync.WaitGroup
	for _, conn := range clients {
		readers.Add(1)
		go func(conn *websocket.Conn) {
			defer readers.Done()
			for {
				_, p, err := conn.Read(readCtx)
				if err != nil {
					return
				}
				env, err := frame.DecodeEnvelope(p)
				if err != nil {
					log.Warn("undecodable frame", "error", err)
					continue
				}
				c.add(env.Type)
			}
		}(conn)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, conn := range clients {
		g.Go(func() error {
			for m := 0; m < cfg.messages; m++ {
				payload, err := frame.EncodeRequest(frame.Request{
					Msg:         fmt.Sprintf("load %d/%d", i, m),
					RecipientID: cfg.recipient,
				})
				if err != nil {
					return err
				}
				if err := conn.Write(gctx, websocket.MessageText, payload); err != nil {
					return fmt.Errorf("connection %d: %w", i, err)
				}
				time.Sleep(cfg.interval)
			}
			return nil
		})
	}
	err := g.Wait()

	time.Sleep(cfg.settle)
	stopReading()
	readers.Wait()

	return err
}
