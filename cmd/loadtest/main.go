package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aeolun/framechat/pkg/client"
	"github.com/aeolun/framechat/pkg/protocol"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur. Excepteur sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum."

var loremWords = strings.Fields(loremIpsum)

var log = logrus.WithField("component", "loadtest")

// Stats tracks performance metrics
type Stats struct {
	messagesSent     atomic.Int64
	messagesFailed   atomic.Int64
	pushesReceived   atomic.Int64
	signins          atomic.Int64
	totalSigninTime  atomic.Int64 // in microseconds
	connectionErrors atomic.Int64
	authFailures     atomic.Int64
	disconnections   atomic.Int64
	kicks            atomic.Int64
}

func (s *Stats) recordSignin(d time.Duration) {
	s.signins.Add(1)
	s.totalSigninTime.Add(d.Microseconds())
}

func (s *Stats) snapshot() (sent, failed, received, connErrors int64, avgSigninUs float64) {
	sent = s.messagesSent.Load()
	failed = s.messagesFailed.Load()
	received = s.pushesReceived.Load()
	connErrors = s.connectionErrors.Load()

	if n := s.signins.Load(); n > 0 {
		avgSigninUs = float64(s.totalSigninTime.Load()) / float64(n)
	}
	return
}

// BotClient is a scripted chat user
type BotClient struct {
	id      int
	run     string
	login   string
	exiting atomic.Bool
	conn    net.Conn
	writer  *protocol.FrameWriter
	reader  *protocol.FrameReader
	stats   *Stats
}

func NewBotClient(ctx context.Context, id int, run string, serverAddr string, stats *Stats) (*BotClient, error) {
	conn, _, err := client.Connect(ctx, serverAddr)
	if err != nil {
		return nil, err
	}

	writer, reader := protocol.Split(conn, protocol.DefaultFrameSize)
	return &BotClient{
		id:     id,
		run:    run,
		login:  botLogin(run, id),
		conn:   conn,
		writer: writer,
		reader: reader,
		stats:  stats,
	}, nil
}

func botLogin(run string, id int) string {
	return fmt.Sprintf("bot-%s-%d", run, id)
}

// exchange writes req and waits for the matching response
func (bc *BotClient) exchange(req protocol.Request) (protocol.Response, error) {
	if err := bc.writer.WriteRequest(req); err != nil {
		return protocol.Response{}, err
	}

	bc.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer bc.conn.SetReadDeadline(time.Time{})

	for {
		payload, err := bc.reader.ReadFrame()
		if err != nil {
			return protocol.Response{}, err
		}
		if in := protocol.Classify(payload); in.Kind == protocol.InboundResponse {
			return in.Response, nil
		}
	}
}

// Register signs the bot up and in
func (bc *BotClient) Register() error {
	password := "pw-" + bc.login

	resp, err := bc.exchange(protocol.Request{Command: protocol.CommandCheckLogin, Login: bc.login})
	if err != nil {
		return err
	}
	if resp.Status == protocol.StatusAvailable {
		resp, err = bc.exchange(protocol.Request{
			Command:  protocol.CommandSignup,
			Login:    bc.login,
			Password: password,
			Name:     fmt.Sprintf("Bot %d", bc.id),
		})
		if err != nil {
			return err
		}
		if resp.Status != protocol.StatusSuccess {
			return fmt.Errorf("signup refused: %s", resp.Status)
		}
	}

	start := time.Now()
	resp, err = bc.exchange(protocol.Request{Command: protocol.CommandSignin, Login: bc.login, Password: password})
	if err != nil {
		return err
	}
	if resp.Status != protocol.StatusSuccess {
		return fmt.Errorf("signin refused: %s", resp.Status)
	}
	bc.stats.recordSignin(time.Since(start))
	return nil
}

// receive counts pushes until the connection ends
func (bc *BotClient) receive(done chan<- struct{}) {
	defer close(done)
	for {
		payload, err := bc.reader.ReadFrame()
		if err != nil {
			if !bc.exiting.Load() && !errors.Is(err, net.ErrClosed) {
				bc.stats.disconnections.Add(1)
			}
			return
		}

		in := protocol.Classify(payload)
		switch {
		case in.Kind == protocol.InboundPush:
			bc.stats.pushesReceived.Add(1)
		case in.Kind == protocol.InboundResponse && in.Response.Status == protocol.StatusKick:
			bc.stats.kicks.Add(1)
			return
		}
	}
}

func (bc *BotClient) randomMessage() string {
	wordCount := 5 + rand.Intn(16)
	words := make([]string, 0, wordCount)
	for i := 0; i < wordCount; i++ {
		words = append(words, loremWords[rand.Intn(len(loremWords))])
	}
	return strings.Join(words, " ")
}

func (bc *BotClient) Run(ctx context.Context, duration, minDelay, maxDelay, shutdownDelay time.Duration, peers int) {
	defer bc.conn.Close()

	received := make(chan struct{})
	go bc.receive(received)

	endTime := time.Now().Add(duration)
	for time.Now().Before(endTime) && ctx.Err() == nil {
		req := protocol.Request{Command: protocol.CommandSend, Text: bc.randomMessage()}

		// One in ten messages goes to a single peer
		if peers > 1 && rand.Float32() < 0.1 {
			req.Receiver = botLogin(bc.run, rand.Intn(peers))
		}

		if err := bc.writer.WriteRequest(req); err != nil {
			bc.stats.messagesFailed.Add(1)
			break
		}
		bc.stats.messagesSent.Add(1)

		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
		}
		select {
		case <-ctx.Done():
		case <-received:
			return
		case <-time.After(delay):
		}
	}

	// Stagger shutdown to avoid thundering herd on disconnect
	if shutdownDelay > 0 && ctx.Err() == nil {
		time.Sleep(shutdownDelay)
	}

	bc.exiting.Store(true)
	bc.writer.WriteRequest(protocol.Request{Command: protocol.CommandExit})
	select {
	case <-received:
	case <-time.After(time.Second):
	}
}

func main() {
	serverAddr := flag.String("server", "localhost:6465", "Server address (host:port or ws://host:port/ws)")
	numClients := flag.Int("clients", 10, "Number of concurrent clients")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 1*time.Second, "Minimum delay between messages")
	maxDelay := flag.Duration("max-delay", 3*time.Second, "Maximum delay between messages")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Calculate stagger delay: ramp up over 25% of test duration
	rampUpDuration := *duration / 4
	staggerDelay := rampUpDuration / time.Duration(*numClients)
	if staggerDelay < 1*time.Millisecond {
		staggerDelay = 1 * time.Millisecond
	}

	run := strings.Split(uuid.NewString(), "-")[0]
	log.WithFields(logrus.Fields{
		"server":   *serverAddr,
		"clients":  *numClients,
		"duration": *duration,
		"ramp_up":  rampUpDuration,
		"run":      run,
	}).Info("starting load test")

	stats := &Stats{}
	var wg sync.WaitGroup

	stopStats := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		startTime := time.Now()
		for {
			select {
			case <-ticker.C:
				sent, failed, received, connErrors, avgUs := stats.snapshot()
				elapsed := time.Since(startTime).Seconds()
				log.Infof("Stats: %d sent (%.1f/s), %d pushes received, %d failed, %d conn errors, avg signin %.2fms",
					sent, float64(sent)/elapsed, received, failed, connErrors, avgUs/1000.0)
			case <-stopStats:
				return
			}
		}
	}()

spawn:
	for i := 0; i < *numClients; i++ {
		wg.Add(1)

		// Reverse order for ramp-down
		shutdownDelay := staggerDelay * time.Duration(*numClients-i-1)

		go func(id int, shutdownDelay time.Duration) {
			defer wg.Done()

			bot, err := NewBotClient(ctx, id, run, *serverAddr, stats)
			if err != nil {
				stats.connectionErrors.Add(1)
				return
			}

			if err := bot.Register(); err != nil {
				stats.authFailures.Add(1)
				log.WithError(err).WithField("bot", id).Debug("registration failed")
				bot.conn.Close()
				return
			}

			if id%100 == 0 {
				log.Infof("[Bot %d] Connected", id)
			}

			bot.Run(ctx, *duration, *minDelay, *maxDelay, shutdownDelay, *numClients)
		}(i, shutdownDelay)

		select {
		case <-ctx.Done():
			break spawn
		case <-time.After(staggerDelay):
		}
	}

	wg.Wait()
	close(stopStats)

	sent, failed, received, connErrors, avgUs := stats.snapshot()
	fmt.Fprintf(os.Stdout, "\n=== Final Results ===\n")
	fmt.Fprintf(os.Stdout, "Duration: %v\n", *duration)
	fmt.Fprintf(os.Stdout, "Messages sent: %d (%.1f/s)\n", sent, float64(sent)/duration.Seconds())
	fmt.Fprintf(os.Stdout, "Messages failed: %d\n", failed)
	fmt.Fprintf(os.Stdout, "Pushes received: %d\n", received)
	fmt.Fprintf(os.Stdout, "Signins: %d (avg %.2fms)\n", stats.signins.Load(), avgUs/1000.0)
	fmt.Fprintf(os.Stdout, "Auth failures: %d\n", stats.authFailures.Load())
	fmt.Fprintf(os.Stdout, "Connection errors: %d\n", connErrors)
	fmt.Fprintf(os.Stdout, "Disconnections: %d\n", stats.disconnections.Load())
	fmt.Fprintf(os.Stdout, "Kicks: %d\n", stats.kicks.Load())
}
