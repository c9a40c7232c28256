package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/community-tips/internal/feed"
)

const markerPrefix = "loadtest "

type latencySample struct {
	dur time.Duration
}

// The submitter is subject to the server's per-address write limit; raise
// SUBMIT_RATE_PER_MINUTE on the target before running large bursts.
func main() {
	base := flag.String("base", "http://localhost:8080", "API base URL")
	clients := flag.Int("clients", 500, "number of concurrent feed subscribers")
	messages := flag.Int("messages", 20, "number of tips to submit")
	interval := flag.Duration("interval", 500*time.Millisecond, "delay between submissions")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := log.With().Str("target", *base).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	feedURL := "ws" + strings.TrimPrefix(strings.TrimSuffix(*base, "/"), "http") + "/tips/feed"
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	latencyCh := make(chan latencySample, *clients**messages)
	var wg sync.WaitGroup

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			conn, _, err := dialer.DialContext(ctx, feedURL, nil)
			if err != nil {
				logger.Error().Err(err).Int("client", id).Msg("dial failed")
				return
			}
			defer conn.Close()
			go func() {
				<-ctx.Done()
				_ = conn.Close()
			}()
			readerLoop(conn, latencyCh, logger)
		}(i)
	}

	go func() {
		client := &http.Client{Timeout: 5 * time.Second}
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		for j := 0; j < *messages; j++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := submit(ctx, client, *base); err != nil {
					logger.Error().Err(err).Msg("failed to submit tip")
				}
			}
		}
		// Let the last broadcast reach every subscriber.
		time.Sleep(2 * time.Second)
		stop()
	}()

	go func() {
		wg.Wait()
		close(latencyCh)
	}()

	<-ctx.Done()
	report(latencyCh, logger)
}

func submit(ctx context.Context, client *http.Client, base string) error {
	body, err := json.Marshal(map[string]string{
		"text": markerPrefix + strconv.FormatInt(time.Now().UnixNano(), 10),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(base, "/")+"/tips", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("submit returned %s", resp.Status)
	}
	return nil
}

// readerLoop records, once per tip, the delay between submission and the
// first snapshot that contains it.
func readerLoop(conn *websocket.Conn, latencies chan<- latencySample, logger zerolog.Logger) {
	seen := make(map[string]struct{})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("read error")
			}
			return
		}

		var msg feed.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn().Err(err).Msg("failed to decode feed frame")
			continue
		}
		for _, tip := range msg.Tips {
			if _, ok := seen[tip.ID]; ok {
				continue
			}
			seen[tip.ID] = struct{}{}
			raw, ok := strings.CutPrefix(tip.Text, markerPrefix)
			if !ok {
				continue
			}
			if ns, err := strconv.ParseInt(raw, 10, 64); err == nil {
				latencies <- latencySample{dur: time.Since(time.Unix(0, ns))}
			}
		}
	}
}

func report(samples <-chan latencySample, logger zerolog.Logger) {
	var count int
	var total time.Duration
	var max time.Duration
	var under50ms int

	for s := range samples {
		count++
		total += s.dur
		if s.dur > max {
			max = s.dur
		}
		if s.dur < 50*time.Millisecond {
			under50ms++
		}
	}

	if count == 0 {
		fmt.Fprintln(os.Stdout, "no samples collected")
		return
	}

	avg := time.Duration(int64(math.Round(float64(total) / float64(count))))
	pct := (float64(under50ms) / float64(count)) * 100

	fmt.Fprintf(os.Stdout, "Samples: %d\nAvg latency: %s\nMax latency: %s\n<50ms: %.2f%%\n", count, avg, max, pct)
	if pct < 95 {
		logger.Warn().Msg("less than 95% of tips reached subscribers within 50ms")
	}
}
