// Command stateload opens many view-state streams against a running
// txconfirm web surface and optionally churns the amount input, reporting
// how many state events and distinct input epochs the subscribers observed.
package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	events      atomic.Int64
	posts       atomic.Int64
	postErrs    atomic.Int64

	mu     sync.Mutex
	epochs map[uint64]struct{}
}

func (c *counters) seen(epoch uint64) {
	c.mu.Lock()
	c.epochs[epoch] = struct{}{}
	c.mu.Unlock()
}

func (c *counters) distinctEpochs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.epochs)
}

func main() {
	var (
		baseURL     string
		connections int
		duration    time.Duration
		rampUp      time.Duration
		churnRate   float64
	)
	flag.StringVar(&baseURL, "url", "http://localhost:8080", "txconfirm web address")
	flag.IntVar(&connections, "conns", 200, "number of concurrent state streams")
	flag.DurationVar(&duration, "dur", 30*time.Second, "test duration (0 for until interrupted)")
	flag.DurationVar(&rampUp, "ramp", time.Second, "spread stream starts across this window")
	flag.Float64Var(&churnRate, "churn", 20, "amount updates per second, 0 disables churn")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if connections <= 0 {
		logger.Fatal("invalid conns", zap.Int("conns", connections))
	}
	baseURL = strings.TrimRight(baseURL, "/")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     connections + 10,
			MaxIdleConnsPerHost: connections + 10,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	c := &counters{epochs: make(map[uint64]struct{})}
	start := time.Now()
	logger.Info("starting state load",
		zap.String("url", baseURL),
		zap.Int("conns", connections),
		zap.Duration("dur", duration),
		zap.Float64("churn", churnRate))

	g, gctx := errgroup.WithContext(ctx)

	var interval time.Duration
	if rampUp > 0 {
		interval = rampUp / time.Duration(connections)
	}
	g.Go(func() error {
		for i := 0; i < connections; i++ {
			if i > 0 && interval > 0 {
				select {
				case <-gctx.Done():
					return nil
				case <-time.After(interval):
				}
			}
			g.Go(func() error {
				stream(gctx, client, baseURL+"/state/stream", c)
				return nil
			})
		}
		return nil
	})

	if churnRate > 0 {
		g.Go(func() error {
			churn(gctx, client, baseURL+"/amount", rate.NewLimiter(rate.Limit(churnRate), 1), c)
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				logger.Info("status",
					zap.Int64("connected", c.connected.Load()),
					zap.Int64("connect_errs", c.connectErrs.Load()),
					zap.Int64("stream_errs", c.streamErrs.Load()),
					zap.Int64("events", c.events.Load()),
					zap.Int64("posts", c.posts.Load()),
					zap.Int("epochs", c.distinctEpochs()))
			}
		}
	})

	_ = g.Wait()

	elapsed := time.Since(start)
	fmt.Printf("done: connected=%d connect_errs=%d stream_errs=%d events=%d posts=%d post_errs=%d epochs=%d elapsed=%s events/s=%.2f\n",
		c.connected.Load(),
		c.connectErrs.Load(),
		c.streamErrs.Load(),
		c.events.Load(),
		c.posts.Load(),
		c.postErrs.Load(),
		c.distinctEpochs(),
		elapsed.Truncate(time.Millisecond),
		float64(c.events.Load())/elapsed.Seconds(),
	)
}

// stream reads "state" events until ctx is done.
func stream(ctx context.Context, client *http.Client, url string, c *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.connectErrs.Add(1)
		return
	}
	c.connected.Add(1)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() == nil {
				c.streamErrs.Add(1)
			}
			return
		}
		data, ok := strings.CutPrefix(strings.TrimSpace(line), "data:")
		if !ok {
			continue
		}

		var state struct {
			Epoch uint64 `json:"epoch"`
		}
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			c.streamErrs.Add(1)
			continue
		}
		c.events.Add(1)
		c.seen(state.Epoch)
	}
}

// churn posts a new amount at the limiter's pace to exercise debouncing.
func churn(ctx context.Context, client *http.Client, url string, limiter *rate.Limiter, c *counters) {
	for i := 1; ; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		body, _ := json.Marshal(map[string]string{"amount": fmt.Sprintf("0.%04d", i%10000)})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			c.postErrs.Add(1)
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				c.postErrs.Add(1)
			}
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			c.postErrs.Add(1)
			continue
		}
		c.posts.Add(1)
	}
}
