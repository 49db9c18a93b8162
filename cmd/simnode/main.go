package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// simnode publishes synthetic sensor telemetry to the raw topic so the
// pipeline can be exercised without hardware in the field.
func main() {
	var (
		brokers  = flag.String("brokers", "localhost:9092", "comma-separated Kafka brokers")
		topic    = flag.String("topic", "flood-telemetry-raw", "destination topic")
		nodeID   = flag.String("node", "CM-01", "node identifier to report as")
		interval = flag.Duration("interval", 5*time.Second, "time between samples")
		count    = flag.Int("count", 0, "number of samples to send, 0 for unbounded")
		baseline = flag.Float64("baseline", 0.60, "baseline sensor distance in meters")
	)
	flag.Parse()

	w := &kafkago.Writer{
		Addr:     kafkago.TCP(splitBrokers(*brokers)...),
		Topic:    *topic,
		Balancer: &kafkago.LeastBytes{},
	}
	defer w.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("simnode %s publishing to %s every %s\n", *nodeID, *topic, *interval)

	sent := 0
	for *count == 0 || sent < *count {
		payload, err := json.Marshal(sample(*nodeID, *baseline, sent))
		if err != nil {
			fmt.Fprintf(os.Stderr, "simnode: marshal: %v\n", err)
			os.Exit(1)
		}

		err = w.WriteMessages(ctx, kafkago.Message{Key: []byte(*nodeID), Value: payload})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Fprintf(os.Stderr, "simnode: write: %v\n", err)
		} else {
			sent++
		}

		select {
		case <-ctx.Done():
			fmt.Printf("simnode stopped after %d samples\n", sent)
			return
		case <-time.After(*interval):
		}
	}
	fmt.Printf("simnode done, sent %d samples\n", sent)
}

// sample builds one telemetry payload. The water level follows a slow swell
// with jitter, and a rain tip fires occasionally.
func sample(nodeID string, baseline float64, n int) map[string]any {
	swell := 0.15 * math.Sin(float64(n)/40.0)
	jitter := rand.NormFloat64() * 0.005
	dist := baseline - swell + jitter
	if dist < 0.02 {
		dist = 0.02
	}

	rainBin := 0
	if rand.Float64() < 0.1 {
		rainBin = 1
	}

	return map[string]any{
		"node_id": nodeID,
		"ts":      time.Now().UTC().Format(time.RFC3339),
		"s": map[string]any{
			"dist_m":   round3(dist),
			"rain_bin": rainBin,
			"batt_v":   round3(3.7 + rand.Float64()*0.4),
		},
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func splitBrokers(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
