// sensor-feeder posts synthetic telemetry to a locally running engine over
// its HTTP ingest endpoint. Handy when testing the API path end to end
// instead of the in-process simulator.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"time"
)

type sample struct {
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	SourceID  string    `json:"source_id"`
}

func main() {
	var (
		target   string
		interval time.Duration
	)
	flag.StringVar(&target, "target", "http://localhost:8080", "engine base URL")
	flag.DurationVar(&interval, "interval", 2*time.Second, "emit interval")
	flag.Parse()

	logger := log.New(log.Writer(), "sensor-feeder ", log.LstdFlags|log.Lmicroseconds)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	client := &http.Client{Timeout: 5 * time.Second}

	co2 := 430.0
	aqi := 90.0
	temp := 26.0

	logger.Printf("feeding %s every %s", target, interval)
	for range time.Tick(interval) {
		co2 += rng.NormFloat64() * 5
		aqi += rng.NormFloat64() * 3
		temp += rng.NormFloat64() * 0.5

		// Rare spike to exercise anomaly detection.
		if rng.Float64() < 0.03 {
			co2 *= 1.5
			logger.Printf("emitting co2 spike: %.1f", co2)
		}

		now := time.Now().UTC()
		for _, s := range []sample{
			{Metric: "co2", Value: co2, Timestamp: now, SourceID: "feeder-1"},
			{Metric: "aqi", Value: aqi, Timestamp: now, SourceID: "feeder-1"},
			{Metric: "temperature", Value: temp, Timestamp: now, SourceID: "feeder-1"},
		} {
			if err := post(client, target+"/api/v1/telemetry", s); err != nil {
				logger.Printf("post failed: %v", err)
			}
		}
	}
}

func post(client *http.Client, url string, payload sample) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("unexpected status %d for %s", resp.StatusCode, payload.Metric)
	}
	return nil
}
