// ABOUTME: Minimal fake agent for E2E testing — heartbeats against a running coordd over HTTP.
// ABOUTME: Usage: fake-agent [-url http://localhost:8080] [-id e2e-agent] [-interval 5s]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "coordd base URL")
	agentID := flag.String("id", "e2e-fake-agent", "Agent ID")
	status := flag.String("status", "available", "Status to report")
	task := flag.String("task", "", "Current task to report")
	interval := flag.Duration("interval", 5*time.Second, "Heartbeat interval")
	announce := flag.Bool("announce", false, "Post announcements on start and stop")
	flag.Parse()

	if err := run(*baseURL, *agentID, *status, *task, *interval, *announce); err != nil {
		log.Fatal(err)
	}
}

func run(baseURL, agentID, status, task string, interval time.Duration, announce bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	token := os.Getenv("COORD_TOKEN")
	httpClient := &http.Client{Timeout: 10 * time.Second}

	post := func(path string, body map[string]string) error {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(raw))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("%s: status %d", path, resp.StatusCode)
		}
		return nil
	}

	heartbeat := func() error {
		return post("/api/agents/heartbeat", map[string]string{
			"agentId":     agentID,
			"status":      status,
			"currentTask": task,
		})
	}

	// First heartbeat up front so registration failures surface immediately
	if err := heartbeat(); err != nil {
		return fmt.Errorf("initial heartbeat: %w", err)
	}
	fmt.Fprintf(os.Stderr, "heartbeating as %s every %s\n", agentID, interval)

	if announce {
		if err := post("/api/announcements", map[string]string{
			"author": agentID,
			"text":   "fake agent online",
		}); err != nil {
			log.Printf("announce error: %v", err)
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if announce {
				// ctx is done; use a short-lived fresh context for the farewell
				cancel()
				ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := post("/api/announcements", map[string]string{
					"author": agentID,
					"text":   "fake agent going offline",
				}); err != nil {
					log.Printf("announce error: %v", err)
				}
			}
			return nil
		case <-ticker.C:
			if err := heartbeat(); err != nil {
				log.Printf("heartbeat error: %v", err)
			}
		}
	}
}
