package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"BidToEarn-Agent/sdk/go/biddy"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = json.NewEncoder(w).Encode(biddy.ChatResponse{
			SessionKey: "demo",
			Reply: &biddy.Reply{
				Content:   "Placed bid with transaction hash: 0xdemo",
				Steps:     []biddy.Step{{Action: "placeBid", Observation: "0xdemo"}},
				CreatedAt: time.Now().Unix(),
			},
		})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"session": biddy.SessionHealth{
				Status:    "healthy",
				LastCheck: time.Now().UTC(),
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := biddy.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Chat(ctx, "demo", "bid 0.1 ETH on auction 7")
	if err != nil {
		panic(err)
	}
	fmt.Printf("reply: %s\n", resp.Reply.Content)
	for _, step := range resp.Reply.Steps {
		fmt.Printf("  action=%s observation=%s\n", step.Action, step.Observation)
	}

	health, err := client.SessionHealth(ctx, resp.SessionKey)
	if err != nil {
		panic(err)
	}
	fmt.Printf("session %s is %s\n", resp.SessionKey, health.Status)
}
