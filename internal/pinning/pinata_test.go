package pinning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error when JWT is missing")
	}
}

func TestPinFile(t *testing.T) {
	var captured struct {
		Path          string
		Authorization string
		FileName      string
		FileContent   string
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Path = r.URL.Path
		captured.Authorization = r.Header.Get("Authorization")
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		captured.FileName = header.Filename
		var content strings.Builder
		buf := make([]byte, 1024)
		for {
			n, err := file.Read(buf)
			content.Write(buf[:n])
			if err != nil {
				break
			}
		}
		captured.FileContent = content.String()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"IpfsHash": "QmTestHash"})
	}))
	defer srv.Close()

	client, err := NewClient(Config{JWT: "jwt", BaseURL: srv.URL, Gateway: "gw.example.com", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	result, err := client.PinFile(context.Background(), "art.png", strings.NewReader("image-bytes"))
	if err != nil {
		t.Fatalf("PinFile: %v", err)
	}

	if captured.Path != "/pinning/pinFileToIPFS" {
		t.Fatalf("unexpected path: %s", captured.Path)
	}
	if captured.Authorization != "Bearer jwt" {
		t.Fatalf("unexpected auth header: %s", captured.Authorization)
	}
	if captured.FileName != "art.png" || captured.FileContent != "image-bytes" {
		t.Fatalf("file not forwarded: %+v", captured)
	}

	if result.Hash != "QmTestHash" {
		t.Fatalf("unexpected hash: %s", result.Hash)
	}
	if result.IPFSURL != "ipfs://QmTestHash" {
		t.Fatalf("unexpected ipfs url: %s", result.IPFSURL)
	}
	if result.GatewayURL != "https://gw.example.com/ipfs/QmTestHash" {
		t.Fatalf("unexpected gateway url: %s", result.GatewayURL)
	}
}

func TestPinJSON(t *testing.T) {
	var captured map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pinning/pinJSONToIPFS" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"IpfsHash": "QmMetaHash"})
	}))
	defer srv.Close()

	client, err := NewClient(Config{JWT: "jwt", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	payload := map[string]any{"name": "My NFT", "image": "ipfs://QmTestHash"}
	result, err := client.PinJSON(context.Background(), "metadata.json", payload)
	if err != nil {
		t.Fatalf("PinJSON: %v", err)
	}

	content, ok := captured["pinataContent"].(map[string]any)
	if !ok || content["name"] != "My NFT" {
		t.Fatalf("pinataContent not forwarded: %v", captured)
	}
	if result.IPFSURL != "ipfs://QmMetaHash" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestPinErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := NewClient(Config{JWT: "jwt", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := client.PinJSON(context.Background(), "m", map[string]any{}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
