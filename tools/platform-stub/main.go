// platform-stub is a development stand-in for the platform gateway. It
// accepts publish envelopes, verifies the HMAC signature when SECRET is
// set, and records what it saw for inspection via /stats.
//
// Set FAIL_RATE (0-100) to make a percentage of requests return 500, which
// exercises the publisher's retry path.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

type request struct {
	Timestamp string            `json:"timestamp"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body"`
	SigOK     *bool             `json:"signature_ok,omitempty"`
}

type stats struct {
	Count        int64     `json:"count"`
	Failed       int64     `json:"failed"`
	LastRequests []request `json:"last_requests"`
	Since        string    `json:"since"`
}

var (
	mu           sync.Mutex
	count        int64
	failed       int64
	lastRequests []request
	since        time.Time
	maxStored    = 50

	secret   string
	failRate int
)

func main() {
	since = time.Now().UTC()
	secret = os.Getenv("SECRET")
	if v := os.Getenv("FAIL_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 100 {
			failRate = n
		}
	}

	addr := ":8090"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/publish", publishHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		failed = 0
		lastRequests = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("platform-stub listening on %s (fail_rate=%d%%)", addr, failRate)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func publishHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	headers := make(map[string]string)
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	req := request{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Headers:   headers,
		Body:      string(body),
	}

	if secret != "" {
		ok := verifySignature(secret, body, r.Header.Get("X-PostPilot-Signature"))
		req.SigOK = &ok
		if !ok {
			record(req, true)
			log.Printf("publish rejected: bad signature (item=%s)", r.Header.Get("X-PostPilot-Item-ID"))
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprintln(w, `{"error":"bad signature"}`)
			return
		}
	}

	if failRate > 0 && rand.Intn(100) < failRate {
		record(req, true)
		log.Printf("publish failed (injected): item=%s", r.Header.Get("X-PostPilot-Item-ID"))
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, `{"error":"injected failure"}`)
		return
	}

	current := record(req, false)
	log.Printf("publish received #%d: %s", current, string(body))
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func record(req request, isFailure bool) int64 {
	mu.Lock()
	defer mu.Unlock()
	count++
	if isFailure {
		failed++
	}
	lastRequests = append(lastRequests, req)
	if len(lastRequests) > maxStored {
		lastRequests = lastRequests[len(lastRequests)-maxStored:]
	}
	return count
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:        count,
		Failed:       failed,
		LastRequests: lastRequests,
		Since:        since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
