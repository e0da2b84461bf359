package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var paths = []string{"/", "/about", "/cart", "/products/%d", "/product/%d", "/products/%d/reviews"}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Base URL of the attribution service")
	apiKey := flag.String("api-key", "supersecretkey", "Reporting API key used for explicit resource events")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 1000, "Requests per second limit")
	products := flag.Int("products", 50, "Number of distinct product ids to spread traffic over")
	explicitRatio := flag.Float64("explicit", 0.2, "Share of requests sent as explicit view/order events")
	flag.Parse()

	base := strings.TrimRight(*baseURL, "/")
	log.Printf("Starting load test on %s", base)
	log.Printf("Concurrency: %d, Duration: %s, RPS: %d, Products: %d", *concurrency, *duration, *rps, *products)

	var wg sync.WaitGroup
	var successCount, errorCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), 100) // Allow bursts up to 100

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{
				Timeout: 5 * time.Second,
			}

			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}

				productID := rand.Intn(*products) + 1
				var req *http.Request
				if rand.Float64() < *explicitRatio {
					req = explicitEvent(ctx, base, *apiKey, productID)
				} else {
					req = pageHit(ctx, base, productID)
				}
				if req == nil {
					continue
				}
				req.Header.Set("X-Forwarded-For", forwardedFor())
				req.Header.Set("User-Agent", "footfall-load-tester/"+uuid.NewString()[:8])

				resp, err := client.Do(req)
				if err != nil {
					errorCount.Add(1)
					continue
				}
				if resp.StatusCode < 400 {
					successCount.Add(1)
				} else {
					errorCount.Add(1)
				}
				resp.Body.Close()
			}
		}()
	}

	wg.Wait()

	totalRequests := successCount.Load() + errorCount.Load()
	actualRPS := float64(totalRequests) / duration.Seconds()

	log.Println("Load test finished.")
	log.Printf("Total Requests: %d", totalRequests)
	log.Printf("Successful: %d", successCount.Load())
	log.Printf("Errors: %d", errorCount.Load())
	log.Printf("Actual RPS: %.2f", actualRPS)
}

func pageHit(ctx context.Context, base string, productID int) *http.Request {
	path := paths[rand.Intn(len(paths))]
	if strings.Contains(path, "%d") {
		path = fmt.Sprintf(path, productID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return nil
	}
	return req
}

func explicitEvent(ctx context.Context, base, apiKey string, productID int) *http.Request {
	action := "view"
	if rand.Intn(10) == 0 {
		action = "order"
	}
	payload := fmt.Sprintf(`{"action":%q,"metadata":{"session":%q}}`, action, uuid.NewString())
	url := fmt.Sprintf("%s/v1/resources/product/%d/events", base, productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(payload))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)
	return req
}

// forwardedFor builds a proxy chain mixing private hops with one public
// documentation-range client address.
func forwardedFor() string {
	client := fmt.Sprintf("203.0.113.%d", rand.Intn(254)+1)
	switch rand.Intn(3) {
	case 0:
		return client
	case 1:
		return fmt.Sprintf("10.%d.%d.%d, %s", rand.Intn(256), rand.Intn(256), rand.Intn(256), client)
	default:
		return fmt.Sprintf("%s, 172.16.0.%d", client, rand.Intn(256))
	}
}
