package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/weetoocode1/weetoo-trading-engine/internal/auth"
)

const (
	numOrders     = 25
	numWorkers    = 5
	roomID        = "room-demo"
	serverAddress = "http://localhost:8080"
)

var (
	symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	sides   = []string{"buy", "sell"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the order API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	mu        sync.Mutex
	stats     map[string]*routeStats
}

// newSimulationClient creates a client and authenticates against the API
func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":    {name: "Authentication"},
			"create":  {name: "Create Scheduled Order"},
			"execute": {name: "Execute Scheduled Order"},
			"list":    {name: "List Scheduled Orders"},
		},
	}

	start := time.Now()
	body, err := sc.post("/api/v1/auth/token", map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	})
	sc.record("auth", start, err)
	if err != nil {
		return nil, err
	}

	var tokenResp struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, err
	}
	sc.authToken = tokenResp.Data.Token

	return sc, nil
}

func (sc *simulationClient) record(route string, start time.Time, err error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	rs := sc.stats[route]
	rs.addDuration(time.Since(start))
	if err != nil {
		rs.failures++
	}
}

func (sc *simulationClient) do(method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return body, fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, body)
	}
	return body, nil
}

func (sc *simulationClient) post(path string, payload interface{}) ([]byte, error) {
	return sc.do(http.MethodPost, path, payload)
}

// runOrderFlow creates one price-based scheduled order and immediately
// executes it with a price that satisfies its trigger
func (sc *simulationClient) runOrderFlow() error {
	symbol := symbols[rand.Intn(len(symbols))]
	side := sides[rand.Intn(len(sides))]
	basePrice := 40000 + rand.Float64()*20000

	condition := "below"
	if side == "buy" {
		condition = "above"
	}

	start := time.Now()
	body, err := sc.post(fmt.Sprintf("/api/v1/trading-rooms/%s/scheduled-orders", roomID), map[string]interface{}{
		"symbol":            symbol,
		"side":              side,
		"order_type":        "market",
		"quantity":          0.01,
		"leverage":          10,
		"schedule_type":     "price_based",
		"trigger_condition": condition,
		"trigger_price":     basePrice,
		"current_price":     basePrice,
	})
	sc.record("create", start, err)
	if err != nil {
		return err
	}

	var created struct {
		Data struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return err
	}

	// A crossing price in the trigger direction
	crossing := basePrice * 1.01
	if condition == "below" {
		crossing = basePrice * 0.99
	}

	start = time.Now()
	_, err = sc.post(
		fmt.Sprintf("/api/v1/internal/trading-rooms/%s/scheduled-orders/%s/execute", roomID, created.Data.OrderID),
		map[string]interface{}{"current_price": crossing},
	)
	sc.record("execute", start, err)
	return err
}

func (sc *simulationClient) listOrders() error {
	start := time.Now()
	_, err := sc.do(http.MethodGet, fmt.Sprintf("/api/v1/trading-rooms/%s/scheduled-orders?limit=50", roomID), nil)
	sc.record("list", start, err)
	return err
}

// printStats renders the per-route latency table
func (sc *simulationClient) printStats() {
	fmt.Println("\nRoute statistics:")
	for _, rs := range sc.stats {
		min, max, mean, median, p95, p99 := rs.calculate()
		fmt.Printf("%-28s calls=%-4d failures=%-3d min=%-10v max=%-10v mean=%-10v median=%-10v p95=%-10v p99=%v\n",
			rs.name, rs.totalCalls, rs.failures, min, max, mean, median, p95, p99)
	}
}

func main() {
	client, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to authenticate simulation client")
	}

	log.Info().Int("orders", numOrders).Int("workers", numWorkers).Msg("starting order flow simulation")

	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				if err := client.runOrderFlow(); err != nil {
					log.Warn().Err(err).Msg("order flow failed")
				}
			}
		}()
	}

	for i := 0; i < numOrders; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if err := client.listOrders(); err != nil {
		log.Warn().Err(err).Msg("list orders failed")
	}

	client.printStats()
}
