// README: Smoke cases for the order saga plus race and load checks; seeds its own bench_* rows.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"fooddash/internal/infra"
)

const (
	benchCustomer = "bench_customer"
	benchOwner    = "bench_owner"
	benchDriver   = "bench_driver"
)

var benchTables = []string{
	"users", "restaurants", "addresses", "menu_items", "drivers",
	"orders", "order_items", "order_tracking", "payments", "transfers",
}

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// set by the saga case for the cases that follow it
	orderID string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	tests := []TestCase{
		{Name: "Env: Postgres connect", Run: checkPostgres},
		{Name: "Env: Redis connect", Run: checkRedis},
		{Name: "Migration: tables exist", Run: checkTables},
		{Name: "Seed: bench fixtures", Run: seedFixtures},
		httpCase("HTTP: health", http.MethodGet, "/health", "", nil, http.StatusOK),
		httpCase("HTTP: metrics", http.MethodGet, "/metrics", "", nil, http.StatusOK),
		httpCase("HTTP: orders need a token", http.MethodPost, "/orders", "", orderBody(), http.StatusUnauthorized),
		{Name: "Saga: paid order reaches out_for_delivery", Run: checkSaga},
		{Name: "Guard: out_for_delivery order cannot be cancelled", Run: checkCancelGuard},
		{Name: "Guard: busy driver cannot go available", Run: checkDriverBusy},
		{Name: "Race: concurrent cancels succeed once", Run: concurrentCancel},
	}
	if r.cfg.LoadFor > 0 {
		tests = append(tests, TestCase{Name: "Perf: POST /orders", Run: perfLoad})
	}
	return tests
}

func checkPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: "FAIL", Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	return Result{Status: "PASS"}
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: "SKIP", Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	return Result{Status: "PASS"}
}

func checkTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: "FAIL", Note: "db not configured"}
	}
	var missing []string
	for _, t := range benchTables {
		var exists bool
		err := r.db.QueryRow(ctx, `SELECT to_regclass('public.' || $1) IS NOT NULL`, t).Scan(&exists)
		if err != nil {
			return Result{Status: "FAIL", Note: err.Error()}
		}
		if !exists {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return Result{Status: "FAIL", Note: "missing: " + strings.Join(missing, ",") + " (run cmd/migrate up)"}
	}
	return Result{Status: "PASS"}
}

// seedFixtures upserts the bench rows and releases the bench driver from earlier runs.
func seedFixtures(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: "FAIL", Note: "db not configured"}
	}
	stmts := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO users (id, name, email, phone) VALUES
			($1, 'Bench Customer', 'customer@bench.test', '+2348000000001'),
			($2, 'Bench Owner', 'owner@bench.test', '+2348000000002'),
			($3, 'Bench Driver', 'driver@bench.test', '+2348000000003')
			ON CONFLICT (id) DO NOTHING`, []any{benchCustomer, benchOwner, "u_" + benchDriver}},
		{`INSERT INTO restaurants (id, owner_id, name, email, is_active, delivery_fee, lat, lng)
			VALUES ('bench_restaurant', $1, 'Bench Kitchen', 'kitchen@bench.test', true, 200, 6.5244, 3.3792)
			ON CONFLICT (id) DO NOTHING`, []any{benchOwner}},
		{`INSERT INTO addresses (id, user_id, line, lat, lng)
			VALUES ('bench_address', $1, '1 Bench Street', 6.4281, 3.4219)
			ON CONFLICT (id) DO NOTHING`, []any{benchCustomer}},
		{`INSERT INTO menu_items (id, restaurant_id, name, price)
			VALUES ('bench_item', 'bench_restaurant', 'Jollof Rice', 1250)
			ON CONFLICT (id) DO NOTHING`, nil},
		{`INSERT INTO drivers (id, user_id, vehicle, status, lat, lng, location_updated_at)
			VALUES ($1, $2, 'motorbike', 'offline', 6.4300, 3.4200, now())
			ON CONFLICT (id) DO NOTHING`, []any{benchDriver, "u_" + benchDriver}},
		{`UPDATE orders SET status = 'delivered', delivered_at = now(), updated_at = now()
			WHERE driver_id = $1 AND status NOT IN ('delivered', 'cancelled')`, []any{benchDriver}},
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(ctx, s.sql, s.args...); err != nil {
			return Result{Status: "FAIL", Note: err.Error()}
		}
	}
	if r.cfg.JWTSecret == "" {
		return Result{Status: "PASS", Note: "no jwt secret, driver left as is"}
	}
	status, _, err := r.call(ctx, http.MethodPatch, "/drivers/me/location", r.token("u_"+benchDriver, ""),
		map[string]float64{"lat": 6.4300, "lng": 3.4200}, nil)
	if err != nil || status != http.StatusOK {
		return Result{Status: "FAIL", Note: fmt.Sprintf("driver location status=%d err=%v", status, err)}
	}
	status, _, err = r.call(ctx, http.MethodPatch, "/drivers/me/availability", r.token("u_"+benchDriver, ""),
		map[string]string{"status": "available"}, nil)
	if err != nil || status != http.StatusOK {
		return Result{Status: "FAIL", Note: fmt.Sprintf("driver availability status=%d err=%v", status, err)}
	}
	return Result{Status: "PASS"}
}

func orderBody() map[string]any {
	return map[string]any{
		"restaurant_id": "bench_restaurant",
		"address_id":    "bench_address",
		"items":         []map[string]any{{"menu_item_id": "bench_item", "quantity": 2}},
	}
}

type createdOrder struct {
	Order struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Amounts struct {
			Total int64 `json:"total"`
		} `json:"amounts"`
	} `json:"order"`
	Payment *struct {
		Reference string `json:"reference"`
	} `json:"payment"`
}

func (r *Runner) createOrder(ctx context.Context) (*createdOrder, time.Duration, error) {
	var out createdOrder
	status, latency, err := r.call(ctx, http.MethodPost, "/orders", r.token(benchCustomer, ""), orderBody(), &out)
	if err != nil {
		return nil, latency, err
	}
	if status != http.StatusCreated {
		return nil, latency, fmt.Errorf("create status=%d", status)
	}
	return &out, latency, nil
}

func checkSaga(ctx context.Context, r *Runner) Result {
	if r.cfg.JWTSecret == "" {
		return Result{Status: "SKIP", Note: "jwt secret not set"}
	}
	start := time.Now()
	created, _, err := r.createOrder(ctx)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	r.orderID = created.Order.ID
	if created.Payment == nil {
		return Result{Status: "FAIL", Note: "no payment opened for the order"}
	}

	var verified struct {
		Status string `json:"status"`
	}
	status, _, err := r.call(ctx, http.MethodGet, "/payments/verify/"+created.Payment.Reference, "", nil, &verified)
	if err != nil || status != http.StatusOK {
		return Result{Status: "FAIL", Note: fmt.Sprintf("verify status=%d err=%v", status, err)}
	}
	if verified.Status != "completed" {
		return Result{Status: "PENDING", Note: "payment " + verified.Status + " (is the fake gateway configured?)"}
	}

	var got struct {
		Status   string  `json:"status"`
		DriverID *string `json:"driver_id"`
	}
	if _, _, err := r.call(ctx, http.MethodGet, "/orders/"+r.orderID, r.token(benchCustomer, ""), nil, &got); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	latency := time.Since(start)
	switch {
	case got.Status == "out_for_delivery" && got.DriverID != nil:
		return Result{Status: "PASS", Latency: latency, Note: "driver=" + *got.DriverID}
	case got.Status == "confirmed" && got.DriverID == nil:
		return Result{Status: "PENDING", Latency: latency, Note: "confirmed without a driver in range"}
	}
	return Result{Status: "FAIL", Latency: latency, Note: "order status " + got.Status}
}

func checkCancelGuard(ctx context.Context, r *Runner) Result {
	if r.orderID == "" {
		return Result{Status: "SKIP", Note: "no order from the saga case"}
	}
	status, latency, err := r.call(ctx, http.MethodDelete, "/orders/"+r.orderID+"/cancel", r.token(benchCustomer, ""), nil, nil)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if status != http.StatusConflict {
		return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
	}
	return Result{Status: "PASS", Latency: latency}
}

func checkDriverBusy(ctx context.Context, r *Runner) Result {
	if r.orderID == "" {
		return Result{Status: "SKIP", Note: "no order from the saga case"}
	}
	status, latency, err := r.call(ctx, http.MethodPatch, "/drivers/me/availability", r.token("u_"+benchDriver, ""),
		map[string]string{"status": "available"}, nil)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if status != http.StatusConflict {
		return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
	}
	return Result{Status: "PASS", Latency: latency}
}

func concurrentCancel(ctx context.Context, r *Runner) Result {
	if r.cfg.JWTSecret == "" {
		return Result{Status: "SKIP", Note: "jwt secret not set"}
	}
	created, _, err := r.createOrder(ctx)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	path := "/orders/" + created.Order.ID + "/cancel"
	token := r.token(benchCustomer, "")

	wg := sync.WaitGroup{}
	mu := sync.Mutex{}
	succ, conflict := 0, 0
	for i := 0; i < r.cfg.CancelRacers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _, err := r.call(ctx, http.MethodDelete, path, token, nil, nil)
			if err != nil {
				return
			}
			mu.Lock()
			switch status {
			case http.StatusOK:
				succ++
			case http.StatusConflict:
				conflict++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d", succ, conflict)
	if succ == 1 {
		return Result{Status: "PASS", Note: note}
	}
	return Result{Status: "FAIL", Note: note}
}

func perfLoad(ctx context.Context, r *Runner) Result {
	if r.cfg.JWTSecret == "" {
		return Result{Status: "SKIP", Note: "jwt secret not set"}
	}
	end := time.Now().Add(r.cfg.LoadFor)
	var count, errCount int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.LoadWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				_, _, err := r.createOrder(ctx)
				mu.Lock()
				if err != nil {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("no orders created, errors=%d", errCount)}
	}
	rps := float64(count) / r.cfg.LoadFor.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func httpCase(name, method, path, uid string, body any, want int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			token := ""
			if uid != "" {
				token = r.token(uid, "")
			}
			status, latency, err := r.call(ctx, method, path, token, body, nil)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			if status == want {
				return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
			}
			return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
		},
	}
}

// token signs a short-lived HS256 token; it is empty without a secret.
func (r *Runner) token(uid, role string) string {
	if r.cfg.JWTSecret == "" {
		return ""
	}
	raw, err := infra.SignJWT(r.cfg.JWTSecret, uid, role, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if err != nil {
		return ""
	}
	return raw
}

// call sends a JSON request and decodes the response into out when non-nil.
func (r *Runner) call(ctx context.Context, method, path, token string, body, out any) (int, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		reader = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	latency := time.Since(start)
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, err
		}
		return resp.StatusCode, latency, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, latency, nil
}
