package performance

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xroachx-ghost/void-sub000/internal/app"
	"github.com/xroachx-ghost/void-sub000/internal/config"
	"github.com/xroachx-ghost/void-sub000/internal/license"
	"github.com/xroachx-ghost/void-sub000/internal/security"
	"github.com/xroachx-ghost/void-sub000/internal/shared/testutil"
)

// Load test configuration
const (
	LoadTestDuration = 2 * time.Second
	MaxP95Latency    = 250 * time.Millisecond
)

var ConcurrencyLevels = []int{1, 10, 50}

// PerformanceTestSuite holds a file-backed manager and the API in front of it
type PerformanceTestSuite struct {
	cfg     *config.Config
	manager *license.Manager
	server  *httptest.Server
	license []byte
}

func setupPerformanceTest(tb testing.TB) *PerformanceTestSuite {
	tb.Helper()
	dir := tb.TempDir()

	cfg := config.Default()
	cfg.License.LicenseFile = filepath.Join(dir, config.LicenseFileName)
	cfg.License.TrialMarkerFile = filepath.Join(dir, config.TrialMarkerFileName)
	cfg.License.SystemLicenseFile = ""
	cfg.Server.ActivationRPS = 1e6
	cfg.Server.ActivationBurst = 1e6

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager, err := license.NewManager(
		license.WithStore(license.NewFileStore(cfg.License.LicenseFile)),
		license.WithTrialStore(license.NewFileTrialStore(cfg.License.TrialMarkerFile)),
		license.WithFingerprinter(testutil.StaticFingerprinter{Value: "perf-host"}),
		license.WithVerifier(testutil.NewVerifier(tb)),
		license.WithLogger(logger),
	)
	require.NoError(tb, err)

	application, err := app.New(cfg, manager, nil, logger)
	require.NoError(tb, err)

	_, data := testutil.IssueLicense(tb, license.TierEnterprise, 365)
	_, err = manager.Activate(context.Background(), data)
	require.NoError(tb, err)

	suite := &PerformanceTestSuite{
		cfg:     cfg,
		manager: manager,
		server:  httptest.NewServer(application.Router),
		license: data,
	}
	tb.Cleanup(suite.server.Close)
	return suite
}

func (s *PerformanceTestSuite) url(path string) string {
	return s.server.URL + config.LicenseEndpoint + path
}

// BenchmarkLicenseValidation measures a full Validate: file read, signature and device checks
func BenchmarkLicenseValidation(b *testing.B) {
	suite := setupPerformanceTest(b)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if status := suite.manager.Validate(ctx); !status.IsValid() {
			b.Fatalf("unexpected state %s", status.State)
		}
	}
}

// BenchmarkLicenseActivation measures re-activation of an already bound license
func BenchmarkLicenseActivation(b *testing.B) {
	suite := setupPerformanceTest(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := suite.manager.Activate(ctx, suite.license); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSignatureVerification(b *testing.B) {
	rec, _ := testutil.IssueLicense(b, license.TierProfessional, 30)
	verifier := testutil.NewVerifier(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := verifier.Verify(rec, ""); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkParseRecord(b *testing.B) {
	_, data := testutil.IssueLicense(b, license.TierProfessional, 30)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := license.ParseRecord(data); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkDeviceFingerprint compares a cold hardware probe with a cached one
func BenchmarkDeviceFingerprint(b *testing.B) {
	quiet := security.WithFingerprintLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	b.Run("uncached", func(b *testing.B) {
		fp := security.NewHardwareFingerprinter(quiet, security.WithCacheDuration(0))
		for i := 0; i < b.N; i++ {
			fp.ClearCache()
			if _, err := fp.Generate(); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("cached", func(b *testing.B) {
		fp := security.NewHardwareFingerprinter(quiet, security.WithCacheDuration(time.Hour))
		if _, err := fp.Generate(); err != nil {
			b.Fatal(err)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := fp.Generate(); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkStatusEndpoint(b *testing.B) {
	suite := setupPerformanceTest(b)
	client := suite.server.Client()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			resp, err := client.Get(suite.url("/status"))
			if err != nil {
				b.Error(err)
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	})
}

// LoadTestResults summarises one load run
type LoadTestResults struct {
	TotalRequests      int64
	SuccessfulRequests int64
	ErrorCount         int64
	Throughput         float64
	AverageLatency     time.Duration
	P95Latency         time.Duration
	MaxLatency         time.Duration
}

func TestLoadLicenseStatusEndpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("load test skipped in short mode")
	}
	suite := setupPerformanceTest(t)

	for _, concurrency := range ConcurrencyLevels {
		results := runLoadTest(t, suite.url("/status"), http.MethodGet, nil, concurrency, LoadTestDuration)
		t.Logf("concurrency=%d requests=%d throughput=%.0f/s avg=%v p95=%v max=%v",
			concurrency, results.TotalRequests, results.Throughput,
			results.AverageLatency, results.P95Latency, results.MaxLatency)

		assert.Zero(t, results.ErrorCount)
		assert.Positive(t, results.SuccessfulRequests)
		assert.Less(t, results.P95Latency, MaxP95Latency)
	}
}

func TestLoadLicenseActivationEndpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("load test skipped in short mode")
	}
	suite := setupPerformanceTest(t)

	results := runLoadTest(t, suite.url("/activate"), http.MethodPost, suite.license, 10, LoadTestDuration)
	t.Logf("requests=%d throughput=%.0f/s p95=%v", results.TotalRequests, results.Throughput, results.P95Latency)

	assert.Zero(t, results.ErrorCount)

	info, err := suite.manager.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, info.DevicesUsed, "repeated activation never consumes extra slots")
}

func runLoadTest(t *testing.T, url, method string, body []byte, concurrency int, duration time.Duration) LoadTestResults {
	t.Helper()

	var totalRequests, successfulRequests, errorCount int64
	var latencyMu sync.Mutex
	latencies := make([]time.Duration, 0, 10000)

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	client := &http.Client{Timeout: 10 * time.Second}
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				requestStart := time.Now()
				req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
				if err != nil {
					return err
				}
				resp, err := client.Do(req)
				latency := time.Since(requestStart)

				if ctx.Err() != nil {
					// Requests cut off by the deadline are not counted
					if resp != nil {
						resp.Body.Close()
					}
					return nil
				}

				atomic.AddInt64(&totalRequests, 1)
				latencyMu.Lock()
				if len(latencies) < cap(latencies) {
					latencies = append(latencies, latency)
				}
				latencyMu.Unlock()

				if err != nil {
					atomic.AddInt64(&errorCount, 1)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				if resp.StatusCode < 400 {
					atomic.AddInt64(&successfulRequests, 1)
				} else {
					atomic.AddInt64(&errorCount, 1)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	elapsed := time.Since(start)

	results := LoadTestResults{
		TotalRequests:      totalRequests,
		SuccessfulRequests: successfulRequests,
		ErrorCount:         errorCount,
		Throughput:         float64(totalRequests) / elapsed.Seconds(),
	}
	if len(latencies) == 0 {
		return results
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	results.AverageLatency = total / time.Duration(len(latencies))
	results.P95Latency = latencies[int(float64(len(latencies)-1)*0.95)]
	results.MaxLatency = latencies[len(latencies)-1]
	return results
}
