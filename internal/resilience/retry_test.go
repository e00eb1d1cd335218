package resilience

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(3), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(eris.New("bad gateway"), 502)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := eris.New("malformed payload")
	err := Do(context.Background(), fastRetry(5), func(ctx context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoDoesNotRetryBlocks(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(5), func(ctx context.Context) error {
		calls++
		return &BlockedError{Type: BlockCloudflare, URL: "https://example.com"}
	})
	require.Error(t, err)
	assert.True(t, IsBlocked(err))
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(3), func(ctx context.Context) error {
		calls++
		return NewTransientError(eris.New("timeout"), 504)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, IsTransient(err))
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastRetry(10), func(ctx context.Context) error {
		calls++
		cancel()
		return NewTransientError(eris.New("reset"), 0)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoCustomShouldRetry(t *testing.T) {
	cfg := fastRetry(3)
	cfg.ShouldRetry = func(err error) bool { return false }

	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return NewTransientError(eris.New("would normally retry"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoOnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, err error) {
		attempts = append(attempts, attempt)
	}

	_ = Do(context.Background(), cfg, func(ctx context.Context) error {
		return NewTransientError(eris.New("flaky"), 500)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoValReturnsValue(t *testing.T) {
	calls := 0
	got, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, NewTransientError(eris.New("again"), 429)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestComputeBackoffGrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     4 * time.Second,
		Multiplier:     2.0,
	}
	assert.Equal(t, time.Second, computeBackoff(0, cfg))
	assert.Equal(t, 2*time.Second, computeBackoff(1, cfg))
	assert.Equal(t, 4*time.Second, computeBackoff(2, cfg))
	assert.Equal(t, 4*time.Second, computeBackoff(5, cfg))
}

func TestComputeBackoffJitterStaysInRange(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
	for i := 0; i < 50; i++ {
		d := computeBackoff(1, cfg)
		assert.GreaterOrEqual(t, d, 1500*time.Millisecond)
		assert.LessOrEqual(t, d, 2500*time.Millisecond)
	}
}

func TestIsTransientClassification(t *testing.T) {
	tests := []struct {
		name            string
		err             error
		transient       bool
		escalationWorth bool
	}{
		{"nil", nil, false, false},
		{"transient wrapper", NewTransientError(eris.New("x"), 502), true, true},
		{"wrapped transient", eris.Wrap(NewTransientError(eris.New("x"), 503), "fetch"), true, true},
		// Blocks count toward escalation but retrying at the same tier is
		// pointless.
		{"blocked", &BlockedError{Type: BlockCloudflare, URL: "https://example.com"}, false, true},
		{"wrapped blocked", eris.Wrap(&BlockedError{Type: BlockCaptcha, URL: "https://example.com"}, "fetch"), false, true},
		{"connection reset string", eris.New("read tcp: connection reset by peer"), true, true},
		{"dns failure string", eris.New("dial tcp: lookup portal: no such host"), true, true},
		{"plain error", eris.New("invalid JSON"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.escalationWorth, IsNetworkClassified(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "code %d", code)
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "code %d", code)
	}
}

func TestIsBlocked(t *testing.T) {
	blocked := &BlockedError{Type: BlockCaptcha, URL: "https://example.com"}
	assert.True(t, IsBlocked(blocked))
	assert.True(t, IsBlocked(eris.Wrap(blocked, "fetch current")))
	assert.False(t, IsBlocked(eris.New("not a block")))
}

func TestDetectBlock(t *testing.T) {
	resp := func(status int, headers map[string]string) *http.Response {
		h := http.Header{}
		for k, v := range headers {
			h.Set(k, v)
		}
		return &http.Response{StatusCode: status, Header: h}
	}

	tests := []struct {
		name     string
		resp     *http.Response
		body     string
		blocked  bool
		category BlockType
	}{
		{"nil response", nil, "", false, BlockNone},
		{
			"cloudflare 403 with cf-ray",
			resp(403, map[string]string{"cf-ray": "8a1b2c3d"}),
			"", true, BlockCloudflare,
		},
		{
			"cloudflare 503 server header",
			resp(503, map[string]string{"server": "cloudflare"}),
			"", true, BlockCloudflare,
		},
		{
			"challenge page body",
			resp(200, nil),
			"<html>Checking your browser before accessing</html>",
			true, BlockCloudflare,
		},
		{
			"recaptcha body",
			resp(200, nil),
			`<div class="g-recaptcha"></div>`,
			true, BlockCaptcha,
		},
		{
			"js shell noscript",
			resp(200, nil),
			"<noscript>Please enable JavaScript</noscript>",
			true, BlockJSShell,
		},
		{
			"plain 403 without markers",
			resp(403, nil),
			"Forbidden",
			false, BlockNone,
		},
		{
			"ordinary page",
			resp(200, nil),
			"<html><body>Development applications</body></html>",
			false, BlockNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocked, category := DetectBlock(tt.resp, []byte(tt.body))
			assert.Equal(t, tt.blocked, blocked)
			assert.Equal(t, tt.category, category)
		})
	}
}
