package centrallink

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var ipv4Pattern = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)

// defaultIPLookupEndpoints is the ordered fallback list probed for the
// node's public IPv4 address (spec.md §6).
var defaultIPLookupEndpoints = []string{
	"https://api.ipify.org",
	"https://ifconfig.me/ip",
	"https://icanhazip.com",
}

const ipLookupUserAgent = "louaj-station-node/1.0"

// ipLookupLimiter paces outbound probes against the public IP-lookup
// endpoints so a tight reconnect loop never hammers ipify/ifconfig.me/
// icanhazip: one process-wide budget of one probe per second across all
// endpoints, burst 3 (one full pass through defaultIPLookupEndpoints).
var ipLookupLimiter = rate.NewLimiter(rate.Limit(1), 3)

// detectPublicIP probes endpoints in order, returning the first valid
// dotted-quad IPv4 address found, with a per-endpoint timeout. Each probe
// is paced by ipLookupLimiter.
func detectPublicIP(ctx context.Context, endpoints []string, perEndpointTimeout time.Duration) (string, error) {
	if len(endpoints) == 0 {
		endpoints = defaultIPLookupEndpoints
	}

	var lastErr error
	for _, endpoint := range endpoints {
		if err := ipLookupLimiter.Wait(ctx); err != nil {
			return "", err
		}
		ip, err := probeIPEndpoint(ctx, endpoint, perEndpointTimeout)
		if err != nil {
			lastErr = err
			continue
		}
		if ip != "" {
			return ip, nil
		}
	}
	if lastErr == nil {
		lastErr = errNoPublicIP
	}
	return "", lastErr
}

func probeIPEndpoint(ctx context.Context, endpoint string, timeout time.Duration) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", ipLookupUserAgent)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}

	match := ipv4Pattern.FindString(strings.TrimSpace(string(body)))
	return match, nil
}
