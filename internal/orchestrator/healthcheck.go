package orchestrator

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/johndauphine/mongo-scrubber/internal/config"
)

// EndpointHealth is the connectivity of one endpoint
type EndpointHealth struct {
	Address   string `json:"address"`
	Database  string `json:"database"`
	Connected bool   `json:"connected"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// ToolHealth reports whether an external binary is on PATH
type ToolHealth struct {
	Name  string `json:"name"`
	Path  string `json:"path,omitempty"`
	Found bool   `json:"found"`
}

// HealthCheckResult is the outcome of HealthCheck
type HealthCheckResult struct {
	Timestamp   string         `json:"timestamp"`
	Healthy     bool           `json:"healthy"`
	Source      EndpointHealth `json:"source"`
	Destination EndpointHealth `json:"destination"`
	Tools       []ToolHealth   `json:"tools"`
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// HealthCheck tests connectivity to the source and destination and checks
// the dump and restore binaries are installed. The two endpoints are
// checked in parallel, each with its own timeout, so one slow server does
// not exhaust the other's budget.
func (o *Orchestrator) HealthCheck(ctx context.Context) (*HealthCheckResult, error) {
	result := &HealthCheckResult{
		Timestamp: time.Now().Format(time.RFC3339),
	}

	const checkTimeout = 30 * time.Second

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		result.Source = o.checkEndpoint(ctx, o.config.Source, checkTimeout)
	}()
	go func() {
		defer wg.Done()
		result.Destination = o.checkEndpoint(ctx, o.config.Destination, checkTimeout)
	}()
	wg.Wait()

	toolsFound := true
	for _, name := range []string{o.config.Tools.Dump, o.config.Tools.Restore} {
		th := ToolHealth{Name: name}
		if path, err := lookPath(name); err == nil {
			th.Path = path
			th.Found = true
		} else {
			toolsFound = false
		}
		result.Tools = append(result.Tools, th)
	}

	result.Healthy = result.Source.Connected && result.Destination.Connected && toolsFound
	return result, nil
}

func (o *Orchestrator) checkEndpoint(ctx context.Context, ep config.Endpoint, timeout time.Duration) EndpointHealth {
	h := EndpointHealth{Address: ep.Address(), Database: ep.Database}
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := o.connect(cctx, ep.URI())
	if err == nil {
		err = client.Ping(cctx)
		client.Close(context.WithoutCancel(cctx))
	}
	if err != nil {
		h.Error = err.Error()
	} else {
		h.Connected = true
	}
	h.LatencyMs = time.Since(start).Milliseconds()
	return h
}
