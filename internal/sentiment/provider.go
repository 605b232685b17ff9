// Package sentiment fetches best-effort external market context
// (sentiment, fear & greed) from an MCP server. Every failure degrades
// to an empty snapshot so the decision cycle never blocks on it.
package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradewind-ai/tradewind/internal/config"
	"github.com/tradewind-ai/tradewind/internal/market"
)

const (
	toolMarketSentiment = "get_market_sentiment"
	toolFearGreed       = "get_fear_greed_index"

	cacheKind = "sentiment"
)

// toolSession is the slice of *mcp.ClientSession the provider uses
type toolSession interface {
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	Close() error
}

// Provider is the MCP-backed context source
type Provider struct {
	symbol  string
	client  *mcp.Client
	session toolSession
	cache   *market.ContextCache // nil-safe
	timeout time.Duration
	log     zerolog.Logger
}

// NewProvider creates a disconnected provider. Connect must be called
// before snapshots carry data; an unconnected provider returns empty
// snapshots.
func NewProvider(symbol string, cache *market.ContextCache, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Provider{
		symbol:  symbol,
		cache:   cache,
		timeout: timeout,
		client: mcp.NewClient(&mcp.Implementation{
			Name:    "tradewind-engine",
			Version: config.Version,
		}, nil),
		log: log.With().Str("component", "sentiment_provider").Logger(),
	}
}

// Connect establishes the MCP session over the given transport
func (p *Provider) Connect(ctx context.Context, transport mcp.Transport) error {
	session, err := p.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to MCP server: %w", err)
	}
	p.session = session
	p.log.Info().Msg("Sentiment MCP session established")
	return nil
}

// ConnectSSE connects to an HTTP MCP server
func (p *Provider) ConnectSSE(ctx context.Context, url string) error {
	return p.Connect(ctx, &mcp.SSEClientTransport{Endpoint: url})
}

// Snapshot returns the current context snapshot. It checks the cache,
// then queries the MCP tools; failures return whatever was gathered,
// possibly an empty map.
func (p *Provider) Snapshot(ctx context.Context) map[string]any {
	if cached, ok := p.cache.Get(ctx, cacheKind); ok {
		return cached
	}

	snapshot := map[string]any{}
	if p.session == nil {
		return snapshot
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if data, err := p.callTool(callCtx, toolMarketSentiment, map[string]any{"symbol": p.symbol}); err != nil {
		p.log.Warn().Err(err).Msg("Sentiment fetch failed, continuing without")
	} else {
		for k, v := range data {
			snapshot[k] = v
		}
	}

	if data, err := p.callTool(callCtx, toolFearGreed, nil); err != nil {
		p.log.Warn().Err(err).Msg("Fear & greed fetch failed, continuing without")
	} else {
		for k, v := range data {
			snapshot[k] = v
		}
	}

	if len(snapshot) > 0 {
		p.cache.Set(ctx, cacheKind, snapshot)
	}
	return snapshot
}

// callTool invokes one MCP tool and parses its first text content as a
// JSON object.
func (p *Provider) callTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	result, err := p.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("tool %s failed: %w", name, err)
	}
	if result.IsError {
		return nil, fmt.Errorf("tool %s returned an error", name)
	}

	for _, content := range result.Content {
		text, ok := content.(*mcp.TextContent)
		if !ok {
			continue
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(text.Text), &data); err != nil {
			return nil, fmt.Errorf("tool %s returned malformed JSON: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("tool %s returned no text content", name)
}

// Close tears the session down
func (p *Provider) Close() {
	if p.session != nil {
		p.session.Close()
		p.session = nil
	}
}
