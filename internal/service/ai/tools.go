package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"videoinsight/internal/config"
	"videoinsight/internal/logging"
	"videoinsight/internal/ratelimit"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

// InitToolsChain returns the tools bound to the agent; empty when search is disabled.
func InitToolsChain(ctx context.Context, cfg config.SearchConfig, logger *slog.Logger) []tool.BaseTool {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logging.WithComponent(logger, "web_search")
	if cfg.Disabled {
		logger.Info("web search tool disabled by config")
		return nil
	}
	ws := InitWebSearch(InitGooglesearch(ctx, cfg, logger), InitDDGsearch(ctx, cfg, logger), logger)
	if ws == nil {
		return nil
	}
	return []tool.BaseTool{ws}
}

// InitWebSearch combines the providers into a single web_search tool.
func InitWebSearch(google, duck tool.InvokableTool, logger *slog.Logger) tool.InvokableTool {
	if google == nil && duck == nil {
		logger.Warn("web search tool disabled: no search providers available")
		return nil
	}
	ws := &webSearchTool{
		google:     google,
		duck:       duck,
		httpClient: &http.Client{Timeout: WebSearchHTTPTimeout},
		limiter:    ratelimit.NewMemory(SearchRateLimit, SearchRateWindow),
		logger:     logger,
	}

	info := &schema.ToolInfo{
		Name: "web_search",
		Desc: "Search the web for context about what is shown in the video; " +
			"automatically falls back to another provider if needed; " +
			"pass a URL to fetch that page directly.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Natural language query or URL to search",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return &searchTool{InvokableTool: utils.NewTool(info, ws.run), ws: ws}
}

// runEnder is implemented by tools holding per-run state.
type runEnder interface {
	EndRun(runID string)
}

type searchTool struct {
	tool.InvokableTool
	ws *webSearchTool
}

// EndRun drops the search budget of a finished run.
func (s *searchTool) EndRun(runID string) {
	s.ws.endRun(runID)
}

type webSearchTool struct {
	google     tool.InvokableTool
	duck       tool.InvokableTool
	httpClient *http.Client
	limiter    ratelimit.Limiter
	logger     *slog.Logger
}

func (w *webSearchTool) endRun(runID string) {
	if f, ok := w.limiter.(interface{ Forget(key string) }); ok {
		f.Forget(runKey(runID))
	}
}

type webSearchParams struct {
	Query string `json:"query"`
}

func (w *webSearchTool) run(ctx context.Context, params *webSearchParams) (string, error) {
	if params == nil {
		return "", errors.New("missing search parameters")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}
	if err := allowSearch(ctx, w.limiter); err != nil {
		return "", err
	}

	if looksLikeURL(query) {
		content, err := w.fetchURL(ctx, query)
		if err == nil {
			return content, nil
		}
		w.logger.Warn("web url loader failed", "error", err)
	}

	payloadBytes, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	payload := string(payloadBytes)

	if w.google != nil {
		result, err := w.google.InvokableRun(ctx, payload)
		if err == nil {
			return result, nil
		}
		w.logger.Warn("google search failed", "error", err)
	}
	if w.duck != nil {
		result, err := w.duck.InvokableRun(ctx, payload)
		if err == nil {
			return result, nil
		}
		w.logger.Warn("duckduckgo search failed", "error", err)
	}
	return "", errors.New("no search provider succeeded")
}

// InitDDGsearch builds the DuckDuckGo tool; it needs no credentials.
func InitDDGsearch(ctx context.Context, cfg config.SearchConfig, logger *slog.Logger) tool.InvokableTool {
	duckTool, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: cfg.MaxResults,
		Region:     duckduckgo.RegionWT,
		Timeout:    WebSearchHTTPTimeout,
	})
	if err != nil {
		logger.Warn("duckduckgo search tool disabled", "error", err)
		return nil
	}
	return duckTool
}

// InitGooglesearch builds the Google Custom Search tool when a key and engine id are set.
func InitGooglesearch(ctx context.Context, cfg config.SearchConfig, logger *slog.Logger) tool.InvokableTool {
	if cfg.GoogleAPIKey == "" || cfg.SearchEngineID == "" {
		logger.Info("google search tool disabled: missing api key or search engine id")
		return nil
	}
	googleTool, err := googlesearch.NewTool(ctx, &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         cfg.GoogleAPIKey,
		SearchEngineID: cfg.SearchEngineID,
		Lang:           "en",
		Num:            cfg.MaxResults,
	})
	if err != nil {
		logger.Warn("google search tool disabled", "error", err)
		return nil
	}
	return googleTool
}

