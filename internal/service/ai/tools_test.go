package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"videoinsight/internal/config"
	"videoinsight/internal/logging"
	"videoinsight/internal/ratelimit"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

type fakeSearch struct {
	result string
	err    error
	calls  int
	args   string
}

func (f *fakeSearch) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: "fake"}, nil
}

func (f *fakeSearch) InvokableRun(_ context.Context, args string, _ ...tool.Option) (string, error) {
	f.calls++
	f.args = args
	return f.result, f.err
}

func newTestSearchTool(google, duck tool.InvokableTool, limit int) *webSearchTool {
	return &webSearchTool{
		google:  google,
		duck:    duck,
		limiter: ratelimit.NewMemory(limit, time.Minute),
		logger:  logging.Discard(),
	}
}

func TestWebSearchFallsBackToDuckDuckGo(t *testing.T) {
	google := &fakeSearch{err: errors.New("quota")}
	duck := &fakeSearch{result: "duck results"}
	w := newTestSearchTool(google, duck, 5)

	got, err := w.run(context.Background(), &webSearchParams{Query: " tabby cat breeds "})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got != "duck results" || google.calls != 1 || duck.calls != 1 {
		t.Fatalf("unexpected fallback: got=%q google=%d duck=%d", got, google.calls, duck.calls)
	}
	if !strings.Contains(duck.args, `"tabby cat breeds"`) {
		t.Fatalf("query not trimmed/forwarded: %s", duck.args)
	}
}

func TestWebSearchAllProvidersFail(t *testing.T) {
	w := newTestSearchTool(nil, &fakeSearch{err: errors.New("down")}, 5)
	if _, err := w.run(context.Background(), &webSearchParams{Query: "x"}); err == nil {
		t.Fatalf("expected error when every provider fails")
	}
	if _, err := w.run(context.Background(), &webSearchParams{Query: "  "}); err == nil {
		t.Fatalf("expected error for empty query")
	}
}

func TestWebSearchBudgetIsPerRun(t *testing.T) {
	duck := &fakeSearch{result: "ok"}
	w := newTestSearchTool(nil, duck, 1)
	runA := logging.ContextWithRunID(context.Background(), "a")
	runB := logging.ContextWithRunID(context.Background(), "b")

	if _, err := w.run(runA, &webSearchParams{Query: "q"}); err != nil {
		t.Fatalf("first search: %v", err)
	}
	if _, err := w.run(runA, &webSearchParams{Query: "q"}); !errors.Is(err, errSearchRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if _, err := w.run(runB, &webSearchParams{Query: "q"}); err != nil {
		t.Fatalf("other run should have its own budget: %v", err)
	}
}

func TestWebSearchBudgetReleasedAtRunEnd(t *testing.T) {
	duck := &fakeSearch{result: "ok"}
	w := newTestSearchTool(nil, duck, 1)
	st := &searchTool{ws: w}
	ctx := logging.ContextWithRunID(context.Background(), "a")

	if _, err := w.run(ctx, &webSearchParams{Query: "q"}); err != nil {
		t.Fatalf("first search: %v", err)
	}
	st.EndRun("a")
	if got := w.limiter.(*ratelimit.Memory).Keys(); got != 0 {
		t.Fatalf("run budget retained after EndRun: %d keys", got)
	}
	if _, err := w.run(ctx, &webSearchParams{Query: "q"}); err != nil {
		t.Fatalf("search after EndRun: %v", err)
	}

	if _, ok := InitWebSearch(nil, duck, logging.Discard()).(runEnder); !ok {
		t.Fatalf("web_search tool should release per-run state")
	}
}

func TestWebSearchFetchesURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("page body"))
	}))
	defer srv.Close()

	duck := &fakeSearch{result: "search"}
	w := newTestSearchTool(nil, duck, 5)
	w.httpClient = srv.Client()

	got, err := w.run(context.Background(), &webSearchParams{Query: srv.URL})
	if err != nil || got != "page body" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if duck.calls != 0 {
		t.Fatalf("search should be skipped when the url loads")
	}
}

func TestWebSearchFetchesHTMLText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Cats</title><style>p{}</style></head>
<body><nav>menu</nav><p>Cats   like
tables.</p><script>track()</script></body></html>`))
	}))
	defer srv.Close()

	w := newTestSearchTool(nil, &fakeSearch{result: "search"}, 5)
	w.httpClient = srv.Client()

	got, err := w.run(context.Background(), &webSearchParams{Query: srv.URL})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got != "Cats\n\nCats like tables." {
		t.Fatalf("unexpected page text %q", got)
	}
}

func TestInitToolsChainDisabled(t *testing.T) {
	if tools := InitToolsChain(context.Background(), config.SearchConfig{Disabled: true}, nil); len(tools) != 0 {
		t.Fatalf("expected no tools, got %d", len(tools))
	}
	if ws := InitWebSearch(nil, nil, logging.Discard()); ws != nil {
		t.Fatalf("expected nil tool without providers")
	}
}
