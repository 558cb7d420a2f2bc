package ai

import (
	"context"
	"errors"
	"testing"

	"videoinsight/internal/logging"
	"videoinsight/internal/models"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

type fakeChatModel struct {
	reply    *schema.Message
	err      error
	received []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.received = input
	return f.reply, f.err
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChatModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

func TestRunSendsVideoAndPrompt(t *testing.T) {
	fm := &fakeChatModel{reply: schema.AssistantMessage("A cat walks across a table.", nil)}
	agent, err := NewAgent(context.Background(), fm, nil, nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	media := &models.RemoteMedia{Name: "files/abc", URI: "https://example.test/files/abc", MIMEType: "video/mp4"}

	reply, err := agent.Run(context.Background(), "What animal appears?", media)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if reply.Content != "A cat walks across a table." {
		t.Fatalf("content changed: %q", reply.Content)
	}
	if len(fm.received) != 2 || fm.received[0].Role != schema.System {
		t.Fatalf("expected system + user messages, got %+v", fm.received)
	}
	user := fm.received[1]
	if user.Role != schema.User || len(user.MultiContent) != 2 {
		t.Fatalf("unexpected user message: %+v", user)
	}
	video := user.MultiContent[0].VideoURL
	if video == nil || video.URI != media.URI || video.MIMEType != "video/mp4" {
		t.Fatalf("video part not forwarded: %+v", user.MultiContent[0])
	}
	if user.MultiContent[1].Text != "What animal appears?" {
		t.Fatalf("prompt not forwarded: %+v", user.MultiContent[1])
	}
}

func TestRunRequiresMedia(t *testing.T) {
	fm := &fakeChatModel{}
	agent, _ := NewAgent(context.Background(), fm, nil, nil)
	if _, err := agent.Run(context.Background(), "q", nil); !errors.Is(err, ErrNoMedia) {
		t.Fatalf("expected ErrNoMedia, got %v", err)
	}
	if fm.received != nil {
		t.Fatalf("model must not be called")
	}
}

func TestRunWrapsModelError(t *testing.T) {
	cause := errors.New("model overloaded")
	agent, _ := NewAgent(context.Background(), &fakeChatModel{err: cause}, nil, nil)
	_, err := agent.Run(context.Background(), "q", &models.RemoteMedia{URI: "u"})
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped model error, got %v", err)
	}
}

func TestNewAgentRequiresModel(t *testing.T) {
	if _, err := NewAgent(context.Background(), nil, nil, nil); err == nil {
		t.Fatalf("expected error without model")
	}
}

type endRecorder struct {
	fakeSearch
	ended []string
}

func (e *endRecorder) EndRun(runID string) {
	e.ended = append(e.ended, runID)
}

func TestRunReleasesToolStatePerRun(t *testing.T) {
	fm := &fakeChatModel{err: errors.New("quota exceeded")}
	rec := &endRecorder{}
	agent := &Agent{chatModel: fm, tools: []tool.BaseTool{rec}, logger: logging.Discard()}
	media := &models.RemoteMedia{URI: "https://example.test/files/abc", MIMEType: "video/mp4"}

	ctx := logging.ContextWithRunID(context.Background(), "run-7")
	if _, err := agent.Run(ctx, "q", media); err == nil {
		t.Fatalf("expected model error")
	}
	if len(rec.ended) != 1 || rec.ended[0] != "run-7" {
		t.Fatalf("tool state not released: %v", rec.ended)
	}
}
