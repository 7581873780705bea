package anthropic

import (
	"math"
	"testing"
)

func TestEstimateCost_Haiku(t *testing.T) {
	usage := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	got := usage.EstimateCost("claude-haiku-4-5-20251001")
	want := 0.80 + 4.00
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("EstimateCost = %f, want %f", got, want)
	}
}

func TestEstimateCost_Sonnet(t *testing.T) {
	usage := TokenUsage{InputTokens: 500_000, OutputTokens: 100_000}
	got := usage.EstimateCost("claude-sonnet-4-5-20250929")
	want := 0.5*3.00 + 0.1*15.00
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("EstimateCost = %f, want %f", got, want)
	}
}

func TestEstimateCost_CacheTokens(t *testing.T) {
	usage := TokenUsage{
		CacheCreationInputTokens: 1_000_000,
		CacheReadInputTokens:     1_000_000,
	}
	got := usage.EstimateCost("claude-haiku-4-5-20251001")
	want := 0.80*1.25 + 0.80*0.1
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("EstimateCost = %f, want %f", got, want)
	}
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	usage := TokenUsage{InputTokens: 1_000_000}
	if got := usage.EstimateCost("claude-unknown"); got != 0 {
		t.Errorf("EstimateCost for unknown model = %f, want 0", got)
	}
}

func TestEstimateCost_ZeroUsage(t *testing.T) {
	var usage TokenUsage
	if got := usage.EstimateCost("claude-opus-4-6"); got != 0 {
		t.Errorf("EstimateCost for zero usage = %f, want 0", got)
	}
}

func TestLogCost_NoPanic(t *testing.T) {
	usage := TokenUsage{InputTokens: 1000, OutputTokens: 200}
	usage.LogCost("claude-haiku-4-5-20251001", "plan_generation")
}

func TestMessageResponse_Text(t *testing.T) {
	resp := MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "hello "},
		{Type: "thinking", Text: "ignored"},
		{Type: "text", Text: "world"},
	}}
	if got := resp.Text(); got != "hello world" {
		t.Errorf("Text() = %q, want %q", got, "hello world")
	}
}

func TestToSDKMessages_Roles(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	})
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "user" {
		t.Errorf("msgs[0].Role = %q, want user", msgs[0].Role)
	}
	if msgs[1].Role != "assistant" {
		t.Errorf("msgs[1].Role = %q, want assistant", msgs[1].Role)
	}
}

func TestToSDKSystemBlocks_CacheControl(t *testing.T) {
	blocks := toSDKSystemBlocks([]SystemBlock{
		{Text: "plain"},
		{Text: "cached", CacheControl: &CacheControl{TTL: "1h"}},
	})
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if blocks[0].Text != "plain" {
		t.Errorf("blocks[0].Text = %q", blocks[0].Text)
	}
	if string(blocks[1].CacheControl.TTL) != "1h" {
		t.Errorf("blocks[1].CacheControl.TTL = %q, want 1h", blocks[1].CacheControl.TTL)
	}
}
