package testhelpers

import (
	"context"
	"testing"

	"github.com/kestrel-ai/chatplane/internal/llm"
)

func TestFakeProvider_Chat(t *testing.T) {
	fp := &FakeProvider{Text: "ok"}
	text, _, err := fp.Chat(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if text != "ok" {
		t.Fatalf("unexpected content: %q", text)
	}
}

func TestFakeProvider_StreamChat(t *testing.T) {
	fp := &FakeProvider{StreamTokens: []string{"a", "b", "c"}}
	var got []string
	if _, _, err := fp.StreamChat(context.Background(), "", nil, func(tok string) { got = append(got, tok) }); err != nil {
		t.Fatalf("stream err: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(got))
	}
}

var _ llm.Provider = (*FakeProvider)(nil)
