package testhelpers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/kestrel-ai/chatplane/internal/llm"
)

// FakeProvider is a minimal llm.Provider double for tests. It can be
// configured with a fixed response, a streaming token sequence, or an
// error.
type FakeProvider struct {
	Text  string
	Usage llm.Usage
	Err   error

	StreamTokens []string
}

func (f *FakeProvider) Chat(ctx context.Context, system string, msgs []llm.Message) (string, llm.Usage, error) {
	if f.Err != nil {
		return "", llm.Usage{}, f.Err
	}
	return f.Text, f.Usage, nil
}

func (f *FakeProvider) StreamChat(ctx context.Context, system string, msgs []llm.Message, onToken func(string)) (string, llm.Usage, error) {
	if f.Err != nil {
		return "", llm.Usage{}, f.Err
	}
	for _, tok := range f.StreamTokens {
		if onToken != nil {
			onToken(tok)
		}
	}
	return f.Text, f.Usage, nil
}

func (f *FakeProvider) EstimateTokens(text string) int { return llm.EstimateTokens(text) }

func (f *FakeProvider) WouldExceedBudget(msgs []llm.Message, maxContextTokens int) bool {
	return llm.EstimateTokensForMessages(msgs) > maxContextTokens
}

var _ llm.Provider = (*FakeProvider)(nil)

// NewTestServer returns an httptest.Server for the given handler func.
func NewTestServer(handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(handler))
}

// WaitGroupDoneOnce returns a function that will call wg.Done() only once; useful for
// tests that need to ensure a WaitGroup is decremented a single time from multiple places.
func WaitGroupDoneOnce(wg *sync.WaitGroup) func() {
	once := sync.Once{}
	return func() { once.Do(wg.Done) }
}
