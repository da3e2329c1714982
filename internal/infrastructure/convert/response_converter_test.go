package convert

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/antigravity-gateway/gateway/internal/infrastructure/cache"
	"github.com/antigravity-gateway/gateway/internal/infrastructure/imagestore"
)

func newTestResponseConverter(t *testing.T) *ResponseConverter {
	t.Helper()
	dir := t.TempDir()
	return NewResponseConverter(cache.NewSignatureCache(), cache.NewToolNameCache(), imagestore.New(dir, 0), zap.NewNop())
}

func TestInternalToOpenai_InlineImageRoundTrip(t *testing.T) {
	c := newTestResponseConverter(t)

	raw := []byte("fake-png-bytes")
	encoded := base64.StdEncoding.EncodeToString(raw)

	body, err := json.Marshal(InternalResponse{
		Candidates: []Candidate{{
			Content: Content{
				Role: "model",
				Parts: []Part{
					{Text: "here is your image"},
					{InlineData: &InlineData{MimeType: "image/png", Data: encoded}},
				},
			},
			FinishReason: "STOP",
		}},
		UsageMetadata: &UsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 5, TotalTokenCount: 15},
	})
	if err != nil {
		t.Fatalf("marshaling fixture: %v", err)
	}

	resp, err := c.InternalToOpenai(body, "gemini-3-pro-image", "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(resp.Choices))
	}
	msg := resp.Choices[0].Message
	if !strings.Contains(msg.Content, "here is your image") {
		t.Fatalf("expected leading text preserved, got %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "](/images/") {
		t.Fatalf("expected a markdown image reference, got %q", msg.Content)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("expected mapped finish reason stop, got %s", resp.Choices[0].FinishReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Fatalf("expected usage carried through, got %+v", resp.Usage)
	}

	idx := strings.Index(msg.Content, "](/images/")
	rest := msg.Content[idx+len("](/images/"):]
	filename := rest[:strings.Index(rest, ")")]
	storedPath := c.images.Dir + "/" + filename
	got, err := os.ReadFile(storedPath)
	if err != nil {
		t.Fatalf("expected stored file to exist at %s: %v", storedPath, err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("stored bytes do not match original image bytes")
	}
}

func TestInternalToOpenai_ToolCallUsesOriginalNameFromCache(t *testing.T) {
	c := newTestResponseConverter(t)
	c.toolNames.Set("session-1", "gemini-2.5-flash", "get_weather", "get weather!")

	body, err := json.Marshal(InternalResponse{
		Candidates: []Candidate{{
			Content: Content{
				Role: "model",
				Parts: []Part{
					{FunctionCall: &FunctionCallPart{ID: "call_1", Name: "get_weather", Args: json.RawMessage(`{"location":"Tokyo"}`)}},
				},
			},
		}},
	})
	if err != nil {
		t.Fatalf("marshaling fixture: %v", err)
	}

	resp, err := c.InternalToOpenai(body, "gemini-2.5-flash", "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := resp.Choices[0].Message.ToolCalls
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}
	if calls[0].Function.Name != "get weather!" {
		t.Fatalf("expected original name restored from cache, got %q", calls[0].Function.Name)
	}
	if calls[0].ID != "call_1" {
		t.Fatalf("expected id preserved, got %q", calls[0].ID)
	}
}

func TestSSEInternalToOpenai_EmitsChunksAndDone(t *testing.T) {
	c := newTestResponseConverter(t)

	chunk1, _ := json.Marshal(InternalResponse{
		Candidates: []Candidate{{Content: Content{Parts: []Part{{Text: "Hel"}}}}},
	})
	chunk2, _ := json.Marshal(InternalResponse{
		Candidates: []Candidate{{Content: Content{Parts: []Part{{Text: "lo"}}}, FinishReason: "STOP"}},
		UsageMetadata: &UsageMetadata{PromptTokenCount: 1, CandidatesTokenCount: 2, TotalTokenCount: 3},
	})

	input := "data: " + string(chunk1) + "\n\ndata: " + string(chunk2) + "\n\n"

	var written []string
	err := c.SSEInternalToOpenai(strings.NewReader(input), "gemini-2.5-flash", "session-1", func(s string) error {
		written = append(written, s)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(written) != 3 {
		t.Fatalf("expected 3 writes (2 chunks + DONE), got %d: %v", len(written), written)
	}
	if !strings.Contains(written[len(written)-1], "[DONE]") {
		t.Fatalf("expected final write to be [DONE], got %q", written[len(written)-1])
	}

	var firstChunk ChatStreamChunk
	data := strings.TrimSuffix(strings.TrimPrefix(written[0], "data: "), "\n\n")
	if err := json.Unmarshal([]byte(data), &firstChunk); err != nil {
		t.Fatalf("unmarshaling first chunk: %v", err)
	}
	if firstChunk.Choices[0].Delta.Content != "Hel" {
		t.Fatalf("expected first delta content Hel, got %q", firstChunk.Choices[0].Delta.Content)
	}
	if firstChunk.Choices[0].FinishReason != nil {
		t.Fatalf("expected nil finish reason on first chunk")
	}

	var secondChunk ChatStreamChunk
	data2 := strings.TrimSuffix(strings.TrimPrefix(written[1], "data: "), "\n\n")
	if err := json.Unmarshal([]byte(data2), &secondChunk); err != nil {
		t.Fatalf("unmarshaling second chunk: %v", err)
	}
	if secondChunk.Choices[0].FinishReason == nil || *secondChunk.Choices[0].FinishReason != "stop" {
		t.Fatalf("expected mapped finish reason stop on final chunk, got %+v", secondChunk.Choices[0].FinishReason)
	}
	if secondChunk.Usage == nil || secondChunk.Usage.TotalTokens != 3 {
		t.Fatalf("expected usage only on the chunk carrying the finish reason, got %+v", secondChunk.Usage)
	}
}

func TestSSEInternalToOpenai_SkipsMalformedLines(t *testing.T) {
	c := newTestResponseConverter(t)
	input := "data: not-json\n\ndata: [DONE]\n\n"

	var written []string
	err := c.SSEInternalToOpenai(strings.NewReader(input), "gemini-2.5-flash", "session-1", func(s string) error {
		written = append(written, s)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(written) != 1 || !strings.Contains(written[0], "[DONE]") {
		t.Fatalf("expected only the terminal [DONE] write, got %v", written)
	}
}

func TestModelsToOpenai_ListsAllModelsWithInferredOwner(t *testing.T) {
	c := newTestResponseConverter(t)
	body, _ := json.Marshal(ModelsListResponse{
		Models: map[string]json.RawMessage{
			"gemini-2.5-flash":  json.RawMessage(`{}`),
			"claude-sonnet-4.5": json.RawMessage(`{}`),
		},
	})

	resp, err := c.ModelsToOpenai(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Object != "list" {
		t.Fatalf("expected object list, got %s", resp.Object)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("expected 2 models, got %d", len(resp.Data))
	}

	owners := map[string]string{}
	for _, m := range resp.Data {
		owners[m.ID] = m.OwnedBy
	}
	if owners["gemini-2.5-flash"] != "google" {
		t.Fatalf("expected gemini model owned_by google, got %s", owners["gemini-2.5-flash"])
	}
	if owners["claude-sonnet-4.5"] != "anthropic" {
		t.Fatalf("expected claude model owned_by anthropic, got %s", owners["claude-sonnet-4.5"])
	}
}
