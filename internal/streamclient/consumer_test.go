package streamclient_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/markl/internal/domain"
	"github.com/davidbz/markl/internal/streamclient"
)

// recorder captures callback invocations.
type recorder struct {
	tokens    []string
	thinking  []string
	final     *streamclient.Final
	err       error
	aborted   bool
	yieldHits int
}

func (r *recorder) callbacks() streamclient.Callbacks {
	return streamclient.Callbacks{
		OnToken:    func(tok string) { r.tokens = append(r.tokens, tok) },
		OnThinking: func(tok string) { r.thinking = append(r.thinking, tok) },
		OnComplete: func(final streamclient.Final) { r.final = &final },
		OnError:    func(err error) { r.err = err },
		OnAborted:  func() { r.aborted = true },
		Yield:      func() { r.yieldHits++ },
	}
}

func consume(t *testing.T, body string) *recorder {
	t.Helper()
	rec := &recorder{}
	streamclient.NewConsumer(rec.callbacks()).Consume(context.Background(), strings.NewReader(body))
	return rec
}

func TestConsumer_Consume(t *testing.T) {
	t.Run("should accumulate content deltas into the answer buffer", func(t *testing.T) {
		body := "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
			"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"}}]}\n\n" +
			"data: [DONE]\n\n"

		rec := consume(t, body)

		require.Equal(t, []string{"Hel", "lo"}, rec.tokens)
		require.NotNil(t, rec.final)
		require.Equal(t, "Hello", rec.final.Content)
		require.Empty(t, rec.final.Thinking)
		require.NoError(t, rec.err)
		// One yield per token callback.
		require.Equal(t, 2, rec.yieldHits)
	})

	t.Run("should classify reasoning deltas under either field name", func(t *testing.T) {
		body := "data: {\"choices\":[{\"index\":0,\"delta\":{\"reasoning\":\"think \"}}]}\n\n" +
			"data: {\"choices\":[{\"index\":0,\"delta\":{\"reasoning_content\":\"harder\"}}]}\n\n" +
			"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"done\"}}]}\n\n" +
			"data: [DONE]\n\n"

		rec := consume(t, body)

		require.Equal(t, []string{"think ", "harder"}, rec.thinking)
		require.Equal(t, []string{"done"}, rec.tokens)
		require.Equal(t, "think harder", rec.final.Thinking)
		require.Equal(t, "done", rec.final.Content)
	})

	t.Run("should reconstruct thinking from reasoning_details when nothing streamed", func(t *testing.T) {
		body := "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"x\"},\"message\":{\"reasoning_details\":[" +
			"{\"type\":\"reasoning.text\",\"text\":\"A\"}," +
			"{\"type\":\"reasoning.encrypted\",\"text\":\"zzz\"}," +
			"{\"type\":\"reasoning.text\",\"text\":\"B\"}]}}]}\n\n" +
			"data: [DONE]\n\n"

		rec := consume(t, body)

		require.Empty(t, rec.thinking)
		require.NotNil(t, rec.final)
		require.Equal(t, "A\n\nB", rec.final.Thinking)
	})

	t.Run("should prefer streamed reasoning over reasoning_details", func(t *testing.T) {
		body := "data: {\"choices\":[{\"index\":0,\"delta\":{\"reasoning\":\"live\"},\"message\":{\"reasoning_details\":[" +
			"{\"type\":\"reasoning.text\",\"text\":\"stale\"}]}}]}\n\n" +
			"data: [DONE]\n\n"

		rec := consume(t, body)

		require.Equal(t, "live", rec.final.Thinking)
	})

	t.Run("should capture the last usage snapshot", func(t *testing.T) {
		body := "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"}}],\"usage\":{\"prompt_tokens\":1,\"completion_tokens\":1,\"total_tokens\":2}}\n\n" +
			"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":3,\"total_tokens\":8}}\n\n" +
			"data: [DONE]\n\n"

		rec := consume(t, body)

		require.Equal(t, domain.Usage{PromptTokens: 5, CompletionTokens: 3, TotalTokens: 8}, rec.final.Usage)
	})

	t.Run("should handle frames split across read boundaries", func(t *testing.T) {
		body := "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hello\"}}]}\n\ndata: [DONE]\n\n"
		rec := &recorder{}

		// One byte at a time forces the partial-line carry path.
		streamclient.NewConsumer(rec.callbacks()).Consume(context.Background(), iotest(body))

		require.Equal(t, []string{"Hello"}, rec.tokens)
		require.Equal(t, "Hello", rec.final.Content)
	})

	t.Run("should ignore comments and blank lines", func(t *testing.T) {
		body := ": keepalive\n\n" +
			"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"ok\"}}]}\n\n" +
			"data: [DONE]\n\n"

		rec := consume(t, body)

		require.Equal(t, "ok", rec.final.Content)
	})

	t.Run("should skip unparseable frames and keep consuming", func(t *testing.T) {
		body := "data: not-json\n\n" +
			"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"ok\"}}]}\n\n" +
			"data: [DONE]\n\n"

		rec := consume(t, body)

		require.NoError(t, rec.err)
		require.Equal(t, "ok", rec.final.Content)
	})

	t.Run("should stop on an error frame and unwrap nested envelopes", func(t *testing.T) {
		body := "data: {\"error\":{\"error\":{\"message\":\"rate limited\",\"code\":429}}}\n\n" +
			"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"never\"}}]}\n\n"

		rec := consume(t, body)

		require.Nil(t, rec.final)
		require.Error(t, rec.err)
		require.Contains(t, rec.err.Error(), "rate limited")
		require.Empty(t, rec.tokens)
	})

	t.Run("should finalize on natural stream end without DONE", func(t *testing.T) {
		body := "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"partial\"}}]}\n\n"

		rec := consume(t, body)

		require.NotNil(t, rec.final)
		require.Equal(t, "partial", rec.final.Content)
	})

	t.Run("should route cancellation to the aborted callback", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		rec := &recorder{}
		consumer := streamclient.NewConsumer(streamclient.Callbacks{
			OnToken: func(string) { cancel() },
			OnComplete: func(final streamclient.Final) {
				rec.final = &final
			},
			OnError:   func(err error) { rec.err = err },
			OnAborted: func() { rec.aborted = true },
		})

		body := "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"tok\"}}]}\n\n" +
			"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"more\"}}]}\n\n"
		consumer.Consume(ctx, &slowReader{data: []byte(body), chunk: 55})

		require.True(t, rec.aborted)
		require.Nil(t, rec.final)
		require.NoError(t, rec.err)
	})
}

// slowReader returns at most chunk bytes per Read call.
type slowReader struct {
	data  []byte
	chunk int
	pos   int
}

func (s *slowReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := s.chunk
	if n > len(p) {
		n = len(p)
	}
	if s.pos+n > len(s.data) {
		n = len(s.data) - s.pos
	}
	copy(p, s.data[s.pos:s.pos+n])
	s.pos += n
	return n, nil
}

func iotest(body string) io.Reader {
	return &slowReader{data: []byte(body), chunk: 1}
}
