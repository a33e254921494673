package rag

import (
	"context"
	"fmt"
	"strings"

	"filechat/internal/config"
	"filechat/internal/llm"
)

// ChatModel is the slice of the chat adapter the engine depends on.
type ChatModel interface {
	Generate(ctx context.Context, messages []llm.Message) (string, error)
	GenerateStream(ctx context.Context, messages []llm.Message, onDelta func(string)) (string, error)
}

// ChatResult is a grounded answer with the chunks it was built from.
type ChatResult struct {
	Answer  string
	Sources []Hit
}

// Engine couples retrieval with answer generation.
type Engine struct {
	retriever *Retriever
	chat      ChatModel
}

// NewEngine creates an Engine.
func NewEngine(retriever *Retriever, chat ChatModel) *Engine {
	return &Engine{retriever: retriever, chat: chat}
}

// Ask retrieves context for the query and generates an answer grounded in
// it. With nothing retrieved the model is told to say it does not know.
func (e *Engine) Ask(ctx context.Context, query string, opts config.RetrievalSettings) (*ChatResult, error) {
	hits, err := e.retriever.Retrieve(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	answer, err := e.chat.Generate(ctx, BuildMessages(query, hits))
	if err != nil {
		return nil, err
	}
	return &ChatResult{Answer: answer, Sources: hits}, nil
}

// AskStream is Ask with the answer streamed through onDelta as it is
// generated. The returned result holds the full assembled answer. If the
// stream fails before any delta was emitted, generation is retried once in
// blocking mode; after the first delta the error is returned as-is, since
// partial output has already reached the caller.
func (e *Engine) AskStream(ctx context.Context, query string, opts config.RetrievalSettings, onDelta func(string)) (*ChatResult, error) {
	hits, err := e.retriever.Retrieve(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	messages := BuildMessages(query, hits)

	streamed := false
	answer, err := e.chat.GenerateStream(ctx, messages, func(delta string) {
		streamed = true
		onDelta(delta)
	})
	if err != nil {
		if streamed || ctx.Err() != nil {
			return nil, err
		}
		answer, err = e.chat.Generate(ctx, messages)
		if err != nil {
			return nil, err
		}
		onDelta(answer)
	}
	return &ChatResult{Answer: answer, Sources: hits}, nil
}

const systemPrompt = `You are a helpful assistant answering questions about the user's local documents.
Answer using only the provided sources. Cite sources inline as [1], [2] and so on.
If the sources do not contain the answer, say you do not know. Do not invent citations.`

// BuildMessages assembles the chat prompt: a system instruction, the
// numbered source excerpts, and the user question.
func BuildMessages(query string, hits []Hit) []llm.Message {
	var b strings.Builder
	if len(hits) == 0 {
		b.WriteString("No sources were found for this question.\n")
	}
	for i, hit := range hits {
		fmt.Fprintf(&b, "[%d] %s (page %d)\n%s\n\n", i+1, hit.FilePath, hit.Page+1, hit.Text)
	}
	fmt.Fprintf(&b, "Question: %s", query)

	return []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}
