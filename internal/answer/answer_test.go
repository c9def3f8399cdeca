package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docrag-go/internal/rag"
)

func TestBuild_Deterministic(t *testing.T) {
	t.Parallel()
	passages := []rag.Passage{
		{Text: "St Andrews is in Fife, Scotland.", Source: "a.txt", Score: 0.9},
		{Text: "  Golf began here.  ", Source: "b.txt", Score: 0.5},
	}

	p1 := Build("Where is St Andrews?", passages, 0)
	p2 := Build("Where is St Andrews?", passages, 0)
	assert.Equal(t, p1, p2)

	require.Len(t, p1.Messages, 2)
	assert.Equal(t, schema.System, p1.Messages[0].Role)
	assert.Equal(t, SystemPrompt, p1.Messages[0].Content)
	assert.Equal(t, schema.User, p1.Messages[1].Role)
	assert.Equal(t, 2, p1.Used)

	user := p1.Messages[1].Content
	assert.Contains(t, user, "[1] Source: a.txt\nSt Andrews is in Fife, Scotland.")
	assert.Contains(t, user, "[2] Source: b.txt\nGolf began here.")
	assert.True(t, strings.HasSuffix(user, "Question: Where is St Andrews?"))
	assert.Less(t, strings.Index(user, "[1]"), strings.Index(user, "[2]"))
}

func TestBuild_TrimsLowestRankedPassages(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("word ", 400) // ~500 tokens
	passages := []rag.Passage{
		{Text: long, Source: "best"},
		{Text: long, Source: "second"},
		{Text: long, Source: "third"},
	}

	p := Build("q", passages, 1300)
	assert.Equal(t, 2, p.Used)
	assert.Contains(t, p.Messages[1].Content, "Source: second")
	assert.NotContains(t, p.Messages[1].Content, "Source: third")

	p = Build("q", passages, 10)
	assert.Equal(t, 1, p.Used, "the best passage is always kept")
}

func TestBuild_NoPassages(t *testing.T) {
	t.Parallel()
	p := Build("anything?", nil, 100)
	assert.Zero(t, p.Used)
	assert.Contains(t, p.Messages[1].Content, "none were found")
}

// fakeChatModel returns a canned reply or error.
type fakeChatModel struct {
	reply string
	err   error
	got   []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestChatGenerator(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	msgs := Build("q", nil, 0).Messages

	m := &fakeChatModel{reply: "Scotland [1]"}
	got, err := NewChatGenerator(m).Complete(ctx, msgs)
	require.NoError(t, err)
	assert.Equal(t, "Scotland [1]", got)
	assert.Equal(t, msgs, m.got)

	_, err = NewChatGenerator(&fakeChatModel{reply: "  "}).Complete(ctx, msgs)
	assert.ErrorIs(t, err, rag.ErrProvider)

	_, err = NewChatGenerator(&fakeChatModel{err: context.DeadlineExceeded}).Complete(ctx, msgs)
	assert.ErrorIs(t, err, rag.ErrTransient)

	_, err = NewChatGenerator(&fakeChatModel{err: errors.New("boom")}).Complete(ctx, msgs)
	assert.ErrorIs(t, err, rag.ErrProvider)
}
