package persona

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingGenerator struct {
	histories [][]Turn
	reply     string
	err       error
}

func (g *recordingGenerator) Generate(ctx context.Context, history []Turn, userText string) (string, error) {
	g.histories = append(g.histories, history)
	if g.err != nil {
		return "", g.err
	}
	return g.reply + ":" + userText, nil
}

func TestBotReplyRecordsTurns(t *testing.T) {
	t.Parallel()

	gen := &recordingGenerator{reply: "ok"}
	bot := NewBot("晴晴", gen, NewSessionStore(8))
	assert.Equal(t, "晴晴", bot.Name())

	got, err := bot.Reply(context.Background(), "u1", "first")
	require.NoError(t, err)
	assert.Equal(t, "ok:first", got)

	_, err = bot.Reply(context.Background(), "u1", "second")
	require.NoError(t, err)

	require.Len(t, gen.histories, 2)
	assert.Empty(t, gen.histories[0])
	assert.Equal(t, []Turn{{Role: RoleUser, Text: "first"}, {Role: RoleAssistant, Text: "ok:first"}}, gen.histories[1])
	assert.Len(t, bot.History("u1"), 4)
}

func TestBotReplyFailureRecordsNothing(t *testing.T) {
	t.Parallel()

	bot := NewBot("晴晴", &recordingGenerator{err: errors.New("upstream 503")}, NewSessionStore(8))
	_, err := bot.Reply(context.Background(), "u1", "hi")
	require.Error(t, err)
	assert.Empty(t, bot.History("u1"))
}

func TestBotClear(t *testing.T) {
	t.Parallel()

	bot := NewBot("晴晴", &recordingGenerator{reply: "ok"}, NewSessionStore(8))
	_, err := bot.Reply(context.Background(), "u1", "hi")
	require.NoError(t, err)
	bot.Clear("u1")
	assert.Empty(t, bot.History("u1"))
}

func TestBotWithoutGenerator(t *testing.T) {
	t.Parallel()

	_, err := NewBot("x", nil, nil).Reply(context.Background(), "u1", "hi")
	assert.Error(t, err)
}
