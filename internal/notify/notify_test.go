package notify

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"agora/pkg/types"
)

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify(ctx context.Context, notice types.Notice) { c.n++ }

type panickingNotifier struct{}

func (panickingNotifier) Notify(ctx context.Context, notice types.Notice) { panic("boom") }

func TestLogNotifier_WritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	n.Notify(context.Background(), types.Notice{Level: types.NoticeError, Message: "cannot join", SessionID: "s1"})

	out := buf.String()
	assert.Contains(t, out, `"msg":"cannot join"`)
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"session_id":"s1"`)
}

func TestMulti_FansOutAndSurvivesPanics(t *testing.T) {
	a, b := &countingNotifier{}, &countingNotifier{}
	m := NewMulti(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), a, nil, panickingNotifier{}, b)

	assert.NotPanics(t, func() {
		m.Notify(context.Background(), types.Notice{Level: types.NoticeSuccess, Message: "ok"})
	})
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
}
