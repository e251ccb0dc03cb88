package transport

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/stylequeue/internal/db"
)

type fakeSendGrid struct {
	resp *rest.Response
	err  error
	got  *mail.SGMailV3
}

func (f *fakeSendGrid) SendWithContext(_ context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.got = email
	return f.resp, f.err
}

func testMessage() Message {
	return Message{
		IdempotencyKey: "draft-d1",
		DraftID:        "d1",
		To:             "client@example.com",
		Subject:        "Your gala looks",
		Text:           "Hello",
		HTML:           "<p>Hello</p>",
	}
}

func TestSendGrid_Send(t *testing.T) {
	fake := &fakeSendGrid{resp: &rest.Response{
		StatusCode: 202,
		Headers:    map[string][]string{"X-Message-Id": {"sg-123"}},
	}}
	sg := NewSendGridWithClient(fake, "style@example.com", "Your Stylist")

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := testMessage()
	msg.ScheduledAt = &at

	res, err := sg.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "sg-123", res.MessageID)

	require.NotNil(t, fake.got)
	assert.Equal(t, "Your gala looks", fake.got.Subject)
	assert.Equal(t, "style@example.com", fake.got.From.Address)
	assert.Equal(t, "draft-d1", fake.got.Headers["Idempotency-Key"])
	assert.Equal(t, "draft-d1", fake.got.CustomArgs["idempotency_key"])
	assert.Equal(t, int(at.Unix()), fake.got.SendAt)
	require.Len(t, fake.got.Content, 2)
	assert.Equal(t, "text/plain", fake.got.Content[0].Type)
	require.Len(t, fake.got.Personalizations, 1)
	assert.Equal(t, "client@example.com", fake.got.Personalizations[0].To[0].Address)
}

func TestSendGrid_Errors(t *testing.T) {
	sg := NewSendGridWithClient(&fakeSendGrid{resp: &rest.Response{StatusCode: 400, Body: "bad"}}, "a@b.c", "")
	_, err := sg.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")

	sg = NewSendGridWithClient(&fakeSendGrid{err: errors.New("dial tcp")}, "a@b.c", "")
	_, err = sg.Send(context.Background(), testMessage())
	assert.ErrorContains(t, err, "dial tcp")

	msg := testMessage()
	msg.To = ""
	_, err = sg.Send(context.Background(), msg)
	assert.ErrorContains(t, err, "recipient")
}

func TestSendGrid_FallsBackToKeyForMessageID(t *testing.T) {
	sg := NewSendGridWithClient(&fakeSendGrid{resp: &rest.Response{StatusCode: 202}}, "a@b.c", "")
	res, err := sg.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "draft-d1", res.MessageID)
}

func TestLog_Send(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(zerolog.New(&buf))
	res, err := l.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "log-draft-d1", res.MessageID)
	assert.Contains(t, buf.String(), `"idempotency_key":"draft-d1"`)
}

func TestIdempotent_DeliversOnce(t *testing.T) {
	gdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "transport.db"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	t.Cleanup(func() { db.Close(gdb) })

	mock := NewMock()
	tr := NewIdempotent(gdb, mock, "mock")
	ctx := context.Background()

	mock.FailNext(1, errors.New("provider down"))
	_, err = tr.Send(ctx, testMessage())
	require.Error(t, err)

	rec, err := tr.Lookup(ctx, "draft-d1")
	require.NoError(t, err)
	assert.Nil(t, rec, "failed sends are not recorded")

	first, err := tr.Send(ctx, testMessage())
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	again, err := tr.Send(ctx, testMessage())
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.MessageID, again.MessageID)

	assert.Len(t, mock.Sent(), 1)
	assert.Equal(t, 2, mock.Calls())

	rec, err = tr.Lookup(ctx, "draft-d1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "d1", rec.DraftID)
	assert.Equal(t, "mock", rec.Provider)
}

func TestIdempotent_RequiresKey(t *testing.T) {
	tr := NewIdempotent(nil, NewMock(), "mock")
	msg := testMessage()
	msg.IdempotencyKey = ""
	_, err := tr.Send(context.Background(), msg)
	assert.ErrorContains(t, err, "idempotency key")
}

func TestMock_CanceledContext(t *testing.T) {
	m := NewMock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Send(ctx, testMessage())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, m.Calls())
}
