package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseStream_DeliversInOrder(t *testing.T) {
	s := NewResponseStream("mtop.search", 4, nil)
	defer s.Close()

	assert.True(t, s.Publish(Response{URL: "https://h5api/mtop.search/1", Status: 200}))
	assert.True(t, s.Publish(Response{URL: "https://h5api/mtop.search/2", Status: 200}))

	first, err := s.Next(context.Background(), time.Second)
	require.NoError(t, err)
	second, err := s.Next(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "https://h5api/mtop.search/1", first.URL)
	assert.Equal(t, "https://h5api/mtop.search/2", second.URL)
}

func TestResponseStream_IdleTimeout(t *testing.T) {
	s := NewResponseStream("x", 1, nil)
	defer s.Close()

	_, err := s.Next(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrIdle)
}

func TestResponseStream_DropsWhenFull(t *testing.T) {
	s := NewResponseStream("x", 1, nil)
	defer s.Close()

	assert.True(t, s.Publish(Response{URL: "x/1"}))
	assert.False(t, s.Publish(Response{URL: "x/2"}))
}

func TestResponseStream_Close(t *testing.T) {
	calls := 0
	s := NewResponseStream("x", 1, func() { calls++ })
	s.Close()
	s.Close()

	assert.Equal(t, 1, calls)
	assert.False(t, s.Publish(Response{URL: "x"}))
	_, err := s.Next(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestResponseStream_ContextCancel(t *testing.T) {
	s := NewResponseStream("x", 1, nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Next(ctx, 0)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRegistry_FanOutByPattern(t *testing.T) {
	r := newRegistry(4)
	search := r.watch("idlemtopsearch")
	detail := r.watch("pc.detail")

	assert.True(t, r.wants("https://h5api.m.goofish.com/h5/mtop.taobao.idle.pc.detail/1.0/"))
	assert.False(t, r.wants("https://img.example.com/a.jpg"))

	n := r.publish(Response{URL: "https://h5api.m.goofish.com/h5/mtop.taobao.idlemtopsearch.pc.search/1.0/", Status: 200})
	assert.Equal(t, 1, n)

	got, err := search.Next(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 200, got.Status)

	_, err = detail.Next(context.Background(), 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrIdle)

	detail.Close()
	assert.False(t, r.wants("https://h5api.m.goofish.com/h5/mtop.taobao.idle.pc.detail/1.0/"))

	r.closeAll()
	_, err = search.Next(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestResponse_OKAndJSON(t *testing.T) {
	r := Response{URL: "u", Status: 204, Body: []byte(`{"a":1}`)}
	assert.True(t, r.OK())
	var v map[string]int
	require.NoError(t, r.JSON(&v))
	assert.Equal(t, 1, v["a"])

	assert.False(t, Response{Status: 500}.OK())
	assert.Error(t, Response{URL: "u", Body: []byte("<html>")}.JSON(&v))
}
