package correlate

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/ftwbench/internal/delimiter"
	"github.com/studiowebux/ftwbench/internal/frame"
	"github.com/studiowebux/ftwbench/internal/types"
)

type fakeStore struct {
	rows    map[string]int64
	err     error
	traffic []types.TrafficRecord
	logs    []types.LogRecord
}

func newFakeStore(keys ...string) *fakeStore {
	s := &fakeStore{rows: make(map[string]int64)}
	for _, k := range keys {
		s.rows[k] = 1
	}
	return s
}

func (s *fakeStore) UpdateTraffic(rec types.TrafficRecord) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.traffic = append(s.traffic, rec)
	return s.rows[rec.Key], nil
}

func (s *fakeStore) UpdateLog(rec types.LogRecord) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.logs = append(s.logs, rec)
	return s.rows[rec.Key], nil
}

func TestTrafficSingleWindow(t *testing.T) {
	m := delimiter.NewMarker("77")
	store := newFakeStore("K1")

	var progress [][2]int
	var committed []types.TrafficRecord
	c := NewTrafficCorrelator(m, store, TrafficOptions{
		Total:  1,
		Logger: zerolog.Nop(),
		Hooks: Hooks{
			OnCommit:   func(rec types.TrafficRecord) { committed = append(committed, rec) },
			OnProgress: func(done, total int) { progress = append(progress, [2]int{done, total}) },
		},
	})

	probe := "GET / HTTP/1.1\r\nHost: " + m.Render("K1") + "\r\n\r\n"
	require.NoError(t, c.Feed("stray", "before"))
	require.NoError(t, c.Feed(probe, "HTTP/1.1 200 OK\r\n\r\n"))
	require.NoError(t, c.Feed("R1", "S1"))
	require.NoError(t, c.Feed("R2", "S2"))
	require.NoError(t, c.Feed(probe, "HTTP/1.1 200 OK\r\n\r\n"))
	require.NoError(t, c.Feed("stray", "after"))

	require.Len(t, store.traffic, 1)
	assert.Equal(t, types.TrafficRecord{Key: "K1", RawRequest: "R1R2", RawResponse: "S1S2"}, store.traffic[0])
	assert.Equal(t, store.traffic, committed)
	assert.Equal(t, [][2]int{{1, 1}}, progress)
	assert.Equal(t, 1, c.Committed())

	_, open := c.Open()
	assert.False(t, open)
	assert.NoError(t, c.Close())
}

func TestTrafficFromWBOutputWithUnansweredRequest(t *testing.T) {
	m := delimiter.NewMarker("77")
	store := newFakeStore("K1", "K2")
	c := NewTrafficCorrelator(m, store, TrafficOptions{Logger: zerolog.Nop()})

	probe := func(key string) string {
		return "GET / HTTP/1.1\r\nHost: " + m.Render(key) + "\r\n\r\n"
	}
	const (
		bad    = "HTTP/1.1 400 Bad Request\r\n\r\n"
		attack = "GET /?q=<script> HTTP/1.1\r\n\r\n"
		normal = "GET /index.html HTTP/1.1\r\n\r\n"
		ok     = "HTTP/1.1 200 OK\r\n\r\n"
	)

	var b strings.Builder
	request := func(r string) { fmt.Fprintf(&b, "writing request(%d bytes)=>[%s]\n", len(r), r) }
	response := func(r string) { fmt.Fprintf(&b, "LOG: http packet received(%d bytes):\n%s\n", len(r), r) }
	request(probe("K1"))
	response(bad)
	request(attack)
	b.WriteString("Connection reset by peer\n")
	request(probe("K1"))
	response(bad)
	request(probe("K2"))
	response(bad)
	request(normal)
	response(ok)
	request(probe("K2"))
	response(bad)
	b.WriteString("Complete requests:      6\n")

	pair := frame.NewPair(frame.WBPatterns())
	for _, line := range strings.SplitAfter(b.String(), "\n") {
		ex, done, err := pair.Feed(line)
		require.NoError(t, err)
		if done {
			require.NoError(t, c.Feed(ex.Request, ex.Response))
		}
	}

	require.Len(t, store.traffic, 2)
	assert.Equal(t, types.TrafficRecord{Key: "K1", RawRequest: attack}, store.traffic[0])
	assert.Equal(t, types.TrafficRecord{Key: "K2", RawRequest: normal, RawResponse: ok}, store.traffic[1])
	assert.NoError(t, c.Close())
}

func TestTrafficEmptyWindow(t *testing.T) {
	m := delimiter.NewMarker("77")
	store := newFakeStore("K1")
	c := NewTrafficCorrelator(m, store, TrafficOptions{Logger: zerolog.Nop()})

	require.NoError(t, c.Feed(m.Render("K1"), ""))
	require.NoError(t, c.Feed(m.Render("K1"), ""))

	require.Len(t, store.traffic, 1)
	assert.Empty(t, store.traffic[0].RawRequest)
	assert.Empty(t, store.traffic[0].RawResponse)
}

func TestTrafficFramingViolation(t *testing.T) {
	m := delimiter.NewMarker("77")
	store := newFakeStore("K1", "K2")
	c := NewTrafficCorrelator(m, store, TrafficOptions{Logger: zerolog.Nop()})

	require.NoError(t, c.Feed(m.Render("K1"), ""))
	require.NoError(t, c.Feed("R1", "S1"))
	err := c.Feed(m.Render("K2"), "")

	var fv *FramingViolationError
	require.True(t, errors.As(err, &fv))
	assert.Equal(t, "K1", fv.Open)
	assert.Equal(t, "K2", fv.Got)
	assert.Empty(t, store.traffic)
}

func TestTrafficUnregisteredAndAmbiguous(t *testing.T) {
	m := delimiter.NewMarker("77")

	tests := []struct {
		name  string
		rows  int64
		check func(t *testing.T, err error)
	}{
		{
			name: "unregistered",
			rows: 0,
			check: func(t *testing.T, err error) {
				var ue *UnregisteredKeyError
				require.True(t, errors.As(err, &ue))
				assert.Equal(t, "K9", ue.Key)
			},
		},
		{
			name: "ambiguous",
			rows: 2,
			check: func(t *testing.T, err error) {
				var ae *AmbiguousKeyError
				require.True(t, errors.As(err, &ae))
				assert.Equal(t, "K9", ae.Key)
				assert.Equal(t, int64(2), ae.Rows)
			},
		},
		{
			name: "single",
			rows: 1,
			check: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.rows["K9"] = tt.rows
			c := NewTrafficCorrelator(m, store, TrafficOptions{Logger: zerolog.Nop()})

			require.NoError(t, c.Feed(m.Render("K9"), ""))
			tt.check(t, c.Feed(m.Render("K9"), ""))
		})
	}
}

func TestTrafficStoreError(t *testing.T) {
	m := delimiter.NewMarker("77")
	store := newFakeStore("K1")
	store.err = errors.New("disk full")
	c := NewTrafficCorrelator(m, store, TrafficOptions{Logger: zerolog.Nop()})

	require.NoError(t, c.Feed(m.Render("K1"), ""))
	err := c.Feed(m.Render("K1"), "")
	assert.ErrorIs(t, err, store.err)
}

func TestTrafficUnclosedWindow(t *testing.T) {
	m := delimiter.NewMarker("77")
	c := NewTrafficCorrelator(m, newFakeStore("K1"), TrafficOptions{Logger: zerolog.Nop()})

	require.NoError(t, c.Feed(m.Render("K1"), ""))
	key, open := c.Open()
	assert.True(t, open)
	assert.Equal(t, "K1", key)

	var ue *UnclosedWindowError
	require.True(t, errors.As(c.Close(), &ue))
	assert.Equal(t, []string{"K1"}, ue.Keys)
	assert.Equal(t, "1 test(s) had no closing delimiter: K1", ue.Error())
}

func TestLogForwardAndReverse(t *testing.T) {
	m := delimiter.NewMarker("77")

	tests := []struct {
		name  string
		order Order
		lines []string
		want  string
	}{
		{
			name:  "forward",
			order: Forward,
			lines: []string{"noise", "[msg " + m.Render("K1") + "]", "a", "", "b", "[msg " + m.Render("K1") + "]", "noise"},
			want:  "a\nb",
		},
		{
			name:  "reverse",
			order: Reverse,
			lines: []string{"[msg " + m.Render("K1") + "]", "b", "a", "[msg " + m.Render("K1") + "]"},
			want:  "a\nb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore("K1")
			c := NewLogCorrelator(m, store, LogOptions{Order: tt.order, Logger: zerolog.Nop()})
			for _, line := range tt.lines {
				require.NoError(t, c.Feed(line))
			}
			require.Len(t, store.logs, 1)
			assert.Equal(t, tt.want, store.logs[0].RawLog)
			assert.Equal(t, 1, c.Committed())
			assert.NoError(t, c.Close())
		})
	}
}

func TestLogToleratesUnknownKey(t *testing.T) {
	m := delimiter.NewMarker("77")
	store := newFakeStore()

	var seen []bool
	c := NewLogCorrelator(m, store, LogOptions{
		Logger: zerolog.Nop(),
		OnLog:  func(_ types.LogRecord, stored bool) { seen = append(seen, stored) },
	})

	require.NoError(t, c.Feed(m.Render("K1")))
	require.NoError(t, c.Feed("x"))
	require.NoError(t, c.Feed(m.Render("K1")))

	assert.Equal(t, 0, c.Committed())
	assert.Equal(t, 1, c.Skipped())
	assert.Equal(t, []bool{false}, seen)
}

func TestLogAmbiguousIsFatal(t *testing.T) {
	m := delimiter.NewMarker("77")
	store := newFakeStore()
	store.rows["K1"] = 3
	c := NewLogCorrelator(m, store, LogOptions{Logger: zerolog.Nop()})

	require.NoError(t, c.Feed(m.Render("K1")))
	err := c.Feed(m.Render("K1"))

	var ae *AmbiguousKeyError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, int64(3), ae.Rows)
}

func TestLogFramingViolationAndUnclosed(t *testing.T) {
	m := delimiter.NewMarker("77")
	c := NewLogCorrelator(m, newFakeStore("K1", "K2"), LogOptions{Logger: zerolog.Nop()})

	require.NoError(t, c.Feed(m.Render("K1")))
	var fv *FramingViolationError
	require.True(t, errors.As(c.Feed(m.Render("K2")), &fv))

	var ue *UnclosedWindowError
	require.True(t, errors.As(c.Close(), &ue))
	assert.Equal(t, []string{"K1"}, ue.Keys)
	assert.NoError(t, c.Close())
}

func TestOrderString(t *testing.T) {
	assert.Equal(t, "forward", Forward.String())
	assert.Equal(t, "reverse", Reverse.String())
}

func TestWindowLifecycle(t *testing.T) {
	var w window
	w.begin("K1")
	w.request.WriteString("R")
	w.lines = append(w.lines, "", "first", "second ")
	assert.Equal(t, "first\nsecond", w.text(Forward))
	assert.Equal(t, "second \nfirst", w.text(Reverse))
	assert.Equal(t, []string{"", "first", "second "}, w.lines)

	w.begin("K2")
	assert.Equal(t, "K2", w.key)
	assert.True(t, w.open)
	assert.Empty(t, w.request.String())
	assert.Empty(t, w.lines)
	assert.Empty(t, w.text(Forward))

	w.reset()
	assert.False(t, w.open)
	assert.Empty(t, w.key)
}
