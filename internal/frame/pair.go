package frame

import (
	"errors"
	"regexp"
)

// ErrInterleaved is returned when request and response frames overlap
var ErrInterleaved = errors.New("request and response frames are interleaved")

// Patterns configures the request and response collectors of a Pair
type Patterns struct {
	RequestStart  *regexp.Regexp
	RequestEnd    *regexp.Regexp
	ResponseStart *regexp.Regexp
	ResponseEnd   *regexp.Regexp
}

const (
	wbRequestStart  = `^writing request\((\d+) bytes\)=>\[`
	wbResponseStart = `^LOG: http packet received\((\d+) bytes\):\n`
)

// WBPatterns returns the patterns matching wb's verbose (-v 4) output
func WBPatterns() Patterns {
	return Patterns{
		RequestStart:  regexp.MustCompile(wbRequestStart),
		RequestEnd:    regexp.MustCompile(wbResponseStart),
		ResponseStart: regexp.MustCompile(wbResponseStart),
		ResponseEnd:   regexp.MustCompile(`(` + wbRequestStart + `)|(^Complete requests)`),
	}
}

// Exchange is one request frame and the response frame that followed it
type Exchange struct {
	Request  string
	Response string
}

// Pair couples a request collector and a response collector over the same
// line stream. Neither collector is fed while the other is collecting.
type Pair struct {
	request  *Collector
	response *Collector
	pending  string
}

// NewPair creates a Pair
func NewPair(p Patterns) *Pair {
	return &Pair{
		request:  NewCollector(p.RequestStart, p.RequestEnd),
		response: NewCollector(p.ResponseStart, p.ResponseEnd),
	}
}

// States returns the request and response collector states
func (p *Pair) States() (State, State) {
	return p.request.State(), p.response.State()
}

// Feed passes a line to both collectors and returns the exchange completed
// by it, if any. A request that never got a response is returned with an
// empty Response once the next request starts.
func (p *Pair) Feed(line string) (Exchange, bool, error) {
	reqState, respState := p.request.State(), p.response.State()
	if reqState == Collecting && respState == Collecting {
		return Exchange{}, false, ErrInterleaved
	}

	if respState != Collecting {
		if buf, ok := p.request.Feed(line); ok {
			p.pending = buf
		}
	}

	var (
		ex   Exchange
		done bool
	)
	if reqState != Collecting {
		if buf, ok := p.response.Feed(line); ok {
			ex, done = Exchange{Request: p.pending, Response: buf}, true
			p.pending = ""
		}
	}

	// wb closes the previous exchange before it writes the next request, so
	// an unanswered request and a finished exchange never share a line.
	if unanswered, ok := p.request.Dropped(); ok && !done {
		ex, done = Exchange{Request: unanswered}, true
	}

	if p.request.State() == Collecting && p.response.State() == Collecting {
		return Exchange{}, false, ErrInterleaved
	}
	return ex, done, nil
}
