// Package packet turns test inputs into wire bytes and writes them into the
// packet file wb replays.
package packet

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/studiowebux/ftwbench/internal/types"
)

// Builder renders the wire bytes of a stage input
type Builder interface {
	Build(in types.StageInput) ([]byte, error)
}

// BuilderFunc adapts a function to Builder
type BuilderFunc func(in types.StageInput) ([]byte, error)

func (f BuilderFunc) Build(in types.StageInput) ([]byte, error) {
	return f(in)
}

// DefaultBuilder is the Builder used when none is configured
var DefaultBuilder Builder = BuilderFunc(Build)

// Build renders a stage input as an HTTP/1.x request.
// encoded_request (base64) and raw_request are passed through unchanged.
// stop_magic leaves the headers exactly as given.
func Build(in types.StageInput) ([]byte, error) {
	if in.EncodedRequest != "" {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(in.EncodedRequest))
		if err != nil {
			return nil, fmt.Errorf("failed to decode encoded_request: %w", err)
		}
		return raw, nil
	}
	if in.RawRequest != "" {
		return []byte(in.RawRequest), nil
	}

	method := in.Method
	if method == "" {
		method = "GET"
	}
	uri := in.URI
	if uri == "" {
		uri = "/"
	}
	version := in.Version
	if version == "" {
		version = "HTTP/1.1"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s %s\r\n", method, uri, version)

	names := make([]string, 0, len(in.Headers))
	hasLength := false
	for name := range in.Headers {
		names = append(names, name)
		if strings.EqualFold(name, "Content-Length") {
			hasLength = true
		}
	}
	sort.Slice(names, func(i, j int) bool {
		// Host goes first, the rest in a stable order
		hi, hj := strings.EqualFold(names[i], "Host"), strings.EqualFold(names[j], "Host")
		if hi != hj {
			return hi
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		fmt.Fprintf(&buf, "%s: %s\r\n", name, in.Headers[name])
	}

	data := string(in.Data)
	if data != "" && !hasLength && !in.StopMagic {
		fmt.Fprintf(&buf, "Content-Length: %s\r\n", strconv.Itoa(len(data)))
	}
	buf.WriteString("\r\n")
	buf.WriteString(data)
	return buf.Bytes(), nil
}
