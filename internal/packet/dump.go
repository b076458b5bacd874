package packet

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/studiowebux/ftwbench/internal/config"
	"github.com/studiowebux/ftwbench/internal/types"
)

// Separator delimits packets in a wb packet file
const Separator = '\x00'

// Dumper writes packets separated by NUL bytes. Empty packets are skipped.
type Dumper struct {
	w     io.Writer
	empty bool
	count int
}

// NewDumper creates a Dumper writing to w
func NewDumper(w io.Writer) *Dumper {
	return &Dumper{w: w, empty: true}
}

// Dump writes packets
func (d *Dumper) Dump(packets ...[]byte) error {
	for _, p := range packets {
		if len(p) == 0 {
			continue
		}
		if !d.empty {
			if _, err := d.w.Write([]byte{Separator}); err != nil {
				return err
			}
		}
		if _, err := d.w.Write(p); err != nil {
			return err
		}
		d.empty = false
		d.count++
	}
	return nil
}

// Count returns the number of packets written
func (d *Dumper) Count() int {
	return d.count
}

// RequestSource iterates over stored test cases
type RequestSource interface {
	ForEachRequest(fn func(id string, request []byte) error) error
}

// ProbeSource renders the probe test case for a key
type ProbeSource interface {
	ProbeTestCase(key string) types.TestCase
}

// WriteFile writes every request of src to path, each preceded and followed
// by the probe for its id. probes may be nil to write bare requests.
// It returns the number of test cases written.
func WriteFile(path string, src RequestSource, probes ProbeSource, builder Builder) (int, error) {
	if builder == nil {
		builder = DefaultBuilder
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, config.FilePermissions)
	if err != nil {
		return 0, fmt.Errorf("failed to create packet file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	n, err := Write(w, src, probes, builder)
	if err != nil {
		return n, err
	}
	if err := w.Flush(); err != nil {
		return n, fmt.Errorf("failed to write packet file: %w", err)
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("failed to close packet file: %w", err)
	}
	return n, nil
}

// Write is WriteFile over an io.Writer
func Write(w io.Writer, src RequestSource, probes ProbeSource, builder Builder) (int, error) {
	if builder == nil {
		builder = DefaultBuilder
	}
	d := NewDumper(w)
	n := 0
	err := src.ForEachRequest(func(id string, request []byte) error {
		if probes == nil {
			if err := d.Dump(request); err != nil {
				return fmt.Errorf("failed to write packet %s: %w", id, err)
			}
			n++
			return nil
		}

		probe, err := builder.Build(probes.ProbeTestCase(id).Input)
		if err != nil {
			return fmt.Errorf("failed to build probe for %s: %w", id, err)
		}
		if err := d.Dump(probe, request, probe); err != nil {
			return fmt.Errorf("failed to write packet %s: %w", id, err)
		}
		n++
		return nil
	})
	return n, err
}
