package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog"
	"github.com/tidwall/jsonc"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/ftwbench/internal/types"
)

// filePattern selects catalog files when a directory is given
const filePattern = "**/*.{yaml,yml,json,jsonc}"

// File is one FTW test file
type File struct {
	Meta  map[string]any `yaml:"meta"`
	Tests []Test         `yaml:"tests"`
}

// Test is one FTW test with its stages
type Test struct {
	Title  string  `yaml:"test_title"`
	Desc   string  `yaml:"desc"`
	Stages []Stage `yaml:"stages"`
}

// Stage accepts both the wrapped ("- stage: {input, output}") and the flat
// ("- input: ..., output: ...") layouts
type Stage struct {
	Stage  *stageBody        `yaml:"stage"`
	Input  *types.StageInput `yaml:"input"`
	Output types.StageOutput `yaml:"output"`
}

type stageBody struct {
	Input  types.StageInput  `yaml:"input"`
	Output types.StageOutput `yaml:"output"`
}

func (s Stage) body() (types.StageInput, types.StageOutput, bool) {
	if s.Stage != nil {
		return s.Stage.Input, s.Stage.Output, true
	}
	if s.Input != nil {
		return *s.Input, s.Output, true
	}
	return types.StageInput{}, nil, false
}

// Enabled reports whether meta.enabled is absent or true
func (f File) Enabled() bool {
	v, ok := f.Meta["enabled"]
	if !ok {
		return true
	}
	b, ok := v.(bool)
	return !ok || b
}

// Options configures Load
type Options struct {
	// Workers bounds concurrent file parsing
	Workers int
	Logger  zerolog.Logger
	// NewID overrides test case id generation
	NewID func() string
}

// Load resolves paths (files, directories or glob patterns) and returns one
// test case per stage, in path order then file order.
func Load(ctx context.Context, paths []string, opts Options) ([]types.TestCase, error) {
	files, err := Resolve(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no catalog files found in %s", strings.Join(paths, ", "))
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	newID := opts.NewID
	if newID == nil {
		newID = NewID
	}

	parsed := make([][]File, len(files))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for i, path := range files {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			docs, err := ParseFile(path)
			if err != nil {
				return err
			}
			parsed[i] = docs
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var cases []types.TestCase
	for i, docs := range parsed {
		for _, doc := range docs {
			if !doc.Enabled() {
				opts.Logger.Debug().Str("file", files[i]).Msg("Skipping disabled catalog file")
				continue
			}
			for _, test := range doc.Tests {
				for n, stage := range test.Stages {
					input, output, ok := stage.body()
					if !ok {
						return nil, fmt.Errorf("%s: test %q stage %d has no input", files[i], test.Title, n+1)
					}
					meta := make(map[string]any, len(doc.Meta)+1)
					for k, v := range doc.Meta {
						meta[k] = v
					}
					if test.Desc != "" {
						meta["desc"] = test.Desc
					}
					cases = append(cases, types.TestCase{
						ID:     newID(),
						Title:  test.Title,
						File:   files[i],
						Meta:   meta,
						Input:  input,
						Output: output,
					})
				}
			}
		}
		opts.Logger.Debug().Str("file", files[i]).Int("documents", len(docs)).Msg("Parsed catalog file")
	}
	return cases, nil
}

// NewID returns a random test case id made of word characters only
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Resolve expands ~, directories and glob patterns into a sorted,
// de-duplicated list of files per argument, keeping argument order.
func Resolve(paths []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, arg := range paths {
		path, err := homedir.Expand(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to expand %s: %w", arg, err)
		}

		info, err := os.Stat(path)
		switch {
		case err == nil && info.IsDir():
			matches, err := doublestar.Glob(os.DirFS(path), filePattern)
			if err != nil {
				return nil, fmt.Errorf("failed to list %s: %w", path, err)
			}
			sort.Strings(matches)
			for _, m := range matches {
				add(filepath.Join(path, filepath.FromSlash(m)))
			}
		case err == nil:
			add(path)
		case errors.Is(err, os.ErrNotExist) && hasMeta(path):
			matches, err := doublestar.FilepathGlob(path)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %s: %w", path, err)
			}
			sort.Strings(matches)
			for _, m := range matches {
				add(m)
			}
		default:
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}
	return out, nil
}

func hasMeta(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}

// ParseFile parses a YAML, JSON or JSONC catalog file. A YAML file may hold
// several documents.
func ParseFile(path string) ([]File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	docs, err := parseDocuments(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return docs, nil
}

func parseDocuments(data []byte) ([]File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var docs []File
	for {
		var f File
		err := dec.Decode(&f)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		if f.Meta == nil && len(f.Tests) == 0 {
			continue
		}
		docs = append(docs, f)
	}
}
