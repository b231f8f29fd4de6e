// Package audio lists the PulseAudio sources ffmpeg can record from.
package audio

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/kapt/internal/errors"
	"github.com/tphakala/kapt/internal/logging"
)

var logger *slog.Logger

func init() {
	logger = logging.ForService("audio")
	if logger == nil {
		logger = slog.Default().With("service", "audio")
	}
}

// Source is a PulseAudio capture source.
type Source struct {
	Index       int    `json:"id"`
	Name        string `json:"name"` // passed to ffmpeg -f pulse -i
	Description string `json:"description"`
}

// ParseSources reads the output of `pactl list sources`.
func ParseSources(r io.Reader) ([]Source, error) {
	var (
		sources []Source
		current *Source
	)
	flush := func() {
		if current != nil && current.Name != "" {
			if current.Description == "" {
				current.Description = current.Name
			}
			sources = append(sources, *current)
		}
		current = nil
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if rest, ok := strings.CutPrefix(line, "Source #"); ok {
			flush()
			index, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil {
				index = len(sources)
			}
			current = &Source{Index: index}
			continue
		}
		if current == nil {
			continue
		}

		switch {
		case strings.HasPrefix(line, "Name:"):
			current.Name = strings.TrimSpace(strings.TrimPrefix(line, "Name:"))
		case strings.HasPrefix(line, "Description:") && current.Description == "":
			current.Description = strings.TrimSpace(strings.TrimPrefix(line, "Description:"))
		case strings.HasPrefix(line, "device.description"):
			// the device property is preferred over the sink-level description
			if _, value, ok := strings.Cut(line, "="); ok {
				current.Description = strings.Trim(strings.TrimSpace(value), `"`)
			}
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryFileIO).
			Context("operation", "parse_sources").
			Build()
	}
	return sources, nil
}

const sourcesKey = "sources"

// Enumerator lists audio sources and caches the result for a short time.
type Enumerator struct {
	pactlPath string
	cache     *cache.Cache
	list      func(ctx context.Context) ([]byte, error)
}

// NewEnumerator creates an Enumerator running pactlPath, caching for ttl.
func NewEnumerator(pactlPath string, ttl time.Duration) *Enumerator {
	if pactlPath == "" {
		pactlPath = "pactl"
	}
	e := &Enumerator{
		pactlPath: pactlPath,
		// no janitor: a single key is checked for expiry on read
		cache: cache.New(ttl, 0),
	}
	e.list = e.runPactl
	return e
}

// Sources returns the available sources.
func (e *Enumerator) Sources(ctx context.Context) ([]Source, error) {
	if cached, ok := e.cache.Get(sourcesKey); ok {
		return cached.([]Source), nil
	}

	out, err := e.list(ctx)
	if err != nil {
		return nil, err
	}

	sources, err := ParseSources(strings.NewReader(string(out)))
	if err != nil {
		return nil, err
	}

	e.cache.SetDefault(sourcesKey, sources)
	logger.Debug("audio sources listed", "count", len(sources))
	return sources, nil
}

// Lookup returns the source with the given name.
func (e *Enumerator) Lookup(ctx context.Context, name string) (Source, bool, error) {
	sources, err := e.Sources(ctx)
	if err != nil {
		return Source{}, false, err
	}
	for _, s := range sources {
		if s.Name == name {
			return s, true, nil
		}
	}
	return Source{}, false, nil
}

// Invalidate drops the cached list.
func (e *Enumerator) Invalidate() {
	e.cache.Delete(sourcesKey)
}

func (e *Enumerator) runPactl(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.pactlPath, "list", "sources")
	cmd.Env = append(cmd.Environ(), "LC_ALL=C")
	out, err := cmd.Output()
	if err != nil {
		category := errors.CategoryCommandExecution
		if errors.Is(err, exec.ErrNotFound) {
			category = errors.CategoryProcessSpawn
		}
		return nil, errors.New(err).
			Component("audio").
			Category(category).
			Context("command", e.pactlPath).
			Build()
	}
	return out, nil
}
