// Package resolver maps connection descriptors to platform collectors.
//
// Resolution is ordered and pure: the caller's descriptors are never
// modified, each resolution carries its own normalized copy. A descriptor
// whose "name" is in the platform table is resolved by name; otherwise the
// fallback signatures of the registered platforms are evaluated against it.
// Descriptors that match nothing are skipped.
package resolver

import (
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/canectors/cdp-inventory/internal/collector"
	"github.com/canectors/cdp-inventory/internal/logger"
	"github.com/canectors/cdp-inventory/internal/registry"
)

// Resolution is one resolved descriptor.
type Resolution struct {
	// Index is the position of the descriptor in the caller's list.
	Index int

	// Platform is the matched platform table entry.
	Platform registry.Platform

	// Collector is a fresh collector for this descriptor.
	Collector collector.Collector

	// Connection is the normalized copy of the descriptor.
	Connection collector.Connection

	// Fallback is true when the platform was detected from the descriptor shape.
	Fallback bool

	// Err is a validation error raised by normalization. When set, the
	// collector must not be invoked and the error is reported under the
	// collector's result key.
	Err error
}

// DisplayName returns the display name of the resolved collector.
func (r Resolution) DisplayName() string {
	return r.Collector.Identify()
}

type signature struct {
	platform registry.Platform
	program  *vm.Program
}

// Resolver resolves descriptors against the platform table.
type Resolver struct {
	logger     *slog.Logger
	settings   collector.Settings
	signatures []signature
}

// New compiles the fallback signatures of the registered platforms.
func New(l *slog.Logger, settings collector.Settings) (*Resolver, error) {
	if l == nil {
		l = logger.Logger
	}
	r := &Resolver{logger: l, settings: settings}

	for _, p := range registry.FallbackPlatforms() {
		program, err := expr.Compile(p.Signature, expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compiling fallback signature of %s: %w", p.Name, err)
		}
		r.signatures = append(r.signatures, signature{platform: p, program: program})
	}
	return r, nil
}

// Resolve returns one resolution per identified descriptor, in input order.
func (r *Resolver) Resolve(conns []collector.Connection) []Resolution {
	resolutions := make([]Resolution, 0, len(conns))

	for i, conn := range conns {
		platform, fallback, ok := r.match(i, conn)
		if !ok {
			continue
		}

		normalized, err := Normalize(platform, conn, fallback)
		resolution := Resolution{
			Index:      i,
			Platform:   platform,
			Collector:  platform.New(r.settings),
			Connection: normalized,
			Fallback:   fallback,
			Err:        err,
		}
		if err != nil {
			resolution.Connection = conn.Clone()
			r.logger.Warn("connection rejected during normalization",
				slog.Int("connection_index", i),
				slog.String("platform", platform.Name),
				slog.String("error", err.Error()),
			)
		} else {
			r.logger.Debug("connection resolved",
				slog.Int("connection_index", i),
				slog.String("platform", platform.Name),
				slog.Bool("fallback", fallback),
				slog.Any("connection", logger.MaskDescriptor(normalized)),
			)
		}
		resolutions = append(resolutions, resolution)
	}

	return resolutions
}

// match finds the platform of a descriptor. The name table is authoritative;
// signatures are only evaluated when the name is absent.
func (r *Resolver) match(index int, conn collector.Connection) (registry.Platform, bool, bool) {
	if name := conn.Name(); name != "" {
		if p, ok := registry.Get(name); ok {
			return p, false, true
		}
		r.logger.Debug("connection skipped: unknown platform name",
			slog.Int("connection_index", index),
			slog.String("name", name),
		)
		return registry.Platform{}, false, false
	}

	var matches []registry.Platform
	env := map[string]interface{}{"descriptor": map[string]interface{}(conn)}
	for _, sig := range r.signatures {
		out, err := expr.Run(sig.program, env)
		if err != nil {
			r.logger.Debug("fallback signature evaluation failed",
				slog.Int("connection_index", index),
				slog.String("platform", sig.platform.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if matched, _ := out.(bool); matched {
			matches = append(matches, sig.platform)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], true, true
	case 0:
		r.logger.Debug("connection skipped: no platform matched",
			slog.Int("connection_index", index),
			slog.String("name", conn.Name()),
			slog.Any("connection", logger.MaskDescriptor(conn)),
		)
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		r.logger.Warn("connection skipped: ambiguous fallback match",
			slog.Int("connection_index", index),
			slog.Any("platforms", names),
		)
	}
	return registry.Platform{}, false, false
}
