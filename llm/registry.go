package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrProviderNotFound 表示 provider id 无法解析。调用方应跳过或上报，而不是终止运行。
var ErrProviderNotFound = errors.New("provider not found")

// Registry 是启动时构建一次的只读 Provider 注册表。
// 构建完成后不再修改，可被任意数量的会话并发读取。
type Registry struct {
	order    []ProviderDescriptor
	byID     map[string]int
	backends map[Protocol]Backend
}

// NewRegistry validates descs and binds each protocol to its backend.
// Duplicate or empty ids and protocols without a backend are rejected.
func NewRegistry(descs []ProviderDescriptor, backends map[Protocol]Backend) (*Registry, error) {
	r := &Registry{
		order:    make([]ProviderDescriptor, 0, len(descs)),
		byID:     make(map[string]int, len(descs)),
		backends: make(map[Protocol]Backend, len(backends)),
	}
	for p, b := range backends {
		r.backends[p] = b
	}
	for _, d := range descs {
		if d.ID == "" {
			return nil, fmt.Errorf("provider descriptor with empty id")
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate provider id %q", d.ID)
		}
		if _, ok := r.backends[d.Protocol]; !ok {
			return nil, fmt.Errorf("provider %q: no backend for protocol %q", d.ID, d.Protocol)
		}
		if d.Model == "" {
			d.Model = d.ID
		}
		if d.Name == "" {
			d.Name = d.ID
		}
		if d.Reliability == "" {
			d.Reliability = ReliabilityMedium
		}
		if d.Expertise == "" {
			d.Expertise = DefaultExpertise
		}
		if d.Color == "" {
			d.Color = DefaultColor
		}
		d.Params.Stop = append([]string(nil), d.Params.Stop...)
		r.byID[d.ID] = len(r.order)
		r.order = append(r.order, d)
	}
	return r, nil
}

// List returns all descriptors in declaration order.
func (r *Registry) List() []ProviderDescriptor {
	out := make([]ProviderDescriptor, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int { return len(r.order) }

// Resolve looks up a descriptor by id.
func (r *Registry) Resolve(id string) (ProviderDescriptor, error) {
	i, ok := r.byID[id]
	if !ok {
		return ProviderDescriptor{}, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return r.order[i], nil
}

// Reliable returns the high-reliability providers in declaration order.
func (r *Registry) Reliable() []ProviderDescriptor {
	var out []ProviderDescriptor
	for _, d := range r.order {
		if d.Reliability == ReliabilityHigh {
			out = append(out, d)
		}
	}
	return out
}

// Backend returns the protocol backend bound to provider id.
func (r *Registry) Backend(id string) (Backend, ProviderDescriptor, error) {
	d, err := r.Resolve(id)
	if err != nil {
		return nil, ProviderDescriptor{}, err
	}
	return r.backends[d.Protocol], d, nil
}

// ProbeResult 是单个 Provider 的探活结果。
type ProbeResult struct {
	ProviderID string        `json:"providerId"`
	Name       string        `json:"name"`
	Healthy    bool          `json:"healthy"`
	Latency    time.Duration `json:"latency"`
	Error      string        `json:"error,omitempty"`
}

// ProbeFunc 对单个 Provider 执行一次探活调用。
type ProbeFunc func(ctx context.Context, d ProviderDescriptor, b Backend) error

// ProbeAll 并发探测所有 Provider，结果按声明顺序返回。
// 单个 Provider 失败只记录在结果中，不影响其他 Provider。
func (r *Registry) ProbeAll(ctx context.Context, concurrency int, probe ProbeFunc) []ProbeResult {
	results := make([]ProbeResult, len(r.order))
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, d := range r.order {
		g.Go(func() error {
			start := time.Now()
			err := probe(gctx, d, r.backends[d.Protocol])
			res := ProbeResult{
				ProviderID: d.ID,
				Name:       d.Name,
				Healthy:    err == nil,
				Latency:    time.Since(start),
			}
			if err != nil {
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
