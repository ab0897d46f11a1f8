// Package resolve orchestrates one invocation: per-mapping key discovery,
// template matching, concurrent fetch and filtering, and ordered
// aggregation into the final environment map.
package resolve

import (
	"context"
	"sync"

	verrors "github.com/systmms/vault-inject/internal/errors"
	"github.com/systmms/vault-inject/internal/logging"
	"github.com/systmms/vault-inject/internal/mapping"
	"github.com/systmms/vault-inject/internal/secure"
)

// SecretStore lists candidate keys at a path and fetches concrete values.
type SecretStore interface {
	ListKeys(ctx context.Context, path string) ([]string, error)
	Fetch(ctx context.Context, path, key string) (string, error)
}

// FilterPipeline applies a mapping's filter chain to a raw value.
type FilterPipeline interface {
	Apply(ctx context.Context, filters []string, input []byte) ([]byte, error)
}

// ResolvedSecret is one fully resolved environment variable. The final
// value is sealed in a secure buffer until execution needs it.
type ResolvedSecret struct {
	Name       string
	OriginPath string
	Value      *secure.Buffer
}

// EnvironmentMap is the aggregate result in discovery order: mapping order
// first, then key discovery order within each mapping.
type EnvironmentMap []ResolvedSecret

// Names returns the resolved variable names in order.
func (m EnvironmentMap) Names() []string {
	names := make([]string, len(m))
	for i, s := range m {
		names[i] = s.Name
	}
	return names
}

// Destroy destroys every sealed value.
func (m EnvironmentMap) Destroy() {
	for _, s := range m {
		s.Value.Destroy()
	}
}

// Resolver drives secret resolution for one invocation.
type Resolver struct {
	store         SecretStore
	pipeline      FilterPipeline
	logger        *logging.Logger
	maxConcurrent int
}

// New creates a resolver. Fetches and filter pipelines for independent
// secrets run concurrently, bounded by a small semaphore so the server is
// not overwhelmed.
func New(store SecretStore, pipeline FilterPipeline, logger *logging.Logger) *Resolver {
	return &Resolver{
		store:         store,
		pipeline:      pipeline,
		logger:        logger,
		maxConcurrent: 10,
	}
}

// job is one concrete (mapping, key) pair to fetch and filter.
type job struct {
	mapping *mapping.Mapping
	key     string
	name    string

	value *secure.Buffer
	err   error
}

// Resolve turns mappings into the environment map. Any single listing,
// match, fetch or pipeline failure aborts the whole invocation; there is
// no partial mode, since a command run with an incomplete credential set is
// worse than failing loudly.
func (r *Resolver) Resolve(ctx context.Context, mappings []*mapping.Mapping) (EnvironmentMap, error) {
	jobs, err := r.plan(ctx, mappings)
	if err != nil {
		return nil, err
	}

	r.fetchAll(ctx, jobs)

	// All jobs have settled; report the first failure in discovery order.
	for _, j := range jobs {
		if j.err != nil {
			destroyJobs(jobs)
			return nil, j.err
		}
	}

	return aggregate(jobs)
}

// plan expands every mapping into concrete jobs. A mapping with a literal
// key always produces one job (existence is verified by the fetch); a
// templated key produces one job per matching candidate.
func (r *Resolver) plan(ctx context.Context, mappings []*mapping.Mapping) ([]*job, error) {
	var jobs []*job
	for _, m := range mappings {
		if !m.Key.HasPlaceholders() {
			key := m.Key.String()
			name, _ := m.EnvVarFromKey(key)
			jobs = append(jobs, &job{mapping: m, key: key, name: name})
			continue
		}

		keys, err := r.store.ListKeys(ctx, m.Path)
		if err != nil {
			return nil, err
		}

		matched := 0
		for _, key := range keys {
			name, ok := m.EnvVarFromKey(key)
			if !ok {
				continue
			}
			r.logger.Debug("Key '%s' at '/%s' matched '%s' as %s", key, m.Path, m.Key, name)
			jobs = append(jobs, &job{mapping: m, key: key, name: name})
			matched++
		}
		if matched == 0 {
			return nil, verrors.UserError{
				Message:    "No keys at '/" + m.Path + "' match the pattern '" + m.Key.String() + "'",
				Suggestion: "Check the secret path and the key template",
			}
		}
	}
	return jobs, nil
}

// fetchAll runs every job's fetch and filter chain concurrently and waits
// for all of them to settle. Nothing is cancelled on the first error; we
// wait on outstanding work so no filter subprocess is left behind.
func (r *Resolver) fetchAll(ctx context.Context, jobs []*job) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, r.maxConcurrent)

	for _, j := range jobs {
		wg.Add(1)
		go func(j *job) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			r.run(ctx, j)
		}(j)
	}
	wg.Wait()
}

func (r *Resolver) run(ctx context.Context, j *job) {
	raw, err := r.store.Fetch(ctx, j.mapping.Path, j.key)
	if err != nil {
		j.err = err
		return
	}

	final, err := r.pipeline.Apply(ctx, j.mapping.Filters, []byte(raw))
	if err != nil {
		j.err = err
		return
	}

	j.value = secure.NewBuffer(final)
}

// aggregate merges settled jobs into the environment map, failing fast on
// a duplicate variable name.
func aggregate(jobs []*job) (EnvironmentMap, error) {
	seen := map[string]string{} // name -> origin path
	env := make(EnvironmentMap, 0, len(jobs))

	for _, j := range jobs {
		origin := j.mapping.Path + "/" + j.key
		if first, dup := seen[j.name]; dup {
			destroyJobs(jobs)
			return nil, verrors.CollisionError{
				Name:       j.name,
				FirstPath:  first,
				SecondPath: origin,
			}
		}
		seen[j.name] = origin
		env = append(env, ResolvedSecret{
			Name:       j.name,
			OriginPath: origin,
			Value:      j.value,
		})
	}
	return env, nil
}

func destroyJobs(jobs []*job) {
	for _, j := range jobs {
		if j.value != nil {
			j.value.Destroy()
		}
	}
}
