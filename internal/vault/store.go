package vault

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	verrors "github.com/systmms/vault-inject/internal/errors"
)

// Store reads secret objects through the discovered mount map. Listing the
// keys at a path and fetching individual values both resolve to the same
// underlying read, so reads are cached per path: concurrent fetches against
// one path cost a single HTTP request.
type Store struct {
	client *Client
	mounts *MountMap

	mu      sync.Mutex
	entries map[string]*storeEntry
}

type storeEntry struct {
	once   sync.Once
	keys   []string
	values map[string]string
	err    error
}

// NewStore creates a store using the given authenticated client.
func NewStore(client *Client, mounts *MountMap) *Store {
	return &Store{
		client:  client,
		mounts:  mounts,
		entries: map[string]*storeEntry{},
	}
}

// ListKeys returns the field keys of the secret object at path, sorted
// lexicographically so that discovery order is deterministic.
func (s *Store) ListKeys(ctx context.Context, path string) ([]string, error) {
	entry, err := s.read(ctx, path)
	if err != nil {
		return nil, err
	}
	return entry.keys, nil
}

// Fetch returns the value of one field key of the secret object at path.
func (s *Store) Fetch(ctx context.Context, path, key string) (string, error) {
	entry, err := s.read(ctx, path)
	if err != nil {
		return "", err
	}
	value, ok := entry.values[key]
	if !ok {
		return "", verrors.FetchError{
			Path: path + "/" + key,
			Kind: verrors.FetchNotFound,
		}
	}
	return value, nil
}

func (s *Store) read(ctx context.Context, path string) (*storeEntry, error) {
	s.mu.Lock()
	entry, ok := s.entries[path]
	if !ok {
		entry = &storeEntry{}
		s.entries[path] = entry
	}
	s.mu.Unlock()

	entry.once.Do(func() {
		entry.keys, entry.values, entry.err = s.fetchObject(ctx, path)
	})
	return entry, entry.err
}

func (s *Store) fetchObject(ctx context.Context, path string) ([]string, map[string]string, error) {
	engine, mount, rest, ok := s.mounts.Resolve(path)
	if !ok {
		return nil, nil, verrors.FetchError{Path: path, Kind: verrors.FetchUnknownMount}
	}

	var raw map[string]interface{}
	switch engine {
	case EngineKV2:
		// KV2 reads are versioned; the data/ route returns the latest
		// version's payload under data.data.
		var resp struct {
			Data struct {
				Data map[string]interface{} `json:"data"`
			} `json:"data"`
		}
		if err := s.client.get(ctx, mount+"/data/"+rest, &resp); err != nil {
			return nil, nil, classifyFetchErr(path, err)
		}
		raw = resp.Data.Data
	case EngineCubbyhole:
		var resp struct {
			Data map[string]interface{} `json:"data"`
		}
		if err := s.client.get(ctx, mount+"/"+rest, &resp); err != nil {
			return nil, nil, classifyFetchErr(path, err)
		}
		raw = resp.Data
	}

	if raw == nil {
		return nil, nil, verrors.FetchError{Path: path, Kind: verrors.FetchNotFound}
	}

	values := make(map[string]string, len(raw))
	keys := make([]string, 0, len(raw))
	for key, val := range raw {
		str, ok := val.(string)
		if !ok {
			return nil, nil, verrors.FetchError{
				Path: path,
				Kind: verrors.FetchServiceError,
				Err:  fmt.Errorf("the value for '%s' is not a string", key),
			}
		}
		values[key] = str
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys, values, nil
}

func classifyFetchErr(path string, err error) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case 404:
			return verrors.FetchError{Path: path, Kind: verrors.FetchNotFound, Err: err}
		case 403:
			return verrors.FetchError{Path: path, Kind: verrors.FetchPermissionDenied, Err: err}
		}
	}
	return verrors.FetchError{Path: path, Kind: verrors.FetchServiceError, Err: err}
}
