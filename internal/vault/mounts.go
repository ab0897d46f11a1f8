package vault

import (
	"context"
	"sort"
	"strings"

	verrors "github.com/systmms/vault-inject/internal/errors"
)

// Engine is a secret engine kind this tool can read from.
type Engine int

const (
	EngineKV2 Engine = iota
	EngineCubbyhole
)

func (e Engine) String() string {
	if e == EngineCubbyhole {
		return "cubbyhole"
	}
	return "kv2"
}

// Mount is one discovered secret engine mount. Prefix carries no leading or
// trailing '/'.
type Mount struct {
	Prefix string
	Engine Engine
}

// MountMap is the set of usable mounts discovered for one invocation.
// Immutable once built.
type MountMap struct {
	mounts []Mount // sorted longest prefix first
}

// DiscoverMounts queries the mounts visible to the session's token. This
// route is "internal", but the Vault CLI uses it to find mount points, and
// we do too, because /sys/mounts requires more permissions. Mounts of
// unsupported engine kinds are left out, so paths under them never resolve.
func DiscoverMounts(ctx context.Context, client *Client) (*MountMap, error) {
	var resp struct {
		Data struct {
			Secret map[string]struct {
				Type    string `json:"type"`
				Options struct {
					Version string `json:"version"`
				} `json:"options"`
			} `json:"secret"`
		} `json:"data"`
	}
	if err := client.get(ctx, "sys/internal/ui/mounts", &resp); err != nil {
		return nil, verrors.MountError{Err: err}
	}

	var mounts []Mount
	for prefix, props := range resp.Data.Secret {
		engine, ok := classifyEngine(props.Type, props.Options.Version)
		if !ok {
			continue
		}
		mounts = append(mounts, Mount{
			Prefix: strings.Trim(prefix, "/"),
			Engine: engine,
		})
	}

	sort.Slice(mounts, func(i, j int) bool {
		if len(mounts[i].Prefix) != len(mounts[j].Prefix) {
			return len(mounts[i].Prefix) > len(mounts[j].Prefix)
		}
		return mounts[i].Prefix < mounts[j].Prefix
	})

	return &MountMap{mounts: mounts}, nil
}

func classifyEngine(engineType, version string) (Engine, bool) {
	switch engineType {
	case "kv":
		if version == "2" {
			return EngineKV2, true
		}
		return 0, false
	case "kv2":
		return EngineKV2, true
	case "cubbyhole":
		return EngineCubbyhole, true
	default:
		return 0, false
	}
}

// Resolve finds the engine owning path by longest-prefix match, returning
// the engine kind, the mount prefix and the path remainder under the mount.
func (m *MountMap) Resolve(path string) (engine Engine, mount, rest string, ok bool) {
	path = strings.TrimLeft(path, "/")
	for _, mp := range m.mounts {
		if path == mp.Prefix || strings.HasPrefix(path, mp.Prefix+"/") {
			rest := strings.TrimLeft(path[len(mp.Prefix):], "/")
			return mp.Engine, mp.Prefix, rest, true
		}
	}
	return 0, "", "", false
}

// Mounts returns the discovered mounts, longest prefix first.
func (m *MountMap) Mounts() []Mount {
	out := make([]Mount, len(m.mounts))
	copy(out, m.mounts)
	return out
}
