package release

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/blang/semver/v4"
)

var (
	// ErrInvalidRelease is returned when a release selection is unknown or rejected.
	ErrInvalidRelease = errors.New("invalid EMR release")
	// ErrNotFound is returned by stores when a version is not in the catalog.
	ErrNotFound = errors.New("release not found")
)

// Release is an EMR software bundle a cluster can be provisioned with.
type Release struct {
	Version      string `yaml:"version" json:"version" bson:"_id"`
	ChangelogURL string `yaml:"changelog_url,omitempty" json:"changelog_url,omitempty" bson:"changelog_url"`
	HelpText     string `yaml:"help_text,omitempty" json:"help_text,omitempty" bson:"help_text"`
	Experimental bool   `yaml:"experimental,omitempty" json:"experimental" bson:"experimental"`
	Deprecated   bool   `yaml:"deprecated,omitempty" json:"deprecated" bson:"deprecated"`
}

// IsStable reports whether the release is neither experimental nor deprecated.
func (r Release) IsStable() bool {
	return !r.Experimental && !r.Deprecated
}

// Label renders the version with its channel, e.g. "5.3.0 (experimental)".
func (r Release) Label() string {
	switch {
	case r.Experimental:
		return r.Version + " (experimental)"
	case r.Deprecated:
		return r.Version + " (deprecated)"
	default:
		return r.Version
	}
}

// Store persists the release catalog.
type Store interface {
	ListReleases(ctx context.Context) ([]Release, error)
	GetRelease(ctx context.Context, version string) (*Release, error)
	PutRelease(ctx context.Context, r Release) error
}

// Stable returns the releases that are neither experimental nor deprecated.
func Stable(rs []Release) []Release {
	return filter(rs, Release.IsStable)
}

// Experimental returns the releases flagged experimental.
func Experimental(rs []Release) []Release {
	return filter(rs, func(r Release) bool { return r.Experimental })
}

// Deprecated returns the releases flagged deprecated.
func Deprecated(rs []Release) []Release {
	return filter(rs, func(r Release) bool { return r.Deprecated })
}

func filter(rs []Release, keep func(Release) bool) []Release {
	var out []Release
	for _, r := range rs {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// SortNewestFirst orders releases by descending version. Versions that do not
// parse as semver sort after the ones that do, lexically descending.
func SortNewestFirst(rs []Release) {
	sort.SliceStable(rs, func(i, j int) bool {
		vi, errI := semver.ParseTolerant(rs[i].Version)
		vj, errJ := semver.ParseTolerant(rs[j].Version)
		switch {
		case errI == nil && errJ == nil:
			return vi.GT(vj)
		case errI == nil:
			return true
		case errJ == nil:
			return false
		default:
			return rs[i].Version > rs[j].Version
		}
	})
}

// Catalog answers release questions against a Store.
type Catalog struct {
	store Store
}

// NewCatalog creates a catalog backed by the given store.
func NewCatalog(store Store) *Catalog {
	return &Catalog{store: store}
}

// All returns every release, newest first.
func (c *Catalog) All(ctx context.Context) ([]Release, error) {
	rs, err := c.store.ListReleases(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing releases: %w", err)
	}
	SortNewestFirst(rs)
	return rs, nil
}

func (c *Catalog) Stable(ctx context.Context) ([]Release, error) {
	rs, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	return Stable(rs), nil
}

func (c *Catalog) Experimental(ctx context.Context) ([]Release, error) {
	rs, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	return Experimental(rs), nil
}

func (c *Catalog) Deprecated(ctx context.Context) ([]Release, error) {
	rs, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	return Deprecated(rs), nil
}

// Latest returns the newest stable release.
func (c *Catalog) Latest(ctx context.Context) (*Release, error) {
	rs, err := c.Stable(ctx)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, fmt.Errorf("%w: no stable release in catalog", ErrInvalidRelease)
	}
	return &rs[0], nil
}

// Resolve looks up a release by version. Whether deprecated releases are
// acceptable is left to the caller.
func (c *Catalog) Resolve(ctx context.Context, version string) (*Release, error) {
	if version == "" {
		return nil, fmt.Errorf("%w: no version given", ErrInvalidRelease)
	}
	r, err := c.store.GetRelease(ctx, version)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s not found", ErrInvalidRelease, version)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up release %s: %w", version, err)
	}
	return r, nil
}

// Sync upserts the given releases into the store.
func (c *Catalog) Sync(ctx context.Context, rs []Release) error {
	for _, r := range rs {
		if r.Version == "" {
			return fmt.Errorf("%w: release without version", ErrInvalidRelease)
		}
		if err := c.store.PutRelease(ctx, r); err != nil {
			return fmt.Errorf("saving release %s: %w", r.Version, err)
		}
	}
	return nil
}
