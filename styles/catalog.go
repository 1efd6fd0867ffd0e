// Package styles maps user-facing style names to provider requests.
package styles

import (
	"errors"
	"fmt"
	"strings"

	"photoart/datauri"
	"photoart/providers"
)

var ErrUnknownStyle = errors.New("unknown style")

// Source is the image a request is built from. ImageURL is set when the
// descriptor needs a hosted copy of the image.
type Source struct {
	Image    *datauri.EncodedImage
	ImageURL string
}

// Descriptor ties a style id to the provider request that renders it.
type Descriptor struct {
	ID               string
	DisplayName      string
	Description      string
	Provider         string
	Model            string
	NeedsHostedImage bool
	build            func(Source) providers.Request
}

// BuildRequest returns the provider request for src.
func (d Descriptor) BuildRequest(src Source) providers.Request {
	return d.build(src)
}

// Catalog is an immutable style table.
type Catalog struct {
	byID  map[string]Descriptor
	order []string
}

// NewCatalog builds a catalog. Ids are matched case-insensitively, so two
// descriptors whose ids differ only in case are a conflict.
func NewCatalog(descs ...Descriptor) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		key := normalizeID(d.ID)
		if key == "" {
			return nil, fmt.Errorf("style with empty id")
		}
		if d.build == nil {
			return nil, fmt.Errorf("style %q has no request builder", d.ID)
		}
		if _, dup := c.byID[key]; dup {
			return nil, fmt.Errorf("duplicate style %q", d.ID)
		}
		d.ID = key
		c.byID[key] = d
		c.order = append(c.order, key)
	}
	return c, nil
}

// Resolve looks up a style. Unknown ids are rejected; there is no generic fallback.
func (c *Catalog) Resolve(id string) (Descriptor, error) {
	d, ok := c.byID[normalizeID(id)]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownStyle, id)
	}
	return d, nil
}

// List returns the descriptors in display order.
func (c *Catalog) List() []Descriptor {
	out := make([]Descriptor, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
