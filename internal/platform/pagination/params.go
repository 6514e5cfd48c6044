// Package pagination reads page parameters from list requests and encodes the opaque page tokens
// handed back to clients.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
)

const (
	DefaultPageSize    = 50
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Options sets per-endpoint page size limits. Zero values fall back to the package defaults.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) limits() (def, ceiling int) {
	ceiling = o.MaxPageSize
	if ceiling <= 0 {
		ceiling = DefaultMaxPageSize
	}
	def = o.DefaultPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	return min(def, ceiling), ceiling
}

// Params is a validated pageSize/pageToken pair.
type Params struct {
	PageSize  int
	PageToken string
}

func FromRequest(r *http.Request, opts Options) (Params, error) {
	return Parse(r.URL.Query(), opts)
}

// Parse reads pageSize and pageToken. Oversized pages are clamped rather than rejected; a token
// that does not decode is rejected here so stores never see garbage.
func Parse(values url.Values, opts Options) (Params, error) {
	def, ceiling := opts.limits()
	params := Params{PageSize: def}

	if raw := strings.TrimSpace(values.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		case size <= 0:
			return Params{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		}
		params.PageSize = min(size, ceiling)
	}

	if raw := strings.TrimSpace(values.Get("pageToken")); raw != "" {
		if _, err := decode(raw); err != nil {
			return Params{}, err
		}
		params.PageToken = raw
	}
	return params, nil
}

// Domain converts the params into the repository paging input.
func (p Params) Domain() domain.Pagination {
	return domain.Pagination{PageSize: p.PageSize, PageToken: p.PageToken}
}
