package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const latestVersion = "latest"

// Reference is a parsed secret:// URI, e.g. secret://postgres_dsn?version=3&project=vibedrinks-prod.
type Reference struct {
	Canonical string
	Name      string
	Version   string
	Project   string
}

// ParseReference parses ref. The legacy sm:// scheme is accepted as an alias.
func ParseReference(ref string) (Reference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
		ref = "secret://" + rest
	}
	u, err := url.Parse(ref)
	if err != nil {
		return Reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return Reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return Reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	query := u.Query()
	return Reference{
		Canonical: "secret://" + name,
		Name:      name,
		Version:   strings.TrimSpace(query.Get("version")),
		Project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func (r Reference) resource(project, version string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, r.Name, version)
}

func cacheKey(canonical, version string) string {
	return canonical + "#" + version
}
