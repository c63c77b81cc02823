package types

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.trai.ch/zerr"
)

// ErrInvalidIdentity is returned when owner or repo is missing or malformed.
// It never reaches the network.
var ErrInvalidIdentity = zerr.New("invalid repository or username")

var (
	identityValidate = validator.New(validator.WithRequiredStructEnabled())
	identityName     = regexp.MustCompile(`^[a-z0-9._-]+$`)
)

// Identity addresses a diagram session. Owner and repo are lower-cased so
// cache keys stay stable regardless of how the user typed them.
type Identity struct {
	Owner string `json:"owner" validate:"required,max=100"`
	Repo  string `json:"repo" validate:"required,max=100"`
}

// NewIdentity normalizes and validates an (owner, repo) pair.
func NewIdentity(owner, repo string) (Identity, error) {
	id := Identity{
		Owner: normalizeName(owner),
		Repo:  strings.TrimSuffix(normalizeName(repo), ".git"),
	}
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// ParseIdentity accepts "owner/repo" or a github.com URL.
func ParseIdentity(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrInvalidIdentity
	}
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return Identity{}, zerr.With(zerr.Wrap(ErrInvalidIdentity, "parse url"), "input", raw)
		}
		raw = strings.Trim(u.Path, "/")
	} else {
		raw = strings.TrimPrefix(raw, "github.com/")
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) < 2 {
		return Identity{}, zerr.With(zerr.Wrap(ErrInvalidIdentity, "expected owner/repo"), "input", raw)
	}
	return NewIdentity(parts[0], parts[1])
}

// Validate reports ErrInvalidIdentity for empty or malformed names.
func (i Identity) Validate() error {
	if err := identityValidate.Struct(i); err != nil {
		return zerr.With(zerr.Wrap(ErrInvalidIdentity, err.Error()), "identity", i.Key())
	}
	if !identityName.MatchString(i.Owner) || !identityName.MatchString(i.Repo) {
		return zerr.With(zerr.Wrap(ErrInvalidIdentity, "unsupported characters"), "identity", i.Key())
	}
	if i.Owner == "." || i.Owner == ".." || i.Repo == "." || i.Repo == ".." {
		return zerr.With(zerr.Wrap(ErrInvalidIdentity, "reserved name"), "identity", i.Key())
	}
	return nil
}

func (i Identity) IsZero() bool {
	return i.Owner == "" && i.Repo == ""
}

// Key is the cache key for the identity.
func (i Identity) Key() string {
	return i.Owner + "/" + i.Repo
}

func (i Identity) String() string {
	return fmt.Sprintf("%s/%s", i.Owner, i.Repo)
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
