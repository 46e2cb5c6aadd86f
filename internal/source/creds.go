// Package source implements the external metric source clients.
package source

import (
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/shelfsync/shelfsync/internal/common"
)

// Credentials selects how Google API clients authenticate. Exactly one of
// CredentialsFile or AccessToken must be set.
type Credentials struct {
	CredentialsFile string // service account JSON key
	AccessToken     string // pre-issued OAuth2 access token
}

func (c Credentials) clientOptions(scope string) ([]option.ClientOption, error) {
	switch {
	case c.CredentialsFile != "":
		return []option.ClientOption{
			option.WithCredentialsFile(c.CredentialsFile),
			option.WithScopes(scope),
		}, nil
	case c.AccessToken != "":
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.AccessToken})
		return []option.ClientOption{option.WithTokenSource(ts)}, nil
	default:
		return nil, fmt.Errorf("%w: google api credentials", common.ErrMissingConfig)
	}
}
