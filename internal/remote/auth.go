package remote

import (
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
)

// Authenticator supplies registry credentials for a repository.
type Authenticator interface {
	Resolve(repo name.Repository) (authn.Authenticator, error)
}

// KeychainAuthenticator reads the docker config and credential helpers,
// the same lookup `docker login` feeds.
type KeychainAuthenticator struct{}

func (KeychainAuthenticator) Resolve(repo name.Repository) (authn.Authenticator, error) {
	return authn.DefaultKeychain.Resolve(repo)
}

// BasicAuthenticator uses a fixed username and password, falling back to
// the keychain when the username is empty.
type BasicAuthenticator struct {
	Username string
	Password string
}

func (b BasicAuthenticator) Resolve(repo name.Repository) (authn.Authenticator, error) {
	if b.Username == "" {
		return KeychainAuthenticator{}.Resolve(repo)
	}
	return &authn.Basic{Username: b.Username, Password: b.Password}, nil
}
