package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/tokengate/password"
	"github.com/google/uuid"
)

var errBadCredentials = errors.New("invalid credentials")

type account struct {
	id         string
	uuid       string
	identifier string
	role       string
	hash       string
}

// userDirectory is the static credential store of the demo server.
type userDirectory struct {
	hasher       *password.Hasher
	byIdentifier map[string]account
	// dummy is the hash checked for unknown identifiers.
	dummy string
}

// newUserDirectory parses identifier:password specs. Users get ids u1, u2, ...
// in flag order and the "member" role.
func newUserDirectory(hasher *password.Hasher, specs []string) (*userDirectory, error) {
	dummy, err := hasher.Hash("tokengate-dummy")
	if err != nil {
		return nil, err
	}
	dir := &userDirectory{hasher: hasher, byIdentifier: make(map[string]account, len(specs)), dummy: dummy}

	for i, spec := range specs {
		identifier, secret, ok := strings.Cut(spec, ":")
		identifier = strings.ToLower(strings.TrimSpace(identifier))
		if !ok || identifier == "" || secret == "" {
			return nil, fmt.Errorf("--user %q: want identifier:password", spec)
		}
		if _, dup := dir.byIdentifier[identifier]; dup {
			return nil, fmt.Errorf("--user %q: duplicate identifier", identifier)
		}
		hash, err := hasher.Hash(secret)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", identifier, err)
		}
		dir.byIdentifier[identifier] = account{
			id:         fmt.Sprintf("u%d", i+1),
			uuid:       uuid.NewString(),
			identifier: identifier,
			role:       "member",
			hash:       hash,
		}
	}
	return dir, nil
}

func (d *userDirectory) Len() int {
	return len(d.byIdentifier)
}

// Lookup returns the account of identifier without checking a password. The
// id is needed to count failures against the account lockout.
func (d *userDirectory) Lookup(identifier string) (account, bool) {
	a, ok := d.byIdentifier[strings.ToLower(strings.TrimSpace(identifier))]
	return a, ok
}

// Verify checks a password. Unknown identifiers return errBadCredentials with
// a zero account; a wrong password returns the account so the failure can be
// counted against it.
func (d *userDirectory) Verify(identifier, secret string) (account, error) {
	a, ok := d.Lookup(identifier)
	if !ok {
		_ = d.hasher.Verify(secret, d.dummy)
		return account{}, errBadCredentials
	}
	if err := d.hasher.Verify(secret, a.hash); err != nil {
		return a, errBadCredentials
	}
	return a, nil
}
