// SPDX-License-Identifier: AGPL-3.0-only
package location

import (
	"errors"
	"fmt"
	"net/http"
	"os"
)

var ErrLocationUnavailable = errors.New("serving location not reported by host")

// LookupEnv has the signature of os.LookupEnv.
type LookupEnv func(key string) (string, bool)

type Options struct {
	// OverrideParam is the query parameter that forces a location, e.g. ?pop=AMS.
	OverrideParam string
	// HostnameEnv names the variable carrying the host name of the serving node.
	HostnameEnv string
	// LocalHostname is the HostnameEnv value reported by a local test host.
	LocalHostname string
	// LocationEnv names the variable carrying the production location code.
	LocationEnv string
	// DefaultLocation is used on a local test host.
	DefaultLocation string
}

func DefaultOptions() Options {
	return Options{
		OverrideParam:   "pop",
		HostnameEnv:     "FASTLY_HOSTNAME",
		LocalHostname:   "localhost",
		LocationEnv:     "FASTLY_POP",
		DefaultLocation: "SJC",
	}
}

// Resolver determines the location code of the edge node handling a request.
type Resolver struct {
	opts   Options
	lookup LookupEnv
}

// NewResolver uses os.LookupEnv when lookup is nil.
func NewResolver(opts Options, lookup LookupEnv) *Resolver {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Resolver{opts: opts, lookup: lookup}
}

// Resolve applies, in order: the override query parameter, the local test host
// default, and the host-reported location code. An unset hostname variable is
// not the local test host.
func (r *Resolver) Resolve(req *http.Request) (string, error) {
	if r.opts.OverrideParam != "" {
		q := req.URL.Query()
		if _, ok := q[r.opts.OverrideParam]; ok {
			return q.Get(r.opts.OverrideParam), nil
		}
	}

	if host, ok := r.lookup(r.opts.HostnameEnv); ok && host == r.opts.LocalHostname {
		return r.opts.DefaultLocation, nil
	}

	// an empty code is unknown to every registry and routes via the default list
	code, ok := r.lookup(r.opts.LocationEnv)
	if !ok {
		return "", fmt.Errorf("%w: %s is not set", ErrLocationUnavailable, r.opts.LocationEnv)
	}
	return code, nil
}

// Check reports whether a location can be resolved without an override, so a
// misconfigured host is detected at startup.
func (r *Resolver) Check() error {
	req, err := http.NewRequest(http.MethodGet, "/", nil)
	if err != nil {
		return err
	}
	_, err = r.Resolve(req)
	return err
}
