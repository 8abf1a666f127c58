// SPDX-License-Identifier: AGPL-3.0-only

// Package auth attaches origin credentials to outbound requests.
//
// Only safe methods (GET, HEAD) are ever signed, so a signed request can never be
// mistaken for an authorized write. Any failure along the way degrades to sending
// the request unauthenticated; it never aborts the attempt.
package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/s3eon/b2edge/internal/metrics"
	"github.com/s3eon/b2edge/internal/origin"
	"github.com/s3eon/b2edge/internal/secretstore"
	"github.com/s3eon/b2edge/internal/signer"
)

const (
	// DefaultStoreName is the secret store holding origin credentials.
	DefaultStoreName = "bucket_auth"
	// MaxSecretLen bounds credential reads.
	MaxSecretLen = 8000

	AccessKeyIDSuffix     = "_access_key_id"
	SecretAccessKeySuffix = "_secret_access_key"
)

// Reasons reported when a signable request goes out unauthenticated.
const (
	SkipStore       = "store"
	SkipCredentials = "credentials"
	SkipRegion      = "region"
	SkipSigner      = "signer"
)

type Authenticator interface {
	Authenticate(req *http.Request, o origin.Origin)
}

// Noop leaves requests untouched. It is used when signing is disabled.
type Noop struct{}

func (Noop) Authenticate(*http.Request, origin.Origin) {}

type SigningOptions struct {
	Store     secretstore.Store
	StoreName string
	Signer    signer.Signer
	Regions   *origin.RegionExtractor
	Now       func() time.Time
	Log       *slog.Logger
	Metrics   *metrics.Metrics
}

// Signing signs GET and HEAD requests with credentials looked up per attempt.
type Signing struct {
	store     secretstore.Store
	storeName string
	signer    signer.Signer
	regions   *origin.RegionExtractor
	now       func() time.Time
	log       *slog.Logger
	metrics   *metrics.Metrics
}

func NewSigning(opts SigningOptions) *Signing {
	s := &Signing{
		store:     opts.Store,
		storeName: opts.StoreName,
		signer:    opts.Signer,
		regions:   opts.Regions,
		now:       opts.Now,
		log:       opts.Log,
		metrics:   opts.Metrics,
	}
	if s.storeName == "" {
		s.storeName = DefaultStoreName
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

func (s *Signing) Authenticate(req *http.Request, o origin.Origin) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return
	}
	ctx := req.Context()

	if s.store == nil {
		s.skip(o, SkipStore, nil)
		return
	}
	handle, err := s.store.Open(ctx, s.storeName)
	if err != nil {
		s.skip(o, SkipStore, err)
		return
	}

	id, err := handle.Get(ctx, o.BackendName+AccessKeyIDSuffix, MaxSecretLen)
	if err != nil {
		s.skip(o, SkipCredentials, err)
		return
	}
	key, err := handle.Get(ctx, o.BackendName+SecretAccessKeySuffix, MaxSecretLen)
	if err != nil {
		s.skip(o, SkipCredentials, err)
		return
	}

	// origins are validated against the pattern at startup
	region, err := s.regions.Region(o.BucketHost)
	if err != nil {
		s.skip(o, SkipRegion, err)
		return
	}

	res, err := s.signer.Sign(ctx, signer.Request{
		Method:     req.Method,
		Path:       req.URL.EscapedPath(),
		Query:      req.URL.RawQuery,
		BucketName: o.BucketName,
		BucketHost: o.BucketHost,
		Region:     region,
	}, aws.Credentials{AccessKeyID: id, SecretAccessKey: key}, s.now())
	if err != nil {
		s.skip(o, SkipSigner, err)
		return
	}

	req.Header.Set("Authorization", res.Authorization)
	req.Header.Set("X-Amz-Content-Sha256", res.ContentSHA256)
	req.Header.Set("X-Amz-Date", res.Date)
}

func (s *Signing) skip(o origin.Origin, reason string, err error) {
	s.metrics.ObserveSigningSkipped(o.BackendName, reason)
	s.log.Warn("sending request unauthenticated",
		slog.String("backend", o.BackendName),
		slog.String("reason", reason),
		"error", err,
	)
}
