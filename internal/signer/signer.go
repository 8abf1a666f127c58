// SPDX-License-Identifier: AGPL-3.0-only

// Package signer computes AWS Signature Version 4 headers for bodyless S3 requests.
package signer

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/minio/sha256-simd"
)

// AmzDateFormat is the layout of the x-amz-date header.
const AmzDateFormat = "20060102T150405Z"

// EmptyPayloadHash is the hex SHA-256 of an empty body.
var EmptyPayloadHash = func() string {
	sum := sha256.Sum256(nil)
	return hex.EncodeToString(sum[:])
}()

// Request describes the request to sign. The body is always empty.
type Request struct {
	Method string
	// Path is the escaped request path, e.g. /dir/file%20name.txt.
	Path       string
	Query      string
	BucketName string
	BucketHost string
	Region     string
}

func (r Request) host() string {
	return r.BucketName + "." + r.BucketHost
}

func (r Request) httpRequest(ctx context.Context) (*http.Request, error) {
	path := r.Path
	if path == "" {
		path = "/"
	}
	u, err := url.Parse("https://" + r.host() + path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", r.Path, err)
	}
	u.RawQuery = r.Query

	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Amz-Content-Sha256", EmptyPayloadHash)
	return req, nil
}

// Result holds the header values to attach to the outbound request.
type Result struct {
	Authorization string
	ContentSHA256 string
	Date          string
}

type Signer interface {
	Sign(ctx context.Context, req Request, creds aws.Credentials, t time.Time) (Result, error)
}

// New returns the signer registered under name: "aws" (default) or "minio".
func New(name string) (Signer, error) {
	switch name {
	case "", "aws":
		return NewAWS(), nil
	case "minio":
		return NewMinio(), nil
	default:
		return nil, fmt.Errorf("unknown signer %q", name)
	}
}
