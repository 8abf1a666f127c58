package signer

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/minio/minio-go/v7/pkg/signer"
)

// Minio signs with minio-go. minio-go stamps requests with its own clock, so the
// supplied time is ignored and Result.Date reports the time actually signed.
type Minio struct{}

func NewMinio() *Minio {
	return &Minio{}
}

func (Minio) Sign(ctx context.Context, r Request, creds aws.Credentials, _ time.Time) (Result, error) {
	req, err := r.httpRequest(ctx)
	if err != nil {
		return Result{}, err
	}

	signed := signer.SignV4(*req, creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken, r.Region)
	authz := signed.Header.Get("Authorization")
	if authz == "" {
		return Result{}, fmt.Errorf("failed to compute signature: no Authorization header produced")
	}

	return Result{
		Authorization: authz,
		ContentSHA256: EmptyPayloadHash,
		Date:          signed.Header.Get("X-Amz-Date"),
	}, nil
}
