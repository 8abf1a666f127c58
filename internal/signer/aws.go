package signer

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// AWS signs with the aws-sdk-go-v2 v4 signer at the supplied time.
type AWS struct {
	signer *v4.Signer
}

func NewAWS() *AWS {
	return &AWS{
		signer: v4.NewSigner(func(signer *v4.SignerOptions) {
			signer.DisableURIPathEscaping = true
		}),
	}
}

func (s *AWS) Sign(ctx context.Context, r Request, creds aws.Credentials, t time.Time) (Result, error) {
	req, err := r.httpRequest(ctx)
	if err != nil {
		return Result{}, err
	}

	err = s.signer.SignHTTP(ctx, creds, req, EmptyPayloadHash, "s3", r.Region, t.UTC())
	if err != nil {
		return Result{}, fmt.Errorf("failed to compute signature: %w", err)
	}

	return Result{
		Authorization: req.Header.Get("Authorization"),
		ContentSHA256: EmptyPayloadHash,
		Date:          t.UTC().Format(AmzDateFormat),
	}, nil
}
