// SPDX-License-Identifier: AGPL-3.0-only
package origin

import (
	"errors"
	"fmt"
	"regexp"
)

// DefaultRegionPattern matches Backblaze B2 S3-compatible endpoints, e.g.
// s3.us-west-002.backblazeb2.com. The first capture group is the region.
const DefaultRegionPattern = `^s3\.([[:alnum:]\-]+)\.backblazeb2\.com$`

var ErrRegionMismatch = errors.New("bucket host does not match region pattern")

// RegionExtractor derives a storage region from a bucket hostname.
type RegionExtractor struct {
	re *regexp.Regexp
}

func NewRegionExtractor(pattern string) (*RegionExtractor, error) {
	if pattern == "" {
		pattern = DefaultRegionPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid region pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("region pattern %q has no capture group", pattern)
	}
	return &RegionExtractor{re: re}, nil
}

// Region returns the first capture group of the pattern matched against host.
func (e *RegionExtractor) Region(host string) (string, error) {
	m := e.re.FindStringSubmatch(host)
	if m == nil || m[1] == "" {
		return "", fmt.Errorf("%w: %q", ErrRegionMismatch, host)
	}
	return m[1], nil
}

// Validate checks that every origin's bucket host yields a region.
func (e *RegionExtractor) Validate(origins []Origin) error {
	var errs []error
	for _, o := range origins {
		if _, err := e.Region(o.BucketHost); err != nil {
			errs = append(errs, fmt.Errorf("origin %s: %w", o.BackendName, err))
		}
	}
	return errors.Join(errs...)
}
