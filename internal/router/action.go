package router

import (
	"net/http"
	"net/url"
	"strings"
)

// detectS3Action names the S3 operation a request performs against the bucket
// the router fronts. Requests are addressed virtual-host style, so the path is
// the object key. Used for logging only.
func detectS3Action(r *http.Request) string {
	q := r.URL.Query()
	if key := strings.Trim(r.URL.Path, "/"); key == "" {
		return detectS3ActionBucket(r.Method, q)
	}
	return detectS3ActionKey(r.Method, q, r.Header.Get("X-Amz-Copy-Source") != "")
}

func detectS3ActionBucket(method string, q url.Values) string {
	has := func(name string) bool {
		_, ok := q[name]
		return ok
	}

	switch method {
	case http.MethodHead:
		return "HeadBucket"
	case http.MethodGet:
		switch {
		case has("uploads"):
			return "ListMultipartUploads"
		case has("versions"):
			return "ListObjectVersions"
		case q.Get("list-type") == "2":
			return "ListObjectsV2"
		default:
			return "ListObjects"
		}
	case http.MethodPost:
		if has("delete") {
			return "DeleteObjects"
		}
	}
	return ""
}

func detectS3ActionKey(method string, q url.Values, hasCopySource bool) string {
	has := func(name string) bool {
		_, ok := q[name]
		return ok
	}

	switch method {
	case http.MethodHead:
		return "HeadObject"
	case http.MethodGet:
		switch {
		case has("uploadId"):
			return "ListParts"
		case has("tagging"):
			return "GetObjectTagging"
		default:
			return "GetObject"
		}
	case http.MethodPut:
		switch {
		case has("partNumber") && hasCopySource:
			return "UploadPartCopy"
		case has("partNumber"):
			return "UploadPart"
		case hasCopySource:
			return "CopyObject"
		default:
			return "PutObject"
		}
	case http.MethodPost:
		switch {
		case has("uploads"):
			return "CreateMultipartUpload"
		case has("uploadId"):
			return "CompleteMultipartUpload"
		}
	case http.MethodDelete:
		if has("uploadId") {
			return "AbortMultipartUpload"
		}
		return "DeleteObject"
	}
	return ""
}
