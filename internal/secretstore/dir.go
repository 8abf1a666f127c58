package secretstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Dir reads each store from <root>/<name>.json, a flat JSON object of string
// values:
//
//	{"us_west_access_key_id": "...", "us_west_secret_access_key": "..."}
//
// The file is read on every Open.
type Dir struct {
	root string
}

func NewDir(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) Open(_ context.Context, name string) (Handle, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("%w: invalid store name %q", ErrStoreUnavailable, name)
	}

	b, err := os.ReadFile(filepath.Join(d.root, name+".json")) //nolint:gosec // name is validated above
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrStoreUnavailable, name, err)
	}

	var kv map[string]string
	if err := json.Unmarshal(b, &kv); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrStoreUnavailable, name, err)
	}
	return mapHandle(kv), nil
}
