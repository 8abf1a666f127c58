// SPDX-License-Identifier: AGPL-3.0-only
package origin

import (
	"errors"
	"fmt"
)

// ListSize is the number of origins every priority list holds.
const ListSize = 3

var ErrInvalidPriorityList = errors.New("invalid origin priority list")

// Origin identifies one storage bucket and the pre-declared backend used to reach it.
type Origin struct {
	// BackendName must match a backend declared in the transport configuration.
	BackendName string
	BucketName  string
	BucketHost  string
}

// Host is the value sent as the Host header to this origin.
func (o Origin) Host() string {
	return o.BucketName + "." + o.BucketHost
}

func (o Origin) String() string {
	return o.BackendName + "(" + o.Host() + ")"
}

// PriorityList is an ordered, fixed-size list of distinct origins. The order is the
// attempt order for a location.
type PriorityList struct {
	origins [ListSize]Origin
}

// NewPriorityList checks the size and distinctness of origins.
func NewPriorityList(origins ...Origin) (PriorityList, error) {
	var l PriorityList
	if len(origins) != ListSize {
		return l, fmt.Errorf("%w: want %d origins, got %d", ErrInvalidPriorityList, ListSize, len(origins))
	}

	for i, o := range origins {
		if o.BackendName == "" || o.BucketName == "" || o.BucketHost == "" {
			return l, fmt.Errorf("%w: origin %d is incomplete: %+v", ErrInvalidPriorityList, i, o)
		}
		for j := range i {
			if origins[j] == o {
				return l, fmt.Errorf("%w: origin %s listed twice", ErrInvalidPriorityList, o)
			}
		}
		l.origins[i] = o
	}
	return l, nil
}

// MustPriorityList is like NewPriorityList but panics on error. Intended for
// package-level tables.
func MustPriorityList(origins ...Origin) PriorityList {
	l, err := NewPriorityList(origins...)
	if err != nil {
		panic(err)
	}
	return l
}

func (l PriorityList) Len() int {
	return ListSize
}

func (l PriorityList) At(i int) Origin {
	return l.origins[i]
}

// Origins returns a copy of the list in attempt order.
func (l PriorityList) Origins() []Origin {
	out := make([]Origin, ListSize)
	copy(out, l.origins[:])
	return out
}
