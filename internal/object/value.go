package object

import (
	"bytes"
	"strings"
)

// VersionedValue is an object's content tagged with its version.
type VersionedValue struct {
	Version Version
	Content []byte
	Deleted bool // True if this is a tombstone (deleted)
}

// IsTombstone checks if this is a deletion tombstone.
func (vv *VersionedValue) IsTombstone() bool {
	return vv.Deleted
}

// SamePayload reports whether two values carry identical content and
// tombstone state. Versions are not compared.
func (vv *VersionedValue) SamePayload(other *VersionedValue) bool {
	return vv.Deleted == other.Deleted && bytes.Equal(vv.Content, other.Content)
}

// Copy returns a deep copy of the value.
func (vv *VersionedValue) Copy() *VersionedValue {
	if vv == nil {
		return nil
	}
	return &VersionedValue{
		Version: vv.Version,
		Content: append([]byte(nil), vv.Content...),
		Deleted: vv.Deleted,
	}
}

// Summary identifies an object by id and version.
type Summary struct {
	ID      string
	Version Version
}

// Prefix is an object id prefix.
type Prefix string

// Matches reports whether the object id starts with the prefix.
func (p Prefix) Matches(id string) bool {
	return strings.HasPrefix(id, string(p))
}

// DeleteByPrefixSummary reports how many objects a prefix delete removed.
type DeleteByPrefixSummary struct {
	Total uint64
}
