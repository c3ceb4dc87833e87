// Package resource defines the resource descriptor scanned by Vigil.
package resource

import (
	"strconv"
	"time"
)

// Kind identifies a class of cloud resource.
type Kind string

const (
	// KindBucket is an object-storage bucket (S3).
	KindBucket Kind = "bucket"
	// KindLogGroup is a log group (CloudWatch Logs).
	KindLogGroup Kind = "log_group"
)

// Kinds returns every supported kind in scan order.
func Kinds() []Kind {
	return []Kind{KindBucket, KindLogGroup}
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	switch k {
	case KindBucket, KindLogGroup:
		return true
	}
	return false
}

// Attribute keys populated by providers.
const (
	AttrRetentionInDays = "retention_in_days"
	AttrPolicyStatus    = "policy_status"
	AttrARN             = "arn"
	AttrStoredBytes     = "stored_bytes"
	AttrCreated         = "created"
)

// Policy status tokens stored under AttrPolicyStatus.
const (
	PolicyPublic    = "public"
	PolicyNotPublic = "not_public"
)

// Resource is an immutable snapshot of one cloud resource at scan time.
// Absence of an attribute key means the provider reported nothing for it.
type Resource struct {
	Kind      Kind              `json:"kind" yaml:"kind"`
	ID        string            `json:"id" yaml:"id"`             // Unique within kind (bucket name, log group name)
	Provider  string            `json:"provider" yaml:"provider"` // Cloud provider (e.g., "aws")
	Region    string            `json:"region" yaml:"region"`
	Account   string            `json:"account" yaml:"account"`
	Name      string            `json:"name" yaml:"name"`
	Attrs     map[string]string `json:"attrs,omitempty" yaml:"attrs,omitempty"`
	ScannedAt time.Time         `json:"scanned_at" yaml:"scanned_at"`
}

// Attr returns an attribute value and whether it was present.
func (r Resource) Attr(key string) (string, bool) {
	if r.Attrs == nil {
		return "", false
	}
	v, ok := r.Attrs[key]
	return v, ok
}

// RetentionInDays returns the configured retention. ok is false when the
// attribute is absent or not an integer.
func (r Resource) RetentionInDays() (days int, ok bool) {
	v, present := r.Attr(AttrRetentionInDays)
	if !present {
		return 0, false
	}
	days, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return days, true
}

// ResourceKey returns a key identifying a resource within one scan.
func ResourceKey(r Resource) string {
	return string(r.Kind) + "|" + r.ID
}
