// Package redact shapes extraction reports to the access level resolved for
// a request. The report schema is typed per metadata section so redaction is
// exhaustive over known fields instead of key lookups in loose maps.
package redact

import "encoding/json"

// Mode selects the transform applied to a report.
type Mode string

const (
	// ModeFull is the identity transform (paid and trial access).
	ModeFull Mode = "full"
	// ModeRedacted coarsens or removes sensitive sections (free access).
	ModeRedacted Mode = "redacted"
)

// Report is the extraction engine's output for one file.
type Report struct {
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	SizeBytes int64 `json:"size_bytes,omitempty"`

	GPS        *GPS                 `json:"gps,omitempty"`
	Overlay    *Overlay             `json:"overlay,omitempty"`
	XAttrs     *ExtendedAttributes  `json:"xattrs,omitempty"`
	Filesystem *Filesystem          `json:"filesystem,omitempty"`
	Thumbnail  *Thumbnail           `json:"thumbnail,omitempty"`
	Hashes     *Hashes              `json:"hashes,omitempty"`

	// Premium-only sections, passed through opaquely and nulled wholesale
	// for redacted output.
	RawExif   json.RawMessage `json:"raw_exif,omitempty"`
	Forensics json.RawMessage `json:"forensics,omitempty"`
}

// GPS is the positional block extracted from media metadata.
type GPS struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
	MapLink   string   `json:"map_link,omitempty"`
}

// Overlay holds metadata burned into the image itself (camera overlays,
// timestamp stamps, embedded plus codes).
type Overlay struct {
	Text     *string     `json:"text,omitempty"`
	GPS      *OverlayGPS `json:"gps,omitempty"`
	PlusCode string      `json:"plus_code,omitempty"`
	Address  *Address    `json:"address,omitempty"`
}

// OverlayGPS is a coordinate pair recognized inside overlay text.
type OverlayGPS struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Address is a postal address recognized inside overlay text.
type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
	Postal  string `json:"postal,omitempty"`
}

// ExtendedAttributes is the filesystem extended-attribute map. A nil value
// means the attribute is present but its content is withheld.
type ExtendedAttributes struct {
	Count  int                `json:"count"`
	Values map[string]*string `json:"values,omitempty"`
}

// Filesystem is the stat-level block. Pointer fields are deletable.
type Filesystem struct {
	Owner       *string `json:"owner,omitempty"`
	Group       *string `json:"group,omitempty"`
	UID         *int    `json:"uid,omitempty"`
	GID         *int    `json:"gid,omitempty"`
	Inode       *uint64 `json:"inode,omitempty"`
	Device      *uint64 `json:"device,omitempty"`
	Permissions *string `json:"permissions,omitempty"`
	HardLinks   *int    `json:"hard_links,omitempty"`

	ModifiedAt string `json:"modified_at,omitempty"`
	AccessedAt string `json:"accessed_at,omitempty"`
	ChangedAt  string `json:"changed_at,omitempty"`
}

// Thumbnail is the embedded preview block.
type Thumbnail struct {
	HasEmbedded bool   `json:"has_embedded"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Format      string `json:"format,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

// Hashes bundles perceptual and cryptographic hashes.
type Hashes struct {
	AHash string `json:"ahash,omitempty"`
	DHash string `json:"dhash,omitempty"`
	PHash string `json:"phash,omitempty"`
	WHash string `json:"whash,omitempty"`

	MD5    string `json:"md5,omitempty"`
	SHA1   string `json:"sha1,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
}
