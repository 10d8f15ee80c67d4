package redact

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"
)

func sampleReport() *Report {
	text := "GPS 43.653226, -79.383184 / 123 Queen St W"
	owner := "alice"
	group := "staff"
	uid, gid, links := 501, 20, 1
	inode, device := uint64(1234567), uint64(16777220)
	perms := "-rw-r--r--"
	alt := 76.2
	secret := "com.apple.quarantine"
	val := "0081;5f00;Safari"

	return &Report{
		FileName: "IMG_4021.jpg",
		MimeType: "image/jpeg",
		SizeBytes: 3_145_728,
		GPS: &GPS{
			Latitude:  43.6532261,
			Longitude: -79.3831843,
			Altitude:  &alt,
			MapLink:   "https://maps.example.com/?q=43.6532261,-79.3831843",
		},
		Overlay: &Overlay{
			Text:     &text,
			GPS:      &OverlayGPS{Latitude: 43.6532261, Longitude: -79.3831843},
			PlusCode: "87M2M32G+HM",
			Address: &Address{
				Street:  "123 Queen St W",
				City:    "Toronto",
				State:   "ON",
				Country: "Canada",
				Postal:  "M5H 2M9",
			},
		},
		XAttrs: &ExtendedAttributes{
			Count:  1,
			Values: map[string]*string{secret: &val},
		},
		Filesystem: &Filesystem{
			Owner:       &owner,
			Group:       &group,
			UID:         &uid,
			GID:         &gid,
			Inode:       &inode,
			Device:      &device,
			Permissions: &perms,
			HardLinks:   &links,
			ModifiedAt:  "2025-07-01T10:00:00Z",
			AccessedAt:  "2025-07-02T10:00:00Z",
			ChangedAt:   "2025-07-01T10:00:00Z",
		},
		Thumbnail: &Thumbnail{
			HasEmbedded: true,
			Width:       160,
			Height:      120,
			Format:      "jpeg",
			Data:        []byte{0xff, 0xd8, 0xff},
		},
		Hashes: &Hashes{
			AHash:  "ff00ff00ff00ff00",
			DHash:  "a1b2c3d4e5f60718",
			PHash:  "8f373714acfcf4d0",
			WHash:  "00ff00ff00ff00ff",
			MD5:    "9e107d9d372bb6826bd81d3542a419d6",
			SHA1:   "2fd4e1c67a2d28fced849ee1bb76e7391b93eb12",
			SHA256: "d7a8fbb307d7809469ca9abcb0082e4f8d5651e46d3cdb762d02d0bf37c9e592",
		},
		RawExif:   json.RawMessage(`{"Make":"Apple","Model":"iPhone 15 Pro"}`),
		Forensics: json.RawMessage(`{"ela_score":0.03}`),
	}
}

func TestFullModeIsIdentity(t *testing.T) {
	r := sampleReport()
	got := Apply(r, ModeFull)
	if !reflect.DeepEqual(got, r) {
		t.Fatal("full mode must be the identity transform")
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	r := sampleReport()
	want := sampleReport()
	_ = Apply(r, ModeRedacted)
	if !reflect.DeepEqual(r, want) {
		t.Fatal("input report was mutated")
	}
}

func TestRedactedIsIdempotent(t *testing.T) {
	r := sampleReport()
	once := Apply(r, ModeRedacted)
	twice := Apply(once, ModeRedacted)
	if !reflect.DeepEqual(once, twice) {
		t.Fatal("redaction must be idempotent")
	}
}

func TestGPSRoundedAndLinkDropped(t *testing.T) {
	got := Apply(sampleReport(), ModeRedacted)
	if got.GPS == nil {
		t.Fatal("finite GPS must survive in coarsened form")
	}
	if got.GPS.Latitude != 43.65 || got.GPS.Longitude != -79.38 {
		t.Fatalf("expected 2-decimal rounding, got %v,%v", got.GPS.Latitude, got.GPS.Longitude)
	}
	if got.GPS.MapLink != "" {
		t.Fatal("map link must be dropped")
	}
}

func TestNonFiniteGPSNulled(t *testing.T) {
	r := sampleReport()
	r.GPS.Latitude = math.NaN()
	got := Apply(r, ModeRedacted)
	if got.GPS != nil {
		t.Fatal("non-finite GPS must null the whole block")
	}

	r = sampleReport()
	r.GPS.Longitude = math.Inf(1)
	if got := Apply(r, ModeRedacted); got.GPS != nil {
		t.Fatal("infinite longitude must null the whole block")
	}
}

func TestOverlayStripped(t *testing.T) {
	got := Apply(sampleReport(), ModeRedacted)
	o := got.Overlay
	if o == nil {
		t.Fatal("overlay block should remain present")
	}
	if o.Text != nil || o.GPS != nil || o.PlusCode != "" {
		t.Fatal("overlay text, GPS and plus code must be removed")
	}
	if o.Address == nil {
		t.Fatal("coarse address should remain")
	}
	if o.Address.Street != "" || o.Address.Postal != "" {
		t.Fatal("street-level address fields must be removed")
	}
	if o.Address.City != "Toronto" || o.Address.State != "ON" || o.Address.Country != "Canada" {
		t.Fatalf("city/state/country must survive, got %+v", o.Address)
	}
}

func TestOverlayAddressNulledWhenNothingRemains(t *testing.T) {
	r := sampleReport()
	r.Overlay.Address = &Address{Street: "123 Queen St W", Postal: "M5H 2M9"}
	got := Apply(r, ModeRedacted)
	if got.Overlay.Address != nil {
		t.Fatal("address with only precise fields must be nulled")
	}
}

func TestXAttrsKeepPresenceOnly(t *testing.T) {
	got := Apply(sampleReport(), ModeRedacted)
	x := got.XAttrs
	if x == nil || x.Count != 1 {
		t.Fatalf("xattr presence/count must survive, got %+v", x)
	}
	for k, v := range x.Values {
		if v != nil {
			t.Fatalf("xattr value for %q must be nulled", k)
		}
	}
}

func TestFilesystemKeepsTimestampsOnly(t *testing.T) {
	got := Apply(sampleReport(), ModeRedacted)
	f := got.Filesystem
	if f == nil {
		t.Fatal("filesystem block should remain")
	}
	if f.Owner != nil || f.Group != nil || f.UID != nil || f.GID != nil ||
		f.Inode != nil || f.Device != nil || f.Permissions != nil || f.HardLinks != nil {
		t.Fatalf("identity/inode/permission fields must be deleted: %+v", f)
	}
	if f.ModifiedAt == "" || f.AccessedAt == "" || f.ChangedAt == "" {
		t.Fatal("timestamps must be kept")
	}
}

func TestThumbnailCollapsed(t *testing.T) {
	got := Apply(sampleReport(), ModeRedacted)
	th := got.Thumbnail
	if th == nil || !th.HasEmbedded || th.Width != 160 || th.Height != 120 {
		t.Fatalf("thumbnail must collapse to presence+dimensions, got %+v", th)
	}
	if th.Data != nil || th.Format != "" {
		t.Fatal("thumbnail payload must be dropped")
	}
}

func TestHashesKeepPerceptualOnly(t *testing.T) {
	got := Apply(sampleReport(), ModeRedacted)
	h := got.Hashes
	if h == nil || h.AHash == "" || h.DHash == "" || h.PHash == "" || h.WHash == "" {
		t.Fatalf("perceptual hashes must survive, got %+v", h)
	}
	if h.MD5 != "" || h.SHA1 != "" || h.SHA256 != "" {
		t.Fatal("cryptographic hashes must be dropped")
	}
}

func TestPremiumSectionsNulled(t *testing.T) {
	got := Apply(sampleReport(), ModeRedacted)
	if got.RawExif != nil || got.Forensics != nil {
		t.Fatal("premium sections must be nulled wholesale")
	}
}

func TestAbsentSectionsAreNoOp(t *testing.T) {
	got := Apply(&Report{FileName: "empty.bin"}, ModeRedacted)
	if got == nil || got.FileName != "empty.bin" {
		t.Fatal("sparse report must pass through")
	}
	if Apply(nil, ModeRedacted) != nil {
		t.Fatal("nil report must stay nil")
	}
}
