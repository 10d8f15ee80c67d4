package redact

import "math"

// Apply returns a report shaped to mode. It never mutates its input, never
// errors on absent sections, and is idempotent: applying the redacted mode
// twice yields the same result as applying it once. ModeFull is the
// identity transform.
func Apply(r *Report, mode Mode) *Report {
	if r == nil {
		return nil
	}
	out := r.clone()
	if mode != ModeRedacted {
		return out
	}

	out.GPS = redactGPS(out.GPS)
	out.Overlay = redactOverlay(out.Overlay)
	out.XAttrs = redactXAttrs(out.XAttrs)
	out.Filesystem = redactFilesystem(out.Filesystem)
	out.Thumbnail = redactThumbnail(out.Thumbnail)
	out.Hashes = redactHashes(out.Hashes)

	// Premium-only bulk sections are withheld wholesale.
	out.RawExif = nil
	out.Forensics = nil
	return out
}

func redactGPS(g *GPS) *GPS {
	if g == nil {
		return nil
	}
	if !finite(g.Latitude) || !finite(g.Longitude) {
		return nil
	}
	return &GPS{
		Latitude:  round2(g.Latitude),
		Longitude: round2(g.Longitude),
		Altitude:  g.Altitude,
	}
}

func redactOverlay(o *Overlay) *Overlay {
	if o == nil {
		return nil
	}
	return &Overlay{
		Address: coarsenAddress(o.Address),
	}
}

func coarsenAddress(a *Address) *Address {
	if a == nil {
		return nil
	}
	out := &Address{City: a.City, State: a.State, Country: a.Country}
	if out.City == "" && out.State == "" && out.Country == "" {
		return nil
	}
	return out
}

func redactXAttrs(x *ExtendedAttributes) *ExtendedAttributes {
	if x == nil {
		return nil
	}
	out := &ExtendedAttributes{Count: x.Count}
	if len(x.Values) > 0 {
		out.Count = len(x.Values)
		out.Values = make(map[string]*string, len(x.Values))
		for k := range x.Values {
			out.Values[k] = nil
		}
	}
	return out
}

func redactFilesystem(f *Filesystem) *Filesystem {
	if f == nil {
		return nil
	}
	return &Filesystem{
		ModifiedAt: f.ModifiedAt,
		AccessedAt: f.AccessedAt,
		ChangedAt:  f.ChangedAt,
	}
}

func redactThumbnail(t *Thumbnail) *Thumbnail {
	if t == nil {
		return nil
	}
	return &Thumbnail{
		HasEmbedded: t.HasEmbedded,
		Width:       t.Width,
		Height:      t.Height,
	}
}

func redactHashes(h *Hashes) *Hashes {
	if h == nil {
		return nil
	}
	return &Hashes{
		AHash: h.AHash,
		DHash: h.DHash,
		PHash: h.PHash,
		WHash: h.WHash,
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (r *Report) clone() *Report {
	out := *r
	if r.GPS != nil {
		g := *r.GPS
		if r.GPS.Altitude != nil {
			alt := *r.GPS.Altitude
			g.Altitude = &alt
		}
		out.GPS = &g
	}
	if r.Overlay != nil {
		o := *r.Overlay
		if r.Overlay.Text != nil {
			text := *r.Overlay.Text
			o.Text = &text
		}
		if r.Overlay.GPS != nil {
			g := *r.Overlay.GPS
			o.GPS = &g
		}
		if r.Overlay.Address != nil {
			a := *r.Overlay.Address
			o.Address = &a
		}
		out.Overlay = &o
	}
	if r.XAttrs != nil {
		x := ExtendedAttributes{Count: r.XAttrs.Count}
		if r.XAttrs.Values != nil {
			x.Values = make(map[string]*string, len(r.XAttrs.Values))
			for k, v := range r.XAttrs.Values {
				if v == nil {
					x.Values[k] = nil
					continue
				}
				val := *v
				x.Values[k] = &val
			}
		}
		out.XAttrs = &x
	}
	if r.Filesystem != nil {
		f := *r.Filesystem
		f.Owner = cloneString(r.Filesystem.Owner)
		f.Group = cloneString(r.Filesystem.Group)
		f.UID = cloneInt(r.Filesystem.UID)
		f.GID = cloneInt(r.Filesystem.GID)
		f.Inode = cloneUint64(r.Filesystem.Inode)
		f.Device = cloneUint64(r.Filesystem.Device)
		f.Permissions = cloneString(r.Filesystem.Permissions)
		f.HardLinks = cloneInt(r.Filesystem.HardLinks)
		out.Filesystem = &f
	}
	if r.Thumbnail != nil {
		th := *r.Thumbnail
		if r.Thumbnail.Data != nil {
			th.Data = append([]byte(nil), r.Thumbnail.Data...)
		}
		out.Thumbnail = &th
	}
	if r.Hashes != nil {
		h := *r.Hashes
		out.Hashes = &h
	}
	if r.RawExif != nil {
		out.RawExif = append([]byte(nil), r.RawExif...)
	}
	if r.Forensics != nil {
		out.Forensics = append([]byte(nil), r.Forensics...)
	}
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(n *int) *int {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func cloneUint64(n *uint64) *uint64 {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}
