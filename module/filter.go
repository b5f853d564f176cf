package module

import (
	"github.com/mitchellh/mapstructure"

	errs "github.com/fimoengine/fimo-sub001/errors"
)

// ExportFilterData is the typed shape callers decode their filter_data/
// user_data blob into before building a filter predicate for
// AppendModules (spec §4.3 "set_append_modules": "a filter function plus
// opaque filter_data the host defines the shape of").
type ExportFilterData struct {
	NamesAllowed   []string `mapstructure:"names_allowed"`
	RequireAuthor  string   `mapstructure:"require_author"`
	MinVersionMajor uint32  `mapstructure:"min_version_major"`
}

// DecodeFilterData decodes an arbitrary map/struct value (typically
// unmarshaled JSON/YAML config) into an ExportFilterData, the way the
// teacher's config layer decodes generic blobs into typed structs.
func DecodeFilterData(raw any) (*ExportFilterData, error) {
	var out ExportFilterData
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "build filter data decoder")
	}
	if err := dec.Decode(raw); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, err, "decode export filter data")
	}
	return &out, nil
}

// Filter builds an ExportRecord predicate from the decoded data: only
// records whose name is in NamesAllowed (when non-empty), whose Author
// matches RequireAuthor (when set), and whose Version.Major is at least
// MinVersionMajor are accepted.
func (d *ExportFilterData) Filter() func(ExportRecord) bool {
	allowed := map[string]struct{}{}
	for _, n := range d.NamesAllowed {
		allowed[n] = struct{}{}
	}
	return func(rec ExportRecord) bool {
		if len(allowed) > 0 {
			if _, ok := allowed[rec.Name]; !ok {
				return false
			}
		}
		if d.RequireAuthor != "" && rec.Author != d.RequireAuthor {
			return false
		}
		if rec.Version.Major < d.MinVersionMajor {
			return false
		}
		return true
	}
}
