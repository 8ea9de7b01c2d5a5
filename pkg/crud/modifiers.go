package crud

import (
	"sort"
	"strconv"
	"strings"

	"github.com/devserve/devserve/pkg/dispatch"
	"github.com/devserve/devserve/pkg/storage"
)

// defaultPageSize applies when a pageSize parameter is present but does not
// parse as a positive integer.
const defaultPageSize = 10

// sortKey is one parsed sortBy segment.
type sortKey struct {
	prop string
	desc bool
}

// parseSortBy parses "prop1 desc,prop2". The first key has the highest
// priority; later keys break ties.
func parseSortBy(raw string) []sortKey {
	var keys []sortKey
	for _, segment := range strings.Split(raw, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		key := sortKey{prop: segment}
		if prop, ok := strings.CutSuffix(segment, " desc"); ok {
			key = sortKey{prop: strings.TrimSpace(prop), desc: true}
		}
		keys = append(keys, key)
	}
	return keys
}

// sortRecords orders records by the given keys, with an implicit final _id
// ascending tie-break so the order is total and stable across requests.
func sortRecords(records []storage.Record, keys []sortKey) {
	sort.SliceStable(records, func(i, j int) bool {
		for _, key := range keys {
			cmp, ok := compareValues(records[i][key.prop], records[j][key.prop])
			if !ok {
				cmp = strings.Compare(renderValue(records[i][key.prop]), renderValue(records[j][key.prop]))
			}
			if cmp == 0 {
				continue
			}
			if key.desc {
				return cmp > 0
			}
			return cmp < 0
		}
		idI, _ := records[i][storage.FieldID].(string)
		idJ, _ := records[j][storage.FieldID].(string)
		return idI < idJ
	})
}

// paginate slices records by offset and pageSize. Each parameter applies
// independently: an offset without a pageSize returns everything past the
// offset, uncapped.
func paginate(records []storage.Record, offsetRaw, sizeRaw string) []storage.Record {
	if offsetRaw != "" {
		offset := 0
		if n, err := strconv.Atoi(offsetRaw); err == nil && n > 0 {
			offset = n
		}
		if offset >= len(records) {
			return []storage.Record{}
		}
		records = records[offset:]
	}

	if sizeRaw != "" {
		size := defaultPageSize
		if n, err := strconv.Atoi(sizeRaw); err == nil && n > 0 {
			size = n
		}
		if size < len(records) {
			records = records[:size]
		}
	}

	return records
}

// distinct keeps the first record for each composite key. The parameter is
// a comma-separated property list; key parts join with "::".
func distinct(records []storage.Record, raw string) []storage.Record {
	props := strings.Split(raw, ",")
	seen := make(map[string]bool, len(records))
	out := make([]storage.Record, 0, len(records))
	for _, record := range records {
		parts := make([]string, len(props))
		for i, prop := range props {
			parts[i] = renderValue(record[strings.TrimSpace(prop)])
		}
		key := strings.Join(parts, "::")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, record)
	}
	return out
}

// selectFields projects each record onto the listed properties.
func selectFields(records []storage.Record, raw string) []storage.Record {
	props := strings.Split(raw, ",")
	out := make([]storage.Record, len(records))
	for i, record := range records {
		projected := make(storage.Record, len(props))
		for _, prop := range props {
			prop = strings.TrimSpace(prop)
			if value, ok := record[prop]; ok {
				projected[prop] = value
			}
		}
		out[i] = projected
	}
	return out
}

// loadSpec is one parsed load parameter: embed the record referenced by
// srcField from collection under prop.
type loadSpec struct {
	prop       string
	srcField   string
	collection string
}

// parseLoad parses "prop=srcField:collection". Multiple load parameters are
// parsed individually and applied left to right.
func parseLoad(raw string) (loadSpec, bool) {
	prop, rest, ok := strings.Cut(raw, "=")
	if !ok {
		return loadSpec{}, false
	}
	srcField, collection, ok := strings.Cut(rest, ":")
	if !ok {
		return loadSpec{}, false
	}
	return loadSpec{
		prop:       strings.TrimSpace(prop),
		srcField:   strings.TrimSpace(srcField),
		collection: strings.TrimSpace(collection),
	}, true
}

// parseLoads parses a load parameter holding one or more comma-separated
// relation specs.
func parseLoads(raw string) []loadSpec {
	var specs []loadSpec
	for _, part := range strings.Split(raw, ",") {
		if spec, ok := parseLoad(strings.TrimSpace(part)); ok {
			specs = append(specs, spec)
		}
	}
	return specs
}

// loadRelations embeds related records in place. A missing related record
// embeds nil rather than failing the request. Relations into users resolve
// through the protected directory so credential material never leaks.
func loadRelations(ctx *dispatch.Context, records []storage.Record, spec loadSpec) {
	for _, record := range records {
		record[spec.prop] = loadOne(ctx, record, spec)
	}
}

func loadOne(ctx *dispatch.Context, record storage.Record, spec loadSpec) any {
	relID, _ := record[spec.srcField].(string)
	if relID == "" {
		return nil
	}

	if spec.collection == "users" {
		if ctx.Users == nil {
			return nil
		}
		related, err := ctx.Users.UserByID(relID)
		if err != nil {
			return nil
		}
		return related
	}

	related, err := ctx.Storage.Get(spec.collection, relID)
	if err != nil {
		return nil
	}
	return related
}
