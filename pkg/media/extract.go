package media

import (
	"encoding/json"

	"github.com/oceanreach/offlinesync/pkg/types"
)

// ExtractFileIDs walks an arbitrary JSON payload depth-bounded,
// collecting every value found under a "fileId" or "fileIds" key so
// the lifecycle interceptor can tell which media a content item
// references without the CMS's content-type schema telling it where
// to look.
func ExtractFileIDs(payload json.RawMessage) ([]string, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	var ids []string
	collectFileIDs(v, 0, &ids)
	return dedupeStrings(ids), nil
}

func collectFileIDs(v interface{}, depth int, out *[]string) {
	if depth >= maxWalkDepth {
		return
	}
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			switch k {
			case "fileId":
				if s, ok := val.(string); ok {
					*out = append(*out, s)
				}
			case "fileIds":
				if arr, ok := val.([]interface{}); ok {
					for _, e := range arr {
						if s, ok := e.(string); ok {
							*out = append(*out, s)
						}
					}
				}
			}
			collectFileIDs(val, depth+1, out)
		}
	case []interface{}:
		for _, e := range t {
			collectFileIDs(e, depth+1, out)
		}
	}
}

// UpdateContentFileIds rewrites every "fileId"/"fileIds" reference in
// data according to mapping (replicaId -> masterId), the master-side
// half of file-record propagation (scenario S5): once
// ProcessReplicaFileRecords has resolved or created the master's file
// rows, the content payload's own references to the replica's local
// file ids must be remapped before the payload is written through the
// CMS. A reference with no entry in mapping is left unchanged.
func UpdateContentFileIds(data json.RawMessage, mapping map[string]string) (json.RawMessage, error) {
	if len(data) == 0 || len(mapping) == 0 {
		return data, nil
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	rewritten := remapFileIDs(v, mapping, 0)
	return json.Marshal(rewritten)
}

func remapFileIDs(v interface{}, mapping map[string]string, depth int) interface{} {
	if depth >= maxWalkDepth {
		return v
	}
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			switch k {
			case "fileId":
				if s, ok := val.(string); ok {
					if mapped, ok := mapping[s]; ok {
						out[k] = mapped
						continue
					}
				}
				out[k] = val
			case "fileIds":
				if arr, ok := val.([]interface{}); ok {
					mapped := make([]interface{}, len(arr))
					for i, e := range arr {
						if s, ok := e.(string); ok {
							if m, ok := mapping[s]; ok {
								mapped[i] = m
								continue
							}
						}
						mapped[i] = e
					}
					out[k] = mapped
					continue
				}
				out[k] = val
			default:
				out[k] = remapFileIDs(val, mapping, depth+1)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = remapFileIDs(e, mapping, depth+1)
		}
		return out
	default:
		return v
	}
}

// ExtractFileRecords walks a JSON payload depth-bounded collecting
// every embedded object that looks like a file relation (carrying
// both a "hash" and a "url" string field), the shape a CMS's media
// field typically embeds inline. Used to find the records a local
// edit needs pushed to the master before the edit itself is
// published (scenario S5).
func ExtractFileRecords(payload json.RawMessage) ([]types.FileRecord, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	var records []types.FileRecord
	collectFileRecords(v, 0, &records)
	return records, nil
}

func collectFileRecords(v interface{}, depth int, out *[]types.FileRecord) {
	if depth >= maxWalkDepth {
		return
	}
	switch t := v.(type) {
	case map[string]interface{}:
		if looksLikeFileRecord(t) {
			if rec, ok := decodeFileRecord(t); ok {
				*out = append(*out, rec)
			}
		}
		for _, val := range t {
			collectFileRecords(val, depth+1, out)
		}
	case []interface{}:
		for _, val := range t {
			collectFileRecords(val, depth+1, out)
		}
	}
}

func looksLikeFileRecord(m map[string]interface{}) bool {
	_, hasHash := m["hash"].(string)
	_, hasURL := m["url"].(string)
	return hasHash && hasURL
}

func decodeFileRecord(m map[string]interface{}) (types.FileRecord, bool) {
	raw, err := json.Marshal(m)
	if err != nil {
		return types.FileRecord{}, false
	}
	var rec types.FileRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return types.FileRecord{}, false
	}
	return rec, true
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
