package types

import "encoding/json"

// taskAlias avoids infinite recursion when Task's custom (Un)MarshalJSON
// delegates to the default struct encoding.
type taskAlias Task

// MarshalJSON emits the known fields plus any preserved unknown top-level
// fields, so a task written by this adapter round-trips fields a newer
// agent version may have added.
func (t Task) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(taskAlias(t))
	if err != nil {
		return nil, err
	}
	return mergeExtra(base, t.Extra)
}

// UnmarshalJSON populates known fields and preserves unrecognized
// top-level keys in Extra.
func (t *Task) UnmarshalJSON(data []byte) error {
	var alias taskAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*t = Task(alias)

	extra, err := extractExtra(data, knownTaskFields)
	if err != nil {
		return err
	}
	t.Extra = extra
	return nil
}

var knownTaskFields = map[string]bool{
	"id": true, "title": true, "description": true, "status": true,
	"blocked_by": true, "blocks": true, "created": true, "updated": true,
	"metadata": true,
}

type metadataAlias TaskMetadata

// MarshalJSON emits known metadata fields plus preserved unknown ones.
func (m TaskMetadata) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(metadataAlias(m))
	if err != nil {
		return nil, err
	}
	return mergeExtra(base, m.Extra)
}

// UnmarshalJSON populates known metadata fields and preserves unrecognized
// keys (e.g. ones written by a newer agent version) in Extra.
func (m *TaskMetadata) UnmarshalJSON(data []byte) error {
	var alias metadataAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*m = TaskMetadata(alias)

	extra, err := extractExtra(data, knownMetadataFields)
	if err != nil {
		return err
	}
	m.Extra = extra
	return nil
}

var knownMetadataFields = map[string]bool{
	"assignee": true, "claimed_at": true, "completed_by": true, "completed_at": true,
}

func extractExtra(data []byte, known map[string]bool) (map[string]interface{}, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	var extra map[string]interface{}
	for k, v := range raw {
		if known[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]interface{})
		}
		var val interface{}
		if err := json.Unmarshal(v, &val); err != nil {
			return nil, err
		}
		extra[k] = val
	}
	return extra, nil
}

func mergeExtra(base []byte, extra map[string]interface{}) ([]byte, error) {
	if len(extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, exists := merged[k]; exists {
			continue
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = encoded
	}
	return json.Marshal(merged)
}
