// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import "encoding/json"

// DeepMerge merges patch into dst and returns the result. Maps merge
// recursively; a patch value of nil deletes the key; scalars and
// arrays replace. dst may be nil.
func DeepMerge(dst, patch map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range patch {
		if v == nil {
			delete(dst, k)
			continue
		}
		pm, pok := v.(map[string]any)
		dm, dok := dst[k].(map[string]any)
		if pok && dok {
			dst[k] = DeepMerge(dm, pm)
			continue
		}
		if pok {
			dst[k] = DeepMerge(nil, pm)
			continue
		}
		dst[k] = v
	}
	return dst
}

// CloneMap returns a deep copy of a document map via a JSON round trip.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// CloneRun returns a deep copy of a run record.
func CloneRun(r *Run) *Run {
	if r == nil {
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	var out Run
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return &out
}

// MergeRunDoc applies a document-level deep-merge patch to a typed run
// record, preserving the JSONB merge semantics: the run is serialized,
// merged, and decoded again.
func MergeRunDoc(r *Run, patch map[string]any) (*Run, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	doc = DeepMerge(doc, patch)
	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out Run
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
