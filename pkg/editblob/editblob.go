// Package editblob decodes the catalog's serialized edit-operation blobs.
// Each blob is a keyed archive: a flat "$objects" array holding every value,
// a "$top" entry naming the root, and UID references knitting the graph
// together. Dictionaries inside the archive are split into parallel key and
// object arrays, so the graph has to be de-referenced before any field can
// be read. Fields are located by their tag names, never by array position.
package editblob

import (
	"bytes"
	"fmt"

	"howett.net/plist"
)

// Field tags the decoder looks for inside a de-referenced adjustment graph.
const (
	tagXOrigin  = "inputXOrigin"
	tagYOrigin  = "inputYOrigin"
	tagWidth    = "inputWidth"
	tagHeight   = "inputHeight"
	tagRotation = "inputRotation"
)

// Adjustment operation names as the catalog records them.
const (
	OpCrop       = "RKCropOperation"
	OpStraighten = "RKStraightenOperation"
)

// Operation is one decoded edit operation.
type Operation interface {
	OpName() string
}

// Crop is a crop adjustment. Offsets and extents are in the master's pixel
// units as recorded by the editor.
type Crop struct {
	X float64
	Y float64
	W float64
	H float64
}

func (Crop) OpName() string { return OpCrop }

// Straighten is a rotation fine-adjustment in degrees.
type Straighten struct {
	Angle float64
}

func (Straighten) OpName() string { return OpStraighten }

// Other is any operation whose region effect is unknown or whose blob
// lacked the expected tags. It is treated as a no-op by consumers.
type Other struct {
	Name string
}

func (o Other) OpName() string { return o.Name }

// archive is the raw shape of a keyed-archive plist.
type archive struct {
	Objects []interface{}        `plist:"$objects"`
	Top     map[string]plist.UID `plist:"$top"`
}

// Decode parses one adjustment blob. The operation name comes from the
// catalog row; the blob only supplies field values. A blob that cannot be
// parsed or lacks the expected tags decodes to Other, never to an error:
// the caller treats unknown adjustments as no-ops.
func Decode(name string, data []byte) Operation {
	fields, err := Fields(data)
	if err != nil {
		return Other{Name: name}
	}

	switch name {
	case OpCrop:
		x, okX := fields[tagXOrigin]
		y, okY := fields[tagYOrigin]
		w, okW := fields[tagWidth]
		h, okH := fields[tagHeight]
		if !okX || !okY || !okW || !okH {
			return Other{Name: name}
		}
		return Crop{X: x, Y: y, W: w, H: h}
	case OpStraighten:
		angle, ok := fields[tagRotation]
		if !ok {
			return Other{Name: name}
		}
		return Straighten{Angle: angle}
	default:
		return Other{Name: name}
	}
}

// Fields de-references the blob's object graph and collects every numeric
// value reachable under a known field tag.
func Fields(data []byte) (map[string]float64, error) {
	var a archive
	if _, err := plist.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal archive: %w", err)
	}

	root, ok := a.Top["root"]
	if !ok {
		return nil, fmt.Errorf("archive has no root object")
	}

	d := dereferencer{objects: a.Objects, seen: map[uint64]bool{}}
	graph := d.resolve(plist.UID(root))

	fields := map[string]float64{}
	collect(graph, fields)
	return fields, nil
}

// dereferencer materializes the archive's UID-linked graph into plain maps
// and slices. Cycles are cut by returning nil for a UID already on the
// resolution path.
type dereferencer struct {
	objects []interface{}
	seen    map[uint64]bool
}

func (d *dereferencer) resolve(v interface{}) interface{} {
	switch t := v.(type) {
	case plist.UID:
		id := uint64(t)
		if id >= uint64(len(d.objects)) || d.seen[id] {
			return nil
		}
		d.seen[id] = true
		out := d.resolve(d.objects[id])
		delete(d.seen, id)
		return out
	case map[string]interface{}:
		return d.resolveDict(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = d.resolve(e)
		}
		return out
	default:
		return v
	}
}

// resolveDict materializes one archived dictionary. Archived dictionaries
// carry their entries as parallel "NS.keys"/"NS.objects" arrays; plain
// dictionaries are resolved value by value.
func (d *dereferencer) resolveDict(m map[string]interface{}) interface{} {
	keys, hasKeys := m["NS.keys"].([]interface{})
	vals, hasVals := m["NS.objects"].([]interface{})
	if hasKeys && hasVals && len(keys) == len(vals) {
		out := make(map[string]interface{}, len(keys))
		for i := range keys {
			k, ok := d.resolve(keys[i]).(string)
			if !ok {
				continue
			}
			out[k] = d.resolve(vals[i])
		}
		return out
	}

	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = d.resolve(v)
	}
	return out
}

// collect walks a materialized graph and records numeric values stored
// under known tag names.
func collect(v interface{}, fields map[string]float64) {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, e := range t {
			if n, ok := number(e); ok && knownTag(k) {
				fields[k] = n
				continue
			}
			collect(e, fields)
		}
	case []interface{}:
		for _, e := range t {
			collect(e, fields)
		}
	}
}

func knownTag(k string) bool {
	switch k {
	case tagXOrigin, tagYOrigin, tagWidth, tagHeight, tagRotation:
		return true
	}
	return false
}

func number(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	}
	return 0, false
}

// Marshal is the test-support inverse of Fields: it builds a minimal keyed
// archive holding the given tag map.
func Marshal(fields map[string]interface{}) ([]byte, error) {
	objects := []interface{}{"$null"}
	keys := []interface{}{}
	vals := []interface{}{}
	for k, v := range fields {
		objects = append(objects, k)
		keys = append(keys, plist.UID(len(objects)-1))
		objects = append(objects, v)
		vals = append(vals, plist.UID(len(objects)-1))
	}
	objects = append(objects, map[string]interface{}{"NS.keys": keys, "NS.objects": vals})

	a := map[string]interface{}{
		"$version": 100000,
		"$objects": objects,
		"$top":     map[string]interface{}{"root": plist.UID(len(objects) - 1)},
	}

	var buf bytes.Buffer
	enc := plist.NewEncoderForFormat(&buf, plist.BinaryFormat)
	if err := enc.Encode(a); err != nil {
		return nil, fmt.Errorf("encode archive: %w", err)
	}
	return buf.Bytes(), nil
}
