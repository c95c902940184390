package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindGPS
	KindMedia
	KindList
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindGPS:
		return "gps"
	case KindMedia:
		return "media"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ReservedPrefix marks keys in a submission payload that belong to the system
// rather than to a form field.
const ReservedPrefix = "_"

// GPSKey is the reserved payload key carrying the device location.
const GPSKey = "_gps"

type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

func (t MediaType) Valid() bool {
	return t == MediaPhoto || t == MediaVideo || t == MediaAudio
}

// GPSPoint is an object carrying numeric latitude and longitude.
type GPSPoint struct {
	Latitude  float64
	Longitude float64
	Accuracy  *float64
	Extra     map[string]Value
}

// MediaDescriptor references a captured photo, video or audio clip.
type MediaDescriptor struct {
	Type     MediaType
	URL      string
	MimeType string
	Extra    map[string]Value
}

// Value is a single submitted field value. The zero Value is null.
type Value struct {
	kind  Kind
	str   string
	num   float64
	i     int64
	isInt bool
	b     bool
	gps   *GPSPoint
	media *MediaDescriptor
	list  []Value
	obj   map[string]Value
}

func Null() Value                 { return Value{} }
func StringValue(s string) Value  { return Value{kind: KindString, str: s} }
func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }
func BoolValue(b bool) Value      { return Value{kind: KindBool, b: b} }

// IntValue holds an integer exactly; AsNumber still reports it as float64.
func IntValue(n int64) Value {
	return Value{kind: KindNumber, num: float64(n), i: n, isInt: true}
}

func GPSValue(p GPSPoint) Value {
	return Value{kind: KindGPS, gps: &p}
}

func MediaValue(m MediaDescriptor) Value {
	return Value{kind: KindMedia, media: &m}
}

func ListValue(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

func ObjectValue(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindObject, obj: m}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsString() (string, bool)  { return v.str, v.kind == KindString }
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }
func (v Value) AsBool() (bool, bool)      { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)      { return v.i, v.kind == KindNumber && v.isInt }

func (v Value) AsGPS() (*GPSPoint, bool) {
	return v.gps, v.kind == KindGPS && v.gps != nil
}

func (v Value) AsMedia() (*MediaDescriptor, bool) {
	return v.media, v.kind == KindMedia && v.media != nil
}

func (v Value) AsList() ([]Value, bool)           { return v.list, v.kind == KindList }
func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// IsEmpty reports whether the value counts as missing for a required field:
// null, the empty string, or a zero-length list or object.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == ""
	case KindList:
		return len(v.list) == 0
	case KindObject:
		return len(v.obj) == 0
	}
	return false
}

// FromAny converts a decoded JSON or BSON value into a Value.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case float64:
		return NumberValue(t)
	case float32:
		return NumberValue(float64(t))
	case int:
		return IntValue(int64(t))
	case int32:
		return IntValue(int64(t))
	case int64:
		return IntValue(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return IntValue(n)
		}
		f, err := t.Float64()
		if err != nil {
			return StringValue(t.String())
		}
		return NumberValue(f)
	case primitive.DateTime:
		return StringValue(t.Time().UTC().Format(time.RFC3339Nano))
	case time.Time:
		return StringValue(t.UTC().Format(time.RFC3339Nano))
	case map[string]any:
		return fromMap(t)
	case primitive.M:
		return fromMap(map[string]any(t))
	case primitive.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = e.Value
		}
		return fromMap(m)
	case []any:
		items := make([]Value, len(t))
		for i, it := range t {
			items[i] = FromAny(it)
		}
		return ListValue(items...)
	case primitive.A:
		return FromAny([]any(t))
	}
	return StringValue(fmt.Sprint(x))
}

func fromMap(m map[string]any) Value {
	if typ, ok := m["type"].(string); ok && MediaType(typ).Valid() {
		d := MediaDescriptor{Type: MediaType(typ)}
		rest := map[string]Value{}
		for k, raw := range m {
			switch k {
			case "type":
			case "url":
				if s, ok := raw.(string); ok {
					d.URL = s
					continue
				}
				rest[k] = FromAny(raw)
			case "mime_type":
				if s, ok := raw.(string); ok {
					d.MimeType = s
					continue
				}
				rest[k] = FromAny(raw)
			default:
				rest[k] = FromAny(raw)
			}
		}
		if len(rest) > 0 {
			d.Extra = rest
		}
		return MediaValue(d)
	}

	lat, latOK := FromAny(m["latitude"]).AsNumber()
	lng, lngOK := FromAny(m["longitude"]).AsNumber()
	if latOK && lngOK {
		p := GPSPoint{Latitude: lat, Longitude: lng}
		rest := map[string]Value{}
		for k, raw := range m {
			switch k {
			case "latitude", "longitude":
			case "accuracy":
				if acc, ok := FromAny(raw).AsNumber(); ok {
					p.Accuracy = &acc
					continue
				}
				rest[k] = FromAny(raw)
			default:
				rest[k] = FromAny(raw)
			}
		}
		if len(rest) > 0 {
			p.Extra = rest
		}
		return GPSValue(p)
	}

	obj := make(map[string]Value, len(m))
	for k, raw := range m {
		obj[k] = FromAny(raw)
	}
	return ObjectValue(obj)
}

// ToAny converts the value back to plain Go types, restoring the shape it
// was decoded from.
func (v Value) ToAny() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		if v.isInt {
			return v.i
		}
		return v.num
	case KindBool:
		return v.b
	case KindGPS:
		m := extraToAny(v.gps.Extra)
		m["latitude"] = v.gps.Latitude
		m["longitude"] = v.gps.Longitude
		if v.gps.Accuracy != nil {
			m["accuracy"] = *v.gps.Accuracy
		}
		return m
	case KindMedia:
		m := extraToAny(v.media.Extra)
		m["type"] = string(v.media.Type)
		if v.media.URL != "" {
			m["url"] = v.media.URL
		}
		if v.media.MimeType != "" {
			m["mime_type"] = v.media.MimeType
		}
		return m
	case KindList:
		out := make([]any, len(v.list))
		for i, it := range v.list {
			out[i] = it.ToAny()
		}
		return out
	case KindObject:
		return extraToAny(v.obj)
	}
	return nil
}

func extraToAny(m map[string]Value) map[string]any {
	out := make(map[string]any, len(m)+3)
	for k, v := range m {
		out[k] = v.ToAny()
	}
	return out
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

func (v *Value) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return err
	}
	*v = FromAny(x)
	return nil
}

func (v Value) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if v.kind == KindNull {
		return bsontype.Null, nil, nil
	}
	return bson.MarshalValue(v.ToAny())
}

func (v *Value) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	var x any
	if err := (bson.RawValue{Type: t, Value: data}).Unmarshal(&x); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	*v = FromAny(x)
	return nil
}

// Data is a submission payload keyed by field name.
type Data map[string]Value

// DataFromMap converts a plain decoded map.
func DataFromMap(m map[string]any) Data {
	d := make(Data, len(m))
	for k, v := range m {
		d[k] = FromAny(v)
	}
	return d
}

// GPS returns the device location carried under the reserved _gps key. A
// missing or malformed entry yields false.
func (d Data) GPS() (*GPSPoint, bool) {
	v, ok := d[GPSKey]
	if !ok {
		return nil, false
	}
	return v.AsGPS()
}

// MediaField pairs a payload key with the media descriptor stored there.
type MediaField struct {
	Field string
	Media MediaDescriptor
}

// MediaFields lists media descriptors in key order.
func (d Data) MediaFields() []MediaField {
	var out []MediaField
	for k, v := range d {
		if m, ok := v.AsMedia(); ok {
			out = append(out, MediaField{Field: k, Media: *m})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

func (d Data) HasMedia() bool {
	for _, v := range d {
		if v.kind == KindMedia {
			return true
		}
	}
	return false
}

// IsReservedKey reports whether key lives in the system namespace.
func IsReservedKey(key string) bool {
	return strings.HasPrefix(key, ReservedPrefix)
}
