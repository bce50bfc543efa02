package protocol

import (
	"bytes"
	"math"
)

// Kind is the one-byte type tag of a field on the wire
type Kind uint8

const (
	KindMap  Kind = 1
	KindS64  Kind = 2
	KindStr  Kind = 3
	KindBin  Kind = 4
	KindList Kind = 5
)

// known reports whether k is a type this package decodes
func (k Kind) known() bool {
	return k >= KindMap && k <= KindList
}

func (k Kind) String() string {
	switch k {
	case KindMap:
		return "map"
	case KindS64:
		return "s64"
	case KindStr:
		return "str"
	case KindBin:
		return "bin"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is one of S64, Str, Bin, List or *Message.
type Value interface {
	Kind() Kind
	sealed()
}

// S64 is a signed integer. HTSP has no unsigned type; ids and counts travel as S64.
type S64 int64

// Str is a UTF-8 string
type Str string

// Bin is an opaque byte string
type Bin []byte

// List is an ordered sequence of values. Its elements are nameless on the wire.
type List []Value

func (S64) Kind() Kind      { return KindS64 }
func (Str) Kind() Kind      { return KindStr }
func (Bin) Kind() Kind      { return KindBin }
func (List) Kind() Kind     { return KindList }
func (*Message) Kind() Kind { return KindMap }

func (S64) sealed()      {}
func (Str) sealed()      {}
func (Bin) sealed()      {}
func (List) sealed()     {}
func (*Message) sealed() {}

// Field is a named value inside a Message
type Field struct {
	Name  string
	Value Value
}

// Message is an ordered map of uniquely named fields.
type Message struct {
	fields []Field
}

// NewMessage returns an empty message
func NewMessage() *Message {
	return &Message{}
}

// NewRequest returns a message with its method field set
func NewRequest(method string) *Message {
	return NewMessage().SetStr("method", method)
}

// Set stores v under name. An existing field keeps its position and gets the
// new value; a nil value removes the field.
func (m *Message) Set(name string, v Value) *Message {
	for i := range m.fields {
		if m.fields[i].Name != name {
			continue
		}
		if v == nil {
			m.fields = append(m.fields[:i], m.fields[i+1:]...)
		} else {
			m.fields[i].Value = v
		}
		return m
	}
	if v != nil {
		m.fields = append(m.fields, Field{Name: name, Value: v})
	}
	return m
}

func (m *Message) SetStr(name, v string) *Message { return m.Set(name, Str(v)) }
func (m *Message) SetS64(name string, v int64) *Message {
	return m.Set(name, S64(v))
}
func (m *Message) SetUint32(name string, v uint32) *Message {
	return m.Set(name, S64(v))
}

// SetBin stores a copy of b
func (m *Message) SetBin(name string, b []byte) *Message {
	return m.Set(name, Bin(bytes.Clone(b)))
}

// Get returns the value stored under name
func (m *Message) Get(name string) (Value, bool) {
	if m == nil {
		return nil, false
	}
	for _, f := range m.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Has reports whether a field named name exists, whatever its type
func (m *Message) Has(name string) bool {
	_, ok := m.Get(name)
	return ok
}

// Str returns the string field name, or "" if it is missing or not a string
func (m *Message) Str(name string) string {
	v, _ := m.Get(name)
	s, _ := v.(Str)
	return string(s)
}

// Bin returns the binary field name, or nil
func (m *Message) Bin(name string) []byte {
	v, _ := m.Get(name)
	b, _ := v.(Bin)
	return []byte(b)
}

// S64 returns the integer field name
func (m *Message) S64(name string) (int64, bool) {
	v, _ := m.Get(name)
	i, ok := v.(S64)
	return int64(i), ok
}

// Uint32 returns the integer field name if it fits in 32 unsigned bits
func (m *Message) Uint32(name string) (uint32, bool) {
	i, ok := m.S64(name)
	if !ok || i < 0 || i > math.MaxUint32 {
		return 0, false
	}
	return uint32(i), true
}

// Map returns the nested message name, or nil
func (m *Message) Map(name string) *Message {
	v, _ := m.Get(name)
	sub, _ := v.(*Message)
	return sub
}

// List returns the list field name, or nil
func (m *Message) List(name string) List {
	v, _ := m.Get(name)
	l, _ := v.(List)
	return l
}

// Method returns the method field; replies carry none.
func (m *Message) Method() string {
	return m.Str("method")
}

// Len returns the number of fields
func (m *Message) Len() int {
	if m == nil {
		return 0
	}
	return len(m.fields)
}

// Fields returns a copy of the fields in wire order
func (m *Message) Fields() []Field {
	if m == nil {
		return nil
	}
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// Equal reports whether both messages hold the same fields in the same order.
// A nil message equals an empty one, as does a nil Bin an empty Bin.
func (m *Message) Equal(o *Message) bool {
	if m.Len() != o.Len() {
		return false
	}
	for i := 0; i < m.Len(); i++ {
		a, b := m.fields[i], o.fields[i]
		if a.Name != b.Name || !valueEqual(a.Value, b.Value) {
			return false
		}
	}
	return true
}

func valueEqual(a, b Value) bool {
	switch av := a.(type) {
	case S64:
		bv, ok := b.(S64)
		return ok && av == bv
	case Str:
		bv, ok := b.(Str)
		return ok && av == bv
	case Bin:
		bv, ok := b.(Bin)
		return ok && bytes.Equal(av, bv)
	case *Message:
		bv, ok := b.(*Message)
		return ok && av.Equal(bv)
	case List:
		bv, ok := b.(List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
