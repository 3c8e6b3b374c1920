package host

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Encode writes the module to w in the host binary format.
//
// Layout: header (magic, version, name, MVID, flags), references, module
// attributes, type headers, member signatures, then method bodies and
// overrides. Types, methods and fields are referenced by name, so every
// section only depends on the ones before it.
func (m *Module) Encode(w io.Writer) error {
	var buf bytes.Buffer
	e := &encoder{buf: &buf}

	encodeOperand(&buf, HMAGIC)
	encodeOperand(&buf, HVERSION)
	e.str(m.Name)
	buf.Write(m.MVID[:])
	var flags int32
	if m.Java {
		flags |= 1
	}
	encodeOperand(&buf, flags)

	encodeOperand(&buf, int32(len(m.References)))
	for _, r := range m.References {
		e.str(r.Name)
	}
	e.attrs(m.Attributes)

	// Type headers
	encodeOperand(&buf, int32(len(m.Types)))
	for _, t := range m.Types {
		e.str(t.Name)
		if t.DeclaringType != nil {
			e.str(t.DeclaringType.FullName())
		} else {
			e.str("")
		}
		encodeWord(&buf, uint32(t.Attrs))
		e.typeRef(t.Base)
		encodeOperand(&buf, int32(len(t.Interfaces)))
		for _, i := range t.Interfaces {
			e.typeRef(i)
		}
		e.attrs(t.Attributes)
	}

	// Member signatures
	for _, t := range m.Types {
		encodeOperand(&buf, int32(len(t.Fields)))
		for _, f := range t.Fields {
			e.str(f.Name)
			encodeWord(&buf, uint32(f.Attrs))
			e.typeRef(f.Type)
			if err := e.constant(f.Constant); err != nil {
				return fmt.Errorf("field %s: %w", f, err)
			}
			e.attrs(f.Attributes)
		}
		encodeOperand(&buf, int32(len(t.Methods)))
		for _, md := range t.Methods {
			e.str(md.Name)
			encodeWord(&buf, uint32(md.Attrs))
			encodeWord(&buf, uint32(md.Impl))
			e.typeRef(md.Return)
			e.typeRefs(md.Params)
			e.attrs(md.Attributes)
			encodeOperand(&buf, int32(len(md.ParamAttributes)))
			for pos := 0; pos <= len(md.Params); pos++ {
				if list, ok := md.ParamAttributes[pos]; ok {
					encodeOperand(&buf, int32(pos))
					e.attrs(list)
				}
			}
		}
		encodeOperand(&buf, int32(len(t.Properties)))
		for _, p := range t.Properties {
			e.str(p.Name)
			e.typeRef(p.Type)
			encodeOperand(&buf, int32(methodIndex(t, p.Getter)))
			encodeOperand(&buf, int32(methodIndex(t, p.Setter)))
			e.attrs(p.Attributes)
		}
	}

	// Bodies and overrides
	for _, t := range m.Types {
		for _, md := range t.Methods {
			body := md.Body
			locals := md.Locals
			if md.il != nil {
				insts, err := md.il.resolve()
				if err != nil {
					return fmt.Errorf("method %s: %w", md, err)
				}
				body, locals = insts, md.il.locals
			}
			e.typeRefs(locals)
			encodeOperand(&buf, int32(len(body)))
			for _, inst := range body {
				if err := e.inst(inst); err != nil {
					return fmt.Errorf("method %s: %w", md, err)
				}
			}
		}
		encodeOperand(&buf, int32(len(t.Overrides)))
		for _, ov := range t.Overrides {
			encodeOperand(&buf, int32(methodIndex(t, ov.Body)))
			e.methodRef(ov.Decl)
		}
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// EncodeToBytes returns the encoded module.
func (m *Module) EncodeToBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type encoder struct {
	buf *bytes.Buffer
}

func (e *encoder) str(s string) {
	encodeOperand(e.buf, int32(len(s)))
	e.buf.WriteString(s)
}

func (e *encoder) typeRef(t *Type) {
	if t == nil {
		e.str("")
		return
	}
	e.str(t.FullName())
}

func (e *encoder) typeRefs(list []*Type) {
	encodeOperand(e.buf, int32(len(list)))
	for _, t := range list {
		e.typeRef(t)
	}
}

func (e *encoder) methodRef(m *Method) {
	e.typeRef(m.DeclaringType)
	e.str(m.Name)
	e.str(m.Sig())
}

func (e *encoder) attrs(list []Attribute) {
	encodeOperand(e.buf, int32(len(list)))
	for _, a := range list {
		e.str(a.Type)
		encodeOperand(e.buf, int32(len(a.Args)))
		for _, s := range a.Args {
			e.str(s)
		}
	}
}

func (e *encoder) constant(v any) error {
	switch c := v.(type) {
	case nil:
		e.buf.WriteByte(constNone)
	case int32:
		e.buf.WriteByte(constInt32)
		encodeWord(e.buf, uint32(c))
	case int64:
		e.buf.WriteByte(constInt64)
		encodeBig(e.buf, c)
	case float32:
		e.buf.WriteByte(constFloat32)
		encodeWord(e.buf, math.Float32bits(c))
	case float64:
		e.buf.WriteByte(constFloat64)
		encodeBig(e.buf, int64(math.Float64bits(c)))
	case string:
		e.buf.WriteByte(constString)
		e.str(c)
	default:
		return fmt.Errorf("unsupported constant %T", v)
	}
	return nil
}

func (e *encoder) inst(i Inst) error {
	e.buf.WriteByte(byte(i.Op))
	switch i.Op.Operand() {
	case OperandNone:
	case OperandInt:
		if i.Int < math.MinInt32 || i.Int > math.MaxInt32 {
			return fmt.Errorf("%s operand %d out of range", i.Op, i.Int)
		}
		encodeWord(e.buf, uint32(int32(i.Int)))
	case OperandLabel:
		encodeOperand(e.buf, int32(i.Int))
	case OperandBig:
		encodeBig(e.buf, i.Int)
	case OperandFloat:
		encodeBig(e.buf, int64(math.Float64bits(i.Float)))
	case OperandString:
		e.str(i.Str)
	case OperandMethod:
		e.methodRef(i.Method)
	case OperandSig:
		e.typeRef(i.Method.Return)
		e.typeRefs(i.Method.Params)
		if i.Method.IsStatic() {
			e.buf.WriteByte(1)
		} else {
			e.buf.WriteByte(0)
		}
	case OperandField:
		e.typeRef(i.Field.DeclaringType)
		e.str(i.Field.Name)
	case OperandType:
		e.typeRef(i.Type)
	}
	return nil
}

func methodIndex(t *Type, m *Method) int {
	if m == nil {
		return -1
	}
	for i, x := range t.Methods {
		if x == m {
			return i
		}
	}
	return -1
}

// encodeOperand writes a variable-length encoded signed integer.
//
//	[-64, 63]         → 1 byte  (bits 7-6 = 00 or 01)
//	[-8192, 8191]     → 2 bytes (bits 7-6 = 10)
//	[-2^29, 2^29 - 1] → 4 bytes (bits 7-6 = 11)
func encodeOperand(buf *bytes.Buffer, val int32) {
	if val >= -64 && val <= 63 {
		buf.WriteByte(byte(val) &^ 0x80)
		return
	}
	if val >= -8192 && val <= 8191 {
		buf.WriteByte(byte(val>>8)&^0xC0 | 0x80)
		buf.WriteByte(byte(val))
		return
	}
	buf.WriteByte(byte(val>>24) | 0xC0)
	buf.WriteByte(byte(val >> 16))
	buf.WriteByte(byte(val >> 8))
	buf.WriteByte(byte(val))
}

// encodeWord writes a 32-bit big-endian word.
func encodeWord(buf *bytes.Buffer, val uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], val)
	buf.Write(b[:])
}

// encodeBig writes a 64-bit big-endian value.
func encodeBig(buf *bytes.Buffer, val int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(val))
	buf.Write(b[:])
}
