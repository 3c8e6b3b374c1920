package host

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Decode parses a module from binary data. Modules named in the reference
// section must be supplied in refs; the core library is always available.
// Decoded types are created.
func Decode(data []byte, refs ...*Module) (*Module, error) {
	r := &reader{data: data}

	magic, err := r.operand()
	if err != nil {
		return nil, fmt.Errorf("magic: %w", err)
	}
	if magic != HMAGIC {
		return nil, fmt.Errorf("bad magic: %d", magic)
	}
	version, err := r.operand()
	if err != nil {
		return nil, fmt.Errorf("version: %w", err)
	}
	if version != HVERSION {
		return nil, fmt.Errorf("unsupported version %d", version)
	}
	name, err := r.str()
	if err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	m := &Module{Name: name, index: make(map[string]*Type)}
	mvid, err := r.readBytes(16)
	if err != nil {
		return nil, fmt.Errorf("mvid: %w", err)
	}
	copy(m.MVID[:], mvid)
	flags, err := r.operand()
	if err != nil {
		return nil, fmt.Errorf("flags: %w", err)
	}
	m.Java = flags&1 != 0

	nrefs, err := r.count()
	if err != nil {
		return nil, fmt.Errorf("references: %w", err)
	}
	for i := 0; i < nrefs; i++ {
		rn, err := r.str()
		if err != nil {
			return nil, fmt.Errorf("reference %d: %w", i, err)
		}
		var found *Module
		for _, x := range refs {
			if x.Name == rn {
				found = x
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("unresolved module reference %q", rn)
		}
		m.References = append(m.References, found)
	}
	if m.Attributes, err = r.attrs(); err != nil {
		return nil, fmt.Errorf("module attributes: %w", err)
	}

	d := &decoder{r: r, m: m}
	if err := d.typeHeaders(); err != nil {
		return nil, err
	}
	if err := d.members(); err != nil {
		return nil, err
	}
	if err := d.bodies(); err != nil {
		return nil, err
	}
	for _, t := range m.Types {
		t.created = true
	}
	return m, nil
}

type decoder struct {
	r *reader
	m *Module
}

type typeHeader struct {
	base       string
	interfaces []string
}

func (d *decoder) typeHeaders() error {
	r := d.r
	n, err := r.count()
	if err != nil {
		return fmt.Errorf("type count: %w", err)
	}
	headers := make([]typeHeader, n)
	for i := 0; i < n; i++ {
		name, err := r.str()
		if err != nil {
			return fmt.Errorf("type %d name: %w", i, err)
		}
		outer, err := r.str()
		if err != nil {
			return fmt.Errorf("type %s: %w", name, err)
		}
		attrs, err := r.readWord()
		if err != nil {
			return fmt.Errorf("type %s attrs: %w", name, err)
		}
		t := &Type{Name: name, Attrs: TypeAttributes(attrs), Module: d.m}
		if outer != "" {
			t.DeclaringType = d.m.FindType(outer)
			if t.DeclaringType == nil {
				return fmt.Errorf("type %s: declaring type %s not found", name, outer)
			}
			t.DeclaringType.NestedTypes = append(t.DeclaringType.NestedTypes, t)
		}
		if headers[i].base, err = r.str(); err != nil {
			return fmt.Errorf("type %s base: %w", name, err)
		}
		ni, err := r.count()
		if err != nil {
			return fmt.Errorf("type %s interfaces: %w", name, err)
		}
		for j := 0; j < ni; j++ {
			s, err := r.str()
			if err != nil {
				return fmt.Errorf("type %s interface %d: %w", name, j, err)
			}
			headers[i].interfaces = append(headers[i].interfaces, s)
		}
		if t.Attributes, err = r.attrs(); err != nil {
			return fmt.Errorf("type %s attributes: %w", name, err)
		}
		d.m.addType(t)
	}
	for i, t := range d.m.Types {
		if t.Base, err = d.resolveType(headers[i].base); err != nil {
			return fmt.Errorf("type %s base: %w", t.FullName(), err)
		}
		for _, s := range headers[i].interfaces {
			it, err := d.resolveType(s)
			if err != nil {
				return fmt.Errorf("type %s: %w", t.FullName(), err)
			}
			t.Interfaces = append(t.Interfaces, it)
		}
	}
	return nil
}

type propHeader struct {
	p              *Property
	getter, setter int32
}

func (d *decoder) members() error {
	r := d.r
	for _, t := range d.m.Types {
		nf, err := r.count()
		if err != nil {
			return fmt.Errorf("type %s fields: %w", t.FullName(), err)
		}
		for i := 0; i < nf; i++ {
			f := &Field{DeclaringType: t}
			if f.Name, err = r.str(); err != nil {
				return fmt.Errorf("type %s field %d: %w", t.FullName(), i, err)
			}
			attrs, err := r.readWord()
			if err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
			f.Attrs = FieldAttributes(attrs)
			if f.Type, err = d.typeRef(); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
			if f.Constant, err = r.constant(); err != nil {
				return fmt.Errorf("field %s constant: %w", f.Name, err)
			}
			if f.Attributes, err = r.attrs(); err != nil {
				return fmt.Errorf("field %s attributes: %w", f.Name, err)
			}
			t.Fields = append(t.Fields, f)
		}

		nm, err := r.count()
		if err != nil {
			return fmt.Errorf("type %s methods: %w", t.FullName(), err)
		}
		for i := 0; i < nm; i++ {
			md := &Method{DeclaringType: t}
			if md.Name, err = r.str(); err != nil {
				return fmt.Errorf("type %s method %d: %w", t.FullName(), i, err)
			}
			attrs, err := r.readWord()
			if err != nil {
				return fmt.Errorf("method %s: %w", md.Name, err)
			}
			impl, err := r.readWord()
			if err != nil {
				return fmt.Errorf("method %s: %w", md.Name, err)
			}
			md.Attrs, md.Impl = MethodAttributes(attrs), MethodImplAttributes(impl)
			if md.Return, err = d.typeRef(); err != nil {
				return fmt.Errorf("method %s return: %w", md.Name, err)
			}
			if md.Params, err = d.typeRefs(); err != nil {
				return fmt.Errorf("method %s params: %w", md.Name, err)
			}
			if md.Attributes, err = r.attrs(); err != nil {
				return fmt.Errorf("method %s attributes: %w", md.Name, err)
			}
			np, err := r.count()
			if err != nil {
				return fmt.Errorf("method %s param attributes: %w", md.Name, err)
			}
			for j := 0; j < np; j++ {
				pos, err := r.operand()
				if err != nil {
					return fmt.Errorf("method %s param attributes: %w", md.Name, err)
				}
				list, err := r.attrs()
				if err != nil {
					return fmt.Errorf("method %s param attributes: %w", md.Name, err)
				}
				if md.ParamAttributes == nil {
					md.ParamAttributes = make(map[int][]Attribute)
				}
				md.ParamAttributes[int(pos)] = list
			}
			t.Methods = append(t.Methods, md)
		}

		np, err := r.count()
		if err != nil {
			return fmt.Errorf("type %s properties: %w", t.FullName(), err)
		}
		for i := 0; i < np; i++ {
			var h propHeader
			h.p = &Property{DeclaringType: t}
			if h.p.Name, err = r.str(); err != nil {
				return fmt.Errorf("type %s property %d: %w", t.FullName(), i, err)
			}
			if h.p.Type, err = d.typeRef(); err != nil {
				return fmt.Errorf("property %s: %w", h.p.Name, err)
			}
			if h.getter, err = r.operand(); err != nil {
				return fmt.Errorf("property %s getter: %w", h.p.Name, err)
			}
			if h.setter, err = r.operand(); err != nil {
				return fmt.Errorf("property %s setter: %w", h.p.Name, err)
			}
			if h.p.Attributes, err = r.attrs(); err != nil {
				return fmt.Errorf("property %s attributes: %w", h.p.Name, err)
			}
			h.p.Getter = methodAt(t, h.getter)
			h.p.Setter = methodAt(t, h.setter)
			t.Properties = append(t.Properties, h.p)
		}
	}
	return nil
}

func (d *decoder) bodies() error {
	r := d.r
	for _, t := range d.m.Types {
		for _, md := range t.Methods {
			var err error
			if md.Locals, err = d.typeRefs(); err != nil {
				return fmt.Errorf("method %s locals: %w", md, err)
			}
			n, err := r.count()
			if err != nil {
				return fmt.Errorf("method %s body: %w", md, err)
			}
			if n > 0 {
				md.Body = make([]Inst, n)
			}
			for pc := 0; pc < n; pc++ {
				if md.Body[pc], err = d.inst(); err != nil {
					return fmt.Errorf("method %s IL_%04d: %w", md, pc, err)
				}
			}
		}
		n, err := r.count()
		if err != nil {
			return fmt.Errorf("type %s overrides: %w", t.FullName(), err)
		}
		for i := 0; i < n; i++ {
			idx, err := r.operand()
			if err != nil {
				return fmt.Errorf("type %s override %d: %w", t.FullName(), i, err)
			}
			body := methodAt(t, idx)
			if body == nil {
				return fmt.Errorf("type %s override %d: bad body index %d", t.FullName(), i, idx)
			}
			decl, err := d.methodRef()
			if err != nil {
				return fmt.Errorf("type %s override %d: %w", t.FullName(), i, err)
			}
			t.Overrides = append(t.Overrides, MethodOverride{Body: body, Decl: decl})
		}
	}
	return nil
}

func (d *decoder) inst() (Inst, error) {
	r := d.r
	var inst Inst
	op, err := r.readByte()
	if err != nil {
		return inst, err
	}
	inst.Op = Op(op)
	if inst.Op >= MaxOp {
		return inst, fmt.Errorf("bad opcode %d", op)
	}
	switch inst.Op.Operand() {
	case OperandNone:
	case OperandInt:
		w, err := r.readWord()
		if err != nil {
			return inst, err
		}
		inst.Int = int64(int32(w))
	case OperandLabel:
		v, err := r.operand()
		if err != nil {
			return inst, err
		}
		inst.Int = int64(v)
	case OperandBig:
		if inst.Int, err = r.readBig(); err != nil {
			return inst, err
		}
	case OperandFloat:
		bits, err := r.readBig()
		if err != nil {
			return inst, err
		}
		inst.Float = math.Float64frombits(uint64(bits))
	case OperandString:
		if inst.Str, err = r.str(); err != nil {
			return inst, err
		}
	case OperandMethod:
		if inst.Method, err = d.methodRef(); err != nil {
			return inst, err
		}
	case OperandSig:
		sig := &Method{Name: "calli"}
		if sig.Return, err = d.typeRef(); err != nil {
			return inst, err
		}
		if sig.Params, err = d.typeRefs(); err != nil {
			return inst, err
		}
		static, err := r.readByte()
		if err != nil {
			return inst, err
		}
		if static != 0 {
			sig.Attrs |= MethodStatic
		}
		inst.Method = sig
	case OperandField:
		owner, err := d.typeRef()
		if err != nil {
			return inst, err
		}
		fname, err := r.str()
		if err != nil {
			return inst, err
		}
		if owner == nil {
			return inst, fmt.Errorf("field %s without owner", fname)
		}
		if inst.Field = owner.GetField(fname); inst.Field == nil {
			return inst, fmt.Errorf("field %s::%s not found", owner, fname)
		}
	case OperandType:
		if inst.Type, err = d.typeRef(); err != nil {
			return inst, err
		}
	}
	return inst, nil
}

func (d *decoder) resolveType(name string) (*Type, error) {
	if name == "" {
		return nil, nil
	}
	if t := d.m.Resolve(name); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("unresolved type %s", name)
}

func (d *decoder) typeRef() (*Type, error) {
	s, err := d.r.str()
	if err != nil {
		return nil, err
	}
	return d.resolveType(s)
}

func (d *decoder) typeRefs() ([]*Type, error) {
	n, err := d.r.count()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]*Type, n)
	for i := range out {
		if out[i], err = d.typeRef(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *decoder) methodRef() (*Method, error) {
	owner, err := d.typeRef()
	if err != nil {
		return nil, err
	}
	name, err := d.r.str()
	if err != nil {
		return nil, err
	}
	sig, err := d.r.str()
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, fmt.Errorf("method %s without owner", name)
	}
	m := owner.GetMethodBySig(name, sig)
	if m == nil {
		return nil, fmt.Errorf("method %s::%s%s not found", owner, name, sig)
	}
	return m, nil
}

func methodAt(t *Type, idx int32) *Method {
	if idx < 0 || int(idx) >= len(t.Methods) {
		return nil
	}
	return t.Methods[idx]
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("unexpected EOF at offset %d", r.pos)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, fmt.Errorf("unexpected EOF: need %d bytes at offset %d", n, r.pos)
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+n])
	r.pos += n
	return b, nil
}

// operand decodes a variable-length signed integer written by encodeOperand.
func (r *reader) operand() (int32, error) {
	c, err := r.readByte()
	if err != nil {
		return 0, err
	}
	switch c & 0xC0 {
	case 0x00:
		return int32(c), nil
	case 0x40:
		return int32(c) | ^int32(0x7F), nil
	case 0x80:
		c2, err := r.readByte()
		if err != nil {
			return 0, err
		}
		v := int32(c)
		if c&0x20 != 0 {
			v |= ^int32(0x3F)
		} else {
			v &= 0x3F
		}
		return v<<8 | int32(c2), nil
	default:
		b, err := r.readBytes(3)
		if err != nil {
			return 0, err
		}
		v := int32(c)
		if c&0x20 != 0 {
			v |= ^int32(0x3F)
		} else {
			v &= 0x3F
		}
		return v<<24 | int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2]), nil
	}
}

func (r *reader) count() (int, error) {
	n, err := r.operand()
	if err != nil {
		return 0, err
	}
	if n < 0 || int(n) > len(r.data) {
		return 0, fmt.Errorf("bad count %d at offset %d", n, r.pos)
	}
	return int(n), nil
}

func (r *reader) readWord() (uint32, error) {
	b, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) readBig() (int64, error) {
	b, err := r.readBytes(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *reader) str() (string, error) {
	n, err := r.count()
	if err != nil {
		return "", err
	}
	b, err := r.readBytes(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) attrs() ([]Attribute, error) {
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	var out []Attribute
	for i := 0; i < n; i++ {
		var a Attribute
		if a.Type, err = r.str(); err != nil {
			return nil, err
		}
		na, err := r.count()
		if err != nil {
			return nil, err
		}
		for j := 0; j < na; j++ {
			s, err := r.str()
			if err != nil {
				return nil, err
			}
			a.Args = append(a.Args, s)
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *reader) constant() (any, error) {
	kind, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch kind {
	case constNone:
		return nil, nil
	case constInt32:
		w, err := r.readWord()
		return int32(w), err
	case constInt64:
		return r.readBig()
	case constFloat32:
		w, err := r.readWord()
		return math.Float32frombits(w), err
	case constFloat64:
		v, err := r.readBig()
		return math.Float64frombits(uint64(v)), err
	case constString:
		return r.str()
	}
	return nil, fmt.Errorf("bad constant kind %d", kind)
}
