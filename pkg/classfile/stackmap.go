package classfile

import "encoding/binary"

// StackMapTable frame type ranges.
const (
	frameSameLocals1Base  = 64
	frameSameLocals1Ext   = 247
	frameChopBase         = 251 // chop k locals: 251-k
	frameSameExt          = 251
	frameAppendBase       = 251 // append k locals: 251+k
	frameFull             = 255
	maxFrameLocalsDelta   = 3
	maxCompactOffsetDelta = 63
)

// mapFrame is a frame at a code offset, in StackMapTable form: locals
// and stack hold one entry per value, with a long or double's second
// slot omitted and trailing Top locals trimmed.
type mapFrame struct {
	offset int
	locals []VType
	stack  []VType
}

func toMapFrame(offset int, f *Frame) mapFrame {
	mf := mapFrame{offset: offset, stack: f.Stack}
	for i := 0; i < len(f.Locals); i++ {
		t := f.Locals[i]
		mf.locals = append(mf.locals, t)
		if t.Wide() {
			i++
		}
	}
	for len(mf.locals) > 0 && mf.locals[len(mf.locals)-1] == topType {
		mf.locals = mf.locals[:len(mf.locals)-1]
	}
	return mf
}

func sameTypes(a, b []VType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type stackMapWriter struct {
	pool     *ConstantPool
	offsetOf map[*Instruction]int
	buf      []byte
}

func (w *stackMapWriter) vtype(t VType) error {
	w.buf = append(w.buf, byte(t.Kind))
	switch t.Kind {
	case VObject:
		w.buf = binary.BigEndian.AppendUint16(w.buf, w.pool.AddClass(t.Class))
	case VUninit:
		off, ok := w.offsetOf[t.New]
		if !ok {
			return unrepresentable("uninitialized value from a removed new instruction")
		}
		w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(off))
	}
	return nil
}

func (w *stackMapWriter) vtypes(ts []VType) error {
	for _, t := range ts {
		if err := w.vtype(t); err != nil {
			return err
		}
	}
	return nil
}

// encodeStackMap returns the body of a StackMapTable attribute for frames
// sorted by offset, choosing the most compact frame type for each.
func encodeStackMap(pool *ConstantPool, initial *Frame, frames []mapFrame, offsetOf map[*Instruction]int) ([]byte, error) {
	w := &stackMapWriter{pool: pool, offsetOf: offsetOf}
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(frames)))

	prev := toMapFrame(-1, initial)
	for i, f := range frames {
		delta := f.offset
		if i > 0 {
			delta = f.offset - prev.offset - 1
		}
		if delta < 0 {
			return nil, unrepresentable("stack map frames out of order at offset %d", f.offset)
		}
		if err := w.frame(prev, f, delta); err != nil {
			return nil, err
		}
		prev = f
	}
	return w.buf, nil
}

func (w *stackMapWriter) frame(prev, f mapFrame, delta int) error {
	nl, pl := len(f.locals), len(prev.locals)
	switch {
	case len(f.stack) == 0 && sameTypes(f.locals, prev.locals):
		if delta <= maxCompactOffsetDelta {
			w.buf = append(w.buf, byte(delta))
		} else {
			w.buf = append(w.buf, frameSameExt)
			w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(delta))
		}
		return nil

	case len(f.stack) == 1 && sameTypes(f.locals, prev.locals):
		if delta <= maxCompactOffsetDelta {
			w.buf = append(w.buf, byte(frameSameLocals1Base+delta))
		} else {
			w.buf = append(w.buf, frameSameLocals1Ext)
			w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(delta))
		}
		return w.vtype(f.stack[0])

	case len(f.stack) == 0 && nl < pl && pl-nl <= maxFrameLocalsDelta && sameTypes(f.locals, prev.locals[:nl]):
		w.buf = append(w.buf, byte(frameChopBase-(pl-nl)))
		w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(delta))
		return nil

	case len(f.stack) == 0 && nl > pl && nl-pl <= maxFrameLocalsDelta && sameTypes(f.locals[:pl], prev.locals):
		w.buf = append(w.buf, byte(frameAppendBase+(nl-pl)))
		w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(delta))
		return w.vtypes(f.locals[pl:])
	}

	w.buf = append(w.buf, frameFull)
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(delta))
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(nl))
	if err := w.vtypes(f.locals); err != nil {
		return err
	}
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(f.stack)))
	return w.vtypes(f.stack)
}
