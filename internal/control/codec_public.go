package control

// Encoder builds a request payload using the same little-endian wire
// primitives the server decodes with. Exported for cmd/nat64ctl, which
// has no other way to construct ADD/REMOVE/DISPLAY-cursor payloads.
type Encoder struct{ w byteWriter }

func NewEncoder() *Encoder                  { return &Encoder{} }
func (e *Encoder) U8(v uint8)                { e.w.u8(v) }
func (e *Encoder) Bool(v bool)               { e.w.bool(v) }
func (e *Encoder) U16(v uint16)              { e.w.u16(v) }
func (e *Encoder) U32(v uint32)              { e.w.u32(v) }
func (e *Encoder) U64(v uint64)              { e.w.u64(v) }
func (e *Encoder) Str(s string)              { e.w.str(s) }
func (e *Encoder) Bytes() []byte             { return e.w.bytes() }

// Decoder reads a response payload using the same little-endian wire
// primitives the server encodes with.
type Decoder struct{ r *byteReader }

func NewDecoder(payload []byte) *Decoder { return &Decoder{r: newByteReader(payload)} }

func (d *Decoder) U8() (uint8, error)    { return d.r.u8() }
func (d *Decoder) Bool() (bool, error)   { return d.r.boolean() }
func (d *Decoder) U16() (uint16, error)  { return d.r.u16() }
func (d *Decoder) U32() (uint32, error)  { return d.r.u32() }
func (d *Decoder) U64() (uint64, error)  { return d.r.u64() }
func (d *Decoder) Str() (string, error)  { return d.r.str() }
