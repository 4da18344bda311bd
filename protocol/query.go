package protocol

import "fmt"

// Query is the frontend simple-query-protocol message type.
const Query = 'Q'

// MaxQueryLength bounds the SQL text this engine will send in a single
// Query message. message.c built its outbound query frame in a fixed
// 1024-byte stack buffer with no length check; rather than reproduce
// that overflow risk, oversize queries are rejected with a clear error
// instead of truncated or overrun.
const MaxQueryLength = 1024

// ReadyForQuery is the fixed frame the backend sends once a query cycle
// is finished and it is ready for the next. 'I' marks "idle" — this
// engine never opens multi-statement transactions of its own.
var ReadyForQuery = Message{'Z', 0, 0, 0, 5, 'I'}

// QueryMessage builds the simple-query-protocol request frame.
func QueryMessage(sql string) (Message, error) {
	if len(sql) > MaxQueryLength {
		return nil, fmt.Errorf("query text of %d bytes exceeds the %d byte limit", len(sql), MaxQueryLength)
	}
	w := NewWriter()
	w.CString(sql)
	return newMessage(Query, w.Bytes()), nil
}

// QueryText extracts the SQL string from a Query message.
func (m Message) QueryText() (string, error) {
	if m.Kind() != Query {
		return "", fmt.Errorf("not a query message: %q", m.Kind())
	}
	r := NewReader(m)
	r.Skip(5)
	return r.CString(), nil
}

// Column describes one field of a RowDescription.
type Column struct {
	Name string
	OID  int32
}

// RowDescription builds a 'T' frame announcing the shape of the DataRow
// messages that follow.
func RowDescription(cols []Column) Message {
	w := NewWriter()
	w.Int16(int16(len(cols)))
	for _, c := range cols {
		w.CString(c.Name)
		w.Int32(0) // table OID, unknown
		w.Int16(0) // column attribute number, unknown
		w.Int32(c.OID)
		w.Int16(-1) // type size, variable
		w.Int32(-1) // type modifier, none
		w.Int16(0)  // format code: text
	}
	return newMessage('T', w.Bytes())
}

// Columns parses the field names (and OIDs) out of a RowDescription
// frame.
func (m Message) Columns() ([]Column, error) {
	if m.Kind() != 'T' {
		return nil, fmt.Errorf("not a row description: %q", m.Kind())
	}
	r := NewReader(m)
	r.Skip(5)
	n := int(r.Uint16())
	cols := make([]Column, n)
	for i := 0; i < n; i++ {
		cols[i].Name = r.CString()
		r.Skip(6) // table OID + column attribute number
		cols[i].OID = r.Int32()
		r.Skip(8) // type size + type modifier + format code
	}
	return cols, nil
}

// DataRow builds a 'D' frame for one row of values. A nil entry encodes
// SQL NULL (length -1); any other entry is sent as text.
func DataRow(vals []*string) Message {
	w := NewWriter()
	w.Int16(int16(len(vals)))
	for _, v := range vals {
		if v == nil {
			w.Int32(-1)
			continue
		}
		w.Int32(int32(len(*v)))
		w.Raw([]byte(*v))
	}
	return newMessage('D', w.Bytes())
}

// Values decodes a DataRow frame into a slice of string pointers, nil
// for SQL NULL.
func (m Message) Values() ([]*string, error) {
	if m.Kind() != 'D' {
		return nil, fmt.Errorf("not a data row: %q", m.Kind())
	}
	r := NewReader(m)
	r.Skip(5)
	n := int(r.Uint16())
	vals := make([]*string, n)
	for i := 0; i < n; i++ {
		l := r.Int32()
		if l < 0 {
			continue
		}
		s := string(r.Bytes(int(l)))
		vals[i] = &s
	}
	return vals, nil
}

// CommandComplete builds a 'C' frame carrying the command tag (e.g.
// "SELECT 3").
func CommandComplete(tag string) Message {
	w := NewWriter()
	w.CString(tag)
	return newMessage('C', w.Bytes())
}

// CommandTag extracts the tag from a CommandComplete frame.
func (m Message) CommandTag() (string, error) {
	if m.Kind() != 'C' {
		return "", fmt.Errorf("not a command complete: %q", m.Kind())
	}
	r := NewReader(m)
	r.Skip(5)
	return r.CString(), nil
}
