// Package schema defines the declared shape of a target table: the columns
// a batch must carry, their types, and their nullability. A Schema is
// immutable once published; changing anything about it means publishing a
// new Schema with a higher ID.
package schema

// Field declares a single column of a target table.
type Field struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"` // "int" | "float" | "text" | "bool" | "date" | "datetime"
	Required bool     `json:"required,omitempty"`
	Nullable bool     `json:"nullable,omitempty"`
	Enum     []string `json:"enum,omitempty"`
	Layout   string   `json:"layout,omitempty"` // date layout override for this field
	Truthy   []string `json:"truthy,omitempty"` // bool parsing
	Falsy    []string `json:"falsy,omitempty"`
}

// Schema is the published contract for one table. ID is monotonically
// increasing per table; schema evolution publishes a new ID rather than
// editing an existing one.
type Schema struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`

	// HeaderMap maps original source header -> canonical field name.
	// Example: { "Customer ID": "customer_id", "StockCode": "stock_code" }
	HeaderMap map[string]string `json:"header_map,omitempty"`
}

// Field returns the declared field with the given name, or nil.
func (s Schema) Field(name string) *Field {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// Columns returns the declared column names in declaration order.
func (s Schema) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
	}
	return cols
}
