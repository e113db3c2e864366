package nlq

// ShapeResult labels the payload so the frontend can render a big number for
// scalars and a table otherwise.
func ShapeResult(columns []string, rows []map[string]any) map[string]any {
	out := map[string]any{
		"columns": columns,
		"rows":    rows,
	}
	if len(rows) == 1 && len(columns) == 1 {
		out["value"] = rows[0][columns[0]]
		out["kind"] = "scalar"
		return out
	}
	out["kind"] = "table"
	return out
}
