package model

// School is a row of the read-only `EscuelasTEC` reference table.
type School struct {
    ID   uint64 `json:"id_escuela"`
    Name string `json:"nombre_escuela"`
}
