package report

import (
	"encoding/json"
	"encoding/xml"
	"io"

	"github.com/plcheck/plcheck"
)

// xmlFunction mirrors the structured document shape: a Function element
// holding one Issue per diagnostic.
type xmlFunction struct {
	XMLName xml.Name   `xml:"Function"`
	Name    string     `xml:"name,attr"`
	Issues  []xmlIssue `xml:"Issue"`
}

type xmlIssue struct {
	Level    string    `xml:"Level"`
	Sqlstate string    `xml:"Sqlstate"`
	Message  string    `xml:"Message"`
	Stmt     *xmlStmt  `xml:"Stmt,omitempty"`
	Query    *xmlQuery `xml:"Query,omitempty"`
	Detail   string    `xml:"Detail,omitempty"`
	Hint     string    `xml:"Hint,omitempty"`
	Context  string    `xml:"Context,omitempty"`
}

type xmlStmt struct {
	Lineno int    `xml:"lineno,attr"`
	Text   string `xml:",chardata"`
}

type xmlQuery struct {
	Position int    `xml:"position,attr"`
	Text     string `xml:",chardata"`
}

// WriteXML renders the report as an XML document.
func WriteXML(w io.Writer, r *Report) error {
	doc := xmlFunction{Name: r.Signature}

	for i := range r.Diagnostics {
		d := &r.Diagnostics[i]

		issue := xmlIssue{
			Level:    levelString(d),
			Sqlstate: d.Code,
			Message:  d.Message,
			Detail:   d.Detail,
			Hint:     d.Hint,
			Context:  d.Context,
		}

		if d.Line > 0 {
			text := d.StmtType
			if text == "" {
				text = "DECLARE"
			}

			issue.Stmt = &xmlStmt{Lineno: d.Line, Text: text}
		}

		if d.Query != "" {
			issue.Query = &xmlQuery{Position: d.Position, Text: d.Query}
		}

		doc.Issues = append(doc.Issues, issue)
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	err := enc.Encode(doc)
	if err != nil {
		return err
	}

	_, err = io.WriteString(w, "\n")

	return err
}

// jsonReport is the JSON document shape.
type jsonReport struct {
	Function string      `json:"function"`
	Issues   []jsonIssue `json:"issues"`
}

type jsonIssue struct {
	Level     string     `json:"level"`
	SQLState  string     `json:"sqlState"`
	Message   string     `json:"message"`
	Statement *jsonStmt  `json:"statement,omitempty"`
	Query     *jsonQuery `json:"query,omitempty"`
	Detail    string     `json:"detail,omitempty"`
	Hint      string     `json:"hint,omitempty"`
	Context   string     `json:"context,omitempty"`
}

type jsonStmt struct {
	LineNumber int    `json:"lineNumber"`
	Text       string `json:"text"`
}

type jsonQuery struct {
	Position int    `json:"position"`
	Text     string `json:"text"`
}

// WriteJSON renders the report as a JSON document.
func WriteJSON(w io.Writer, r *Report) error {
	doc := jsonReport{Function: r.Signature, Issues: []jsonIssue{}}

	for i := range r.Diagnostics {
		d := &r.Diagnostics[i]

		issue := jsonIssue{
			Level:    levelString(d),
			SQLState: d.Code,
			Message:  d.Message,
			Detail:   d.Detail,
			Hint:     d.Hint,
			Context:  d.Context,
		}

		if d.Line > 0 {
			text := d.StmtType
			if text == "" {
				text = "DECLARE"
			}

			issue.Statement = &jsonStmt{LineNumber: d.Line, Text: text}
		}

		if d.Query != "" {
			issue.Query = &jsonQuery{Position: d.Position, Text: d.Query}
		}

		doc.Issues = append(doc.Issues, issue)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(doc)
}

// Write renders the report in the requested format.
func Write(w io.Writer, r *Report, format plcheck.Format) error {
	switch format {
	case plcheck.FormatXML:
		return WriteXML(w, r)
	case plcheck.FormatJSON:
		return WriteJSON(w, r)
	default:
		return WriteText(w, r)
	}
}
