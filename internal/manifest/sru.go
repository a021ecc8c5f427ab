package manifest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/iiifstudio/backend/internal/resolver"
)

// dcFields collects the Dublin Core elements of one SRU record
type dcFields struct {
	title       string
	author      string
	date        string
	description []string
	publisher   string
	language    string
	identifiers []string
}

// ParseSRU parses a Gallica SRU (Search/Retrieve via URL) Dublin Core
// XML response into Records. Records whose identifiers cannot be
// validated through the given resolver are skipped, not emitted.
func ParseSRU(xmlBytes []byte, res resolver.Resolver) ([]Record, error) {
	decoder := xml.NewDecoder(bytes.NewReader(xmlBytes))

	var results []Record
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "record" {
			continue
		}

		fields, err := parseDCRecord(decoder, start)
		if err != nil {
			continue
		}
		if rec := recordFromDC(fields, res); rec != nil {
			results = append(results, *rec)
		}
	}

	if results == nil {
		results = []Record{}
	}
	return results, nil
}

// parseDCRecord consumes tokens until the matching </record>, keeping
// the first value per field and every identifier. Namespace prefixes
// vary between SRU endpoints, so matching is on local names only.
func parseDCRecord(decoder *xml.Decoder, start xml.StartElement) (dcFields, error) {
	var fields dcFields
	depth := 1
	current := ""

	for depth > 0 {
		tok, err := decoder.Token()
		if err != nil {
			return fields, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			current = strings.ToLower(t.Name.Local)
		case xml.EndElement:
			depth--
			current = ""
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text == "" {
				continue
			}
			switch current {
			case "title":
				if fields.title == "" {
					fields.title = text
				}
			case "creator":
				if fields.author == "" {
					fields.author = text
				}
			case "date":
				if fields.date == "" {
					fields.date = text
				}
			case "description":
				fields.description = append(fields.description, text)
			case "publisher", "source":
				if fields.publisher == "" {
					fields.publisher = text
				}
			case "language":
				if fields.language == "" {
					fields.language = text
				}
			case "identifier":
				fields.identifiers = append(fields.identifiers, text)
			}
		}
	}
	return fields, nil
}

// recordFromDC validates the record's identifiers and builds a Record.
// Returns nil when no identifier resolves.
func recordFromDC(fields dcFields, res resolver.Resolver) *Record {
	docID, manifestURL := validIdentifier(fields.identifiers, res)
	if docID == "" || manifestURL == "" {
		return nil
	}

	rec := &Record{
		ID:          docID,
		Title:       truncate(orDefault(fields.title, defaultTitle), 200),
		Author:      truncate(orDefault(fields.author, defaultAuthor), 100),
		ManifestURL: manifestURL,
		Thumbnail:   fmt.Sprintf("https://gallica.bnf.fr/ark:/12148/%s.thumbnail", docID),
		Library:     string(res.Library()),
		Date:        fields.date,
		Publisher:   truncate(fields.publisher, 200),
		Language:    fields.language,
	}
	if len(fields.description) > 0 {
		rec.Description = truncate(strings.Join(fields.description, "\n"), 1000)
	}
	return rec
}

// validIdentifier finds the first identifier the resolver accepts and
// returns the doc ID plus its canonical manifest URL.
func validIdentifier(identifiers []string, res resolver.Resolver) (string, string) {
	for _, ident := range identifiers {
		if !res.CanResolve(ident) {
			continue
		}
		resolution := res.Resolve(ident)
		if resolution.Valid {
			return resolution.DocID, resolution.ManifestURL
		}
	}
	return "", ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
