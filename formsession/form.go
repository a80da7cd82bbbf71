package formsession

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Form is a harvested form: its attributes plus every named field with the
// value a browser would submit.
type Form struct {
	Action string
	Attrs  map[string]string
	Fields url.Values
}

// ParseDocument parses an HTML body.
func ParseDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// HarvestForm finds the form matching selector in body and collects its
// fields.
func HarvestForm(body []byte, selector string) (*Form, error) {
	doc, err := ParseDocument(body)
	if err != nil {
		return nil, err
	}
	selection := doc.Find(selector).First()
	if selection.Length() == 0 {
		return nil, fmt.Errorf("form %q not found", selector)
	}

	form := &Form{
		Attrs:  make(map[string]string),
		Fields: make(url.Values),
	}
	if node := selection.Get(0); node != nil {
		for _, attr := range node.Attr {
			form.Attrs[attr.Key] = attr.Val
		}
	}
	form.Action = form.Attrs["action"]
	HarvestFields(selection, form.Fields)
	return form, nil
}

// HarvestFields appends the named fields below selection to fields. A name
// that appears more than once accumulates values in document order.
func HarvestFields(selection *goquery.Selection, fields url.Values) {
	selection.Find("input[name], textarea[name], select[name]").Each(func(_ int, field *goquery.Selection) {
		name, _ := field.Attr("name")
		if name == "" {
			return
		}

		switch goquery.NodeName(field) {
		case "textarea":
			fields.Add(name, field.Text())
		case "select":
			if value, ok := selectValue(field); ok {
				fields.Add(name, value)
			}
		default:
			value, ok := inputValue(field)
			if ok {
				fields.Add(name, value)
			}
		}
	})
}

func inputValue(field *goquery.Selection) (string, bool) {
	kind := strings.ToLower(strings.TrimSpace(field.AttrOr("type", "text")))
	switch kind {
	case "submit", "button", "image", "reset", "file":
		return "", false
	case "checkbox", "radio":
		if _, checked := field.Attr("checked"); !checked {
			return "", false
		}
		return field.AttrOr("value", "on"), true
	default:
		return field.AttrOr("value", ""), true
	}
}

func selectValue(field *goquery.Selection) (string, bool) {
	option := field.Find("option[selected]").First()
	if option.Length() == 0 {
		option = field.Find("option").First()
	}
	if option.Length() == 0 {
		return "", false
	}
	if value, ok := option.Attr("value"); ok {
		return value, true
	}
	return strings.TrimSpace(option.Text()), true
}

// NewValues returns the values of name present in after but not in before.
// Row allocation appends one index per call, so the difference is the set of
// freshly allocated rows.
func NewValues(before, after url.Values, name string) []string {
	seen := make(map[string]int, len(before[name]))
	for _, value := range before[name] {
		seen[value]++
	}
	out := make([]string, 0, 1)
	for _, value := range after[name] {
		if seen[value] > 0 {
			seen[value]--
			continue
		}
		out = append(out, value)
	}
	return out
}

// CloneValues copies values deeply.
func CloneValues(values url.Values) url.Values {
	out := make(url.Values, len(values))
	for key, list := range values {
		out[key] = append([]string(nil), list...)
	}
	return out
}
