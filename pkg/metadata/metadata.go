// Package metadata builds the descriptive asset documents published to
// content-addressed storage when a report is anchored or disclosed.
//
// The document layout (field names, symbols, attribute trait types) is
// fixed by the deployed asset viewers; serialization goes through RFC 8785
// JCS so the same document always produces the same bytes and therefore
// the same content identifier.
package metadata

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// Default media attached to every report asset.
const (
	DefaultImageURL     = "https://bafybeid2v2un5eziph75p4h2l3pykxnlrgde5gu6blzxs2nun5sryutmpe.ipfs.dweb.link/"
	DefaultAnimationURL = "https://bafybeihvydpbj2h7qabs6fbklwnbt2ltbrekvjpqupquvizubm4xeb5nam.ipfs.dweb.link/"
	ExternalURL         = "https://csds.com"

	SymbolReport = "RPT"
	SymbolShare  = "RPT_SHARE"
)

// Attribute is one typed trait of an asset document.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// File is a media reference in the document's properties.
type File struct {
	URI  string `json:"uri"`
	Type string `json:"type"`
}

// Properties groups the document's media references.
type Properties struct {
	Files    []File `json:"files"`
	Category string `json:"category"`
}

// Document is the asset metadata published for an anchor or share event.
type Document struct {
	Name         string      `json:"name"`
	Symbol       string      `json:"symbol"`
	Description  string      `json:"description"`
	Image        string      `json:"image"`
	AnimationURL string      `json:"animation_url"`
	ExternalURL  string      `json:"external_url"`
	Attributes   []Attribute `json:"attributes"`
	Properties   Properties  `json:"properties"`
}

// ReportInfo carries the report fields that become document attributes.
type ReportInfo struct {
	RecordID         string
	Title            string
	Description      string
	CreatorWallet    string
	OrganizationName string
	ThreatType       string
	Severity         string
	Status           string
}

func defaultProperties(imageURL string) Properties {
	return Properties{
		Files: []File{
			{URI: imageURL, Type: "image/png"},
			{URI: DefaultAnimationURL, Type: "video/mp4"},
		},
		Category: "image",
	}
}

func baseDocument(name, symbol, description, imageURL string) Document {
	if imageURL == "" {
		imageURL = DefaultImageURL
	}
	return Document{
		Name:         name,
		Symbol:       symbol,
		Description:  description,
		Image:        imageURL,
		AnimationURL: DefaultAnimationURL,
		ExternalURL:  ExternalURL,
		Properties:   defaultProperties(imageURL),
	}
}

// ForReport builds the document published when a report is anchored.
// Optional report fields produce no attribute rather than an empty one.
func ForReport(info ReportInfo, imageURL string, submittedAt time.Time) Document {
	doc := baseDocument(info.Title, SymbolReport, info.Description, imageURL)

	doc.Attributes = []Attribute{
		{TraitType: "ReportId", Value: info.RecordID},
		{TraitType: "Creator", Value: info.CreatorWallet},
	}
	doc.Attributes = appendIfSet(doc.Attributes, "Author Organization", info.OrganizationName)
	doc.Attributes = appendIfSet(doc.Attributes, "Type of Threat", info.ThreatType)
	doc.Attributes = appendIfSet(doc.Attributes, "Severity", info.Severity)
	doc.Attributes = appendIfSet(doc.Attributes, "Status", info.Status)
	doc.Attributes = append(doc.Attributes, Attribute{
		TraitType: "Submitted At",
		Value:     submittedAt.UTC().Format(time.RFC3339),
	})
	return doc
}

// ForShare builds the document published when a report is disclosed to
// another organization.
func ForShare(info ReportInfo, targetOrgName, imageURL string, sharedAt time.Time) Document {
	doc := baseDocument(info.Title, SymbolShare, "Shared report: "+info.Description, imageURL)

	doc.Attributes = []Attribute{
		{TraitType: "ReportId", Value: info.RecordID},
		{TraitType: "Creator", Value: info.CreatorWallet},
		{TraitType: "Shared With", Value: targetOrgName},
		{TraitType: "Author Organization", Value: info.OrganizationName},
		{TraitType: "Type of Threat", Value: info.ThreatType},
		{TraitType: "Severity", Value: info.Severity},
		{TraitType: "Status", Value: info.Status},
		{TraitType: "Shared At", Value: sharedAt.UTC().Format(time.RFC3339)},
	}
	return doc
}

func appendIfSet(attrs []Attribute, trait, value string) []Attribute {
	if value == "" {
		return attrs
	}
	return append(attrs, Attribute{TraitType: trait, Value: value})
}

// CanonicalJSON serializes the document in JCS canonical form.
func (d Document) CanonicalJSON() ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("metadata: marshal document: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("metadata: canonicalize document: %w", err)
	}
	return canonical, nil
}
