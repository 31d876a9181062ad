package respparse

import (
	"strconv"
	"strings"

	"github.com/inboxcore/mailcore/internal/charset"
)

// BodyStructure is the recursive section tree a BODYSTRUCTURE FETCH
// item parses into: a leaf carries the part's own media type/parameters/encoding/
// disposition, a multipart carries an ordered list of children. Section
// ids form a tree where a child's id is its parent's id plus "." plus
// its 1-based position, or "1" at the root of a single-part message.
type BodyStructure struct {
	SectionID string

	// Multipart fields (IsMultipart == true).
	IsMultipart bool
	Subtype     string // "mixed", "alternative", "related", "signed", "encrypted", "report", "digest", "parallel", or other
	Children    []*BodyStructure

	// Leaf fields (IsMultipart == false).
	MediaType         string // lower-case "type/subtype"
	Params            map[string]string
	ContentID         string
	Description       string
	TransferEncoding  string
	Size              int64
	Disposition       string // "inline" | "attachment" | ""
	DispositionParams map[string]string
	Filename          string
	Charset           string
	Lines             int64 // for text/message parts, RFC 3501 line count field
}

// bodyCandidateTypes are the media types treated as body candidates
// for display (as opposed to attachments).
var bodyCandidateTypes = map[string]bool{
	"text/plain":    true,
	"text/html":     true,
	"text/enriched": true,
}

// IsBodyCandidate reports whether this leaf is renderable as a
// message body rather than an attachment.
func (b *BodyStructure) IsBodyCandidate() bool {
	return !b.IsMultipart && bodyCandidateTypes[b.MediaType]
}

// Walk visits every node of the tree in document order (pre-order),
// root first, depth first across children.
func (b *BodyStructure) Walk(visit func(*BodyStructure)) {
	visit(b)
	for _, c := range b.Children {
		c.Walk(visit)
	}
}

// Leaves returns every leaf node in document order.
func (b *BodyStructure) Leaves() []*BodyStructure {
	var out []*BodyStructure
	b.Walk(func(n *BodyStructure) {
		if !n.IsMultipart {
			out = append(out, n)
		}
	})
	return out
}

// ParseBodyStructure parses a BODYSTRUCTURE list token into a section
// tree rooted at section id "1". A node is classified as multipart
// when its first child token is itself a list.
func ParseBodyStructure(tok Token) (*BodyStructure, error) {
	return parseBodyStructureNode(tok, "")
}

// parseBodyStructureNode parses one node; an empty sectionID marks the
// root, which is itself labelled "1".
func parseBodyStructureNode(tok Token, sectionID string) (*BodyStructure, error) {
	ownID := sectionID
	if ownID == "" {
		ownID = "1"
	}
	if tok.Kind != List || len(tok.Children) == 0 {
		return &BodyStructure{SectionID: ownID, MediaType: "text/plain"}, nil
	}

	if tok.Children[0].Kind == List {
		return parseMultipart(tok, sectionID)
	}
	return parseLeaf(tok, ownID), nil
}

func parseMultipart(tok Token, sectionID string) (*BodyStructure, error) {
	children := tok.Children
	node := &BodyStructure{SectionID: sectionID, IsMultipart: true}
	if sectionID == "" {
		node.SectionID = "1"
	}

	var i int
	var parts []*BodyStructure
	for i = 0; i < len(children) && children[i].Kind == List; i++ {
		childID := childSectionID(sectionID, i+1)
		child, err := parseBodyStructureNode(children[i], childID)
		if err != nil {
			return nil, err
		}
		parts = append(parts, child)
	}
	node.Children = parts

	if i < len(children) {
		node.Subtype = strings.ToLower(children[i].Text())
		i++
	}
	// Multipart extension data (parameters, disposition, language,
	// location) may follow; parameters are the only one we keep.
	if i < len(children) && children[i].Kind == List {
		node.Params = parseParamList(children[i])
	}
	return node, nil
}

// childSectionID computes a child's section id: the root multipart
// (parentID "", labelled "1") numbers its children "1", "2", ..; any
// nested multipart's children concatenate with "." (e.g. "1.2", "1.2.3").
func childSectionID(parentID string, idx int) string {
	if parentID == "" {
		return strconv.Itoa(idx)
	}
	return parentID + "." + strconv.Itoa(idx)
}

func parseLeaf(tok Token, sectionID string) *BodyStructure {
	c := tok.Children
	get := func(i int) Token {
		if i < len(c) {
			return c[i]
		}
		return Token{Kind: Atom, Atom: "NIL"}
	}

	typ := strings.ToLower(textOrEmpty(get(0)))
	subtype := strings.ToLower(textOrEmpty(get(1)))
	mediaType := typ + "/" + subtype
	params := parseParamList(get(2))
	contentID := strings.Trim(textOrEmpty(get(3)), "<>")
	description := charset.DecodeEncodedWords(textOrEmpty(get(4)))
	enc := strings.ToLower(textOrEmpty(get(5)))
	size, _ := strconv.ParseInt(textOrEmpty(get(6)), 10, 64)

	leaf := &BodyStructure{
		SectionID:        sectionID,
		MediaType:        mediaType,
		Params:           params,
		ContentID:        contentID,
		Description:      description,
		TransferEncoding: enc,
		Size:             size,
	}
	if cs, ok := params["charset"]; ok {
		leaf.Charset = strings.ToLower(cs)
	}

	// text/message parts carry an extra "lines" field before any
	// extension data (RFC 3501 §7.4.2 body-fld-lines).
	next := 7
	if typ == "text" {
		if lines, err := strconv.ParseInt(textOrEmpty(get(7)), 10, 64); err == nil {
			leaf.Lines = lines
			next = 8
		}
	} else if mediaType == "message/rfc822" {
		// body-fld-envelope, body (nested), body-fld-lines follow; we
		// only need to skip past them to reach extension data.
		next = 10
	}

	// Extension data: body-fld-md5, body-fld-dsp, body-fld-lang,
	// body-fld-loc. We only need disposition, which is always a
	// two-element list (disposition-type, param-list) or NIL.
	for i := next; i < len(c); i++ {
		cand := c[i]
		if cand.Kind == List && len(cand.Children) == 2 && cand.Children[0].Kind != List {
			dtype := strings.ToLower(cand.Children[0].Text())
			if dtype == "inline" || dtype == "attachment" {
				leaf.Disposition = dtype
				leaf.DispositionParams = parseParamList(cand.Children[1])
				break
			}
		}
	}

	leaf.Filename = resolveFilename(leaf.Params, leaf.DispositionParams)
	return leaf
}

func parseParamList(tok Token) map[string]string {
	if tok.IsNil() || tok.Kind != List {
		return nil
	}
	params := map[string]string{}
	c := tok.Children
	for i := 0; i+1 < len(c); i += 2 {
		key := strings.ToLower(c[i].Text())
		val := c[i+1].Text()
		if strings.HasSuffix(key, "*") {
			// RFC 2231 extended parameter: charset'lang'value, percent-decoded.
			key = strings.TrimSuffix(key, "*")
			val = charset.DecodeRFC2231Value(val)
		}
		params[key] = val
	}
	return params
}

// resolveFilename recovers the RFC 2231/2047-decoded filename from
// Content-Disposition's "filename" parameter, falling back to
// Content-Type's "name" parameter.
func resolveFilename(ctParams, dispParams map[string]string) string {
	if dispParams != nil {
		if fn, ok := dispParams["filename"]; ok {
			return charset.DecodeEncodedWords(fn)
		}
	}
	if ctParams != nil {
		if fn, ok := ctParams["name"]; ok {
			return charset.DecodeEncodedWords(fn)
		}
	}
	return ""
}
