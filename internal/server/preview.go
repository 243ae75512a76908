package server

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/a-h/templ"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/registry"
)

// DefaultPreviewTemplate is looked up in the project root when
// server.preview_template is unset.
const DefaultPreviewTemplate = "preview.html"

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	summaries := make([]ResourceSummary, 0, s.registry.Count())
	for _, res := range s.registry.List() {
		summaries = append(summaries, ResourceSummary{
			Type:        res.Type,
			Name:        res.Name,
			DisplayName: res.DisplayName,
			Version:     res.Package.Version,
			Fields:      res.Schema.Keys(),
			Build:       s.buildStatus(res.Key()),
		})
	}
	templ.Handler(IndexPage(summaries)).ServeHTTP(w, r)
}

// handlePreview serves the preview shell for one resource, or the error
// overlay when it has never built successfully.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lookup(w, r)
	if !ok {
		return
	}

	data, err := s.previewData(res)
	if err != nil {
		s.writeForgeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")

	if _, good := s.artifacts.LastGood(res.Key()); !good {
		w.Header().Set("X-Blockforge-Build", "failed")
		templ.Handler(ErrorOverlay(data)).ServeHTTP(w, r)
		return
	}
	if data.Failure != nil {
		w.Header().Set("X-Blockforge-Build", "stale")
	}

	tmpl, err := s.readPreviewTemplate()
	if err != nil {
		s.writeForgeError(w, r, err)
		return
	}
	if tmpl == nil {
		templ.Handler(PreviewShell(data)).ServeHTTP(w, r)
		return
	}

	page, err := injectPreview(tmpl, data)
	if err != nil {
		s.writeForgeError(w, r, errors.NewValidationError(errors.CodeInvalidConfig, "preview template is not valid HTML").
			WithContext("details", err.Error()))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (s *Server) previewData(res *registry.Resource) (previewData, error) {
	base := "/artifacts/" + res.Type + "/" + res.Name + "/"

	boot, err := json.Marshal(map[string]interface{}{
		"type":   res.Type,
		"name":   res.Name,
		"props":  res.PreviewState,
		"schema": res.Schema,
	})
	if err != nil {
		return previewData{}, errors.NewInternalError(errors.CodeInternal, "encoding preview props", err)
	}

	data := previewData{
		Type:        res.Type,
		Name:        res.Name,
		DisplayName: res.DisplayName,
		ScriptURL:   base + "index.js",
		BootJSON:    string(boot),
	}
	if good, ok := s.artifacts.LastGood(res.Key()); ok && good.HasStylesheet {
		data.StyleURL = base + "index.css"
	}
	if status := s.buildStatus(res.Key()); status != nil && (status.Stale || !status.HasArtifact) {
		data.Failure = status
	}
	return data, nil
}

// readPreviewTemplate returns the project preview template, or nil when
// the project has none. It is read per request so edits apply on reload.
func (s *Server) readPreviewTemplate() ([]byte, error) {
	name := s.config.Server.PreviewTemplate
	explicit := name != ""
	if !explicit {
		name = DefaultPreviewTemplate
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(s.config.Resources.ProjectRoot, name)
	}

	content, err := os.ReadFile(name)
	if stderrors.Is(err, fs.ErrNotExist) && !explicit {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapIO(err, "PREVIEW_TEMPLATE", "cannot read preview template "+name)
	}
	return content, nil
}

// injectPreview rewrites a project template: the stylesheet goes into
// head; a #root mount point is added unless present; the boot payload,
// the bundle and the reload client are appended to body.
func injectPreview(tmpl []byte, data previewData) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(tmpl))
	if err != nil {
		return nil, err
	}

	head := findElement(doc, atom.Head)
	body := findElement(doc, atom.Body)
	if head == nil || body == nil {
		return nil, stderrors.New("document has no head or body")
	}

	head.AppendChild(element(atom.Style, nil, overlayCSS))
	if data.StyleURL != "" {
		head.AppendChild(element(atom.Link, []html.Attribute{
			{Key: "rel", Val: "stylesheet"},
			{Key: "href", Val: data.StyleURL},
		}, ""))
	}

	if findByID(doc, "root") == nil {
		body.AppendChild(element(atom.Div, []html.Attribute{{Key: "id", Val: "root"}}, ""))
	}
	if data.Failure != nil {
		body.AppendChild(element(atom.Pre, []html.Attribute{
			{Key: "id", Val: "blockforge-overlay"},
			{Key: "class", Val: "blockforge-overlay"},
		}, failureText(data.Failure)))
	}
	body.AppendChild(element(atom.Script, nil, "window.__BLOCKFORGE__ = "+data.BootJSON+";"))
	body.AppendChild(element(atom.Script, []html.Attribute{
		{Key: "type", Val: "module"},
		{Key: "src", Val: data.ScriptURL},
	}, ""))
	body.AppendChild(element(atom.Script, []html.Attribute{{Key: "data-resource", Val: data.Name}}, reloadScript))

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func element(a atom.Atom, attrs []html.Attribute, text string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	return n
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		for _, attr := range n.Attr {
			if attr.Key == "id" && attr.Val == id {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}
