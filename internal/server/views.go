package server

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// reloadScript connects a preview page to /ws and reloads it after a
// successful rebuild of its resource. Failed rebuilds show an overlay
// instead.
const reloadScript = `(function () {
  var name = document.currentScript.dataset.resource;
  var delay = 500;
  function overlay(text) {
    var el = document.getElementById("blockforge-overlay");
    if (!el) {
      el = document.createElement("pre");
      el.id = "blockforge-overlay";
      el.className = "blockforge-overlay";
      document.body.appendChild(el);
    }
    el.textContent = text;
  }
  function connect() {
    var proto = location.protocol === "https:" ? "wss:" : "ws:";
    var ws = new WebSocket(proto + "//" + location.host + "/ws?resource=" + encodeURIComponent(name));
    ws.onopen = function () { delay = 500; };
    ws.onmessage = function (msg) {
      var ev = JSON.parse(msg.data);
      if (ev.type !== "reload") return;
      if (ev.resource !== name && ev.resource !== "*") return;
      if (ev.success) { location.reload(); return; }
      overlay(ev.error || "Build failed");
    };
    ws.onclose = function () {
      setTimeout(connect, delay);
      delay = Math.min(delay * 2, 10000);
    };
  }
  connect();
})();`

const overlayCSS = `.blockforge-overlay{position:fixed;inset:auto 0 0 0;max-height:50vh;overflow:auto;margin:0;padding:16px;` +
	`background:#1e1e1e;color:#ff6b6b;font:13px/1.5 ui-monospace,monospace;white-space:pre-wrap;z-index:2147483647}`

const pageCSS = `body{font-family:system-ui,-apple-system,sans-serif;margin:0;padding:24px;background:#f5f5f5;color:#222}` +
	`.container{max-width:1100px;margin:0 auto}` +
	`table{width:100%;border-collapse:collapse;background:#fff}` +
	`th,td{text-align:left;padding:8px 12px;border-bottom:1px solid #e5e5e5}` +
	`.ok{color:#1a7f37}.failed{color:#cf222e}.stale{color:#9a6700}.pending{color:#6e7781}`

// write runs the writes in order and stops at the first error.
func write(w io.Writer, parts ...string) error {
	for _, p := range parts {
		if _, err := io.WriteString(w, p); err != nil {
			return err
		}
	}
	return nil
}

// IndexPage lists every resource with its build state.
func IndexPage(resources []ResourceSummary) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := write(w,
			"<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>blockforge</title><style>", pageCSS, "</style></head>",
			"<body><div class=\"container\"><h1>blockforge</h1>",
		); err != nil {
			return err
		}

		if len(resources) == 0 {
			return write(w, "<p>No resources found.</p></div></body></html>")
		}

		if err := write(w, "<table><thead><tr><th>Resource</th><th>Type</th><th>Version</th><th>Fields</th><th>Build</th></tr></thead><tbody>"); err != nil {
			return err
		}
		for _, res := range resources {
			href := "/preview/" + res.Type + "/" + res.Name
			state, class := buildLabel(res.Build)
			if err := write(w,
				"<tr><td><a href=\"", templ.EscapeString(href), "\">", templ.EscapeString(res.DisplayName), "</a></td>",
				"<td>", templ.EscapeString(res.Type), "</td>",
				"<td>", templ.EscapeString(res.Version), "</td>",
				"<td>", fmt.Sprintf("%d", len(res.Fields)), "</td>",
				"<td class=\"", class, "\">", templ.EscapeString(state), "</td></tr>",
			); err != nil {
				return err
			}
		}
		return write(w, "</tbody></table></div></body></html>")
	})
}

func buildLabel(status *BuildStatus) (string, string) {
	switch {
	case status == nil:
		return "not built", "pending"
	case status.Stale:
		return "failed (serving last good build)", "stale"
	case status.Status == "ok":
		return "ok", "ok"
	default:
		return "failed: " + status.Reason, "failed"
	}
}

// previewData is what a preview shell needs to load one resource.
type previewData struct {
	Type        string
	Name        string
	DisplayName string
	ScriptURL   string
	StyleURL    string
	// BootJSON is the window.__BLOCKFORGE__ payload, already JSON encoded.
	BootJSON string
	Failure  *BuildStatus
}

// PreviewShell is the default preview page used when the project has no
// preview template.
func PreviewShell(data previewData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := write(w,
			"<!DOCTYPE html><html><head><meta charset=\"utf-8\">",
			"<meta name=\"viewport\" content=\"width=device-width,initial-scale=1\">",
			"<title>", templ.EscapeString(data.DisplayName), " - preview</title>",
			"<style>", overlayCSS, "</style>",
		); err != nil {
			return err
		}
		if data.StyleURL != "" {
			if err := write(w, "<link rel=\"stylesheet\" href=\"", templ.EscapeString(data.StyleURL), "\">"); err != nil {
				return err
			}
		}
		if err := write(w, "</head><body><div id=\"root\"></div>"); err != nil {
			return err
		}
		if data.Failure != nil {
			if err := write(w, "<pre id=\"blockforge-overlay\" class=\"blockforge-overlay\">", templ.EscapeString(failureText(data.Failure)), "</pre>"); err != nil {
				return err
			}
		}
		return write(w,
			"<script>window.__BLOCKFORGE__ = ", data.BootJSON, ";</script>",
			"<script type=\"module\" src=\"", templ.EscapeString(data.ScriptURL), "\"></script>",
			"<script data-resource=\"", templ.EscapeString(data.Name), "\">", reloadScript, "</script>",
			"</body></html>",
		)
	})
}

// ErrorOverlay is served for a resource that has no successful build. It
// still carries the reload client so the page recovers after a fix.
func ErrorOverlay(data previewData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		text := "Not built yet."
		if data.Failure != nil {
			text = failureText(data.Failure)
		}
		return write(w,
			"<!DOCTYPE html><html><head><meta charset=\"utf-8\">",
			"<title>", templ.EscapeString(data.DisplayName), " - build failed</title>",
			"<style>", overlayCSS, "</style></head><body>",
			"<pre id=\"blockforge-overlay\" class=\"blockforge-overlay\">", templ.EscapeString(text), "</pre>",
			"<script data-resource=\"", templ.EscapeString(data.Name), "\">", reloadScript, "</script>",
			"</body></html>",
		)
	})
}

func failureText(status *BuildStatus) string {
	var b strings.Builder
	b.WriteString(status.Code)
	b.WriteString(": ")
	b.WriteString(status.Reason)
	for _, d := range status.Diagnostics {
		b.WriteString("\n\n")
		if d.File != "" {
			fmt.Fprintf(&b, "%s:%d:%d: ", d.File, d.Line, d.Column)
		}
		b.WriteString(d.Text)
		if d.LineText != "" {
			b.WriteString("\n    ")
			b.WriteString(d.LineText)
		}
	}
	return b.String()
}
