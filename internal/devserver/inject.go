package devserver

import (
	"bytes"
	"fmt"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ScriptPath serves the live-reload client; SocketPath is its websocket.
const (
	ScriptPath = "/__stalagmite/livereload.js"
	SocketPath = "/__stalagmite/livereload"
)

const clientScript = `(() => {
  if (window.__stalagmiteLR) return;
  window.__stalagmiteLR = true;
  function connect() {
    const proto = location.protocol === "https:" ? "wss:" : "ws:";
    const ws = new WebSocket(proto + "//" + location.host + "%s");
    ws.onmessage = (e) => {
      try {
        const msg = JSON.parse(e.data);
        if (msg.type === "reload") location.reload();
        if (msg.type === "error") console.error("[stalagmite] build failed:", msg.error);
      } catch (_) {}
    };
    ws.onclose = () => setTimeout(connect, 2000);
  }
  connect();
})();
`

// ClientScript returns the live-reload browser script.
func ClientScript() string { return fmt.Sprintf(clientScript, SocketPath) }

// InjectScript appends a script element loading src to the body of doc.
// Documents without a body get one, as the HTML parser synthesises it.
func InjectScript(doc []byte, src string) ([]byte, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	body := findElement(root, atom.Body)
	if body == nil {
		return nil, fmt.Errorf("parse html: no body element")
	}
	body.AppendChild(&html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Script,
		Data:     "script",
		Attr:     []html.Attribute{{Key: "src", Val: src}},
	})
	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return buf.Bytes(), nil
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
